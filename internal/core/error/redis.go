package errx

import (
	"context"
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// WrapRedis maps a Redis failure to an AppError. Context cancellation and
// deadlines pass through unchanged so callers see the caller's own timeout.
func WrapRedis(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, redis.Nil):
		return New(err, http.StatusNotFound, RedisNotFoundMessage)
	case errors.Is(err, redis.ErrPoolTimeout), errors.Is(err, redis.ErrClosed):
		return New(err, http.StatusServiceUnavailable, RedisUnavailableMessage)
	default:
		return New(err, http.StatusBadGateway, RedisErrorMessage)
	}
}
