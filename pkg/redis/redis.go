package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the connection settings of the conversation store. Timeouts
// are in seconds.
type Config struct {
	URL          string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	ReadTimeout  int    `envconfig:"REDIS_READ_TIMEOUT" default:"3"`
	WriteTimeout int    `envconfig:"REDIS_WRITE_TIMEOUT" default:"3"`
	DialTimeout  int    `envconfig:"REDIS_DIAL_TIMEOUT" default:"5"`
	PoolSize     int    `envconfig:"REDIS_POOL_SIZE" default:"0"`
}

// Options converts the config into go-redis options. A PoolSize of 0 keeps
// the go-redis default.
func (r *Config) Options() (*redis.Options, error) {
	opts, err := redis.ParseURL(r.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	opts.ReadTimeout = seconds(r.ReadTimeout)
	opts.WriteTimeout = seconds(r.WriteTimeout)
	opts.DialTimeout = seconds(r.DialTimeout)
	if r.PoolSize > 0 {
		opts.PoolSize = r.PoolSize
	}
	return opts, nil
}

// New connects and pings the server within the dial timeout.
func (r *Config) New(ctx context.Context) (*redis.Client, error) {
	opts, err := r.Options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
