package errx

import (
	"errors"
	"fmt"
	"net/http"
)

// Conversation-level error kinds. Each AppError built by the constructors below
// wraps exactly one of these so callers can branch with errors.Is.
var (
	ErrInvalidArgument        = errors.New("InvalidArgument")
	ErrProductNotFound        = errors.New("ProductNotFound")
	ErrIndexUnavailable       = errors.New("IndexUnavailable")
	ErrUnknownTool            = errors.New("UnknownTool")
	ErrUpstreamFailure        = errors.New("UpstreamFailure")
	ErrIterationLimitExceeded = errors.New("IterationLimitExceeded")
	ErrThreadBusy             = errors.New("ThreadBusy")
	ErrThreadNotFound         = errors.New("ThreadNotFound")
)

var kinds = []error{
	ErrInvalidArgument,
	ErrProductNotFound,
	ErrIndexUnavailable,
	ErrUnknownTool,
	ErrUpstreamFailure,
	ErrIterationLimitExceeded,
	ErrThreadBusy,
	ErrThreadNotFound,
}

func kinded(kind error, status int, format string, args ...any) *AppError {
	msg := fmt.Sprintf(format, args...)
	return New(fmt.Errorf("%w: %s", kind, msg), status, msg)
}

// InvalidArgument reports bad or missing tool parameters.
func InvalidArgument(format string, args ...any) *AppError {
	return kinded(ErrInvalidArgument, http.StatusBadRequest, format, args...)
}

// ProductNotFound reports a product id that does not resolve in the catalog or cart.
func ProductNotFound(productID int64) *AppError {
	return kinded(ErrProductNotFound, http.StatusNotFound, "product %d not found", productID)
}

// IndexUnavailable reports a semantic index that has not been initialised.
func IndexUnavailable(reason string) *AppError {
	return kinded(ErrIndexUnavailable, http.StatusServiceUnavailable, "semantic index unavailable: %s", reason)
}

// UnknownTool reports a tool name outside the registry or the agent's tool set.
func UnknownTool(name string) *AppError {
	return kinded(ErrUnknownTool, http.StatusBadRequest, "unknown tool %q", name)
}

// UpstreamFailure wraps a dialogue-completion failure.
func UpstreamFailure(err error) *AppError {
	return New(fmt.Errorf("%w: %w", ErrUpstreamFailure, err), http.StatusBadGateway, "dialogue completion failed")
}

// IterationLimitExceeded reports a turn that hit the agent iteration bound.
func IterationLimitExceeded(limit int) *AppError {
	return kinded(ErrIterationLimitExceeded, http.StatusUnprocessableEntity, "agent iteration limit %d reached", limit)
}

// ThreadNotFound reports a thread id with no stored conversation.
func ThreadNotFound(threadID string) *AppError {
	return kinded(ErrThreadNotFound, http.StatusNotFound, "thread %s not found", threadID)
}

// ThreadBusy reports a thread that already has a turn in flight.
func ThreadBusy(threadID string) *AppError {
	return kinded(ErrThreadBusy, http.StatusConflict, "thread %s has a turn in progress", threadID)
}

// KindOf returns the taxonomy name of err ("InvalidArgument", ...), or "InternalError".
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return "InternalError"
}
