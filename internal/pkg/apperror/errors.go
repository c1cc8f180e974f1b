package apperror

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

var (
	// ErrTransport is a live-channel send or connect failure. Recoverable.
	ErrTransport = errors.New("transport failure")
	// ErrStore is an append/read failure of the message store.
	ErrStore = errors.New("store failure")
	// ErrAdmissionConflict marks an admission request against a terminal session.
	// Callers treat it as a no-op.
	ErrAdmissionConflict = errors.New("admission conflict")
	// ErrRoutingAmbiguity is an operator reply that names no session.
	ErrRoutingAmbiguity = errors.New("no session could be resolved from operator message")
	// ErrNotification is an outbound operator channel delivery failure.
	ErrNotification = errors.New("notification failure")

	ErrNotFound      = errors.New("session not found")
	ErrSessionClosed = errors.New("session is closed")
	ErrValidation    = errors.New("validation failed")
	ErrRateLimited   = errors.New("too many messages")
)

// StatusCode maps a service error to the HTTP status returned to the caller.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrSessionClosed):
		return fiber.StatusGone
	case errors.Is(err, ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return fiber.StatusTooManyRequests
	case errors.Is(err, ErrStore):
		return fiber.StatusServiceUnavailable
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}
