package aegis

import (
	"errors"

	"goflare.io/aegis/internal/retrier"
)

var (
	ErrNoAPI            = errors.New("aegis: no api base url configured")
	ErrRealtimeDisabled = errors.New("aegis: no realtime url configured")
	ErrNoResource       = errors.New("aegis: query has no resource")
)

// Class is the failure class attached to errors returned by Fetch and Mutate.
type Class = retrier.Class

const (
	ClassNetwork        = retrier.ClassNetwork
	ClassTimeout        = retrier.ClassTimeout
	ClassRateLimit      = retrier.ClassRateLimit
	ClassServer         = retrier.ClassServer
	ClassClient         = retrier.ClassClient
	ClassAuthentication = retrier.ClassAuthentication
	ClassAuthorization  = retrier.ClassAuthorization
	ClassNotFound       = retrier.ClassNotFound
	ClassConflict       = retrier.ClassConflict
	ClassValidation     = retrier.ClassValidation
)

// ClassifiedError wraps a failure that was not retried, or exhausted its
// retries, with its class and attempt count.
type ClassifiedError = retrier.ClassifiedError

// ClassOf returns the class attached to err by Fetch or Mutate.
func ClassOf(err error) (Class, bool) {
	return retrier.ClassOf(err)
}

// StatusError marks err as an HTTP response with status, so custom loaders
// classify the same way as the built-in transport.
func StatusError(status int, err error) error {
	return retrier.StatusError(status, err)
}
