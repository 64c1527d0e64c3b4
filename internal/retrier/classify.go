package retrier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Class is the fixed failure taxonomy every error is mapped onto.
type Class int

const (
	ClassNetwork Class = iota
	ClassTimeout
	ClassRateLimit
	ClassServer
	ClassClient
	ClassAuthentication
	ClassAuthorization
	ClassNotFound
	ClassConflict
	ClassValidation
)

var classNames = [...]string{
	ClassNetwork:        "NETWORK",
	ClassTimeout:        "TIMEOUT",
	ClassRateLimit:      "RATE_LIMIT",
	ClassServer:         "SERVER",
	ClassClient:         "CLIENT",
	ClassAuthentication: "AUTHENTICATION",
	ClassAuthorization:  "AUTHORIZATION",
	ClassNotFound:       "NOT_FOUND",
	ClassConflict:       "CONFLICT",
	ClassValidation:     "VALIDATION",
}

func (c Class) String() string {
	if c >= 0 && int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

// Failure describes the shape of a failed call independently of the
// transport that produced it.
type Failure struct {
	StatusCode  int
	Timeout     bool
	HasResponse bool
}

// FailureError attaches a Failure to an underlying error.
type FailureError struct {
	Failure
	Err error
}

func (e *FailureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return e.Err.Error()
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

// StatusError reports a response that arrived with a failing status code.
func StatusError(status int, err error) error {
	if err == nil {
		err = fmt.Errorf("unexpected status %d %s", status, http.StatusText(status))
	}
	return &FailureError{Failure: Failure{StatusCode: status, HasResponse: true}, Err: err}
}

// TimeoutError reports a call abandoned after its deadline.
func TimeoutError(err error) error {
	return &FailureError{Failure: Failure{Timeout: true}, Err: err}
}

// NetworkError reports a call that never produced a response.
func NetworkError(err error) error {
	return &FailureError{Failure: Failure{}, Err: err}
}

// ClassifyFailure maps a failure descriptor to exactly one Class.
func ClassifyFailure(f Failure) Class {
	if f.Timeout {
		return ClassTimeout
	}
	if !f.HasResponse {
		return ClassNetwork
	}

	switch code := f.StatusCode; {
	case code == http.StatusUnauthorized:
		return ClassAuthentication
	case code == http.StatusForbidden:
		return ClassAuthorization
	case code == http.StatusNotFound:
		return ClassNotFound
	case code == http.StatusConflict:
		return ClassConflict
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity:
		return ClassValidation
	case code == http.StatusTooManyRequests:
		return ClassRateLimit
	case code >= 400 && code < 500:
		return ClassClient
	default:
		return ClassServer
	}
}

// Describe extracts a Failure from err, recognising FailureError, context
// deadlines and net.Error values.
func Describe(err error) (Failure, bool) {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Failure, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Failure{Timeout: true}, true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return Failure{Timeout: ne.Timeout()}, true
	}
	return Failure{}, false
}

// Classify maps any error to a Class. Errors that carry no recognisable
// failure shape are SERVER.
func Classify(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if f, ok := Describe(err); ok {
		return ClassifyFailure(f)
	}
	return ClassServer
}

// DefaultRetryCondition retries transient classes only.
func DefaultRetryCondition(c Class) bool {
	switch c {
	case ClassNetwork, ClassServer, ClassTimeout, ClassRateLimit:
		return true
	default:
		return false
	}
}

// ClassifiedError is returned by Do. It unwraps to the operation's original
// error and carries the classification as metadata.
type ClassifiedError struct {
	Class    Class
	Attempts int
	Err      error
}

func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// ClassOf returns the classification attached by Do, if any.
func ClassOf(err error) (Class, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}
