package retrier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name    string
		failure Failure
		expect  Class
	}{
		{"timeout wins over status", Failure{Timeout: true, StatusCode: 500, HasResponse: true}, ClassTimeout},
		{"no response", Failure{}, ClassNetwork},
		{"401", Failure{StatusCode: 401, HasResponse: true}, ClassAuthentication},
		{"403", Failure{StatusCode: 403, HasResponse: true}, ClassAuthorization},
		{"404", Failure{StatusCode: 404, HasResponse: true}, ClassNotFound},
		{"409", Failure{StatusCode: 409, HasResponse: true}, ClassConflict},
		{"400", Failure{StatusCode: 400, HasResponse: true}, ClassValidation},
		{"422", Failure{StatusCode: 422, HasResponse: true}, ClassValidation},
		{"429", Failure{StatusCode: 429, HasResponse: true}, ClassRateLimit},
		{"405", Failure{StatusCode: 405, HasResponse: true}, ClassClient},
		{"500", Failure{StatusCode: 500, HasResponse: true}, ClassServer},
		{"503", Failure{StatusCode: 503, HasResponse: true}, ClassServer},
		{"unexpected 3xx", Failure{StatusCode: 302, HasResponse: true}, ClassServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ClassifyFailure(tt.failure))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expect Class
	}{
		{"status error", StatusError(404, nil), ClassNotFound},
		{"wrapped status error", fmt.Errorf("load entities: %w", StatusError(502, nil)), ClassServer},
		{"timeout error", TimeoutError(errors.New("slow")), ClassTimeout},
		{"network error", NetworkError(errors.New("connection refused")), ClassNetwork},
		{"context deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ClassTimeout},
		{"net timeout", &net.DNSError{Err: "i/o timeout", IsTimeout: true}, ClassTimeout},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, ClassNetwork},
		{"unmatched", errors.New("boom"), ClassServer},
		{"already classified", &ClassifiedError{Class: ClassConflict, Err: errors.New("x")}, ClassConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, Classify(tt.err))
		})
	}
}

func TestDefaultRetryCondition(t *testing.T) {
	retryable := map[Class]bool{
		ClassNetwork:   true,
		ClassServer:    true,
		ClassTimeout:   true,
		ClassRateLimit: true,
	}
	for c := ClassNetwork; c <= ClassValidation; c++ {
		assert.Equal(t, retryable[c], DefaultRetryCondition(c), c.String())
	}
}

func TestClass_String(t *testing.T) {
	assert.Equal(t, "RATE_LIMIT", ClassRateLimit.String())
	assert.Equal(t, "NOT_FOUND", ClassNotFound.String())
	assert.Equal(t, "Class(42)", Class(42).String())
}

func TestFailureError_Message(t *testing.T) {
	err := StatusError(503, nil)
	assert.Equal(t, "unexpected status 503 Service Unavailable", err.Error())

	cause := errors.New("dial tcp: refused")
	assert.ErrorIs(t, NetworkError(cause), cause)
}
