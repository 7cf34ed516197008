package cloudflare

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// api error codes that signal the remote entity already exists; callers
// treat these as success when provisioning idempotently.
const (
	codeRecordAlreadyExists   = 81057
	codeHostAlreadyExists     = 81053
	codeIdenticalRecordExists = 81058
)

// ErrorDetail is one (code, message) pair from the response envelope.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// APIError is a failed response inside the provider's own envelope,
// carrying every (code, message) pair it reported.
type APIError struct {
	StatusCode int
	Errors     []ErrorDetail
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("cloudflare api: status %d, no error detail", e.StatusCode)
	}
	parts := make([]string, 0, len(e.Errors))
	for _, d := range e.Errors {
		parts = append(parts, fmt.Sprintf("%d: %s", d.Code, d.Message))
	}
	return "cloudflare api: " + strings.Join(parts, "; ")
}

// IsAlreadyExists reports whether err is an api error whose only meaning is
// that the remote entity already exists. Matching is by known error codes
// with a message fallback, the set the provider reports is not closed.
func IsAlreadyExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, d := range apiErr.Errors {
		switch d.Code {
		case codeRecordAlreadyExists, codeHostAlreadyExists, codeIdenticalRecordExists:
			return true
		}
		if strings.Contains(strings.ToLower(d.Message), "already exists") {
			return true
		}
	}
	return false
}
