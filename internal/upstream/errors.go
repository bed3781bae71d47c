package upstream

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// ErrInvalidGrant is returned when the provider definitively rejects a code or
// refresh token.
var ErrInvalidGrant = errors.New("upstream rejected the grant")

// ErrInvalidCredentials is returned when the provider rejects the application id
// or secret on the tenant endpoint.
var ErrInvalidCredentials = errors.New("upstream rejected the application credentials")

// TransientError wraps an upstream failure that may succeed on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// classify maps an oauth2 error to ErrInvalidGrant or a *TransientError.
func classify(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if re.ErrorCode == "invalid_grant" || status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return fmt.Errorf("%s: %w (%s)", op, ErrInvalidGrant, describe(re))
		}
	}
	return &TransientError{Op: op, Err: err}
}

// describe renders a RetrieveError without the response body, which may echo secrets.
func describe(re *oauth2.RetrieveError) string {
	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	if re.ErrorCode != "" {
		return fmt.Sprintf("status %d, error %s", status, re.ErrorCode)
	}
	return fmt.Sprintf("status %d", status)
}
