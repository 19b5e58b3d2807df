package httpx

import (
	"fmt"
	"net/http"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// maxErrBody caps how much of an error response is kept on StatusError.
const maxErrBody = 512

// StatusError is a non-2xx response. It unwraps to the domain sentinel that
// classifies the status so callers can use errors.Is.
type StatusError struct {
	StatusCode int
	Body       string
	kind       error
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d: %v", e.StatusCode, e.kind)
	}
	return fmt.Sprintf("http %d: %v: %s", e.StatusCode, e.kind, e.Body)
}

func (e *StatusError) Unwrap() []error {
	if e.kind == domain.ErrRateLimited {
		return []error{domain.ErrRateLimited, domain.ErrSourceUnavailable}
	}
	return []error{e.kind}
}

// IsRetryable mirrors the retry policy for callers holding a StatusError.
func (e *StatusError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// CheckStatus maps an HTTP status to nil or a *StatusError:
//
//	401, 403   -> ErrUnauthorized
//	404, 410   -> ErrNotFound
//	429        -> ErrRateLimited (also ErrSourceUnavailable)
//	5xx        -> ErrSourceUnavailable
//	other 4xx  -> ErrInvalidInput
func CheckStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	var kind error
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		kind = domain.ErrUnauthorized
	case code == http.StatusNotFound || code == http.StatusGone:
		kind = domain.ErrNotFound
	case code == http.StatusTooManyRequests:
		kind = domain.ErrRateLimited
	case code >= 500:
		kind = domain.ErrSourceUnavailable
	default:
		kind = domain.ErrInvalidInput
	}
	b := string(body)
	if len(b) > maxErrBody {
		b = b[:maxErrBody]
	}
	return &StatusError{StatusCode: code, Body: b, kind: kind}
}
