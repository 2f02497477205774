package sdm

import (
	"errors"
	"fmt"
)

// Error taxonomy for provider calls. Callers check these with errors.Is to
// decide between retrying next tick, falling back to WebRTC, or regenerating
// the lease from scratch.
var (
	ErrAuth                 = errors.New("authentication rejected")
	ErrNotFound             = errors.New("device not found")
	ErrUnsupportedMode      = errors.New("stream mode not supported")
	ErrQuota                = errors.New("quota or rate limit exceeded")
	ErrNotRenewable         = errors.New("lease not renewable")
	ErrExpiredBeyondRenewal = errors.New("lease expired beyond renewal")
	ErrTransient            = errors.New("transient network failure")
	ErrProtocol             = errors.New("malformed provider response")
)

// Retriable reports whether the failure should be retried on the next tick
// without touching the current lease. Quota and protocol errors are included:
// one bad payload or a rate-limit burst must not tear the bridge down.
func Retriable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrQuota) || errors.Is(err, ErrProtocol)
}

// apiError carries an HTTP status the generic classifier did not map.
// Command-specific callers translate it (e.g. 400 on ExtendRtspStream means
// the extension token is no longer honored).
type apiError struct {
	Code int
	Body string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d: %s", e.Code, e.Body)
}

// classifyStatus maps well-known HTTP statuses onto the taxonomy.
// Unmapped statuses come back as *apiError for command-specific handling.
func classifyStatus(code int, body string) error {
	switch {
	case code == 401 || code == 403:
		return fmt.Errorf("%w (HTTP %d)", ErrAuth, code)
	case code == 404:
		return fmt.Errorf("%w (HTTP %d)", ErrNotFound, code)
	case code == 429:
		return fmt.Errorf("%w (HTTP %d)", ErrQuota, code)
	case code >= 500:
		return fmt.Errorf("%w (HTTP %d)", ErrTransient, code)
	default:
		return &apiError{Code: code, Body: body}
	}
}
