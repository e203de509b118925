package fetch

import "github.com/cockroachdb/errors"

// Failure kinds. Errors returned by Fetch are marked with exactly one of them.
var (
	ErrTargetUnreachable = errors.New("target unreachable")
	ErrTargetRejected    = errors.New("target rejected request")
	ErrRateLimited       = errors.New("rate limited by target")
)

// Kind names the failure kind of err, or "unknown".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTargetRejected):
		return "target_rejected"
	case errors.Is(err, ErrTargetUnreachable):
		return "target_unreachable"
	default:
		return "unknown"
	}
}
