package core

import "errors"

// Error kinds surfaced by every Store. Implementations wrap them with
// fmt.Errorf("%w: ...") so callers classify with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("note not found")
	ErrConflict   = errors.New("conflicting write")
	ErrRateLimit  = errors.New("rate limited by backend")
	ErrAuth       = errors.New("not authorized by backend")
	ErrStorage    = errors.New("storage failure")
)

// Kind names the error kind of err, or "" when err is nil.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrRateLimit):
		return "rate_limit"
	case errors.Is(err, ErrAuth):
		return "auth"
	default:
		return "storage"
	}
}
