package orders

import "errors"

var (
	ErrUnauthenticated   = errors.New("authentication required")
	ErrForbidden         = errors.New("not allowed")
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidState      = errors.New("invalid order state")
	ErrExternalService   = errors.New("payment service unavailable")
	ErrSignature         = errors.New("invalid webhook signature")
)

// IsRetryable reports whether the caller may retry the same request later
// without changing it.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrExternalService)
}
