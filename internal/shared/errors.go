package shared

import (
	"errors"
	"fmt"
)

// Error taxonomy surfaced by workflow operations. Every domain failure wraps
// one of these three so the HTTP layer can map it without knowing the domain.
var (
	// ErrNotFound indicates a referenced entity is absent or soft-deleted.
	ErrNotFound = errors.New("not found")
	// ErrInvalidOperation indicates an illegal state transition or an
	// invariant violation (negative stock, capacity, over-payment).
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrValidation indicates malformed input rejected before touching state.
	ErrValidation = errors.New("validation failed")
)

// InvalidOperationf wraps ErrInvalidOperation with a formatted detail.
func InvalidOperationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a formatted detail.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Validationf wraps ErrValidation with a formatted detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// UserSafeMessage returns a message suitable for API consumers. Internal
// errors are masked; taxonomy errors carry their own detail.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidOperation), errors.Is(err, ErrValidation):
		return err.Error()
	default:
		return "internal error"
	}
}
