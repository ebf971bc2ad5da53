package ledger

import (
	"errors"
	"fmt"
)

// Error kinds. Callers branch with errors.Is; every ledger failure matches
// exactly one of these.
var (
	ErrInsufficientFunds  = errors.New("ledger: insufficient funds")
	ErrInsufficientShares = errors.New("ledger: insufficient shares")
	ErrPositionNotFound   = errors.New("ledger: position not found")
	ErrQuoteUnavailable   = errors.New("ledger: quote unavailable")
	ErrValidation         = errors.New("ledger: invalid input")
	ErrPersistence        = errors.New("ledger: persistence failure")
	ErrUserNotFound       = errors.New("ledger: user not found")
)

// ValidationError reports a rejected input field. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// PersistenceError wraps a storage failure. The transaction it occurred in
// was rolled back. It matches ErrPersistence.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Kind returns a short stable name for err's kind, for metrics and API codes.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ErrPositionNotFound):
		return "position_not_found"
	case errors.Is(err, ErrQuoteUnavailable):
		return "quote_unavailable"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	default:
		return "persistence"
	}
}

// isDomain reports whether err already belongs to the taxonomy.
func isDomain(err error) bool {
	for _, target := range []error{
		ErrInsufficientFunds, ErrInsufficientShares, ErrPositionNotFound,
		ErrQuoteUnavailable, ErrValidation, ErrPersistence, ErrUserNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
