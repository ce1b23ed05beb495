package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error for callers and for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindProductUnavailable
	KindInsufficientStock
	KindNotFound
	KindForbidden
	KindConflictOnCommit
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "INVALID_INPUT"
	case KindProductUnavailable:
		return "PRODUCT_UNAVAILABLE"
	case KindInsufficientStock:
		return "INSUFFICIENT_STOCK"
	case KindNotFound:
		return "NOT_FOUND"
	case KindForbidden:
		return "FORBIDDEN"
	case KindConflictOnCommit:
		return "CONFLICT_ON_COMMIT"
	default:
		return "INTERNAL"
	}
}

// Error is returned by every core operation. Business-rule rejections
// carry a non-internal Kind; infrastructure failures are KindInternal
// and keep the cause in Err.
type Error struct {
	Kind    Kind
	Message string

	ProductIDs []string
	Available  int64
	Requested  int64

	Err error
}

func (e *Error) Error() string {
	if e.Kind == KindInternal && e.Err != nil {
		if e.Message == "" {
			return "internal error: " + e.Err.Error()
		}
		return e.Message + ": " + e.Err.Error()
	}
	if e.Message == "" {
		return strings.ToLower(e.Kind.String())
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the per-kind sentinels below, so errors.Is(err, ErrNotFound)
// works for any NotFound error regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrProductUnavailable = &Error{Kind: KindProductUnavailable}
	ErrInsufficientStock  = &Error{Kind: KindInsufficientStock}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrConflictOnCommit   = &Error{Kind: KindConflictOnCommit}
	ErrInternal           = &Error{Kind: KindInternal}
)

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func InvalidInputf(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func Unavailable(ids ...string) *Error {
	return &Error{
		Kind:       KindProductUnavailable,
		Message:    "products unavailable: " + strings.Join(ids, ", "),
		ProductIDs: ids,
	}
}

func InsufficientStock(productID string, available, requested int64) *Error {
	return &Error{
		Kind:       KindInsufficientStock,
		Message:    fmt.Sprintf("insufficient stock for product %s: available %d, requested %d", productID, available, requested),
		ProductIDs: []string{productID},
		Available:  available,
		Requested:  requested,
	}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Forbiddenf(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// ConflictOnCommit reports that the unit of work lost a race. When the
// loss was a stock reservation the cause carries the product details.
func ConflictOnCommit(message string, cause error) *Error {
	e := &Error{Kind: KindConflictOnCommit, Message: message, Err: cause}
	var ce *Error
	if errors.As(cause, &ce) {
		e.ProductIDs = ce.ProductIDs
		e.Available = ce.Available
		e.Requested = ce.Requested
	}
	return e
}

// Internal wraps an unexpected failure. Domain errors pass through untouched.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindInternal, Message: op, Err: err}
}
