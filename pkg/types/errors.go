package types

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the boundary layer.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthenticated
	KindUnauthorized
	KindNotFound
	KindInvalidState
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not found"
	case KindInvalidState:
		return "invalid state"
	case KindValidation:
		return "validation failure"
	default:
		return "unknown"
	}
}

// Error is a typed failure carrying its Kind.
// ARCHITECTURAL DISCOVERY: a kind sentinel (empty Msg) matches every Error of
// the same kind under errors.Is, so packages keep their own specific
// sentinels while callers branch on the kind alone.
type Error struct {
	Kind Kind
	Msg  string
}

// NewError creates a typed error of the given kind.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Errorf creates a typed error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Msg
}

// Is matches kind sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Kind == e.Kind
}

// Kind sentinels.
var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrUnauthorized    = &Error{Kind: KindUnauthorized}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrValidation      = &Error{Kind: KindValidation}
)

// KindOf returns the kind of the first typed error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Validation errors shared across packages.
var (
	ErrInvalidUserID  = NewError(KindValidation, "user ID must be 1-64 characters, alphanumeric, underscore or hyphen")
	ErrEmptyContent   = NewError(KindValidation, "message content cannot be empty")
	ErrContentTooLong = NewError(KindValidation, "message content exceeds 8192 characters")
	ErrInvalidMessage = NewError(KindValidation, "invalid message")
	ErrInvalidReact   = NewError(KindValidation, "invalid reaction")
)
