package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrInvalidInput = errors.New("auth: invalid input")
)

// ErrorKind classifies every failure the auth core reports.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalidCredentials
	KindAccountDisabled
	KindNoToken
	KindTokenMalformed
	KindTokenExpired
	KindWrongTokenType
	KindUserInactiveOrMissing
	KindSessionRevoked
	KindForbidden
)

var kindNames = map[ErrorKind]string{
	KindInternal:              "InternalError",
	KindInvalidCredentials:    "InvalidCredentials",
	KindAccountDisabled:       "AccountDisabled",
	KindNoToken:               "NoToken",
	KindTokenMalformed:        "TokenMalformed",
	KindTokenExpired:          "TokenExpired",
	KindWrongTokenType:        "WrongTokenType",
	KindUserInactiveOrMissing: "UserInactiveOrMissing",
	KindSessionRevoked:        "SessionRevoked",
	KindForbidden:             "Forbidden",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "InternalError"
}

// Error is the single error type returned by the auth core.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "auth: " + e.Kind.String()
	}
	return "auth: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, &Error{Kind: KindTokenExpired}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func newErrorf(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

// KindOf reports the kind carried by err. Errors that did not originate in the
// auth core are internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
