package common

import (
	"errors"
	"net/http"
)

// Kind classifies application errors so the HTTP boundary can map them
// to a status without inspecting messages.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindExternalAPI    Kind = "external_api"
	KindDatabase       Kind = "database"
)

// Error is the ChatCine domain error. Messages are user-safe: they are
// returned to the caller verbatim, so never wrap provider error bodies
// or internal details into them.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindExternalAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WithCause attaches an underlying error for logs; the message shown to
// the caller is unchanged.
func (e *Error) WithCause(err error) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, cause: err}
}

func Validation(msg string) *Error     { return &Error{Kind: KindValidation, Message: msg} }
func NotFound(msg string) *Error       { return &Error{Kind: KindNotFound, Message: msg} }
func Authentication(msg string) *Error { return &Error{Kind: KindAuthentication, Message: msg} }
func Authorization(msg string) *Error  { return &Error{Kind: KindAuthorization, Message: msg} }
func ExternalAPI(msg string) *Error    { return &Error{Kind: KindExternalAPI, Message: msg} }
func Database(msg string) *Error       { return &Error{Kind: KindDatabase, Message: msg} }

// AsError extracts a domain error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is a domain error of the given kind.
func IsKind(err error, k Kind) bool {
	if e, ok := AsError(err); ok {
		return e.Kind == k
	}
	return false
}
