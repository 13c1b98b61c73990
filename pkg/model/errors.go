package model

import (
	"errors"
	"net/http"
	"sort"
	"strings"
)

// ErrorKind classifies failures surfaced to API clients.
type ErrorKind string

// Error kinds
const (
	KindValidationFailed           ErrorKind = "validation_failed"
	KindAuthenticationFailed       ErrorKind = "authentication_failed"
	KindIdentityVerificationFailed ErrorKind = "identity_verification_failed"
	KindProviderConflict           ErrorKind = "provider_conflict"
	KindInvalidCredential          ErrorKind = "invalid_credential"
	KindNotFound                   ErrorKind = "not_found"
	KindInternal                   ErrorKind = "internal_error"
)

// StatusCode returns the HTTP status code for the kind.
func (k ErrorKind) StatusCode() int {
	switch k {
	case KindValidationFailed:
		return http.StatusBadRequest
	case KindAuthenticationFailed,
		KindIdentityVerificationFailed,
		KindInvalidCredential:
		return http.StatusUnauthorized
	case KindProviderConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a client-facing failure. Two errors match with errors.Is when
// their kinds are equal, so the sentinels below can be used for checks.
type Error struct {
	Kind    ErrorKind
	Message string

	// Fields holds per-field validation messages, keyed by JSON field name.
	Fields map[string]string

	cause error
}

// Sentinels for use with errors.Is
var (
	ErrValidationFailed           = &Error{Kind: KindValidationFailed}
	ErrAuthenticationFailed       = &Error{Kind: KindAuthenticationFailed}
	ErrIdentityVerificationFailed = &Error{Kind: KindIdentityVerificationFailed}
	ErrProviderConflict           = &Error{Kind: KindProviderConflict}
	ErrInvalidCredential          = &Error{Kind: KindInvalidCredential}
	ErrNotFound                   = &Error{Kind: KindNotFound}
)

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(e.Fields[k])
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithCause attaches the underlying failure, which is logged but never
// shown to clients.
func (e *Error) WithCause(err error) *Error {
	c := *e
	c.cause = err
	return &c
}

// ValidationFailed reports malformed input. fields may be nil.
func ValidationFailed(msg string, fields map[string]string) *Error {
	return &Error{Kind: KindValidationFailed, Message: msg, Fields: fields}
}

// AuthenticationFailed reports bad credentials or a disabled account.
func AuthenticationFailed(msg string) *Error {
	return &Error{Kind: KindAuthenticationFailed, Message: msg}
}

// IdentityVerificationFailed reports a provider credential that could not be
// verified, or whose claims are unusable.
func IdentityVerificationFailed(msg string) *Error {
	return &Error{Kind: KindIdentityVerificationFailed, Message: msg}
}

// ProviderConflict reports an email registered through a different provider.
func ProviderConflict(msg string) *Error {
	return &Error{Kind: KindProviderConflict, Message: msg}
}

// InvalidCredential reports a malformed, expired or revoked token.
func InvalidCredential(msg string) *Error {
	return &Error{Kind: KindInvalidCredential, Message: msg}
}

// NotFound reports a missing resource.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// AsError extracts the *Error from err's chain. Unknown failures are
// reported as internal errors with a generic message.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: "internal server error", cause: err}
}
