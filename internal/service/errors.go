// Package service implements the OAuth protocol core: client
// authentication, PKCE verification, scope validation, authorization code
// issuance and consumption, RBAC permission resolution, and the token
// lifecycle.  Services depend on small store interfaces so tests can
// substitute fakes for the database-backed repositories.
package service

import (
	"errors"
	"fmt"
)

// Kind classifies service errors for transport mapping.  Expected protocol
// outcomes ("code already used", "invalid secret") are values of this type,
// never panics or naked store errors.
type Kind int

const (
	KindValidation   Kind = iota + 1 // malformed/expired/reused inputs → 400
	KindUnauthorized                 // failed client/token authentication → 401
	KindNotFound                     // unknown client/role/permission → collapsed at the boundary
	KindConflict                     // duplicate role/permission name → 409
	KindRateLimited                  // too many requests → 429
	KindInternal                     // store/crypto failures → 500, detail never forwarded
)

// Error is the tagged error crossing the service boundary.  Code carries
// the RFC 6749 error identifier handlers put on the wire; Message is safe
// for clients.  The wrapped cause, if any, stays server-side.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Validation builds a 4xx protocol-violation error.
func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

// Unauthorized builds a 401 error.
func Unauthorized(code, message string) *Error {
	return &Error{Kind: KindUnauthorized, Code: code, Message: message}
}

// NotFound builds a lookup-failure error; handlers collapse it to a
// generic invalid_client/invalid_request so identifiers never leak.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: "invalid_request", Message: message}
}

// Conflict builds a 409 duplicate error.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Code: "conflict", Message: message}
}

// Internal wraps a store or crypto failure.  The cause is logged but never
// serialized into a response.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Code: "server_error", Message: "internal error", cause: cause}
}

// KindOf extracts the Kind from an error, defaulting to KindInternal for
// anything that is not a service Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}
