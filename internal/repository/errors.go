// Package repository defines error values that are reused across multiple
// repositories.  These sentinel values allow higher layers to distinguish
// between failure scenarios without parsing database error strings; raw
// driver errors never cross the service boundary.
package repository

import "errors"

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert would violate a uniqueness
// constraint that the repository checked inside its transaction, such as a
// role or permission name that is already taken.
var ErrDuplicate = errors.New("duplicate")

// Authorization code consumption outcomes.  Consume distinguishes the three
// so the service can log replay attempts separately from ordinary expiry.
var (
	ErrCodeInvalid = errors.New("invalid code")
	ErrCodeUsed    = errors.New("code already used")
	ErrCodeExpired = errors.New("code expired")
)

// Refresh token rotation outcomes.
var (
	ErrTokenNotFound = errors.New("refresh token not found")
	ErrTokenRevoked  = errors.New("refresh token revoked")
	ErrTokenExpired  = errors.New("refresh token expired")
)
