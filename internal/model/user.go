package model

import "time"

// User represents an application user record as stored in the `users`
// table.  The token service only needs enough of the user to mint ID-token
// claims and to refuse issuance for deactivated accounts; authentication
// itself happens in the upstream session layer.
type User struct {
	ID           uint64
	Email        string
	PasswordHash string
	FullName     string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
