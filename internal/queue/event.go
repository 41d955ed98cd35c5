// Package queue defines message payloads exchanged over the message broker
// and the publisher used to emit them.
package queue

// Security event types published on the auth.security queue.
const (
	EventCodeReplay   = "authorization_code.replay"
	EventRefreshReuse = "refresh_token.reuse"
	EventTokenRevoked = "token.revoked"
)

// SecurityEvent is published when the token protocol observes something a
// downstream audit consumer should see: a redeemed authorization code being
// presented again, a rotated refresh token being replayed, or an explicit
// revocation.  It carries enough context for alerting without querying the
// primary database.
type SecurityEvent struct {
	Type       string `json:"type"`
	UserID     uint64 `json:"user_id,omitempty"`
	ClientID   string `json:"client_id,omitempty"`
	JTI        string `json:"jti,omitempty"`
	Reason     string `json:"reason,omitempty"`
	OccurredAt string `json:"occurred_at"`
}
