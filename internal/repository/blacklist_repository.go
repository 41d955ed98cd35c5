package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/oauth-token-service/internal/model"
)

// BlacklistRepo provides data access to the token_blacklist table.  Access
// tokens are stateless, so revocation is honored by keeping their jti on
// this denylist until slightly past the token's own expiry.
type BlacklistRepo struct {
	db *sql.DB
}

// NewBlacklistRepo returns a new BlacklistRepo bound to the database.
func NewBlacklistRepo(db *sql.DB) *BlacklistRepo { return &BlacklistRepo{db: db} }

// Add inserts a blacklist entry.  Re-revoking the same jti updates the
// existing row instead of failing, keeping revocation idempotent.
func (r *BlacklistRepo) Add(ctx context.Context, e *model.TokenBlacklistEntry) error {
	var userID sql.NullInt64
	if e.UserID != nil {
		userID = sql.NullInt64{Int64: int64(*e.UserID), Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO token_blacklist (jti, token_type, user_id, client_id, expires_at, reason)
		 VALUES (?,?,?,?,?,?)
		 ON DUPLICATE KEY UPDATE expires_at = VALUES(expires_at), reason = VALUES(reason)`,
		e.JTI, e.TokenType, userID, e.ClientID, e.ExpiresAt.UTC(), e.Reason)
	return err
}

// Exists reports whether a non-expired blacklist row exists for the jti.
func (r *BlacklistRepo) Exists(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM token_blacklist WHERE jti = ? AND expires_at > UTC_TIMESTAMP())",
		jti).Scan(&exists)
	return exists, err
}

// PurgeExpired deletes blacklist rows whose retention window has passed.
func (r *BlacklistRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM token_blacklist WHERE expires_at <= UTC_TIMESTAMP()")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
