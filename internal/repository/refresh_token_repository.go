package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/oauth-token-service/internal/model"
)

// RefreshTokenRepo persists refresh token records.  Only the SHA-256 hash
// of the raw token is stored.  Rotation is the security-critical path: the
// presented token must be revoked and its successor created in one atomic
// unit so a crash in between can neither resurrect the old token nor leave
// the user without a refresh path.
type RefreshTokenRepo struct {
	db *sql.DB
}

// NewRefreshTokenRepo returns a new RefreshTokenRepo bound to the database.
func NewRefreshTokenRepo(db *sql.DB) *RefreshTokenRepo { return &RefreshTokenRepo{db: db} }

// Store inserts a refresh token row and writes the generated ID back onto
// the record.
func (r *RefreshTokenRepo) Store(ctx context.Context, rt *model.RefreshToken) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens
		(jti, token_hash, user_id, client_id, scope, expires_at, is_revoked, previous_token_id)
		VALUES (?,?,?,?,?,?,0,?)`,
		rt.JTI, rt.TokenHash, rt.UserID, rt.ClientID, rt.Scope, rt.ExpiresAt.UTC(), rt.PreviousTokenID)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rt.ID = uint64(id)
	return nil
}

// FindByJTI returns the stored record for a jti, or ErrTokenNotFound.
func (r *RefreshTokenRepo) FindByJTI(ctx context.Context, jti string) (*model.RefreshToken, error) {
	var (
		rt   model.RefreshToken
		prev sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, jti, token_hash, user_id, client_id, scope, expires_at, is_revoked, previous_token_id, created_at
		 FROM refresh_tokens WHERE jti = ? LIMIT 1`, jti).Scan(
		&rt.ID, &rt.JTI, &rt.TokenHash, &rt.UserID, &rt.ClientID, &rt.Scope,
		&rt.ExpiresAt, &rt.IsRevoked, &prev, &rt.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	if prev.Valid {
		p := uint64(prev.Int64)
		rt.PreviousTokenID = &p
	}
	return &rt, nil
}

// Rotate redeems the token identified by oldJTI and persists its successor
// inside one transaction.  The old row is locked, re-validated under the
// lock, marked revoked, and the successor inserted with previous_token_id
// pointing at it.  Outcomes map to the sentinel errors:
//
//	ErrTokenNotFound – no row for oldJTI
//	ErrTokenRevoked  – token was already redeemed or revoked (possible reuse)
//	ErrTokenExpired  – token exists but is past its expiry
//
// Concurrent Rotate calls for the same jti serialize on the row lock, so at
// most one successor is ever created per redemption.
func (r *RefreshTokenRepo) Rotate(ctx context.Context, oldJTI string, successor *model.RefreshToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		oldID     uint64
		expiresAt time.Time
		isRevoked bool
	)
	err = tx.QueryRowContext(ctx,
		"SELECT id, expires_at, is_revoked FROM refresh_tokens WHERE jti = ? FOR UPDATE", oldJTI).Scan(
		&oldID, &expiresAt, &isRevoked)
	if err == sql.ErrNoRows {
		err = ErrTokenNotFound
		return err
	}
	if err != nil {
		return err
	}
	if isRevoked {
		err = ErrTokenRevoked
		return err
	}
	if time.Now().UTC().After(expiresAt) {
		err = ErrTokenExpired
		return err
	}

	if _, err = tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_revoked = 1 WHERE id = ?", oldID); err != nil {
		return err
	}
	var res sql.Result
	res, err = tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens
		(jti, token_hash, user_id, client_id, scope, expires_at, is_revoked, previous_token_id)
		VALUES (?,?,?,?,?,?,0,?)`,
		successor.JTI, successor.TokenHash, successor.UserID, successor.ClientID,
		successor.Scope, successor.ExpiresAt.UTC(), oldID)
	if err != nil {
		return err
	}
	var id int64
	if id, err = res.LastInsertId(); err != nil {
		return err
	}
	successor.ID = uint64(id)
	successor.PreviousTokenID = &oldID
	return tx.Commit()
}

// Revoke marks a token revoked by jti.  Revoking an unknown or already
// revoked jti is a no-op, which keeps the revocation endpoint idempotent.
func (r *RefreshTokenRepo) Revoke(ctx context.Context, jti string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_revoked = 1 WHERE jti = ? AND is_revoked = 0", jti)
	return err
}

// RevokeAllForUser revokes every active refresh token a user holds, for
// account-wide actions such as deactivation or password change.
func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uint64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_revoked = 1 WHERE user_id = ? AND is_revoked = 0", userID)
	return err
}

// PurgeExpired deletes refresh token rows past their expiry.
func (r *RefreshTokenRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at <= UTC_TIMESTAMP()")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
