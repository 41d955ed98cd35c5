package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/oauth-token-service/internal/model"
)

// AuthCodeRepo provides data access to the authorization_codes table.
// Consumption is the security-critical path: a code must flip from unused
// to used exactly once even when multiple service instances redeem it
// concurrently, so the check-then-set runs under a row lock rather than an
// in-process mutex.
type AuthCodeRepo struct {
	db *sql.DB
}

// NewAuthCodeRepo returns a new AuthCodeRepo bound to the provided database.
func NewAuthCodeRepo(db *sql.DB) *AuthCodeRepo { return &AuthCodeRepo{db: db} }

// Create inserts a new authorization code row and writes the generated ID
// back onto the record.
func (r *AuthCodeRepo) Create(ctx context.Context, ac *model.AuthorizationCode) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO authorization_codes
		(code, user_id, client_id, redirect_uri, scope,
		 code_challenge, code_challenge_method, nonce, expires_at, is_used)
		VALUES (?,?,?,?,?,?,?,?,?,0)`,
		ac.Code, ac.UserID, ac.ClientID, ac.RedirectURI, ac.Scope,
		ac.CodeChallenge, ac.CodeChallengeMethod, ac.Nonce, ac.ExpiresAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ac.ID = uint64(id)
	return nil
}

// Consume atomically redeems a code.  Within a single transaction it locks
// the row, verifies it is unused and unexpired, and marks it used before
// returning the record.  Outcomes map to the sentinel errors:
//
//	ErrCodeInvalid – no such code
//	ErrCodeUsed    – code was already redeemed (possible replay)
//	ErrCodeExpired – code exists but is past its expiry
//
// Concurrent Consume calls for the same code serialize on the row lock, so
// at most one of them succeeds.
func (r *AuthCodeRepo) Consume(ctx context.Context, code string) (*model.AuthorizationCode, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var ac model.AuthorizationCode
	err = tx.QueryRowContext(ctx,
		`SELECT id, code, user_id, client_id, redirect_uri, scope,
		        code_challenge, code_challenge_method, nonce, expires_at, is_used, created_at
		 FROM authorization_codes WHERE code = ? FOR UPDATE`, code).Scan(
		&ac.ID, &ac.Code, &ac.UserID, &ac.ClientID, &ac.RedirectURI, &ac.Scope,
		&ac.CodeChallenge, &ac.CodeChallengeMethod, &ac.Nonce, &ac.ExpiresAt, &ac.IsUsed, &ac.CreatedAt)
	if err == sql.ErrNoRows {
		err = ErrCodeInvalid
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if ac.IsUsed {
		err = ErrCodeUsed
		return nil, err
	}
	if ac.IsExpired(time.Now().UTC()) {
		err = ErrCodeExpired
		return nil, err
	}
	if _, err = tx.ExecContext(ctx,
		"UPDATE authorization_codes SET is_used = 1 WHERE id = ? AND is_used = 0", ac.ID); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	ac.IsUsed = true
	return &ac, nil
}

// PurgeExpired deletes codes past their expiry.  Used codes are kept until
// expiry so replays of a redeemed code can still be told apart from
// garbage; after expiry either answer is "invalid" and the row is garbage.
func (r *AuthCodeRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM authorization_codes WHERE expires_at <= UTC_TIMESTAMP()")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
