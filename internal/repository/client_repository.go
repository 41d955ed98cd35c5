package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/oauth-token-service/internal/model"
)

// ClientRepo provides data access to the oauth_clients table and its child
// tables (redirect URIs, scopes, grant types, response types, permissions).
// Clients are read on every authorize/token request, so the full record is
// loaded in one pass.
type ClientRepo struct {
	db *sql.DB
}

// NewClientRepo returns a new ClientRepo bound to the provided database.
func NewClientRepo(db *sql.DB) *ClientRepo { return &ClientRepo{db: db} }

// FindByClientID loads a client by its public client_id.  Returns
// ErrNotFound when no such client exists.
func (r *ClientRepo) FindByClientID(ctx context.Context, clientID string) (*model.Client, error) {
	return r.findWhere(ctx, "client_id = ?", clientID)
}

// FindByID loads a client by its internal primary key.
func (r *ClientRepo) FindByID(ctx context.Context, id uint64) (*model.Client, error) {
	return r.findWhere(ctx, "id = ?", id)
}

func (r *ClientRepo) findWhere(ctx context.Context, where string, arg interface{}) (*model.Client, error) {
	const cols = `SELECT id, client_id, secret_hash, client_type, client_name,
		access_token_ttl_secs, refresh_token_ttl_secs,
		require_pkce, require_consent, is_active, created_at, updated_at
		FROM oauth_clients WHERE `
	var (
		c          model.Client
		secretHash sql.NullString
		accessTTL  uint64
		refreshTTL uint64
	)
	err := r.db.QueryRowContext(ctx, cols+where+" LIMIT 1", arg).Scan(
		&c.ID, &c.ClientID, &secretHash, &c.Type, &c.Name,
		&accessTTL, &refreshTTL,
		&c.RequirePKCE, &c.RequireConsent, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if secretHash.Valid {
		h := secretHash.String
		c.SecretHash = &h
	}
	c.AccessTokenTTL = time.Duration(accessTTL) * time.Second
	c.RefreshTokenTTL = time.Duration(refreshTTL) * time.Second

	if c.RedirectURIs, err = r.childValues(ctx, "oauth_client_redirect_uris", "redirect_uri", c.ID); err != nil {
		return nil, err
	}
	if c.Scopes, err = r.childValues(ctx, "oauth_client_scopes", "scope", c.ID); err != nil {
		return nil, err
	}
	if c.GrantTypes, err = r.childValues(ctx, "oauth_client_grant_types", "grant_type", c.ID); err != nil {
		return nil, err
	}
	if c.ResponseTypes, err = r.childValues(ctx, "oauth_client_response_types", "response_type", c.ID); err != nil {
		return nil, err
	}
	if c.Permissions, err = r.childValues(ctx, "oauth_client_permissions", "permission", c.ID); err != nil {
		return nil, err
	}
	return &c, nil
}

// childValues reads the single value column of a client child table.
func (r *ClientRepo) childValues(ctx context.Context, table, column string, clientID uint64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+column+" FROM "+table+" WHERE client_id = ? ORDER BY "+column, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Create inserts a client with all of its child rows inside one
// transaction.  The uniqueness of client_id is checked in the same
// transaction as the insert to avoid duplicate-creation races.  The
// generated internal ID is written back onto the record.
func (r *ClientRepo) Create(ctx context.Context, c *model.Client) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists bool
	if err = tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM oauth_clients WHERE client_id = ?)", c.ClientID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		err = ErrDuplicate
		return err
	}

	var secretHash sql.NullString
	if c.SecretHash != nil {
		secretHash = sql.NullString{String: *c.SecretHash, Valid: true}
	}
	var res sql.Result
	res, err = tx.ExecContext(ctx,
		`INSERT INTO oauth_clients
		(client_id, secret_hash, client_type, client_name,
		 access_token_ttl_secs, refresh_token_ttl_secs,
		 require_pkce, require_consent, is_active)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ClientID, secretHash, c.Type, c.Name,
		int64(c.AccessTokenTTL/time.Second), int64(c.RefreshTokenTTL/time.Second),
		c.RequirePKCE, c.RequireConsent, c.IsActive)
	if err != nil {
		return err
	}
	var id int64
	if id, err = res.LastInsertId(); err != nil {
		return err
	}
	c.ID = uint64(id)

	children := []struct {
		table, column string
		values        []string
	}{
		{"oauth_client_redirect_uris", "redirect_uri", c.RedirectURIs},
		{"oauth_client_scopes", "scope", c.Scopes},
		{"oauth_client_grant_types", "grant_type", c.GrantTypes},
		{"oauth_client_response_types", "response_type", c.ResponseTypes},
		{"oauth_client_permissions", "permission", c.Permissions},
	}
	for _, ch := range children {
		if err = insertChildRows(ctx, tx, ch.table, ch.column, c.ID, ch.values); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// insertChildRows bulk-inserts value rows for one client child table.
// Passing an empty slice has no effect and returns nil.
func insertChildRows(ctx context.Context, tx *sql.Tx, table, column string, clientID uint64, values []string) error {
	if len(values) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("INSERT INTO " + table + " (client_id, " + column + ") VALUES ")
	args := make([]interface{}, 0, len(values)*2)
	for i, v := range values {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(?, ?)")
		args = append(args, clientID, v)
	}
	_, err := tx.ExecContext(ctx, b.String(), args...)
	return err
}

// SetActive flips the is_active flag on a client.
func (r *ClientRepo) SetActive(ctx context.Context, id uint64, active bool) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE oauth_clients SET is_active = ? WHERE id = ?", active, id)
	return err
}
