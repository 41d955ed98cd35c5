package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/oauth-token-service/internal/model"
)

// RBACRepo provides data access to the roles, permissions, role_permissions
// and user_roles tables.  Mutators run their uniqueness/existence checks in
// the same transaction as the write so two concurrent admins cannot create
// duplicate rows (TOCTOU).  Cache invalidation is the caller's concern; the
// repository only reports which users a mutation affected.
type RBACRepo struct {
	db *sql.DB
}

// NewRBACRepo returns a new RBACRepo bound to the provided database.
func NewRBACRepo(db *sql.DB) *RBACRepo { return &RBACRepo{db: db} }

// UserPermissions resolves the user's effective permission names by joining
// user_roles → role_permissions → permissions.  DISTINCT deduplicates
// permissions reachable through more than one role.
func (r *RBACRepo) UserPermissions(ctx context.Context, userID uint64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT p.name
		 FROM user_roles ur
		 JOIN role_permissions rp ON rp.role_id = ur.role_id
		 JOIN permissions p ON p.id = rp.permission_id
		 WHERE ur.user_id = ?
		 ORDER BY p.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		perms = append(perms, name)
	}
	return perms, rows.Err()
}

// UserHasPermission is a direct existence check, bypassing any cache.
func (r *RBACRepo) UserHasPermission(ctx context.Context, userID uint64, permission string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM user_roles ur
			JOIN role_permissions rp ON rp.role_id = ur.role_id
			JOIN permissions p ON p.id = rp.permission_id
			WHERE ur.user_id = ? AND p.name = ?)`, userID, permission).Scan(&exists)
	return exists, err
}

// ClientHasPermission checks the client's directly configured permission
// list by public client_id.  Client permissions never involve user roles.
func (r *RBACRepo) ClientHasPermission(ctx context.Context, clientID, permission string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM oauth_client_permissions cp
			JOIN oauth_clients c ON c.id = cp.client_id
			WHERE c.client_id = ? AND cp.permission = ?)`, clientID, permission).Scan(&exists)
	return exists, err
}

// UserIDsForRole lists the users currently holding a role.  Callers use it
// to know whose cached permission sets a role-level mutation invalidates.
func (r *RBACRepo) UserIDsForRole(ctx context.Context, roleID uint64) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT user_id FROM user_roles WHERE role_id = ?", roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateRole inserts a role after checking name uniqueness in-transaction.
// Returns ErrDuplicate when the name is taken.
func (r *RBACRepo) CreateRole(ctx context.Context, role *model.Role) error {
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
		"SELECT EXISTS(SELECT 1 FROM roles WHERE name = ?)", role.Name).Scan(&exists); err != nil {
		return err
	}
	if exists {
		err = ErrDuplicate
		return err
	}
	var res sql.Result
	res, err = tx.ExecContext(ctx,
		"INSERT INTO roles (name, description) VALUES (?,?)", role.Name, role.Description)
	if err != nil {
		return err
	}
	var id int64
	if id, err = res.LastInsertId(); err != nil {
		return err
	}
	role.ID = uint64(id)
	return tx.Commit()
}

// CreatePermission inserts a permission after checking name uniqueness
// in-transaction.  Returns ErrDuplicate when the name is taken.
func (r *RBACRepo) CreatePermission(ctx context.Context, p *model.Permission) error {
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
		"SELECT EXISTS(SELECT 1 FROM permissions WHERE name = ?)", p.Name).Scan(&exists); err != nil {
		return err
	}
	if exists {
		err = ErrDuplicate
		return err
	}
	var res sql.Result
	res, err = tx.ExecContext(ctx,
		"INSERT INTO permissions (name, permission_type, description) VALUES (?,?,?)",
		p.Name, p.Type, p.Description)
	if err != nil {
		return err
	}
	var id int64
	if id, err = res.LastInsertId(); err != nil {
		return err
	}
	p.ID = uint64(id)
	return tx.Commit()
}

// AssignRoleToUser links a role to a user.  The role's existence and the
// absence of an existing link are both checked inside the transaction.
func (r *RBACRepo) AssignRoleToUser(ctx context.Context, userID, roleID uint64) error {
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
		"SELECT EXISTS(SELECT 1 FROM roles WHERE id = ?)", roleID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		err = ErrNotFound
		return err
	}
	if err = tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM user_roles WHERE user_id = ? AND role_id = ?)",
		userID, roleID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		err = ErrDuplicate
		return err
	}
	if _, err = tx.ExecContext(ctx,
		"INSERT INTO user_roles (user_id, role_id) VALUES (?,?)", userID, roleID); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveRoleFromUser unlinks a role from a user.  Removing a link that does
// not exist returns ErrNotFound.
func (r *RBACRepo) RemoveRoleFromUser(ctx context.Context, userID, roleID uint64) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM user_roles WHERE user_id = ? AND role_id = ?", userID, roleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignPermissionToRole links a permission to a role with in-transaction
// existence and duplicate checks.
func (r *RBACRepo) AssignPermissionToRole(ctx context.Context, roleID, permissionID uint64) error {
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
		"SELECT EXISTS(SELECT 1 FROM roles WHERE id = ?)", roleID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		err = ErrNotFound
		return err
	}
	if err = tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM permissions WHERE id = ?)", permissionID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		err = ErrNotFound
		return err
	}
	if err = tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM role_permissions WHERE role_id = ? AND permission_id = ?)",
		roleID, permissionID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		err = ErrDuplicate
		return err
	}
	if _, err = tx.ExecContext(ctx,
		"INSERT INTO role_permissions (role_id, permission_id) VALUES (?,?)",
		roleID, permissionID); err != nil {
		return err
	}
	return tx.Commit()
}

// RemovePermissionFromRole unlinks a permission from a role.
func (r *RBACRepo) RemovePermissionFromRole(ctx context.Context, roleID, permissionID uint64) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM role_permissions WHERE role_id = ? AND permission_id = ?", roleID, permissionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRole removes a role; user_roles and role_permissions rows cascade.
func (r *RBACRepo) DeleteRole(ctx context.Context, roleID uint64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM roles WHERE id = ?", roleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
