package model

import "time"

// Permission type tags stored in permissions.permission_type.
const (
	PermissionTypeAPI  = "API"
	PermissionTypeMenu = "MENU"
	PermissionTypeData = "DATA"
)

// Role represents a row in the `roles` table.  Role names are unique.
type Role struct {
	ID          uint64
	Name        string
	Description string
	CreatedAt   time.Time
}

// Permission represents a row in the `permissions` table.  The name is a
// flat "resource:action" identifier and is unique across the table.
type Permission struct {
	ID          uint64
	Name        string
	Type        string
	Description string
	CreatedAt   time.Time
}
