// Package auth handles credential verification, sessions, and role
// permissions for the trust layer API.
package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// Role is a coarse permission tier.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleManager       Role = "manager"
	RoleOperator      Role = "operator"
	RoleAuditor       Role = "auditor"
)

// Permission names one allowed operation.
type Permission string

const (
	PermViewAll         Permission = "view_all"
	PermRecordMovement  Permission = "record_movement"
	PermApproveMovement Permission = "approve_movement"
	PermViewAudit       Permission = "view_audit"
	PermManageUsers     Permission = "manage_users"
)

var rolePermissions = map[Role][]Permission{
	RoleAdministrator: {
		PermViewAll, PermRecordMovement, PermApproveMovement,
		PermViewAudit, PermManageUsers,
	},
	RoleManager: {
		PermViewAll, PermRecordMovement, PermApproveMovement, PermViewAudit,
	},
	RoleOperator: {
		PermViewAll, PermRecordMovement,
	},
	RoleAuditor: {
		PermViewAll, PermViewAudit,
	},
}

// HasPermission reports whether a role grants a permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// User is one configured account. Password hashes are bcrypt.
type User struct {
	ID           string `yaml:"id"`
	Username     string `yaml:"username"`
	Name         string `yaml:"name"`
	Role         Role   `yaml:"role"`
	PasswordHash string `yaml:"password_hash"`
	Active       bool   `yaml:"active"`
}

// HashPassword produces a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks a plaintext password against a stored hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
