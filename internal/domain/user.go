package domain

import "time"

// Role enumerates the three helpdesk roles.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleTech     Role = "TECH"
	RoleCustomer Role = "CUSTOMER"
)

// Roles lists every role in display order.
var Roles = []Role{RoleAdmin, RoleTech, RoleCustomer}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTech, RoleCustomer:
		return true
	}
	return false
}

// User is a profile. Users are deactivated, never deleted.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsActiveTech reports whether the user can hold ticket assignments.
func (u *User) IsActiveTech() bool {
	return u != nil && u.Active && u.Role == RoleTech
}

// UserSummary is the display part of a profile shown next to tickets, comments and history.
type UserSummary struct {
	ID   string
	Name string
	Role Role
}

// Summary returns the display part of u.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Role: u.Role}
}
