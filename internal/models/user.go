// Package models defines the rows persisted by the Postgres repositories.
package models

import "time"

// User is an account. Role and CustomPermissions hold the string forms of
// auth.Role and auth.Permission.
type User struct {
	ID                string
	UserName          string
	FullName          string
	Role              string
	CustomPermissions []string
	PasswordHash      string
	PasswordSalt      string
	Active            bool
	CreatedAt         time.Time
}
