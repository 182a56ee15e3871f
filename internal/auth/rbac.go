// Package auth issues and verifies bearer credentials and decides what a
// role may do.
package auth

import (
	"fmt"
	"slices"

	"github.com/dmitrijs2005/medkeeper/internal/common"
)

// Role of an account. The set is closed.
type Role string

const (
	RoleWorker Role = "worker"
	RoleDoctor Role = "doctor"
	RoleAdmin  Role = "admin"
)

// Permission is a single capability. The set is closed.
type Permission string

const (
	PermReadOwnProfile   Permission = "read:own_profile"
	PermUpdateOwnProfile Permission = "update:own_profile"
	PermReadOwnRecords   Permission = "read:own_records"
	PermWriteOwnRecords  Permission = "write:own_records"
	PermUploadDocuments  Permission = "upload:documents"

	PermReadPatientRecords  Permission = "read:patient_records"
	PermWritePatientRecords Permission = "write:patient_records"
	PermWritePrescriptions  Permission = "write:prescriptions"
	PermRecordConsultations Permission = "record:consultations"

	PermManageDoctors  Permission = "manage:doctors"
	PermManageWorkers  Permission = "manage:workers"
	PermViewAuditLogs  Permission = "view:audit_logs"
	PermManageKeys     Permission = "manage:keys"
	PermExportData     Permission = "export:data"
	PermManageSettings Permission = "manage:settings"
)

var allPermissions = []Permission{
	PermReadOwnProfile, PermUpdateOwnProfile, PermReadOwnRecords, PermWriteOwnRecords, PermUploadDocuments,
	PermReadPatientRecords, PermWritePatientRecords, PermWritePrescriptions, PermRecordConsultations,
	PermManageDoctors, PermManageWorkers, PermViewAuditLogs, PermManageKeys, PermExportData, PermManageSettings,
}

var rolePermissions = map[Role][]Permission{
	RoleWorker: {
		PermReadOwnProfile,
		PermUpdateOwnProfile,
		PermReadOwnRecords,
		PermWriteOwnRecords,
		PermUploadDocuments,
	},
	RoleDoctor: {
		PermReadOwnProfile,
		PermUpdateOwnProfile,
		PermReadPatientRecords,
		PermWritePatientRecords,
		PermWritePrescriptions,
		PermRecordConsultations,
		PermUploadDocuments,
	},
	RoleAdmin: allPermissions,
}

func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

func (p Permission) Valid() bool {
	return slices.Contains(allPermissions, p)
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", common.ErrorValidation, s)
	}
	return r, nil
}

func ParsePermissions(ss []string) ([]Permission, error) {
	out := make([]Permission, 0, len(ss))
	for _, s := range ss {
		p := Permission(s)
		if !p.Valid() {
			return nil, fmt.Errorf("%w: unknown permission %q", common.ErrorValidation, s)
		}
		out = append(out, p)
	}
	return out, nil
}

// RolePermissions returns a copy of the role's table entry.
func RolePermissions(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}

// HasPermission reports whether the role's table entry contains perm.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// EffectivePermissions is the role's entry followed by any custom grants not
// already in it, without duplicates.
func EffectivePermissions(role Role, custom []Permission) []Permission {
	out := RolePermissions(role)
	for _, p := range custom {
		if p.Valid() && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// User is the authoritative account view the authority issues tokens for.
type User struct {
	ID                string
	Name              string
	Role              Role
	CustomPermissions []Permission
	Active            bool
}

// UserHasPermission checks the role table and the user's custom grants.
// Inactive users have no permissions.
func UserHasPermission(u *User, perm Permission) bool {
	if u == nil || !u.Active {
		return false
	}
	return HasPermission(u.Role, perm) || slices.Contains(u.CustomPermissions, perm)
}

// RouteGuard decides whether a caller may reach a route.
type RouteGuard struct{}

// CanAccess is true when the role or one of the custom grants holds at least
// one of required. An empty required list is open to every known role.
func (RouteGuard) CanAccess(required []Permission, role Role, custom ...Permission) bool {
	if !role.Valid() {
		return false
	}
	if len(required) == 0 {
		return true
	}
	for _, p := range required {
		if HasPermission(role, p) || slices.Contains(custom, p) {
			return true
		}
	}
	return false
}
