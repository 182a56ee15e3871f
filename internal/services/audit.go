// Package services holds the application flows built on the security core:
// account registration and sign-in, and guarded record access.
package services

import (
	"context"

	"github.com/dmitrijs2005/medkeeper/internal/audit"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
)

// AuditLogger is the part of *audit.Logger the services write to.
type AuditLogger interface {
	LogAccess(ctx context.Context, action, subjectID, actorRole string, metadata map[string]any) (audit.Event, error)
	LogDoctorAction(ctx context.Context, action, subjectID, actorID, actorName string, medicalContext map[string]any) (audit.Event, error)
}

// recordAudit writes an audit event. A failed write is logged and does not
// fail the operation that caused it.
func recordAudit(ctx context.Context, log logging.Logger, err error, action string) {
	if err != nil {
		log.Error(ctx, "audit write failed", "action", action, "error", err)
	}
}
