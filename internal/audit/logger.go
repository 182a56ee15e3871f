package audit

import (
	"context"
	"strings"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/obs"
	"github.com/oklog/ulid/v2"
)

type ctxKey string

const sessionIDKey ctxKey = "audit_session_id"

// WithSessionID attaches the caller's session identifier to ctx so that
// events logged under it carry the id.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext returns the session id set by WithSessionID.
func SessionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger classifies actions and appends them to a Store. It also mirrors
// every event to the structured application log.
type Logger struct {
	store Store
	log   logging.Logger
	now   func() time.Time
}

func NewLogger(store Store, log logging.Logger) *Logger {
	if log == nil {
		log = logging.Discard()
	}
	return &Logger{store: store, log: log.With("component", "audit"), now: time.Now}
}

// LogAccess records action performed by actorRole on subjectID.
func (l *Logger) LogAccess(ctx context.Context, action, subjectID, actorRole string, metadata map[string]any) (Event, error) {
	severity, category := Classify(action)
	return l.append(ctx, action, subjectID, actorRole, metadata, severity, category)
}

// LogSecurityEvent records a security event whose severity is fixed by the
// caller rather than derived from the action name. Used for key custody
// events whose names carry no severity keywords.
func (l *Logger) LogSecurityEvent(ctx context.Context, action string, severity Severity, metadata map[string]any) (Event, error) {
	return l.append(ctx, action, "", "system", metadata, severity, CategorySecurity)
}

// LogDoctorAction enriches metadata with clinical context and logs the
// action under the doctor role.
func (l *Logger) LogDoctorAction(ctx context.Context, action, subjectID, actorID, actorName string, medicalContext map[string]any) (Event, error) {
	md := map[string]any{
		"actor_id":      actorID,
		"actor_name":    actorName,
		"doctor_action": true,
	}
	if len(medicalContext) > 0 {
		md["medical_context"] = medicalContext
	}
	return l.LogAccess(ctx, action, subjectID, "doctor", md)
}

func (l *Logger) append(ctx context.Context, action, subjectID, actorRole string, metadata map[string]any, severity Severity, category Category) (Event, error) {
	e := Event{
		ID:        ulid.Make().String(),
		Timestamp: l.now().UTC(),
		Action:    action,
		SubjectID: subjectID,
		ActorRole: actorRole,
		SessionID: SessionIDFromContext(ctx),
		Metadata:  copyMetadata(metadata),
		Severity:  severity,
		Category:  category,
	}

	obs.AuditEvents.WithLabelValues(string(severity), string(category)).Inc()

	if err := l.store.Append(ctx, e); err != nil {
		l.log.Error(ctx, "audit append failed", "action", action, "error", err)
		return e, err
	}

	if severity == SeverityCritical {
		l.log.Warn(ctx, "critical audit event", "action", action, "subject_id", subjectID, "category", category)
		alert := CriticalAlert{Event: e, AlertLevel: string(SeverityCritical), NotificationSent: false}
		if err := l.store.AppendCritical(ctx, alert); err != nil {
			l.log.Error(ctx, "critical alert append failed", "action", action, "error", err)
			return e, err
		}
		return e, nil
	}

	l.log.Debug(ctx, "audit event", "action", action, "severity", severity, "category", category)
	return e, nil
}

func copyMetadata(md map[string]any) map[string]any {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// Events returns the general log, oldest first.
func (l *Logger) Events(ctx context.Context) ([]Event, error) {
	return l.store.Events(ctx)
}

// CriticalAlerts returns the critical log, oldest first.
func (l *Logger) CriticalAlerts(ctx context.Context) ([]CriticalAlert, error) {
	return l.store.CriticalAlerts(ctx)
}

// Stats summarises the general log by severity and category.
func (l *Logger) Stats(ctx context.Context) (Summary, error) {
	events, err := l.store.Events(ctx)
	if err != nil {
		return Summary{}, err
	}
	alerts, err := l.store.CriticalAlerts(ctx)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		Total:          len(events),
		BySeverity:     make(map[Severity]int),
		ByCategory:     make(map[Category]int),
		CriticalAlerts: len(alerts),
	}
	for _, e := range events {
		s.BySeverity[e.Severity]++
		s.ByCategory[e.Category]++
	}
	return s, nil
}
