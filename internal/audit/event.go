package audit

import "time"

const (
	DefaultEventCap    = 2000
	DefaultCriticalCap = 100
)

// Event is one immutable entry of the activity trail.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	SubjectID string         `json:"subject_id,omitempty"`
	ActorRole string         `json:"actor_role"`
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Severity  Severity       `json:"severity"`
	Category  Category       `json:"category"`
}

// CriticalAlert wraps a critical event awaiting downstream escalation.
// Delivery is someone else's job; NotificationSent stays false here.
type CriticalAlert struct {
	Event            Event  `json:"event"`
	AlertLevel       string `json:"alert_level"`
	NotificationSent bool   `json:"notification_sent"`
}

// Summary aggregates the current general log.
type Summary struct {
	Total          int              `json:"total"`
	BySeverity     map[Severity]int `json:"by_severity"`
	ByCategory     map[Category]int `json:"by_category"`
	CriticalAlerts int              `json:"critical_alerts"`
}
