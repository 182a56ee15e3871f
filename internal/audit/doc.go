// Package audit classifies security-relevant actions and keeps a capped,
// append-only activity trail.
//
// Classification is a pure function of the action name: an ordered list of
// keyword rules is evaluated top to bottom and the first match wins. The
// rule order is a stable contract; alerting and tests depend on it.
//
// Events go to a general log capped at DefaultEventCap entries. Critical
// events are also copied to a critical-alert log capped at
// DefaultCriticalCap entries. Both evict oldest entries first.
package audit
