// Package detector evaluates heuristic fraud rules against inventory
// movements and manages the resulting alerts.
package detector

import (
	"context"
	"time"
)

// Severity grades how serious an alert is.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// rank orders severities for comparisons.
func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// Kind identifies which rule produced an alert.
type Kind string

const (
	KindOffHours         Kind = "OFF_HOURS_MOVEMENT"
	KindQuantityOutlier  Kind = "UNUSUAL_QUANTITY"
	KindRapidRepetition  Kind = "RAPID_REPEAT_MOVEMENTS"
	KindGeofenceMismatch Kind = "UNAUTHORIZED_LOCATION"
	KindUnknownDevice    Kind = "UNRECOGNIZED_DEVICE"
	KindTheftPattern     Kind = "THEFT_PATTERN"
)

// Alert is one finding from rule evaluation. Notified flips to true after
// a successful dispatch; nothing else mutates after creation.
type Alert struct {
	ID          int64          `json:"id"`
	Kind        Kind           `json:"kind"`
	Severity    Severity       `json:"severity"`
	Timestamp   time.Time      `json:"timestamp"`
	ActorID     string         `json:"actor_id"`
	ActorName   string         `json:"actor_name"`
	EntityKind  string         `json:"entity_kind,omitempty"`
	EntityID    string         `json:"entity_id,omitempty"`
	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`
	Immediate   bool           `json:"requires_immediate_action"`
	Notified    bool           `json:"notified"`
}

// Sink receives high-severity alerts. Implementations live in the notify
// package.
type Sink interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
}

// AlertStore persists alerts. The detector keeps its own in-memory
// collection for reporting; the store is the durable copy.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *Alert) error

	// LastAlertID returns the highest persisted alert id, 0 when none.
	// The detector resumes its counter from it so ids stay unique
	// across restarts.
	LastAlertID(ctx context.Context) (int64, error)
}
