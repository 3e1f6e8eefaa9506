package models

import "time"

// Severity classifies how urgent an alert is
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// IsValid checks if the severity level is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo:
		return true
	default:
		return false
	}
}

// Rank orders severities for filtering; higher is more urgent.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Alert is a stateful record of a rule having fired for a signal.
// One Alert tracks one incident: repeated firings of the same rule
// refresh it in place until it is acknowledged.
type Alert struct {
	// Stable id for the lifetime of the incident
	ID string `json:"id"`

	// Rule's alert template key, e.g. "tire_pressure_low"
	AlertType string `json:"alert_type"`

	Severity Severity `json:"severity"`

	// Rendered message including the triggering value
	Message string `json:"message"`

	// Source signal id
	Signal string `json:"signal"`

	// Value that triggered (or last refreshed) the alert
	Value float64 `json:"value"`

	// Human-readable description of the rule, e.g. "< 25 PSI"
	Threshold string `json:"threshold"`

	// Time of triggering or last refresh
	Timestamp time.Time `json:"timestamp"`

	// Set only by an explicit acknowledge operation; terminal
	Acknowledged bool `json:"acknowledged"`
}
