package signals

import (
	"fmt"
	"strings"
	"time"
)

// Rule binds a condition to the alert it raises. A Rule belongs to
// exactly one Signal.
type Rule struct {
	// Raw condition expression as configured
	Expr string `yaml:"condition" json:"condition"`

	// Alert template key, stable across firings
	AlertID string `yaml:"alert_id" json:"alert_id"`

	// critical | warning | info
	Severity string `yaml:"severity" json:"severity"`

	// Message template; "{value}" and "{signal}" are substituted
	Message string `yaml:"message" json:"message"`

	// Parsed at load time, never re-parsed during evaluation
	Condition Condition `yaml:"-" json:"-"`
}

// Signal is a published signal definition. Immutable once loaded;
// reconfiguration replaces the whole registry.
type Signal struct {
	ID          string     `yaml:"-" json:"id"`
	Name        string     `yaml:"name" json:"name"`
	Unit        string     `yaml:"unit" json:"unit"`
	Min         float64    `yaml:"min" json:"min"`
	Max         float64    `yaml:"max" json:"max"`
	NormalRange [2]float64 `yaml:"normal_range" json:"normal_range"`
	UIWidget    string     `yaml:"ui_widget" json:"ui_widget"`
	Rules       []Rule     `yaml:"analytics_rules" json:"analytics_rules"`
}

// InBounds reports whether a value is within the signal's physical bounds.
func (s *Signal) InBounds(v float64) bool {
	return v >= s.Min && v <= s.Max
}

// MaxWindow returns the longest trailing window any of the signal's
// rules require, or zero when no rule needs history.
func (s *Signal) MaxWindow() time.Duration {
	var max time.Duration
	for _, r := range s.Rules {
		if r.Condition.Window > max {
			max = r.Condition.Window
		}
	}
	return max
}

// FieldError describes one problem found while validating configuration.
type FieldError struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
	Hint    string `json:"hint,omitempty"`
}

// ConfigError rejects a configuration payload. The previous registry
// stays active when a load fails with ConfigError.
type ConfigError struct {
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *ConfigError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, fmt.Sprintf("%s: %s", d.Field, d.Problem))
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, "; "))
}
