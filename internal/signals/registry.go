package signals

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"cardiag/internal/models"
)

// ErrUnknownSignal is returned when a signal id is absent from the registry.
var ErrUnknownSignal = errors.New("unknown signal")

// Registry is the single source of truth for which signals exist and
// which rules apply to them. Reload swaps the whole definition set
// atomically: concurrent readers observe either the old or the new
// configuration, never a mix.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*Signal
	ids  []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Signal)}
}

// payload is the OTA wire format: a mapping from signal id to definition.
type payload map[string]*Signal

// Load parses and validates a configuration payload (YAML or JSON) and
// swaps the registry to it. On *ConfigError the previous definitions
// stay active.
func (r *Registry) Load(data []byte) error {
	var p payload
	if err := yaml.Unmarshal(data, &p); err != nil {
		return &ConfigError{Message: fmt.Sprintf("malformed config payload: %v", err)}
	}
	if len(p) == 0 {
		return &ConfigError{Message: "config payload defines no signals"}
	}

	byID := make(map[string]*Signal, len(p))
	ids := make([]string, 0, len(p))
	var details []FieldError

	for id, sig := range p {
		if id == "" || sig == nil {
			details = append(details, FieldError{Field: "signals", Problem: "empty signal id or definition"})
			continue
		}
		sig.ID = id
		details = append(details, validateSignal(sig)...)
		byID[id] = sig
		ids = append(ids, id)
	}

	if len(details) > 0 {
		return &ConfigError{Message: "config payload failed validation", Details: details}
	}

	sort.Strings(ids)

	r.mu.Lock()
	r.byID = byID
	r.ids = ids
	r.mu.Unlock()
	return nil
}

// LoadFile loads a configuration file from disk.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read signals file: %w", err)
	}
	return r.Load(data)
}

func validateSignal(sig *Signal) []FieldError {
	var details []FieldError

	field := func(suffix string) string { return fmt.Sprintf("%s.%s", sig.ID, suffix) }

	if sig.Name == "" {
		details = append(details, FieldError{Field: field("name"), Problem: "missing"})
	}
	if sig.Min >= sig.Max {
		details = append(details, FieldError{
			Field:   field("min"),
			Problem: "min must be below max",
			Hint:    fmt.Sprintf("got min=%g max=%g", sig.Min, sig.Max),
		})
	}
	low, high := sig.NormalRange[0], sig.NormalRange[1]
	if low > high || low < sig.Min || high > sig.Max {
		details = append(details, FieldError{
			Field:   field("normal_range"),
			Problem: "must lie within [min, max]",
			Hint:    fmt.Sprintf("got [%g, %g] with bounds [%g, %g]", low, high, sig.Min, sig.Max),
		})
	}

	for i := range sig.Rules {
		rule := &sig.Rules[i]
		rfield := func(suffix string) string {
			return fmt.Sprintf("%s.analytics_rules[%d].%s", sig.ID, i, suffix)
		}
		if rule.AlertID == "" {
			details = append(details, FieldError{Field: rfield("alert_id"), Problem: "missing"})
		}
		if !models.Severity(rule.Severity).IsValid() {
			details = append(details, FieldError{
				Field:   rfield("severity"),
				Problem: "invalid",
				Hint:    "one of critical, warning, info",
			})
		}
		cond, err := ParseCondition(rule.Expr)
		if err != nil {
			details = append(details, FieldError{
				Field:   rfield("condition"),
				Problem: err.Error(),
				Hint:    `examples: "value < 25", "drop > 5 in 30s", "value > 100 sustained 10s"`,
			})
			continue
		}
		rule.Condition = cond
	}

	return details
}

// Get returns the current definition of a signal.
func (r *Registry) Get(id string) (Signal, error) {
	r.mu.RLock()
	sig, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return Signal{}, fmt.Errorf("%w: %q", ErrUnknownSignal, id)
	}
	return *sig, nil
}

// All returns the current signal definitions ordered by id.
func (r *Registry) All() []Signal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Signal, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, *r.byID[id])
	}
	return out
}

// Len returns the number of configured signals.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Retention returns the history horizon the signal's current rules
// require. Unknown signals need no history.
func (r *Registry) Retention(id string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sig, ok := r.byID[id]; ok {
		return sig.MaxWindow()
	}
	return 0
}
