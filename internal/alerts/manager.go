// Package alerts owns the canonical list of active and past alerts.
// It converts rule firings into Alert entities with create-vs-refresh
// dedup keyed by (signal, alert_type) and acknowledgement state.
package alerts

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"cardiag/internal/logger"
	"cardiag/internal/metrics"
	"cardiag/internal/models"
	"cardiag/internal/rules"
)

// ErrAlertNotFound is returned when acknowledging an unknown alert id.
var ErrAlertNotFound = errors.New("alert not found")

// Action describes what OnFirings did with an alert.
type Action string

const (
	ActionOpened    Action = "opened"
	ActionRefreshed Action = "refreshed"
	ActionResolved  Action = "resolved"
)

// Event is emitted for each alert mutation, for downstream consumers.
type Event struct {
	Action Action       `json:"action"`
	Alert  models.Alert `json:"alert"`
}

type alertKey struct {
	signal    string
	alertType string
}

// Manager tracks alert state. The default clearing policy is
// persist-until-acknowledged; auto-clear on a clean evaluation round
// is available as an option.
type Manager struct {
	mu         sync.Mutex
	open       map[alertKey]*models.Alert
	byID       map[string]*models.Alert
	history    []*models.Alert
	maxHistory int
	autoClear  bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithAutoClear resolves open alerts of a signal whose rule produced
// no firing on an evaluation round, instead of persisting them until
// acknowledged.
func WithAutoClear() Option {
	return func(m *Manager) { m.autoClear = true }
}

// WithMaxHistory caps how many alerts (active and past) are retained.
func WithMaxHistory(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxHistory = n
		}
	}
}

// NewManager creates an alert manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		open:       make(map[alertKey]*models.Alert),
		byID:       make(map[string]*models.Alert),
		maxHistory: 200,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnFirings applies one evaluation round for a signal. A firing whose
// (signal, alert_type) already has an open unacknowledged alert
// refreshes it in place; otherwise a new alert is opened. An
// acknowledged alert never suppresses a fresh recurrence.
func (m *Manager) OnFirings(signalID string, firings []rules.Firing) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := logger.WithComponent("alert_manager")
	var events []Event
	fired := make(map[alertKey]bool, len(firings))

	for _, f := range firings {
		k := alertKey{signal: f.SignalID, alertType: f.Rule.AlertID}
		fired[k] = true

		if a, ok := m.open[k]; ok {
			a.Value = f.Value
			a.Timestamp = f.Timestamp
			a.Message = renderMessage(f)
			metrics.AlertsRefreshedTotal.Inc()
			events = append(events, Event{Action: ActionRefreshed, Alert: *a})
			continue
		}

		a := &models.Alert{
			ID:        uuid.New().String(),
			AlertType: f.Rule.AlertID,
			Severity:  models.Severity(f.Rule.Severity),
			Message:   renderMessage(f),
			Signal:    f.SignalID,
			Value:     f.Value,
			Threshold: f.Rule.Condition.Describe(f.Unit),
			Timestamp: f.Timestamp,
		}
		m.open[k] = a
		m.byID[a.ID] = a
		m.history = append(m.history, a)
		m.trimLocked()

		metrics.AlertsOpenedTotal.WithLabelValues(a.AlertType, string(a.Severity)).Inc()
		log.Warn().
			Str("alert_id", a.ID).
			Str("alert_type", a.AlertType).
			Str("severity", string(a.Severity)).
			Float64("value", a.Value).
			Msg("alert opened")
		events = append(events, Event{Action: ActionOpened, Alert: *a})
	}

	if m.autoClear {
		for k, a := range m.open {
			if k.signal != signalID || fired[k] {
				continue
			}
			delete(m.open, k)
			log.Info().
				Str("alert_id", a.ID).
				Str("alert_type", a.AlertType).
				Msg("alert auto-cleared")
			events = append(events, Event{Action: ActionResolved, Alert: *a})
		}
	}

	metrics.ActiveAlerts.Set(float64(len(m.open)))
	return events
}

// trimLocked drops the oldest acknowledged or resolved alerts past the
// history cap. Open alerts are never trimmed: an unacknowledged alert
// must stay listable no matter how much churn happens around it, so
// the cap may be exceeded while that many incidents are open at once.
func (m *Manager) trimLocked() {
	for len(m.history) > m.maxHistory {
		idx := -1
		for i, a := range m.history {
			k := alertKey{signal: a.Signal, alertType: a.AlertType}
			if m.open[k] != a {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		victim := m.history[idx]
		m.history = append(m.history[:idx], m.history[idx+1:]...)
		delete(m.byID, victim.ID)
	}
}

// Acknowledge marks an alert as acknowledged. Terminal for that alert
// instance: a later firing of the same rule opens a new one.
func (m *Manager) Acknowledge(id string) (models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[id]
	if !ok {
		return models.Alert{}, fmt.Errorf("%w: %q", ErrAlertNotFound, id)
	}
	if !a.Acknowledged {
		a.Acknowledged = true
		k := alertKey{signal: a.Signal, alertType: a.AlertType}
		if m.open[k] == a {
			delete(m.open, k)
		}
		metrics.AlertsAcknowledgedTotal.Inc()
		metrics.ActiveAlerts.Set(float64(len(m.open)))
	}
	return *a, nil
}

// ListActive returns open unacknowledged alerts, newest first. An
// empty severity matches all; limit <= 0 means unbounded.
func (m *Manager) ListActive(severity models.Severity, limit int) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Alert, 0, len(m.open))
	for _, a := range m.open {
		if severity != "" && a.Severity != severity {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		if out[i].Severity != out[j].Severity {
			return out[i].Severity.Rank() > out[j].Severity.Rank()
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ActiveCount returns the number of open unacknowledged alerts.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// renderMessage fills the rule's message template with the triggering
// value and signal id.
func renderMessage(f rules.Firing) string {
	msg := f.Rule.Message
	if msg == "" {
		msg = fmt.Sprintf("%s: %s at {value} %s", f.Rule.AlertID, f.SignalID, f.Unit)
	}
	msg = strings.ReplaceAll(msg, "{value}", fmt.Sprintf("%.1f", f.Value))
	msg = strings.ReplaceAll(msg, "{signal}", f.SignalID)
	return msg
}
