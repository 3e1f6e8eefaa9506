package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardiag/internal/models"
	"cardiag/internal/rules"
	"cardiag/internal/signals"
)

func tireFiring(value float64, ts time.Time) rules.Firing {
	cond, _ := signals.ParseCondition("value < 25")
	return rules.Firing{
		SignalID: "tire_pressure_fl",
		Rule: signals.Rule{
			Expr:      "value < 25",
			AlertID:   "tire_pressure_low",
			Severity:  "critical",
			Message:   "Possible Tire Failure: {signal} at {value} PSI",
			Condition: cond,
		},
		Unit:      "PSI",
		Value:     value,
		Timestamp: ts,
	}
}

func speedFiring(value float64, ts time.Time) rules.Firing {
	cond, _ := signals.ParseCondition("value > 100 sustained 10s")
	return rules.Firing{
		SignalID: "speed",
		Rule: signals.Rule{
			Expr:      "value > 100 sustained 10s",
			AlertID:   "high_speed_stress",
			Severity:  "warning",
			Message:   "sustained high speed",
			Condition: cond,
		},
		Unit:      "km/h",
		Value:     value,
		Timestamp: ts,
	}
}

func TestOnFiringsOpensAlert(t *testing.T) {
	m := NewManager()
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	events := m.OnFirings("tire_pressure_fl", []rules.Firing{tireFiring(22.3, ts)})
	require.Len(t, events, 1)
	assert.Equal(t, ActionOpened, events[0].Action)

	a := events[0].Alert
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "tire_pressure_low", a.AlertType)
	assert.Equal(t, models.SeverityCritical, a.Severity)
	assert.Equal(t, "tire_pressure_fl", a.Signal)
	assert.Equal(t, 22.3, a.Value)
	assert.Equal(t, "< 25 PSI", a.Threshold)
	assert.Equal(t, "Possible Tire Failure: tire_pressure_fl at 22.3 PSI", a.Message)
	assert.False(t, a.Acknowledged)

	active := m.ListActive("", 0)
	require.Len(t, active, 1)
}

func TestRepeatedFiringRefreshesInPlace(t *testing.T) {
	m := NewManager()
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	first := m.OnFirings("tire_pressure_fl", []rules.Firing{tireFiring(22.3, ts)})
	require.Len(t, first, 1)
	id := first[0].Alert.ID

	second := m.OnFirings("tire_pressure_fl", []rules.Firing{tireFiring(21.0, ts.Add(time.Second))})
	require.Len(t, second, 1)
	assert.Equal(t, ActionRefreshed, second[0].Action)
	assert.Equal(t, id, second[0].Alert.ID, "refresh must not mint a new id")

	active := m.ListActive("", 0)
	require.Len(t, active, 1, "refresh must not duplicate the alert")
	assert.Equal(t, 21.0, active[0].Value)
	assert.Equal(t, ts.Add(time.Second), active[0].Timestamp)
}

func TestAcknowledgeIsTerminal(t *testing.T) {
	m := NewManager()
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	events := m.OnFirings("tire_pressure_fl", []rules.Firing{tireFiring(22.3, ts)})
	id := events[0].Alert.ID

	acked, err := m.Acknowledge(id)
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)

	// Permanently excluded from the active list
	assert.Empty(t, m.ListActive("", 0))

	// A fresh recurrence opens a new alert with a new id
	again := m.OnFirings("tire_pressure_fl", []rules.Firing{tireFiring(20.0, ts.Add(time.Minute))})
	require.Len(t, again, 1)
	assert.Equal(t, ActionOpened, again[0].Action)
	assert.NotEqual(t, id, again[0].Alert.ID)

	active := m.ListActive("", 0)
	require.Len(t, active, 1)
	assert.NotEqual(t, id, active[0].ID)

	// Acknowledging again stays acknowledged and is not an error
	acked, err = m.Acknowledge(id)
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
}

func TestAcknowledgeUnknownID(t *testing.T) {
	m := NewManager()
	_, err := m.Acknowledge("no-such-id")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestListActiveOrderFilterLimit(t *testing.T) {
	m := NewManager()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	m.OnFirings("tire_pressure_fl", []rules.Firing{tireFiring(22.0, base)})
	m.OnFirings("speed", []rules.Firing{speedFiring(110, base.Add(time.Second))})

	active := m.ListActive("", 0)
	require.Len(t, active, 2)
	// Newest first
	assert.Equal(t, "high_speed_stress", active[0].AlertType)
	assert.Equal(t, "tire_pressure_low", active[1].AlertType)

	critical := m.ListActive(models.SeverityCritical, 0)
	require.Len(t, critical, 1)
	assert.Equal(t, "tire_pressure_low", critical[0].AlertType)

	limited := m.ListActive("", 1)
	require.Len(t, limited, 1)
	assert.Equal(t, "high_speed_stress", limited[0].AlertType)
}

func TestPersistUntilAcknowledgedByDefault(t *testing.T) {
	m := NewManager()
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	m.OnFirings("tire_pressure_fl", []rules.Firing{tireFiring(22.0, ts)})

	// Condition cleared: no firings on the next round. The alert
	// persists until acknowledged.
	events := m.OnFirings("tire_pressure_fl", nil)
	assert.Empty(t, events)
	assert.Len(t, m.ListActive("", 0), 1)
}

func TestAutoClearPolicy(t *testing.T) {
	m := NewManager(WithAutoClear())
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	m.OnFirings("tire_pressure_fl", []rules.Firing{tireFiring(22.0, ts)})
	m.OnFirings("speed", []rules.Firing{speedFiring(110, ts)})

	events := m.OnFirings("tire_pressure_fl", nil)
	require.Len(t, events, 1)
	assert.Equal(t, ActionResolved, events[0].Action)

	// Only the cleared signal's alert is resolved
	active := m.ListActive("", 0)
	require.Len(t, active, 1)
	assert.Equal(t, "high_speed_stress", active[0].AlertType)
}

func TestHistoryCap(t *testing.T) {
	m := NewManager(WithMaxHistory(3))
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 5; i++ {
		events := m.OnFirings("tire_pressure_fl", []rules.Firing{tireFiring(22.0, base.Add(time.Duration(i)*time.Second))})
		require.Len(t, events, 1)
		ids = append(ids, events[0].Alert.ID)
		_, err := m.Acknowledge(events[0].Alert.ID)
		require.NoError(t, err)
	}

	// Oldest alerts fall off the capped history
	_, err := m.Acknowledge(ids[0])
	assert.ErrorIs(t, err, ErrAlertNotFound)
	_, err = m.Acknowledge(ids[4])
	assert.NoError(t, err)
}

func TestTrimNeverDropsOpenAlerts(t *testing.T) {
	m := NewManager(WithMaxHistory(5))
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	events := m.OnFirings("tire_pressure_fl", []rules.Firing{tireFiring(22.0, base)})
	require.Len(t, events, 1)
	openID := events[0].Alert.ID

	// Churn far past the cap on another signal, acknowledging each
	// incident so a fresh one opens every round.
	for i := 0; i < 10; i++ {
		ts := base.Add(time.Duration(i+1) * time.Second)
		ev := m.OnFirings("speed", []rules.Firing{speedFiring(110, ts)})
		require.Len(t, ev, 1)
		_, err := m.Acknowledge(ev[0].Alert.ID)
		require.NoError(t, err)
	}

	// The open alert survived the churn and is still acknowledgeable.
	active := m.ListActive("", 0)
	require.Len(t, active, 1)
	assert.Equal(t, openID, active[0].ID)

	a, err := m.Acknowledge(openID)
	require.NoError(t, err)
	assert.True(t, a.Acknowledged)
}

func TestListActiveSeverityTieBreak(t *testing.T) {
	m := NewManager()
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	m.OnFirings("speed", []rules.Firing{speedFiring(110, ts)})
	m.OnFirings("tire_pressure_fl", []rules.Firing{tireFiring(22.0, ts)})

	// Equal timestamps: more urgent severity first
	active := m.ListActive("", 0)
	require.Len(t, active, 2)
	assert.Equal(t, models.SeverityCritical, active[0].Severity)
	assert.Equal(t, models.SeverityWarning, active[1].Severity)
}
