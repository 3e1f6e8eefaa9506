package rules

import (
	"testing"
	"time"

	"cardiag/internal/history"
	"cardiag/internal/models"
	"cardiag/internal/signals"
)

const testConfig = `
tire_pressure_fl:
  name: Tire Pressure Front Left
  unit: PSI
  min: 0
  max: 50
  normal_range: [28, 36]
  ui_widget: tire
  analytics_rules:
    - condition: "value < 25"
      alert_id: tire_pressure_low
      severity: critical
      message: "low pressure: {value} PSI"
battery_soc:
  name: Battery State of Charge
  unit: "%"
  min: 0
  max: 100
  normal_range: [20, 100]
  ui_widget: battery
  analytics_rules:
    - condition: "drop > 5 in 30s"
      alert_id: battery_degradation
      severity: critical
      message: "battery degradation"
speed:
  name: Vehicle Speed
  unit: km/h
  min: 0
  max: 200
  normal_range: [0, 120]
  ui_widget: gauge
  analytics_rules:
    - condition: "value > 100 sustained 10s"
      alert_id: high_speed_stress
      severity: warning
      message: "sustained high speed"
`

func newFixture(t *testing.T) (*Evaluator, *history.Store) {
	t.Helper()
	registry := signals.NewRegistry()
	if err := registry.Load([]byte(testConfig)); err != nil {
		t.Fatalf("load config: %v", err)
	}
	store := history.NewStore(registry)
	return New(registry, store), store
}

func ingest(t *testing.T, store *history.Store, signalID string, ts time.Time, value float64) {
	t.Helper()
	err := store.Append(models.Sample{SignalID: signalID, Timestamp: ts, Value: value})
	if err != nil {
		t.Fatalf("append %s@%s: %v", signalID, ts, err)
	}
}

func TestEvaluateUnknownSignal(t *testing.T) {
	ev, _ := newFixture(t)
	if _, err := ev.Evaluate("nope"); err == nil {
		t.Fatal("Evaluate(unknown) succeeded, want error")
	}
}

func TestEvaluateNoData(t *testing.T) {
	ev, _ := newFixture(t)
	firings, err := ev.Evaluate("speed")
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if len(firings) != 0 {
		t.Errorf("got %d firings before any sample, want 0", len(firings))
	}
}

func TestThresholdRule(t *testing.T) {
	ev, store := newFixture(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	ingest(t, store, "tire_pressure_fl", base, 32.0)
	firings, err := ev.Evaluate("tire_pressure_fl")
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if len(firings) != 0 {
		t.Fatalf("normal pressure fired %d rules, want 0", len(firings))
	}

	// Boundary: 25.0 is not < 25
	ingest(t, store, "tire_pressure_fl", base.Add(time.Second), 25.0)
	firings, _ = ev.Evaluate("tire_pressure_fl")
	if len(firings) != 0 {
		t.Fatalf("boundary value fired %d rules, want 0", len(firings))
	}

	ingest(t, store, "tire_pressure_fl", base.Add(2*time.Second), 22.3)
	firings, err = ev.Evaluate("tire_pressure_fl")
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if len(firings) != 1 {
		t.Fatalf("got %d firings, want 1", len(firings))
	}
	f := firings[0]
	if f.Rule.AlertID != "tire_pressure_low" || f.Value != 22.3 {
		t.Errorf("firing = %+v, want tire_pressure_low at 22.3", f)
	}
}

func TestRateOfChangeFiresWhenDropExceedsMagnitude(t *testing.T) {
	ev, store := newFixture(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// SoC 85 -> 83 -> 80 -> 78 over 30s: cumulative drop first
	// exceeds 5 at the last sample (drop = 7).
	steps := []struct {
		offset time.Duration
		soc    float64
		fire   bool
	}{
		{0, 85, false},
		{10 * time.Second, 83, false},
		{20 * time.Second, 80, false},
		{30 * time.Second, 78, true},
	}

	for i, step := range steps {
		ingest(t, store, "battery_soc", base.Add(step.offset), step.soc)
		firings, err := ev.Evaluate("battery_soc")
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if fired := len(firings) > 0; fired != step.fire {
			t.Errorf("step %d (soc=%g): fired=%v, want %v", i, step.soc, fired, step.fire)
		}
	}
}

func TestRateOfChangeColdStart(t *testing.T) {
	ev, store := newFixture(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Huge drop, but the history does not yet span the 30s window:
	// not decidable, must not fire.
	ingest(t, store, "battery_soc", base, 90)
	ingest(t, store, "battery_soc", base.Add(5*time.Second), 70)

	firings, err := ev.Evaluate("battery_soc")
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if len(firings) != 0 {
		t.Errorf("cold start fired %d rules, want 0", len(firings))
	}
}

func TestSustainedRule(t *testing.T) {
	ev, store := newFixture(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Speed holds above 100 from t=0; rule requires 10s of coverage,
	// so the first firing is at the t=10s sample, not earlier.
	for i := 0; i <= 12; i++ {
		ingest(t, store, "speed", base.Add(time.Duration(i)*time.Second), 110)
		firings, err := ev.Evaluate("speed")
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		want := i >= 10
		if fired := len(firings) > 0; fired != want {
			t.Errorf("tick %d: fired=%v, want %v", i, fired, want)
		}
	}
}

func TestSustainedRuleResetsOnSingleDip(t *testing.T) {
	ev, store := newFixture(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i <= 20; i++ {
		speed := 110.0
		if i == 5 {
			speed = 95.0 // single dip resets the sustained run
		}
		ingest(t, store, "speed", base.Add(time.Duration(i)*time.Second), speed)
		firings, err := ev.Evaluate("speed")
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		// The dip at t=5 stays inside the 10s window until t=16.
		want := i >= 16
		if fired := len(firings) > 0; fired != want {
			t.Errorf("tick %d: fired=%v, want %v", i, fired, want)
		}
	}
}

func TestMultipleRulesFireIndependently(t *testing.T) {
	registry := signals.NewRegistry()
	cfg := `
battery_temp:
  name: Battery Temperature
  unit: "C"
  min: -40
  max: 150
  normal_range: [10, 45]
  ui_widget: number
  analytics_rules:
    - condition: "value > 60"
      alert_id: battery_overtemp
      severity: warning
      message: "hot"
    - condition: "value > 80"
      alert_id: battery_critical_temp
      severity: critical
      message: "very hot"
`
	if err := registry.Load([]byte(cfg)); err != nil {
		t.Fatalf("load config: %v", err)
	}
	store := history.NewStore(registry)
	ev := New(registry, store)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ingest(t, store, "battery_temp", base, 85)

	firings, err := ev.Evaluate("battery_temp")
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if len(firings) != 2 {
		t.Fatalf("got %d firings, want 2", len(firings))
	}
	// Definition order
	if firings[0].Rule.AlertID != "battery_overtemp" || firings[1].Rule.AlertID != "battery_critical_temp" {
		t.Errorf("firing order = %s, %s", firings[0].Rule.AlertID, firings[1].Rule.AlertID)
	}
}
