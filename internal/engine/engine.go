// Package engine wires ingestion, history, rule evaluation, and alert
// management behind a single mutation path.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"cardiag/internal/alerts"
	"cardiag/internal/history"
	"cardiag/internal/logger"
	"cardiag/internal/metrics"
	"cardiag/internal/models"
	"cardiag/internal/rules"
	"cardiag/internal/signals"
)

// ErrShutdown rejects new ingests once shutdown has begun.
var ErrShutdown = errors.New("engine is shut down")

// Engine is the health analytics orchestrator. Ingest is the only
// path that mutates alert state; all read operations are snapshots.
type Engine struct {
	registry  *signals.Registry
	store     *history.Store
	evaluator *rules.Evaluator
	alerts    *alerts.Manager

	// Optional sink for alert events; sends never block ingestion.
	events chan<- alerts.Event

	// Per-signal ingest locks; samples for different signals are
	// processed in parallel.
	locks sync.Map

	flaggedMu sync.RWMutex
	flagged   map[string]bool

	// closeMu serializes the closed check and the inflight Add against
	// Shutdown, so no ingest can slip in after Shutdown's Wait returns.
	closeMu  sync.RWMutex
	closed   bool
	inflight sync.WaitGroup

	ingested atomic.Uint64
	rejected atomic.Uint64
}

// New constructs an engine over the given collaborators. events may
// be nil when no downstream publishing is configured.
func New(registry *signals.Registry, store *history.Store, mgr *alerts.Manager, events chan<- alerts.Event) *Engine {
	return &Engine{
		registry:  registry,
		store:     store,
		evaluator: rules.New(registry, store),
		alerts:    mgr,
		events:    events,
		flagged:   make(map[string]bool),
	}
}

// Receipt reports what happened to one ingested sample.
type Receipt struct {
	// Value was outside the signal's physical bounds. The sample is
	// still stored and evaluated; the flag lets callers surface a
	// data-quality warning distinct from a health alert.
	Flagged bool `json:"flagged"`

	// Number of rules that fired on this sample
	Firings int `json:"firings"`
}

// Ingest validates a sample against the registry, appends it to
// history, evaluates the signal's rules, and applies the firings to
// alert state. Per-sample errors are isolated: they never affect
// other signals or abort the engine.
func (e *Engine) Ingest(ctx context.Context, sample models.Sample) (Receipt, error) {
	e.closeMu.RLock()
	if e.closed {
		e.closeMu.RUnlock()
		return Receipt{}, ErrShutdown
	}
	e.inflight.Add(1)
	e.closeMu.RUnlock()
	defer e.inflight.Done()

	start := time.Now()

	sample.Normalize()
	if err := sample.Validate(); err != nil {
		e.rejected.Add(1)
		metrics.SamplesIngestedTotal.WithLabelValues(sample.SignalID, "rejected").Inc()
		return Receipt{}, err
	}

	// One registry read per ingest: bounds and rules always come
	// from the same configuration even if a reload lands mid-call.
	sig, err := e.registry.Get(sample.SignalID)
	if err != nil {
		e.rejected.Add(1)
		metrics.SamplesIngestedTotal.WithLabelValues(sample.SignalID, "rejected").Inc()
		return Receipt{}, err
	}

	mu := e.lock(sample.SignalID)
	mu.Lock()
	defer mu.Unlock()

	if err := e.store.Append(sample); err != nil {
		e.rejected.Add(1)
		metrics.SamplesIngestedTotal.WithLabelValues(sample.SignalID, "rejected").Inc()
		return Receipt{}, err
	}

	flagged := !sig.InBounds(sample.Value)
	e.flaggedMu.Lock()
	e.flagged[sample.SignalID] = flagged
	e.flaggedMu.Unlock()
	if flagged {
		l := logger.WithSignal(sample.SignalID)
		l.Warn().
			Float64("value", sample.Value).
			Float64("min", sig.Min).
			Float64("max", sig.Max).
			Msg("sample outside physical bounds")
	}

	firings, err := e.evaluator.EvaluateSignal(sig)
	if err != nil {
		return Receipt{Flagged: flagged}, err
	}

	for _, ev := range e.alerts.OnFirings(sample.SignalID, firings) {
		e.publish(ev)
	}

	e.ingested.Add(1)
	status := "accepted"
	if flagged {
		status = "flagged"
	}
	metrics.SamplesIngestedTotal.WithLabelValues(sample.SignalID, status).Inc()
	metrics.IngestDuration.Observe(time.Since(start).Seconds())

	return Receipt{Flagged: flagged, Firings: len(firings)}, nil
}

func (e *Engine) lock(signalID string) *sync.Mutex {
	if mu, ok := e.locks.Load(signalID); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := e.locks.LoadOrStore(signalID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (e *Engine) publish(ev alerts.Event) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- ev:
	default:
		l := logger.WithComponent("engine")
		l.Warn().
			Str("alert_id", ev.Alert.ID).
			Msg("alert event queue full, dropping event")
	}
}

// Reading is the latest known state of one signal.
type Reading struct {
	SignalID   string     `json:"signal_id"`
	Name       string     `json:"name"`
	Unit       string     `json:"unit"`
	Value      *float64   `json:"value"`
	Timestamp  *time.Time `json:"timestamp"`
	Normal     bool       `json:"normal"`
	OutOfRange bool       `json:"out_of_range"`
}

// Snapshot is a consistent read-side view of the latest telemetry.
type Snapshot struct {
	Timestamp     time.Time          `json:"timestamp"`
	Signals       map[string]Reading `json:"signals"`
	BatteryHealth string             `json:"battery_health,omitempty"`
	ActiveAlerts  int                `json:"active_alerts"`
}

// BatterySoCSignal is the conventional id the derived battery health
// status is computed from.
const BatterySoCSignal = "battery_soc"

// Snapshot returns the latest value of every configured signal plus
// derived fields. Signals with no samples yet report a nil value.
func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{
		Timestamp:    time.Now().UTC(),
		Signals:      make(map[string]Reading),
		ActiveAlerts: e.alerts.ActiveCount(),
	}

	for _, sig := range e.registry.All() {
		r := Reading{SignalID: sig.ID, Name: sig.Name, Unit: sig.Unit}
		if latest, err := e.store.Latest(sig.ID); err == nil {
			v := latest.Value
			ts := latest.Timestamp
			r.Value = &v
			r.Timestamp = &ts
			r.Normal = v >= sig.NormalRange[0] && v <= sig.NormalRange[1]
			e.flaggedMu.RLock()
			r.OutOfRange = e.flagged[sig.ID]
			e.flaggedMu.RUnlock()
		}
		snap.Signals[sig.ID] = r

		if sig.ID == BatterySoCSignal && r.Value != nil {
			snap.BatteryHealth = batteryHealth(*r.Value)
		}
	}
	return snap
}

func batteryHealth(soc float64) string {
	switch {
	case soc >= 50:
		return "Good"
	case soc >= 20:
		return "Fair"
	default:
		return "Low"
	}
}

// ListActive returns open unacknowledged alerts, newest first.
func (e *Engine) ListActive(severity models.Severity, limit int) []models.Alert {
	return e.alerts.ListActive(severity, limit)
}

// Acknowledge marks an alert as acknowledged and returns it.
func (e *Engine) Acknowledge(id string) (models.Alert, error) {
	return e.alerts.Acknowledge(id)
}

// Config returns the current signal definitions ordered by id.
func (e *Engine) Config() []signals.Signal {
	return e.registry.All()
}

// Reload atomically swaps the signal configuration. A signal id the
// engine has never seen starts being evaluated on its next ingest,
// with no restart. On ConfigError the previous registry stays active.
func (e *Engine) Reload(payload []byte) error {
	if err := e.registry.Load(payload); err != nil {
		metrics.ConfigReloadsTotal.WithLabelValues("rejected").Inc()
		return err
	}
	metrics.ConfigReloadsTotal.WithLabelValues("success").Inc()
	metrics.ConfiguredSignals.Set(float64(e.registry.Len()))
	l := logger.WithComponent("engine")
	l.Info().
		Int("signals", e.registry.Len()).
		Msg("signal configuration reloaded")
	return nil
}

// Shutdown rejects new ingests and waits for in-flight ones to
// complete, so no partially-applied alert state is left behind.
func (e *Engine) Shutdown() {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return
	}
	e.closed = true
	e.closeMu.Unlock()

	e.inflight.Wait()
	l := logger.WithComponent("engine")
	l.Info().Msg("engine shut down")
}

// Stats returns ingest counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Ingested: e.ingested.Load(),
		Rejected: e.rejected.Load(),
	}
}

// Stats holds engine counters.
type Stats struct {
	Ingested uint64 `json:"ingested"`
	Rejected uint64 `json:"rejected"`
}
