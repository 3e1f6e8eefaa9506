// Package rules evaluates a signal's configured rules against its
// latest sample and recent history window.
package rules

import (
	"errors"
	"time"

	"cardiag/internal/history"
	"cardiag/internal/metrics"
	"cardiag/internal/models"
	"cardiag/internal/signals"
)

// Firing records one rule matching on one evaluation round.
type Firing struct {
	SignalID  string
	Rule      signals.Rule
	Unit      string
	Value     float64
	Timestamp time.Time
}

// Evaluator runs rules in definition order. All matching rules fire
// independently; one sample may trigger several alerts.
type Evaluator struct {
	registry *signals.Registry
	store    *history.Store
}

// New constructs an Evaluator over the given registry and history store.
func New(registry *signals.Registry, store *history.Store) *Evaluator {
	return &Evaluator{registry: registry, store: store}
}

// Evaluate runs every rule of the signal and returns the firings in
// definition order. A signal with no samples yet produces no firings.
func (e *Evaluator) Evaluate(signalID string) ([]Firing, error) {
	sig, err := e.registry.Get(signalID)
	if err != nil {
		return nil, err
	}
	return e.EvaluateSignal(sig)
}

// EvaluateSignal evaluates against an already-resolved definition.
// Callers that also need the signal's bounds resolve the definition
// once and pass it here, so a concurrent reload can never mix bounds
// from one configuration with rules from another.
func (e *Evaluator) EvaluateSignal(sig signals.Signal) ([]Firing, error) {
	signalID := sig.ID
	latest, err := e.store.Latest(signalID)
	if err != nil {
		if errors.Is(err, history.ErrNoData) {
			return nil, nil
		}
		return nil, err
	}

	var firings []Firing
	for _, rule := range sig.Rules {
		outcome := e.apply(signalID, rule.Condition, latest)
		metrics.RuleEvaluationsTotal.WithLabelValues(signalID, string(rule.Condition.Kind), outcome).Inc()
		if outcome != outcomeFired {
			continue
		}
		firings = append(firings, Firing{
			SignalID:  signalID,
			Rule:      rule,
			Unit:      sig.Unit,
			Value:     latest.Value,
			Timestamp: latest.Timestamp,
		})
	}
	return firings, nil
}

const (
	outcomeFired       = "fired"
	outcomeClear       = "clear"
	outcomeUndecidable = "undecidable"
)

func (e *Evaluator) apply(signalID string, c signals.Condition, latest models.Sample) string {
	switch c.Kind {
	case signals.KindThreshold:
		if c.Op.Apply(latest.Value, c.Value) {
			return outcomeFired
		}
		return outcomeClear

	case signals.KindRateOfChange:
		window, covered := e.store.Window(signalID, c.Window)
		// Needs history spanning the full window; firing on a
		// partial window would false-positive on cold start.
		if !covered || len(window) < 2 {
			return outcomeUndecidable
		}
		earliest := window[0]
		var delta float64
		switch c.Direction {
		case signals.DirectionDrop:
			delta = earliest.Value - latest.Value
		case signals.DirectionRise:
			delta = latest.Value - earliest.Value
		}
		if delta > c.Magnitude {
			return outcomeFired
		}
		return outcomeClear

	case signals.KindSustained:
		window, covered := e.store.Window(signalID, c.Window)
		if !covered || len(window) == 0 {
			return outcomeUndecidable
		}
		// A single sample off threshold resets the sustained run.
		for _, s := range window {
			if !c.Op.Apply(s.Value, c.Value) {
				return outcomeClear
			}
		}
		return outcomeFired
	}

	return outcomeClear
}
