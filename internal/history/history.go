// Package history keeps a bounded, per-signal time series of recent
// telemetry samples for rules that need more than the latest value.
package history

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"cardiag/internal/models"
)

var (
	// ErrOutOfOrder rejects a sample older than the last one appended
	// for its signal. Producers are assumed monotonic; out-of-order
	// input is a caller error, never silently reordered.
	ErrOutOfOrder = errors.New("out-of-order sample")

	// ErrNoData marks the expected cold-start state of a signal with
	// no samples yet.
	ErrNoData = errors.New("no data for signal")
)

// RetentionPolicy supplies the history horizon per signal. The signal
// registry implements it, which couples eviction to the currently
// configured rules: after a reload the new horizon applies on the
// next append.
type RetentionPolicy interface {
	Retention(signalID string) time.Duration
}

// Store holds per-signal sample series. Appends to different signals
// proceed in parallel; each series has its own lock.
type Store struct {
	mu        sync.RWMutex
	series    map[string]*series
	retention RetentionPolicy
}

type series struct {
	mu      sync.Mutex
	samples []models.Sample
}

// NewStore creates a store that sizes eviction by the given policy.
func NewStore(retention RetentionPolicy) *Store {
	return &Store{
		series:    make(map[string]*series),
		retention: retention,
	}
}

func (s *Store) get(signalID string) *series {
	s.mu.RLock()
	sr, ok := s.series[signalID]
	s.mu.RUnlock()
	if ok {
		return sr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok = s.series[signalID]; !ok {
		sr = &series{}
		s.series[signalID] = sr
	}
	return sr
}

// Append inserts a sample in timestamp order and evicts samples the
// signal's configured rules no longer need. The newest sample at or
// before the horizon is kept so windowed rules always have a baseline
// spanning their full window.
func (s *Store) Append(sample models.Sample) error {
	sr := s.get(sample.SignalID)

	sr.mu.Lock()
	defer sr.mu.Unlock()

	if n := len(sr.samples); n > 0 {
		last := sr.samples[n-1].Timestamp
		if !sample.Timestamp.After(last) {
			return fmt.Errorf("%w: %s at %s, last stored %s",
				ErrOutOfOrder, sample.SignalID,
				sample.Timestamp.Format(time.RFC3339Nano),
				last.Format(time.RFC3339Nano))
		}
	}

	sr.samples = append(sr.samples, sample)

	horizon := s.retention.Retention(sample.SignalID)
	cut := sample.Timestamp.Add(-horizon)
	idx := 0
	for i := len(sr.samples) - 1; i >= 0; i-- {
		if !sr.samples[i].Timestamp.After(cut) {
			idx = i
			break
		}
	}
	if idx > 0 {
		sr.samples = append(sr.samples[:0:0], sr.samples[idx:]...)
	}

	return nil
}

// Window returns the samples with timestamp >= now-d, where "now" is
// the timestamp of the most recently appended sample for the signal,
// making evaluation deterministic and replayable. covered reports
// whether retained history reaches back at least the full window; a
// windowed rule is not decidable until it does.
func (s *Store) Window(signalID string, d time.Duration) (samples []models.Sample, covered bool) {
	s.mu.RLock()
	sr, ok := s.series[signalID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	n := len(sr.samples)
	if n == 0 {
		return nil, false
	}

	lower := sr.samples[n-1].Timestamp.Add(-d)
	covered = !sr.samples[0].Timestamp.After(lower)

	start := n
	for i := n - 1; i >= 0; i-- {
		if sr.samples[i].Timestamp.Before(lower) {
			break
		}
		start = i
	}
	out := make([]models.Sample, n-start)
	copy(out, sr.samples[start:])
	return out, covered
}

// Latest returns the most recent sample for a signal.
func (s *Store) Latest(signalID string) (models.Sample, error) {
	s.mu.RLock()
	sr, ok := s.series[signalID]
	s.mu.RUnlock()
	if !ok {
		return models.Sample{}, fmt.Errorf("%w: %q", ErrNoData, signalID)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	if len(sr.samples) == 0 {
		return models.Sample{}, fmt.Errorf("%w: %q", ErrNoData, signalID)
	}
	return sr.samples[len(sr.samples)-1], nil
}

// Len returns the number of retained samples for a signal.
func (s *Store) Len(signalID string) int {
	s.mu.RLock()
	sr, ok := s.series[signalID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return len(sr.samples)
}
