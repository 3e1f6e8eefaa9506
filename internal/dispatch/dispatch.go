// Package dispatch ships alert events to downstream consumers off the
// ingestion hot path: events are drained from a channel, batched, and
// handed to a Publisher.
package dispatch

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"cardiag/internal/alerts"
	"cardiag/internal/logger"
	"cardiag/internal/metrics"
)

// Publisher delivers alert events downstream.
type Publisher interface {
	Publish(ctx context.Context, event alerts.Event) error
	PublishBatch(ctx context.Context, events []alerts.Event) error
}

// Pool manages workers that consume alert events and publish them.
type Pool struct {
	publisher    Publisher
	eventChan    chan alerts.Event
	workers      int
	batchSize    int
	batchTimeout time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	published atomic.Uint64
	failed    atomic.Uint64
}

// Config holds dispatch pool configuration
type Config struct {
	Publisher    Publisher
	EventChan    chan alerts.Event
	Workers      int
	BatchSize    int
	BatchTimeout time.Duration
}

// NewPool creates a new dispatch pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 200 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		publisher:    cfg.Publisher,
		eventChan:    cfg.EventChan,
		workers:      cfg.Workers,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins draining alert events
func (p *Pool) Start() {
	log := logger.WithComponent("dispatch")
	log.Info().
		Int("workers", p.workers).
		Int("batch_size", p.batchSize).
		Dur("batch_timeout", p.batchTimeout).
		Msg("starting dispatch pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop flushes pending batches and stops all workers
func (p *Pool) Stop() {
	log := logger.WithComponent("dispatch")
	log.Info().Msg("stopping dispatch pool")
	p.cancel()
	p.wg.Wait()
	log.Info().Msg("dispatch pool stopped")
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("dispatch").With().Int("worker_id", id).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("dispatch worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("dispatch").Inc()
		}
	}()

	batch := make([]alerts.Event, 0, p.batchSize)
	timer := time.NewTimer(p.batchTimeout)
	defer timer.Stop()

	for {
		metrics.DispatchQueueSize.Set(float64(len(p.eventChan)))

		select {
		case <-p.ctx.Done():
			if len(batch) > 0 {
				p.publishBatch(batch)
			}
			return

		case event, ok := <-p.eventChan:
			if !ok {
				if len(batch) > 0 {
					p.publishBatch(batch)
				}
				return
			}

			batch = append(batch, event)
			if len(batch) >= p.batchSize {
				p.publishBatch(batch)
				batch = batch[:0]
				timer.Reset(p.batchTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				p.publishBatch(batch)
				batch = batch[:0]
			}
			timer.Reset(p.batchTimeout)
		}
	}
}

func (p *Pool) publishBatch(batch []alerts.Event) {
	log := logger.WithComponent("dispatch")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := p.publisher.PublishBatch(ctx, batch)
	if err != nil {
		log.Error().
			Err(err).
			Int("batch_size", len(batch)).
			Msg("failed to publish alert batch")
		p.failed.Add(uint64(len(batch)))
		metrics.DispatchFailedTotal.Add(float64(len(batch)))

		// Fallback: try publishing individually
		p.publishIndividually(batch)
		return
	}

	p.published.Add(uint64(len(batch)))
	metrics.DispatchPublishedTotal.Add(float64(len(batch)))
}

func (p *Pool) publishIndividually(batch []alerts.Event) {
	log := logger.WithComponent("dispatch")

	for _, event := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := p.publisher.Publish(ctx, event)
		cancel()

		if err != nil {
			log.Error().
				Err(err).
				Str("alert_id", event.Alert.ID).
				Msg("failed to publish alert event individually")
			continue
		}

		// Don't count twice - move from failed to published
		p.failed.Add(^uint64(0))
		p.published.Add(1)
	}
}

// Stats returns dispatch pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
	}
}

// Stats holds dispatch pool counters
type Stats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
}
