// Package server assembles the engine, simulator, dispatcher, and
// HTTP transport into one runnable process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cardiag/internal/alerts"
	"cardiag/internal/api"
	"cardiag/internal/config"
	"cardiag/internal/dispatch"
	"cardiag/internal/engine"
	"cardiag/internal/history"
	"cardiag/internal/kafka"
	"cardiag/internal/logger"
	"cardiag/internal/metrics"
	"cardiag/internal/signals"
	"cardiag/internal/simulator"
)

// Server is the high-level coordinator for the health analytics
// process.
type Server struct {
	cfg *config.Config

	registry   *signals.Registry
	engine     *engine.Engine
	sim        *simulator.Simulator
	pool       *dispatch.Pool
	publisher  *kafka.Publisher
	httpServer *http.Server
	eventChan  chan alerts.Event

	wg sync.WaitGroup
}

// New constructs a Server with the given config.
func New(cfg *config.Config) *Server {
	return &Server{
		cfg:       cfg,
		eventChan: make(chan alerts.Event, 256),
	}
}

// Run starts background goroutines and blocks until the context is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	log := logger.WithComponent("server")
	log.Info().Msg("server starting")

	s.registry = signals.NewRegistry()
	if err := s.registry.LoadFile(s.cfg.SignalsFile); err != nil {
		return fmt.Errorf("load signal config: %w", err)
	}
	metrics.ConfiguredSignals.Set(float64(s.registry.Len()))
	log.Info().
		Str("file", s.cfg.SignalsFile).
		Int("signals", s.registry.Len()).
		Msg("signal configuration loaded")

	store := history.NewStore(s.registry)
	manager := alerts.NewManager()
	s.engine = engine.New(s.registry, store, manager, s.eventChan)
	s.sim = simulator.New(s.engine, s.cfg.SimInterval)

	// Alert events go to Kafka when brokers are configured, and are
	// discarded otherwise.
	var pub dispatch.Publisher = kafka.NoopPublisher{}
	if len(s.cfg.Kafka.Brokers) > 0 {
		p, err := kafka.NewPublisher(s.cfg.Kafka)
		if err != nil {
			return fmt.Errorf("init kafka publisher: %w", err)
		}
		s.publisher = p
		pub = p
		log.Info().
			Strs("brokers", s.cfg.Kafka.Brokers).
			Str("topic", s.cfg.Kafka.Topic).
			Msg("kafka alert publisher initialized")
	}

	s.pool = dispatch.NewPool(dispatch.Config{
		Publisher:    pub,
		EventChan:    s.eventChan,
		BatchSize:    s.cfg.Kafka.BatchSize,
		BatchTimeout: s.cfg.Kafka.BatchTimeout,
	})
	s.pool.Start()

	if s.cfg.SimAutostart {
		s.sim.Start()
	}

	var health api.HealthFunc
	if s.publisher != nil {
		health = s.publisher.HealthCheck
	}
	handlers := api.NewHandlers(s.engine, s.sim, s.statsSnapshot, health)
	s.httpServer = &http.Server{
		Addr:         s.cfg.HTTPAddr,
		Handler:      api.NewRouter(handlers),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Info().Str("addr", s.cfg.HTTPAddr).Msg("starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reportStats(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	return s.shutdown()
}

func (s *Server) statsSnapshot() map[string]any {
	out := map[string]any{"dispatch": s.pool.Stats()}
	if s.publisher != nil {
		out["kafka"] = s.publisher.Stats()
	}
	return out
}

// shutdown stops components in dependency order: no new HTTP work,
// then no new samples, then drain and close the event pipeline.
func (s *Server) shutdown() error {
	log := logger.WithComponent("server")
	log.Info().Msg("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	s.sim.Stop()
	s.engine.Shutdown()

	log.Info().Msg("closing alert event channel")
	close(s.eventChan)

	done := make(chan struct{})
	go func() {
		s.pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("dispatch pool stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("dispatch shutdown timeout - forcing exit")
	}

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			log.Error().Err(err).Msg("publisher close error")
		}
	}

	s.wg.Wait()
	log.Info().Msg("server stopped gracefully")
	return nil
}

// reportStats periodically logs counters.
func (s *Server) reportStats(ctx context.Context) {
	log := logger.WithComponent("server")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engineStats := s.engine.Stats()
			dispatchStats := s.pool.Stats()
			simStatus := s.sim.Status()

			metrics.DispatchQueueSize.Set(float64(len(s.eventChan)))

			log.Info().
				Uint64("ingested", engineStats.Ingested).
				Uint64("rejected", engineStats.Rejected).
				Uint64("events_published", dispatchStats.Published).
				Uint64("events_failed", dispatchStats.Failed).
				Bool("simulator_running", simStatus.Running).
				Uint64("simulator_ticks", simStatus.TickCount).
				Int("queue_size", len(s.eventChan)).
				Msg("stats")
		}
	}
}
