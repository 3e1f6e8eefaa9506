// Package simulator generates realistic vehicle telemetry at a fixed
// cadence and feeds it to the engine, for development and demos.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"cardiag/internal/engine"
	"cardiag/internal/logger"
	"cardiag/internal/models"
)

// Status reports the simulator state to the API.
type Status struct {
	Running   bool       `json:"running"`
	TickCount uint64     `json:"tick_count"`
	StartTime *time.Time `json:"start_time,omitempty"`
	Message   string     `json:"message"`
}

// Simulator drives the engine with generated telemetry:
// speed ramps up and down with occasional direction flips and held
// high-speed phases, battery SoC declines slowly with occasional
// rapid-drop events, tire pressures fluctuate with occasional sudden
// drops, and the odometer integrates speed.
type Simulator struct {
	engine   *engine.Engine
	interval time.Duration

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	ticks     uint64
	startTime time.Time

	rng *rand.Rand

	// Simulation state
	speed       float64
	speedDir    float64
	batterySoC  float64
	batteryTemp float64
	tires       [4]float64
	odometer    float64
}

// New creates a simulator that ingests one sample per signal per tick.
func New(eng *engine.Engine, interval time.Duration) *Simulator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Simulator{
		engine:      eng,
		interval:    interval,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		speedDir:    1,
		batterySoC:  95.0,
		batteryTemp: 25.0,
		tires:       [4]float64{32.0, 31.5, 31.8, 32.2},
		odometer:    15000.0,
	}
}

// Start launches the simulation loop. Safe to call when already
// running.
func (s *Simulator) Start() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return s.statusLocked("simulator already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.ticks = 0
	s.startTime = time.Now().UTC()

	go s.run(ctx)
	l := logger.WithComponent("simulator")
	l.Info().
		Dur("interval", s.interval).
		Msg("simulator started")

	return s.statusLocked("simulator started")
}

// Stop cancels the simulation loop and waits for it to exit.
func (s *Simulator) Stop() Status {
	s.mu.Lock()
	if !s.running {
		defer s.mu.Unlock()
		return s.statusLocked("simulator not running")
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	l := logger.WithComponent("simulator")
	l.Info().
		Uint64("ticks", s.ticks).
		Msg("simulator stopped")
	return s.statusLocked(fmt.Sprintf("simulator stopped after %d ticks", s.ticks))
}

// Status returns the current simulator state.
func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := "simulator not running"
	if s.running {
		msg = "simulator running"
	}
	return s.statusLocked(msg)
}

func (s *Simulator) statusLocked(msg string) Status {
	st := Status{Running: s.running, TickCount: s.ticks, Message: msg}
	if s.running {
		t := s.startTime
		st.StartTime = &t
	}
	return st
}

func (s *Simulator) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now.UTC())
		}
	}
}

func (s *Simulator) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	s.ticks++
	tick := s.ticks

	// Speed: ramp with random direction flips, plus held high-speed
	// phases so sustained-duration rules have something to catch.
	if s.rng.Float64() < 0.05 {
		s.speedDir = -s.speedDir
	}
	s.speed += (1.0 + 4.0*s.rng.Float64()) * s.speedDir
	s.speed = clamp(s.speed, 0, 140)
	if tick > 20 && tick%50 < 15 {
		s.speed = 105 + 25*s.rng.Float64()
	}

	// Battery: slow decline with occasional rapid-drop events.
	s.batterySoC -= 0.05 + 0.15*s.rng.Float64()
	if s.rng.Float64() < 0.02 {
		s.batterySoC -= 5.0 + 3.0*s.rng.Float64()
	}
	s.batterySoC = clamp(s.batterySoC, 5, 100)
	batteryVoltage := 350 + (s.batterySoC/100)*50
	s.batteryTemp = 25 + (7*s.rng.Float64() - 2)

	// Tires: small fluctuation with occasional sudden drops.
	for i := range s.tires {
		s.tires[i] += 0.2*s.rng.Float64() - 0.1
	}
	if s.rng.Float64() < 0.01 {
		s.tires[s.rng.Intn(4)] -= 8 + 7*s.rng.Float64()
	}
	for i := range s.tires {
		s.tires[i] = clamp(s.tires[i], 15, 40)
	}

	s.odometer += s.speed / 3600 * s.interval.Seconds()

	readings := map[string]float64{
		"speed":            round1(s.speed),
		"battery_soc":      round1(s.batterySoC),
		"battery_voltage":  round1(batteryVoltage),
		"battery_temp":     round1(s.batteryTemp),
		"tire_pressure_fl": round1(s.tires[0]),
		"tire_pressure_fr": round1(s.tires[1]),
		"tire_pressure_rl": round1(s.tires[2]),
		"tire_pressure_rr": round1(s.tires[3]),
		"odometer":         round1(s.odometer),
	}
	s.mu.Unlock()

	log := logger.WithComponent("simulator")
	for signalID, value := range readings {
		_, err := s.engine.Ingest(ctx, models.Sample{
			SignalID:  signalID,
			Timestamp: now,
			Value:     value,
		})
		if err != nil {
			if errors.Is(err, engine.ErrShutdown) {
				return
			}
			// The active config may not define every generated
			// signal; that is not a simulator fault.
			log.Debug().Err(err).Str("signal_id", signalID).Msg("sample not ingested")
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
