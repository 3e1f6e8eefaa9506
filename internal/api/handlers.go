// Package api exposes the engine's read/write surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"cardiag/internal/alerts"
	"cardiag/internal/engine"
	"cardiag/internal/models"
	"cardiag/internal/signals"
	"cardiag/internal/simulator"
)

const maxBodySize = 1 << 20 // 1MB

// StatsFunc supplies process-level counters for the /stats endpoint.
type StatsFunc func() map[string]any

// HealthFunc checks a downstream dependency for the /health endpoint.
type HealthFunc func(ctx context.Context) error

// Handlers bundles the HTTP handlers over the engine.
type Handlers struct {
	engine *engine.Engine
	sim    *simulator.Simulator
	stats  StatsFunc
	health HealthFunc
}

// NewHandlers creates the handler set. sim, stats, and health may be nil.
func NewHandlers(eng *engine.Engine, sim *simulator.Simulator, stats StatsFunc, health HealthFunc) *Handlers {
	return &Handlers{engine: eng, sim: sim, stats: stats, health: health}
}

// SampleInput is the wire format for one telemetry sample. Timestamp
// is optional and defaults to the server's current time.
type SampleInput struct {
	SignalID  string  `json:"signal_id"`
	Timestamp string  `json:"timestamp,omitempty"`
	Value     float64 `json:"value"`
}

// IngestRequest accepts a single sample or a batch.
type IngestRequest struct {
	Sample  *SampleInput  `json:"sample,omitempty"`
	Samples []SampleInput `json:"samples,omitempty"`
}

// IngestError describes why one sample was rejected.
type IngestError struct {
	Index    int    `json:"index"`
	SignalID string `json:"signal_id,omitempty"`
	Error    string `json:"error"`
}

// IngestResponse reports per-sample outcomes.
type IngestResponse struct {
	Success  bool          `json:"success"`
	Accepted int           `json:"accepted"`
	Flagged  int           `json:"flagged"`
	Rejected int           `json:"rejected"`
	Errors   []IngestError `json:"errors,omitempty"`
}

// Ingest handles POST /ingest.
func (h *Handlers) Ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	inputs, err := parseIngestBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(inputs) == 0 {
		writeError(w, http.StatusBadRequest, "no samples provided")
		return
	}

	resp := IngestResponse{Success: true}
	for i, in := range inputs {
		sample, err := convertInput(in)
		if err == nil {
			var receipt engine.Receipt
			receipt, err = h.engine.Ingest(r.Context(), sample)
			if err == nil {
				resp.Accepted++
				if receipt.Flagged {
					resp.Flagged++
				}
				continue
			}
		}
		resp.Rejected++
		resp.Errors = append(resp.Errors, IngestError{
			Index:    i,
			SignalID: in.SignalID,
			Error:    err.Error(),
		})
	}
	resp.Success = resp.Rejected == 0

	status := http.StatusOK
	if resp.Accepted == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

func parseIngestBody(body []byte) ([]SampleInput, error) {
	var req IngestRequest
	if err := json.Unmarshal(body, &req); err == nil {
		if len(req.Samples) > 0 {
			return req.Samples, nil
		}
		if req.Sample != nil {
			return []SampleInput{*req.Sample}, nil
		}
	}

	var batch []SampleInput
	if err := json.Unmarshal(body, &batch); err == nil && len(batch) > 0 {
		return batch, nil
	}

	var single SampleInput
	if err := json.Unmarshal(body, &single); err == nil && single.SignalID != "" {
		return []SampleInput{single}, nil
	}

	return nil, errors.New("invalid JSON: expected a sample object or an array of samples")
}

func convertInput(in SampleInput) (models.Sample, error) {
	ts := time.Now().UTC()
	if in.Timestamp != "" {
		var err error
		ts, err = models.ParseTimestamp(in.Timestamp)
		if err != nil {
			return models.Sample{}, fmt.Errorf("timestamp: %w", err)
		}
	}
	return models.Sample{SignalID: in.SignalID, Timestamp: ts, Value: in.Value}, nil
}

// Snapshot handles GET /vehicle/all.
func (h *Handlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

// Speed handles GET /vehicle/speed.
func (h *Handlers) Speed(w http.ResponseWriter, r *http.Request) {
	h.reading(w, "speed")
}

// Battery handles GET /vehicle/battery.
func (h *Handlers) Battery(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	out := map[string]any{"health_status": snap.BatteryHealth}
	for _, id := range []string{"battery_soc", "battery_voltage", "battery_temp"} {
		if rd, ok := snap.Signals[id]; ok {
			out[id] = rd
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// TirePressure handles GET /vehicle/tire-pressure.
func (h *Handlers) TirePressure(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	out := map[string]any{}
	for id, rd := range snap.Signals {
		if strings.HasPrefix(id, "tire_pressure") {
			out[id] = rd
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) reading(w http.ResponseWriter, signalID string) {
	snap := h.engine.Snapshot()
	rd, ok := snap.Signals[signalID]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("signal %q not configured", signalID))
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

// ListAlerts handles GET /vehicle/alerts.
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	var severity models.Severity
	if s := r.URL.Query().Get("severity"); s != "" {
		severity = models.Severity(s)
		if !severity.IsValid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid severity %q", s))
			return
		}
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", l))
			return
		}
		limit = n
	}

	active := h.engine.ListActive(severity, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": active,
		"count":  len(active),
	})
}

// AcknowledgeAlert handles POST /vehicle/alerts/{id}/acknowledge.
func (h *Handlers) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	alert, err := h.engine.Acknowledge(id)
	if err != nil {
		if errors.Is(err, alerts.ErrAlertNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// GetConfig handles GET /config/signals.
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	sigs := h.engine.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"signals": sigs,
		"count":   len(sigs),
	})
}

// ReloadConfig handles PUT /config/signals. This is the OTA contract:
// a brand-new signal id is evaluated on its next ingest, with no
// restart.
func (h *Handlers) ReloadConfig(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	if err := h.engine.Reload(body); err != nil {
		var cfgErr *signals.ConfigError
		if errors.As(err, &cfgErr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"success": false,
				"error":   cfgErr.Message,
				"details": cfgErr.Details,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"signals": h.engine.Config(),
	})
}

// SimStart handles POST /vehicle/simulate/start.
func (h *Handlers) SimStart(w http.ResponseWriter, r *http.Request) {
	if h.sim == nil {
		writeError(w, http.StatusNotFound, "simulator not enabled")
		return
	}
	writeJSON(w, http.StatusOK, h.sim.Start())
}

// SimStop handles POST /vehicle/simulate/stop.
func (h *Handlers) SimStop(w http.ResponseWriter, r *http.Request) {
	if h.sim == nil {
		writeError(w, http.StatusNotFound, "simulator not enabled")
		return
	}
	writeJSON(w, http.StatusOK, h.sim.Stop())
}

// SimStatus handles GET /vehicle/simulate/status.
func (h *Handlers) SimStatus(w http.ResponseWriter, r *http.Request) {
	if h.sim == nil {
		writeError(w, http.StatusNotFound, "simulator not enabled")
		return
	}
	writeJSON(w, http.StatusOK, h.sim.Status())
}

// Health handles GET /health. Reports degraded when the downstream
// alert publisher fails its check.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["error"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// Stats handles GET /stats.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"engine": h.engine.Stats()}
	if h.stats != nil {
		for k, v := range h.stats() {
			out[k] = v
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
