// Package server exposes the daemon's control API: start and stop the
// bridge pipeline, inspect its status, and scrape metrics.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"vanb/internal/discovery"
	"vanb/internal/pipeline"
)

const defaultHistoryLimit = 50

// Handler implements the control API endpoints.
type Handler struct {
	Coordinator *pipeline.Coordinator
	Discovery   *discovery.Manager
}

func NewHandler(coordinator *pipeline.Coordinator, manager *discovery.Manager) *Handler {
	return &Handler{Coordinator: coordinator, Discovery: manager}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"running": h.Coordinator.IsRunning(),
	})
}

type startRequest struct {
	Mode   string          `json:"mode"`
	Params pipeline.Params `json:"params"`
}

// Pipeline dispatches the pipeline resource: GET reports the current state,
// POST starts a pipeline, DELETE stops it.
func (h *Handler) Pipeline(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.pipelineStatus(w, r)
	case http.MethodPost:
		h.startPipeline(w, r)
	case http.MethodDelete:
		h.Coordinator.StopPipeline(r.Context())
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

func (h *Handler) pipelineStatus(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"running": h.Coordinator.IsRunning(),
	}
	if mode, ok := h.Coordinator.CurrentMode(); ok {
		payload["mode"] = mode.String()
	}
	if cfg, ok := h.Coordinator.PipelineConfig(); ok {
		rtmpURL, peer := cfg.Summary()
		payload["rtmpUrl"] = rtmpURL
		payload["peer"] = peer
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) startPipeline(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	mode, err := pipeline.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !h.Coordinator.StartPipeline(r.Context(), mode, req.Params) {
		writeError(w, http.StatusConflict, errors.New("pipeline start failed"))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"running": true,
		"mode":    mode.String(),
	})
}

// PipelineStats returns the active pipeline's merged statistics, or 404 when
// nothing is running.
func (h *Handler) PipelineStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	stats := h.Coordinator.Stats()
	if stats == nil {
		writeError(w, http.StatusNotFound, errors.New("no pipeline running"))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// PipelineHistory returns recent lifecycle events, newest first.
func (h *Handler) PipelineHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	events, err := h.Coordinator.History(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("load history: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// Sources runs a discovery scan and returns the peers found.
func (h *Handler) Sources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	sources, err := h.Discovery.ScanSources(r.Context(), 0)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("discovery scan: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sources": sources})
}
