package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fieldmesh/fieldcore/internal/alarm"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.recoveryMiddleware)
	r.Use(s.loggingMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/commands", s.handleSendCommand)
			})
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Patch("/{id}", s.handleToggleRule)
			r.Delete("/{id}", s.handleDeleteRule)
		})

		r.Get("/alerts", s.handleListAlerts)

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleListDevices returns all tracked devices.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": s.tracker.List(),
	})
}

// handleGetDevice returns one device's state.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	state, ok := s.tracker.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// sendCommandRequest is the body for POST /devices/{id}/commands.
type sendCommandRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// handleSendCommand dispatches an acknowledged command to a device.
//
// The response is 202: delivery is asynchronous and the outcome arrives
// over the WebSocket or the device's response topic.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	if s.sender == nil {
		writeError(w, http.StatusServiceUnavailable, "command dispatch unavailable")
		return
	}

	id := chi.URLParam(r, "id")
	if _, ok := s.tracker.Get(id); !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}

	var req sendCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	pc, err := s.sender.Send(r.Context(), id, req.Command, req.Params)
	if err != nil {
		writeError(w, http.StatusBadGateway, "command dispatch failed")
		s.logger.Error("command dispatch failed", "device_id", id, "command", req.Command, "error", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"command_id": pc.ID,
		"device_id":  pc.DeviceID,
		"command":    pc.Name,
		"sent_at":    pc.SentAt,
	})
}

// handleListRules returns all alarm rules.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing rules failed")
		s.logger.Error("listing rules failed", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// handleCreateRule creates an alarm rule.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule alarm.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule body")
		return
	}

	if err := s.rules.Create(r.Context(), &rule); err != nil {
		if errors.Is(err, alarm.ErrInvalidRule) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "creating rule failed")
		s.logger.Error("creating rule failed", "error", err)
		return
	}

	writeJSON(w, http.StatusCreated, rule)
}

// toggleRuleRequest is the body for PATCH /rules/{id}.
type toggleRuleRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleToggleRule enables or disables a rule.
func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	var req toggleRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	if err := s.rules.SetEnabled(r.Context(), id, *req.Enabled); err != nil {
		if errors.Is(err, alarm.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "updating rule failed")
		s.logger.Error("updating rule failed", "rule_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": *req.Enabled})
}

// handleDeleteRule removes a rule.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	if err := s.rules.Delete(r.Context(), id); err != nil {
		if errors.Is(err, alarm.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "deleting rule failed")
		s.logger.Error("deleting rule failed", "rule_id", id, "error", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListAlerts returns recent alert history.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeError(w, http.StatusServiceUnavailable, "alert history unavailable")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	alerts, err := s.alerts.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing alerts failed")
		s.logger.Error("listing alerts failed", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}
