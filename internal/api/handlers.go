package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/zonectl/internal/action"
	"github.com/mattjoyce/zonectl/internal/dispatch"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Stopping:      s.stopped.Load(),
	}
	for _, st := range s.dispatcher.Statuses() {
		resp.Zones++
		resp.Pending += st.Pending
		if st.Executing {
			resp.Executing++
		}
	}
	if resp.Stopping {
		resp.Status = "stopping"
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleListZones handles GET /zones.
func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ZoneListResponse{Zones: s.dispatcher.Statuses()})
}

// handleGetZone handles GET /zones/{zone}.
func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	st, ok := s.dispatcher.Status(chi.URLParam(r, "zone"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "zone not found")
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// handleDispatch handles POST /zones/{zone}/commands. Unknown zones are
// created on demand and hold the command until their device is discovered.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if s.stopped.Load() {
		s.writeError(w, http.StatusConflict, "dispatcher is stopping")
		return
	}

	zoneName := chi.URLParam(r, "zone")
	if dispatch.NormalizeZone(zoneName) == "" {
		s.writeError(w, http.StatusBadRequest, "zone name is empty")
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var (
		cmd *action.Command
		err error
	)
	if req.Params == nil {
		cmd, err = action.Parse(req.Action)
	} else if strings.TrimSpace(req.Action) == "" {
		err = action.ErrEmptyAction
	} else {
		cmd = action.New(strings.TrimSpace(req.Action), req.Params)
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.dispatcher.DispatchCommand(cmd, zoneName); err != nil {
		s.logger.Error("failed to dispatch command", "zone", zoneName, "command", cmd.Name(), "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to dispatch command")
		return
	}

	respondJSON(w, http.StatusAccepted, CommandResponse{
		CommandID: cmd.ID(),
		Zone:      dispatch.NormalizeZone(zoneName),
		Action:    cmd.Name(),
		Params:    cmd.Params(),
		Status:    "queued",
	})
}

// handleHistory handles GET /zones/{zone}/history?limit=N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "journal is disabled")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	key := dispatch.NormalizeZone(chi.URLParam(r, "zone"))
	entries, err := s.history.Recent(r.Context(), key, limit)
	if err != nil {
		s.logger.Error("failed to read journal", "zone", key, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}

	respondJSON(w, http.StatusOK, HistoryResponse{Zone: key, Entries: entries})
}

// handleSummary handles GET /summary.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.dispatcher.Summary())
}

// handleStop handles POST /stop. Workers are asked to stop; the call does not
// wait for running commands.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.stopped.CompareAndSwap(false, true) {
		s.logger.Warn("stop requested over API", "remote", r.RemoteAddr)
	}
	s.dispatcher.RequestStopAll()
	respondJSON(w, http.StatusAccepted, s.dispatcher.Summary())
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
