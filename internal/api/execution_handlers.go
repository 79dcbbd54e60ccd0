package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/store"
)

func (s *Server) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	var req struct {
		FlowID      string          `json:"flow_id"`
		TriggerData json.RawMessage `json:"trigger_data"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.FlowID == "" {
		respondError(w, apperr.New(apperr.KindValidation, "flow_id is required"))
		return
	}
	res, err := s.engine.StartExecution(r.Context(), u.OrgID, req.FlowID, store.TriggerManual, req.TriggerData)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleRecentExecutions(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	execs, err := s.store.ListRecentExecutions(r.Context(), u.OrgID, limitParam(r, 20))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, execs)
}

func (s *Server) handleFlowExecutions(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	execs, err := s.store.ListFlowExecutions(r.Context(), u.OrgID, mux.Vars(r)["id"], limitParam(r, 50))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, execs)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	exec, err := s.store.GetExecution(r.Context(), u.OrgID, mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

func (s *Server) handleExecutionSteps(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	steps, err := s.store.ListSteps(r.Context(), u.OrgID, mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, steps)
}

func (s *Server) handleExecutionLogs(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	logs, err := s.store.ListLogs(r.Context(), u.OrgID, mux.Vars(r)["id"], limitParam(r, 200))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

// handleCancelExecution flips a running execution to cancelled. The engine
// notices between nodes; a node in flight runs to its own timeout first.
func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	ok, err := s.store.CancelExecution(r.Context(), u.OrgID, mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	if !ok {
		respondError(w, apperr.New(apperr.KindConflict, "execution is not running"))
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": store.ExecutionStatusCancelled})
}

func (s *Server) handleDeleteExecution(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	if err := s.store.DeleteExecution(r.Context(), u.OrgID, mux.Vars(r)["id"]); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func limitParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		return def
	}
	return n
}
