package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/engine"
	"github.com/flowline/backend/internal/store"
)

func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		respondError(w, apperr.New(apperr.KindValidation, "flow name is required"))
		return
	}
	f, err := s.store.CreateFlow(r.Context(), u.OrgID, name, u.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, f)
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	flows, err := s.store.ListFlows(r.Context(), u.OrgID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, flows)
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	f, err := s.store.GetFlow(r.Context(), u.OrgID, mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	if err := s.store.SoftDeleteFlow(r.Context(), u.OrgID, mux.Vars(r)["id"]); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFlowStatus sets the flow status. Activation also launches a deploy
// execution of the latest version.
func (s *Server) handleFlowStatus(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	flowID := mux.Vars(r)["id"]
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	switch req.Status {
	case store.FlowStatusDraft, store.FlowStatusActive, store.FlowStatusInactive:
	default:
		respondError(w, apperr.Newf(apperr.KindValidation, "unknown flow status %q", req.Status))
		return
	}

	if err := s.store.UpdateFlowStatus(r.Context(), u.OrgID, flowID, req.Status); err != nil {
		respondError(w, err)
		return
	}
	if req.Status != store.FlowStatusActive {
		respondJSON(w, http.StatusOK, map[string]string{"status": req.Status})
		return
	}

	res, err := s.engine.StartExecution(r.Context(), u.OrgID, flowID, store.TriggerDeploy, nil)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, res)
}

// handleCreateVersion snapshots a new graph. Graphs are validated before
// insert; cyclic or malformed graphs never reach the store.
func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	flowID := mux.Vars(r)["id"]
	var req struct {
		Graph     json.RawMessage `json:"graph"`
		Variables json.RawMessage `json:"variables"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	g, err := engine.DecodeGraph(req.Graph)
	if err != nil {
		respondError(w, err)
		return
	}
	if _, err := engine.BuildPlan(g); err != nil {
		respondError(w, err)
		return
	}

	ver, err := s.store.CreateFlowVersion(r.Context(), u.OrgID, flowID, req.Graph, req.Variables)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, ver)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	versions, err := s.store.ListFlowVersions(r.Context(), u.OrgID, mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, versions)
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	vars := mux.Vars(r)
	version, err := strconv.Atoi(vars["v"])
	if err != nil {
		respondError(w, apperr.New(apperr.KindValidation, "version must be an integer"))
		return
	}
	// Org scoping happens through the flow lookup.
	if _, err := s.store.GetFlow(r.Context(), u.OrgID, vars["id"]); err != nil {
		respondError(w, err)
		return
	}
	ver, err := s.store.GetFlowVersion(r.Context(), vars["id"], version)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ver)
}
