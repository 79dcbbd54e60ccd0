package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/flowline/backend/internal/apperr"
)

func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	integrations, err := s.store.ListIntegrations(r.Context(), u.OrgID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, integrations)
}

// handleCreateIntegration registers the integration as pending and schedules
// the deferred probe. The response never waits for the probe.
func (s *Server) handleCreateIntegration(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	var req struct {
		Name    string `json:"name"`
		TestURL string `json:"test_url"`
		APIKey  string `json:"apiKey"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		respondError(w, apperr.New(apperr.KindValidation, "integration name is required"))
		return
	}
	integ, err := s.store.CreateIntegration(r.Context(), u.OrgID, name, req.TestURL)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.verifier.Verify(r.Context(), integ, req.APIKey); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, integ)
}

func (s *Server) handleUpdateIntegration(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	id := mux.Vars(r)["id"]
	var req struct {
		Name    string `json:"name"`
		TestURL string `json:"test_url"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.store.UpdateIntegration(r.Context(), u.OrgID, id, strings.TrimSpace(req.Name), req.TestURL); err != nil {
		respondError(w, err)
		return
	}
	integ, err := s.store.GetIntegration(r.Context(), u.OrgID, id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, integ)
}

func (s *Server) handleDeleteIntegration(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	if err := s.store.DeleteIntegration(r.Context(), u.OrgID, mux.Vars(r)["id"]); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerifyIntegration(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	var req struct {
		APIKey string `json:"apiKey"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	integ, err := s.store.GetIntegration(r.Context(), u.OrgID, mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.verifier.Verify(r.Context(), integ, req.APIKey); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}
