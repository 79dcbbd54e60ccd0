package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/policy"
)

func (s *Server) handleListAllowlist(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	entries, err := s.store.ListAllowlist(r.Context(), u.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": u.AllowIPWhitelist,
		"entries": entries,
	})
}

func (s *Server) handleAddAllowlist(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	var req struct {
		IPAddress   string `json:"ip_address"`
		Description string `json:"description"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	ip := strings.TrimSpace(req.IPAddress)
	if net.ParseIP(ip) == nil {
		respondError(w, apperr.Newf(apperr.KindValidation, "%q is not a valid IP address", req.IPAddress))
		return
	}
	entry, err := s.store.AddAllowlistEntry(r.Context(), u.ID, ip, req.Description)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleRemoveAllowlist(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	if err := s.store.RemoveAllowlistEntry(r.Context(), u.ID, mux.Vars(r)["id"]); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleToggleAllowlist flips enforcement. Enabling with an empty list would
// lock the caller out on their next request, so that combination is rejected.
func (s *Server) handleToggleAllowlist(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Enabled {
		entries, err := s.store.ListAllowlist(r.Context(), u.ID)
		if err != nil {
			respondError(w, err)
			return
		}
		if len(entries) == 0 {
			respondError(w, apperr.New(apperr.KindValidation, "add at least one IP before enabling the allowlist"))
			return
		}
	}
	if err := s.store.SetAllowIPWhitelist(r.Context(), u.ID, req.Enabled); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func (s *Server) handleCurrentIP(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"ip": policy.ClientIP(r)})
}
