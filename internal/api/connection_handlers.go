package api

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/providers"
)

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	conns, err := s.store.ListConnections(r.Context(), u.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, conns)
}

// handleCreateConnection encrypts the credential blob before it touches the
// store. The plaintext never leaves this handler.
func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	var req struct {
		Provider string                 `json:"provider"`
		Env      string                 `json:"env"`
		Label    string                 `json:"label"`
		Config   map[string]interface{} `json:"config"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	switch provider {
	case "mtn", "flutterwave":
	default:
		respondError(w, apperr.Newf(apperr.KindValidation, "unknown provider %q", req.Provider))
		return
	}
	switch req.Env {
	case "sandbox", "production":
	default:
		respondError(w, apperr.Newf(apperr.KindValidation, "env must be sandbox or production, got %q", req.Env))
		return
	}
	if !s.vault.Ready() {
		respondError(w, apperr.New(apperr.KindInternal, "secret vault is not configured"))
		return
	}
	enc, err := s.vault.Encrypt(req.Config)
	if err != nil {
		respondError(w, err)
		return
	}
	conn, err := s.store.CreateConnection(r.Context(), u.ID, provider, req.Env, req.Label, enc)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, conn)
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	if err := s.store.DeleteConnection(r.Context(), u.ID, mux.Vars(r)["id"]); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTestConnection confirms the stored blob decrypts into a usable
// client for its provider.
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	conn, err := s.store.GetConnection(r.Context(), u.ID, mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	if _, err := providers.FromConnection(s.vault, conn, s.store, s.metrics); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"provider": conn.Provider,
		"ok":       true,
	})
}

// handleFlutterwaveWebhook authenticates by the verif-hash header.
// Unsignable deployments (no secret hash configured) reject everything.
func (s *Server) handleFlutterwaveWebhook(w http.ResponseWriter, r *http.Request) {
	sig := r.Header.Get("verif-hash")
	if s.webhookHash == "" || !constantTimeEqual(sig, s.webhookHash) {
		respondError(w, apperr.New(apperr.KindUnauthenticated, "invalid webhook signature"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, apperr.Wrap(apperr.KindValidation, "read webhook body", err))
		return
	}
	var event struct {
		Event string `json:"event"`
		Data  struct {
			TxRef  string `json:"tx_ref"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		respondError(w, apperr.Wrap(apperr.KindValidation, "invalid webhook payload", err))
		return
	}
	s.logger.Printf("flutterwave webhook: event=%s tx_ref=%s status=%s",
		event.Event, event.Data.TxRef, event.Data.Status)
	respondJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
