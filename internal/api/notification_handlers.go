package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/flowline/backend/internal/apperr"
)

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	notifications, err := s.store.ListNotifications(r.Context(), u.OrgID, limitParam(r, 50))
	if err != nil {
		respondError(w, err)
		return
	}
	unread, err := s.store.UnreadNotificationCount(r.Context(), u.OrgID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
		"unread":        unread,
	})
}

func (s *Server) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	var req struct {
		Type      string `json:"type"`
		Title     string `json:"title"`
		Message   string `json:"message"`
		RelatedID string `json:"related_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	switch req.Type {
	case "info", "warn", "error":
	default:
		respondError(w, apperr.Newf(apperr.KindValidation, "unknown notification type %q", req.Type))
		return
	}
	if req.Title == "" {
		respondError(w, apperr.New(apperr.KindValidation, "title is required"))
		return
	}
	n, err := s.store.CreateNotification(r.Context(), u.OrgID, req.Type, req.Title, req.Message, req.RelatedID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, n)
}

func (s *Server) handleReadNotification(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	if err := s.store.MarkNotificationRead(r.Context(), u.OrgID, mux.Vars(r)["id"]); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadAllNotifications(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	if err := s.store.MarkAllNotificationsRead(r.Context(), u.OrgID); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
