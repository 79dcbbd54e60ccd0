package api

import (
	"net/http"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/auth"
)

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.auth.Signup(r.Context(), req.Email, req.Password); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"message": "verification code sent"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email   string `json:"email"`
		Code    string `json:"code"`
		OrgName string `json:"org_name"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	u, err := s.auth.VerifySignup(r.Context(), req.Email, req.Code, req.OrgName)
	if err != nil {
		respondError(w, err)
		return
	}
	ttl := s.auth.SessionTTL()
	token, err := s.auth.IssueSessionToken(u, ttl)
	if err != nil {
		respondError(w, err)
		return
	}
	auth.SetSessionCookies(w, token, ttl)
	respondJSON(w, http.StatusCreated, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Remember bool   `json:"remember"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	u, ttl, err := s.auth.Login(r.Context(), req.Email, req.Password, req.Remember)
	if err != nil {
		respondError(w, err)
		return
	}
	token, err := s.auth.IssueSessionToken(u, ttl)
	if err != nil {
		respondError(w, err)
		return
	}
	auth.SetSessionCookies(w, token, ttl)
	respondJSON(w, http.StatusOK, u)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := userFrom(r.Context())
	if !ok {
		respondError(w, apperr.New(apperr.KindUnauthenticated, "not signed in"))
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	// Always 200: the response must not reveal whether the email exists.
	s.auth.ForgotPassword(r.Context(), req.Email)
	respondJSON(w, http.StatusOK, map[string]string{"message": "if the address is registered, a reset link was sent"})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.auth.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	url, err := s.auth.BeginGoogleLogin(w)
	if err != nil {
		respondError(w, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	u, ttl, err := s.auth.CompleteGoogleLogin(r.Context(), r)
	if err != nil {
		respondError(w, err)
		return
	}
	token, err := s.auth.IssueSessionToken(u, ttl)
	if err != nil {
		respondError(w, err)
		return
	}
	auth.SetSessionCookies(w, token, ttl)
	dest := s.frontendOrigin
	if dest == "" {
		dest = "/"
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	if err := s.store.DeactivateUser(r.Context(), u.ID); err != nil {
		respondError(w, err)
		return
	}
	auth.ClearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReactivate(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	if err := s.store.ReactivateUser(r.Context(), u.ID); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
