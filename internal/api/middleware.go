package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/auth"
	"github.com/flowline/backend/internal/policy"
	"github.com/flowline/backend/internal/store"
)

type ctxKey int

const (
	userKey ctxKey = iota
	requestIDKey
)

func userFrom(ctx context.Context) (*store.User, bool) {
	u, ok := ctx.Value(userKey).(*store.User)
	return u, ok
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestID tags every request with a UUID, echoed in the response header
// and attached to audit rows.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// cors admits the configured frontend origin with credentials. Cookie auth
// requires an exact origin, never a wildcard.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && origin == s.frontendOrigin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// protected composes the per-request chain for authenticated routes:
// session check, user load, deactivated read-only guard, IP allowlist,
// hourly rate quota, then the handler with an audit record on the way out.
func (s *Server) protected(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.auth.Authenticate(r)
		if err != nil {
			respondError(w, err)
			return
		}
		u, err := s.store.GetUser(r.Context(), p.UserID)
		if err != nil {
			respondError(w, apperr.Wrap(apperr.KindUnauthenticated, "session user not found", err))
			return
		}

		if u.DeactivatedAt != nil && !readOnlyMethod(r.Method) && r.URL.Path != "/auth/reactivate" {
			respondError(w, apperr.New(apperr.KindForbidden, "account is deactivated and read-only"))
			return
		}

		clientIP := policy.ClientIP(r)
		if err := s.gate.CheckIP(r.Context(), u, clientIP); err != nil {
			respondError(w, err)
			return
		}
		rate, err := s.gate.CheckRate(r.Context(), u, r.URL.Path, clientIP)
		if rate != nil {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rate.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rate.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rate.Reset.Unix(), 10))
		}
		if err != nil {
			if rate != nil && rate.RetryIn > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(rate.RetryIn.Seconds())))
			}
			respondError(w, err)
			return
		}

		ctx := auth.WithPrincipal(r.Context(), p)
		ctx = context.WithValue(ctx, userKey, u)
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		if !readOnlyMethod(r.Method) {
			s.gate.Audit(r.Context(), &store.AuditEntry{
				UserID:     u.ID,
				Action:     fmt.Sprintf("%s %s", r.Method, r.URL.Path),
				Route:      r.URL.Path,
				Method:     r.Method,
				IP:         clientIP,
				UserAgent:  r.UserAgent(),
				StatusCode: rec.status,
				RequestID:  requestIDFrom(r.Context()),
			})
		}
	})
}

// session authenticates and injects the principal without the policy gate,
// for the realtime endpoints that manage their own lifecycle.
func (s *Server) session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.auth.Authenticate(r)
		if err != nil {
			respondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func readOnlyMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
