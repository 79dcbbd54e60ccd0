// Package api exposes the HTTP surface: session and OAuth auth, flow and
// execution management, integration verification, allowlist and rate-quota
// administration, notifications, and the realtime endpoints.
package api

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowline/backend/internal/auth"
	"github.com/flowline/backend/internal/engine"
	"github.com/flowline/backend/internal/metrics"
	"github.com/flowline/backend/internal/policy"
	"github.com/flowline/backend/internal/providers"
	"github.com/flowline/backend/internal/realtime"
	"github.com/flowline/backend/internal/reports"
	"github.com/flowline/backend/internal/store"
	"github.com/flowline/backend/internal/vault"
	"github.com/flowline/backend/internal/verifier"
)

// Deps carries everything the server routes to.
type Deps struct {
	Store          *store.Store
	Auth           *auth.Service
	Gate           *policy.Gate
	Engine         *engine.Engine
	Verifier       *verifier.Worker
	Vault          *vault.Vault
	Providers      *providers.Registry
	Reports        *reports.Generator
	Metrics        *metrics.Metrics
	WS             *realtime.WSHandler
	Gateway        *realtime.Gateway
	FrontendOrigin string
	WebhookHash    string
}

type Server struct {
	store          *store.Store
	auth           *auth.Service
	gate           *policy.Gate
	engine         *engine.Engine
	verifier       *verifier.Worker
	vault          *vault.Vault
	providers      *providers.Registry
	reports        *reports.Generator
	metrics        *metrics.Metrics
	ws             *realtime.WSHandler
	gateway        *realtime.Gateway
	frontendOrigin string
	webhookHash    string
	logger         *log.Logger
}

func NewServer(d Deps) *Server {
	return &Server{
		store:          d.Store,
		auth:           d.Auth,
		gate:           d.Gate,
		engine:         d.Engine,
		verifier:       d.Verifier,
		vault:          d.Vault,
		providers:      d.Providers,
		reports:        d.Reports,
		metrics:        d.Metrics,
		ws:             d.WS,
		gateway:        d.Gateway,
		frontendOrigin: d.FrontendOrigin,
		webhookHash:    d.WebhookHash,
		logger:         log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Handler wraps the route table in the global middleware. The CORS layer
// sits outside the router so preflight requests short-circuit before method
// matching can 405 them.
func (s *Server) Handler() http.Handler {
	return s.requestID(s.cors(s.Router()))
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Session endpoints. Signup through reset are unauthenticated.
	r.HandleFunc("/auth/signup", s.handleSignup).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify", s.handleVerify).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/auth/forgot-password", s.handleForgotPassword).Methods(http.MethodPost)
	r.HandleFunc("/auth/reset-password", s.handleResetPassword).Methods(http.MethodPost)
	r.HandleFunc("/auth/google", s.handleGoogleLogin).Methods(http.MethodGet)
	r.HandleFunc("/auth/google/callback", s.handleGoogleCallback).Methods(http.MethodGet)
	r.Handle("/auth/me", s.protected(s.handleMe)).Methods(http.MethodGet)
	r.Handle("/auth/deactivate", s.protected(s.handleDeactivate)).Methods(http.MethodPost)
	r.Handle("/auth/reactivate", s.protected(s.handleReactivate)).Methods(http.MethodPost)

	// Flows.
	r.Handle("/flows", s.protected(s.handleCreateFlow)).Methods(http.MethodPost)
	r.Handle("/flows", s.protected(s.handleListFlows)).Methods(http.MethodGet)
	r.Handle("/flows/{id}", s.protected(s.handleGetFlow)).Methods(http.MethodGet)
	r.Handle("/flows/{id}", s.protected(s.handleDeleteFlow)).Methods(http.MethodDelete)
	r.Handle("/flows/{id}/status", s.protected(s.handleFlowStatus)).Methods(http.MethodPatch)
	r.Handle("/flows/{id}/versions", s.protected(s.handleCreateVersion)).Methods(http.MethodPost)
	r.Handle("/flows/{id}/versions", s.protected(s.handleListVersions)).Methods(http.MethodGet)
	r.Handle("/flows/{id}/versions/{v}", s.protected(s.handleGetVersion)).Methods(http.MethodGet)

	// Executions.
	r.Handle("/executions/start", s.protected(s.handleStartExecution)).Methods(http.MethodPost)
	r.Handle("/executions/recent", s.protected(s.handleRecentExecutions)).Methods(http.MethodGet)
	r.Handle("/executions/flow/{id}", s.protected(s.handleFlowExecutions)).Methods(http.MethodGet)
	r.Handle("/executions/{id}", s.protected(s.handleGetExecution)).Methods(http.MethodGet)
	r.Handle("/executions/{id}", s.protected(s.handleDeleteExecution)).Methods(http.MethodDelete)
	r.Handle("/executions/{id}/steps", s.protected(s.handleExecutionSteps)).Methods(http.MethodGet)
	r.Handle("/executions/{id}/logs", s.protected(s.handleExecutionLogs)).Methods(http.MethodGet)
	r.Handle("/executions/{id}/cancel", s.protected(s.handleCancelExecution)).Methods(http.MethodPost)

	// Integrations.
	r.Handle("/integrations", s.protected(s.handleListIntegrations)).Methods(http.MethodGet)
	r.Handle("/integrations", s.protected(s.handleCreateIntegration)).Methods(http.MethodPost)
	r.Handle("/integrations/{id}", s.protected(s.handleUpdateIntegration)).Methods(http.MethodPatch)
	r.Handle("/integrations/{id}", s.protected(s.handleDeleteIntegration)).Methods(http.MethodDelete)
	r.Handle("/integrations/{id}/verify", s.protected(s.handleVerifyIntegration)).Methods(http.MethodPost)

	// IP allowlist.
	r.Handle("/ip-whitelist", s.protected(s.handleListAllowlist)).Methods(http.MethodGet)
	r.Handle("/ip-whitelist", s.protected(s.handleAddAllowlist)).Methods(http.MethodPost)
	r.Handle("/ip-whitelist/enabled", s.protected(s.handleToggleAllowlist)).Methods(http.MethodPost)
	r.Handle("/ip-whitelist/current-ip", s.protected(s.handleCurrentIP)).Methods(http.MethodGet)
	r.Handle("/ip-whitelist/{id}", s.protected(s.handleRemoveAllowlist)).Methods(http.MethodDelete)

	// Notifications.
	r.Handle("/notifications", s.protected(s.handleListNotifications)).Methods(http.MethodGet)
	r.Handle("/notifications", s.protected(s.handleCreateNotification)).Methods(http.MethodPost)
	r.Handle("/notifications/read-all", s.protected(s.handleReadAllNotifications)).Methods(http.MethodPost)
	r.Handle("/notifications/{id}/read", s.protected(s.handleReadNotification)).Methods(http.MethodPost)

	// Provider connections.
	r.Handle("/connections", s.protected(s.handleListConnections)).Methods(http.MethodGet)
	r.Handle("/connections", s.protected(s.handleCreateConnection)).Methods(http.MethodPost)
	r.Handle("/connections/{id}", s.protected(s.handleDeleteConnection)).Methods(http.MethodDelete)
	r.Handle("/connections/{id}/test", s.protected(s.handleTestConnection)).Methods(http.MethodPost)

	// Guarded passthrough fetch and compliance exports.
	r.Handle("/proxy/fetch", s.protected(s.handleProxyFetch)).Methods(http.MethodPost)
	r.Handle("/reports/compliance", s.protected(s.handleComplianceReport)).Methods(http.MethodPost)

	// Inbound provider webhooks authenticate by signature, not session.
	r.HandleFunc("/webhooks/flutterwave", s.handleFlutterwaveWebhook).Methods(http.MethodPost)

	// Realtime.
	if s.ws != nil {
		r.Handle("/ws", s.session(s.ws)).Methods(http.MethodGet)
	}
	if s.gateway != nil {
		r.PathPrefix("/socket.io/").Handler(s.gateway)
	}

	return r
}
