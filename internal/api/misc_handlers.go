package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/netguard"
)

const proxyFetchTimeout = 10 * time.Second

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			status["status"] = "degraded"
			status["database"] = "unreachable"
			respondJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}
	respondJSON(w, http.StatusOK, status)
}

// handleProxyFetch relays a request to an external URL on behalf of the
// sandboxed flow editor. Targets go through the same host guard as engine
// actions and verification probes.
func (s *Server) handleProxyFetch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL     string            `json:"url"`
		Method  string            `json:"method"`
		Headers map[string]string `json:"headers"`
		Body    string            `json:"body"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if _, err := netguard.ValidateURL(req.URL); err != nil {
		respondError(w, apperr.Wrap(apperr.KindValidation, "target not allowed", err))
		return
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	ctx, cancel := context.WithTimeout(r.Context(), proxyFetchTimeout)
	defer cancel()

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	upstream, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		respondError(w, apperr.Wrap(apperr.KindValidation, "build upstream request", err))
		return
	}
	for k, v := range req.Headers {
		upstream.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(upstream)
	if err != nil {
		kind := apperr.KindUpstreamUnavailable
		if ctx.Err() == context.DeadlineExceeded {
			kind = apperr.KindTimeout
		}
		respondError(w, apperr.Wrap(kind, "upstream fetch failed", err))
		return
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		respondError(w, apperr.Wrap(apperr.KindUpstreamUnavailable, "read upstream body", err))
		return
	}
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    string(raw),
	})
}

func (s *Server) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	var req struct {
		Format string `json:"format"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	var (
		path string
		err  error
	)
	switch req.Format {
	case "", "json":
		path, err = s.reports.WriteJSON(r.Context(), u.OrgID)
	case "pdf":
		path, err = s.reports.WritePDF(r.Context(), u.OrgID)
	default:
		respondError(w, apperr.Newf(apperr.KindValidation, "unknown report format %q", req.Format))
		return
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"path": path})
}
