// Package providers implements the outbound payment-provider clients. Each
// client exposes a narrow capability interface keyed by operation name so
// flow action nodes can dispatch "mtn.requestToPay" style types without
// knowing provider internals. Every call that reaches a provider endpoint
// records a TxEvent scoped to the initiating org.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/metrics"
	"github.com/flowline/backend/internal/store"
)

// callTimeout bounds connect plus read on every provider request.
const callTimeout = 6 * time.Second

// Caller dispatches one provider operation. params and the result are loose
// JSON maps because they flow straight from and to flow node configs.
type Caller interface {
	Provider() string
	Call(ctx context.Context, orgID, op string, params map[string]interface{}) (map[string]interface{}, error)
}

// Registry maps provider name to client. Lookup is by the prefix of dotted
// action types, e.g. "mtn.requestToPay" resolves "mtn".
type Registry struct {
	clients map[string]Caller
}

func NewRegistry(clients ...Caller) *Registry {
	r := &Registry{clients: make(map[string]Caller, len(clients))}
	for _, c := range clients {
		r.clients[c.Provider()] = c
	}
	return r
}

// Lookup resolves a provider by name, case-insensitively.
func (r *Registry) Lookup(name string) (Caller, bool) {
	c, ok := r.clients[strings.ToLower(name)]
	return c, ok
}

// recorder persists the per-call TxEvent and metrics observations. A nil
// store or metrics handle disables the respective sink, which keeps unit
// tests free of wiring.
type recorder struct {
	store    *store.Store
	metrics  *metrics.Metrics
	provider string
}

func (r *recorder) observe(ctx context.Context, orgID string, start time.Time, err error) {
	latency := time.Since(start)
	if r.metrics != nil {
		outcome := "ok"
		switch apperr.KindOf(err) {
		case apperr.KindTimeout:
			outcome = "timeout"
		default:
			if err != nil {
				outcome = "error"
			}
		}
		r.metrics.ProviderCallsTotal.WithLabelValues(r.provider, outcome).Inc()
		r.metrics.ProviderCallDuration.WithLabelValues(r.provider).Observe(latency.Seconds())
	}
	if r.store != nil && orgID != "" {
		// TxEvents are best effort; the call result stands either way.
		_ = r.store.RecordTxEvent(ctx, orgID, err == nil, latency.Milliseconds())
	}
}

// doJSON performs one HTTP round trip and decodes the JSON response body.
// Transport failures map to Timeout or UpstreamUnavailable; non-2xx statuses
// come back as an apperr carrying the provider's body.
func doJSON(client *http.Client, req *http.Request, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return apperr.Wrap(apperr.KindTimeout, "provider call timed out", err)
		}
		return apperr.Wrap(apperr.KindUpstreamUnavailable, "provider unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamUnavailable, "read provider response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperr.Newf(apperr.KindUpstreamUnavailable, "provider returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode provider response: %w", err)
		}
	}
	return nil
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

func jsonBody(v interface{}) (io.Reader, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(raw), nil
}

func stringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func requireParam(params map[string]interface{}, key string) (string, error) {
	v := stringParam(params, key)
	if v == "" {
		return "", apperr.Newf(apperr.KindValidation, "missing parameter %q", key)
	}
	return v, nil
}
