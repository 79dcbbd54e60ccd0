package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowline/backend/internal/apperr"
)

// runHTTPAction performs the node's HTTP call. Transport errors are fatal to
// the step. A non-2xx response is a successful step whose output carries the
// status, body, and headers so downstream nodes can branch on it.
func (e *Engine) runHTTPAction(ctx context.Context, n *Node) (map[string]interface{}, error) {
	var cfg HTTPConfig
	if err := decodeConfig(n, &cfg); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid http action config", err)
	}
	if cfg.URL == "" {
		return nil, apperr.New(apperr.KindValidation, "http action requires a url")
	}
	if err := e.validateURL(cfg.URL); err != nil {
		return nil, err
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(cfg.Body) > 0 {
		body = bytes.NewReader(cfg.Body)
	}

	cctx, cancel := context.WithTimeout(ctx, e.httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, method, cfg.URL, body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid http action request", err)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if len(cfg.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "http action failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "read http action response", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return map[string]interface{}{
			"status":  resp.StatusCode,
			"error":   string(respBody),
			"headers": headers,
		}, nil
	}
	return map[string]interface{}{
		"status":  resp.StatusCode,
		"body":    string(respBody),
		"headers": headers,
	}, nil
}

func (e *Engine) runEmailAction(n *Node) (map[string]interface{}, error) {
	var cfg EmailConfig
	if err := decodeConfig(n, &cfg); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid email action config", err)
	}
	if cfg.To == "" {
		return nil, apperr.New(apperr.KindValidation, "email action requires a recipient")
	}
	if err := e.mailer.Send(cfg.To, cfg.Subject, cfg.Body); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "email send failed", err)
	}
	return map[string]interface{}{
		"sent": true,
		"to":   cfg.To,
	}, nil
}

// runProviderAction routes a dotted node type through the provider registry.
func (e *Engine) runProviderAction(ctx context.Context, orgID string, n *Node, inputs map[string]interface{}) (map[string]interface{}, error) {
	providerName, op := n.ProviderOp()
	client, ok := e.providers.Lookup(providerName)
	if !ok {
		return nil, apperr.Newf(apperr.KindValidation, "unrecognized action %q", n.Type)
	}

	var cfg ProviderConfig
	if err := decodeConfig(n, &cfg); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid provider action config", err)
	}
	params := make(map[string]interface{}, len(cfg.Params)+len(inputs))
	for k, v := range inputs {
		params[k] = v
	}
	for k, v := range cfg.Params {
		params[k] = v
	}
	return client.Call(ctx, orgID, op, params)
}

// runAction dispatches an action node by kind or dotted provider type.
// Unknown (type, kind) pairs fail the step with a clear error rather than
// silently running.
func (e *Engine) runAction(ctx context.Context, orgID string, n *Node, inputs map[string]interface{}) (map[string]interface{}, error) {
	if n.IsProviderType() {
		return e.runProviderAction(ctx, orgID, n, inputs)
	}
	switch n.Kind {
	case KindHTTP:
		return e.runHTTPAction(ctx, n)
	case KindEmail:
		return e.runEmailAction(n)
	case KindDatabase, KindSalesforce:
		// No live backends for these kinds yet; the step records what it
		// would have done so flows remain inspectable end to end.
		return map[string]interface{}{
			"kind":      n.Kind,
			"simulated": true,
			"inputs":    inputs,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}, nil
	default:
		return nil, apperr.Newf(apperr.KindValidation, "unrecognized action %q",
			fmt.Sprintf("%s/%s", n.Type, n.Kind))
	}
}
