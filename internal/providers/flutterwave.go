package providers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/metrics"
	"github.com/flowline/backend/internal/store"
)

const flutterwaveBase = "https://api.flutterwave.com/v3"

// FlutterwaveCredentials is the decrypted credential shape held in the
// vault. SecretHash is the value Flutterwave echoes in webhook requests.
type FlutterwaveCredentials struct {
	SecretKey  string `json:"secret_key"`
	SecretHash string `json:"secret_hash"`
}

// FlutterwaveClient drives hosted payments and transaction verification.
type FlutterwaveClient struct {
	creds FlutterwaveCredentials
	base  string
	http  *http.Client
	rec   *recorder
}

func NewFlutterwaveClient(creds FlutterwaveCredentials, st *store.Store, m *metrics.Metrics) *FlutterwaveClient {
	return &FlutterwaveClient{
		creds: creds,
		base:  flutterwaveBase,
		http:  &http.Client{Timeout: callTimeout},
		rec:   &recorder{store: st, metrics: m, provider: "flutterwave"},
	}
}

func (c *FlutterwaveClient) Provider() string { return "flutterwave" }

// Configured reports whether the secret key is present.
func (c *FlutterwaveClient) Configured() bool { return c.creds.SecretKey != "" }

// Call dispatches by operation name.
func (c *FlutterwaveClient) Call(ctx context.Context, orgID, op string, params map[string]interface{}) (map[string]interface{}, error) {
	start := time.Now()
	out, err := c.dispatch(ctx, op, params)
	c.rec.observe(ctx, orgID, start, err)
	return out, err
}

func (c *FlutterwaveClient) dispatch(ctx context.Context, op string, params map[string]interface{}) (map[string]interface{}, error) {
	switch op {
	case "hostedPayment":
		return c.hostedPayment(ctx, params)
	case "verifyByReference":
		return c.verifyByReference(ctx, params)
	default:
		return nil, apperr.Newf(apperr.KindValidation, "unknown flutterwave operation %q", op)
	}
}

// hostedPayment creates a checkout session and returns the redirect link.
func (c *FlutterwaveClient) hostedPayment(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	amount, err := requireParam(params, "amount")
	if err != nil {
		return nil, err
	}
	email, err := requireParam(params, "customer_email")
	if err != nil {
		return nil, err
	}
	currency := stringParam(params, "currency")
	if currency == "" {
		currency = "NGN"
	}
	txRef := stringParam(params, "tx_ref")
	if txRef == "" {
		txRef = "flw-" + uuid.NewString()
	}

	payload := map[string]interface{}{
		"tx_ref":       txRef,
		"amount":       amount,
		"currency":     currency,
		"redirect_url": stringParam(params, "redirect_url"),
		"customer": map[string]string{
			"email": email,
			"name":  stringParam(params, "customer_name"),
		},
	}
	body, err := jsonBody(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/payments", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.creds.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Data    struct {
			Link string `json:"link"`
		} `json:"data"`
	}
	if err := doJSON(c.http, req, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, apperr.Newf(apperr.KindUpstreamUnavailable, "flutterwave payment rejected: %s", resp.Message)
	}
	return map[string]interface{}{
		"tx_ref": txRef,
		"link":   resp.Data.Link,
	}, nil
}

// verifyByReference resolves a transaction's final state by tx_ref.
func (c *FlutterwaveClient) verifyByReference(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	txRef, err := requireParam(params, "tx_ref")
	if err != nil {
		return nil, err
	}

	u := c.base + "/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(txRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.creds.SecretKey)

	var out map[string]interface{}
	if err := doJSON(c.http, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyWebhookSignature checks the verif-hash header on an inbound webhook.
// Comparison is constant time.
func (c *FlutterwaveClient) VerifyWebhookSignature(signature string) bool {
	if c.creds.SecretHash == "" || signature == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.creds.SecretHash), []byte(signature)) == 1
}
