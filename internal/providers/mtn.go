package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/metrics"
	"github.com/flowline/backend/internal/store"
)

const (
	mtnSandboxBase = "https://sandbox.momodeveloper.mtn.com"
	mtnLiveBase    = "https://proxy.momoapi.mtn.com"
)

// MTNCredentials is the decrypted credential shape held in the vault.
type MTNCredentials struct {
	SubscriptionKey string `json:"subscription_key"`
	APIUser         string `json:"api_user"`
	APIKey          string `json:"api_key"`
	TargetEnv       string `json:"target_env"`
}

// MTNClient talks to the MTN MoMo collection API. Access tokens are cached
// until shortly before expiry.
type MTNClient struct {
	creds MTNCredentials
	base  string
	http  *http.Client
	rec   *recorder

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewMTNClient builds a client. TargetEnv "sandbox" (the default) selects
// the sandbox host; anything else goes through the live proxy.
func NewMTNClient(creds MTNCredentials, st *store.Store, m *metrics.Metrics) *MTNClient {
	if creds.TargetEnv == "" {
		creds.TargetEnv = "sandbox"
	}
	base := mtnLiveBase
	if creds.TargetEnv == "sandbox" {
		base = mtnSandboxBase
	}
	return &MTNClient{
		creds: creds,
		base:  base,
		http:  &http.Client{Timeout: callTimeout},
		rec:   &recorder{store: st, metrics: m, provider: "mtn"},
	}
}

func (c *MTNClient) Provider() string { return "mtn" }

// Configured reports whether credentials are present.
func (c *MTNClient) Configured() bool {
	return c.creds.SubscriptionKey != "" && c.creds.APIUser != "" && c.creds.APIKey != ""
}

// Call dispatches by operation name.
func (c *MTNClient) Call(ctx context.Context, orgID, op string, params map[string]interface{}) (map[string]interface{}, error) {
	start := time.Now()
	out, err := c.dispatch(ctx, op, params)
	c.rec.observe(ctx, orgID, start, err)
	return out, err
}

func (c *MTNClient) dispatch(ctx context.Context, op string, params map[string]interface{}) (map[string]interface{}, error) {
	switch op {
	case "token":
		token, err := c.token(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"access_token": token}, nil
	case "requestToPay":
		return c.requestToPay(ctx, params)
	case "requestToPayStatus":
		return c.requestToPayStatus(ctx, params)
	case "balance":
		return c.balance(ctx)
	case "accountHolder":
		return c.accountHolder(ctx, params)
	default:
		return nil, apperr.Newf(apperr.KindValidation, "unknown mtn operation %q", op)
	}
}

// token returns a cached collection token, exchanging Basic credentials for
// a fresh one when the cache is cold or within a minute of expiry.
func (c *MTNClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.accessToken != "" && time.Until(c.tokenExpiry) > time.Minute {
		token := c.accessToken
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/collection/token/", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.creds.APIUser, c.creds.APIKey)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.creds.SubscriptionKey)

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := doJSON(c.http, req, &body); err != nil {
		return "", err
	}
	if body.AccessToken == "" {
		return "", apperr.New(apperr.KindUpstreamUnavailable, "mtn token response had no access_token")
	}

	c.mu.Lock()
	c.accessToken = body.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	c.mu.Unlock()
	return body.AccessToken, nil
}

func (c *MTNClient) authedRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	var reader = http.NoBody
	if body != nil {
		r, err := jsonBody(body)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.setAuthHeaders(req, token)
		return req, nil
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	c.setAuthHeaders(req, token)
	return req, nil
}

func (c *MTNClient) setAuthHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.creds.SubscriptionKey)
	req.Header.Set("X-Target-Environment", c.creds.TargetEnv)
}

// requestToPay initiates a collection. MoMo replies 202 with an empty body;
// the generated reference id is the handle for later status polls.
func (c *MTNClient) requestToPay(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	amount, err := requireParam(params, "amount")
	if err != nil {
		return nil, err
	}
	msisdn, err := requireParam(params, "msisdn")
	if err != nil {
		return nil, err
	}
	currency := stringParam(params, "currency")
	if currency == "" {
		currency = "EUR"
	}
	externalID := stringParam(params, "external_id")
	if externalID == "" {
		externalID = uuid.NewString()
	}

	referenceID := uuid.NewString()
	payload := map[string]interface{}{
		"amount":     amount,
		"currency":   currency,
		"externalId": externalID,
		"payer": map[string]string{
			"partyIdType": "MSISDN",
			"partyId":     msisdn,
		},
		"payerMessage": stringParam(params, "payer_message"),
		"payeeNote":    stringParam(params, "payee_note"),
	}

	req, err := c.authedRequest(ctx, http.MethodPost, "/collection/v1_0/requesttopay", payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Reference-Id", referenceID)

	if err := doJSON(c.http, req, nil); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"reference_id": referenceID,
		"status":       "PENDING",
	}, nil
}

func (c *MTNClient) requestToPayStatus(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	referenceID, err := requireParam(params, "reference_id")
	if err != nil {
		return nil, err
	}
	req, err := c.authedRequest(ctx, http.MethodGet,
		fmt.Sprintf("/collection/v1_0/requesttopay/%s", referenceID), nil)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := doJSON(c.http, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MTNClient) balance(ctx context.Context) (map[string]interface{}, error) {
	req, err := c.authedRequest(ctx, http.MethodGet, "/collection/v1_0/account/balance", nil)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := doJSON(c.http, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// accountHolder checks whether an MSISDN is active on the network.
func (c *MTNClient) accountHolder(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	msisdn, err := requireParam(params, "msisdn")
	if err != nil {
		return nil, err
	}
	req, err := c.authedRequest(ctx, http.MethodGet,
		fmt.Sprintf("/collection/v1_0/accountholder/msisdn/%s/active", strings.TrimPrefix(msisdn, "+")), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Result bool `json:"result"`
	}
	if err := doJSON(c.http, req, &out); err != nil {
		return nil, err
	}
	return map[string]interface{}{"active": out.Result}, nil
}
