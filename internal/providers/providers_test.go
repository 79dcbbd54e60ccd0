package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline/backend/internal/apperr"
)

func newTestMTN(t *testing.T, handler http.Handler) *MTNClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewMTNClient(MTNCredentials{
		SubscriptionKey: "sub-key",
		APIUser:         "api-user",
		APIKey:          "api-key",
	}, nil, nil)
	c.base = srv.URL
	return c
}

func TestMTNTokenIsCached(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/collection/token/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "api-user", user)
		assert.Equal(t, "api-key", pass)
		assert.Equal(t, "sub-key", r.Header.Get("Ocp-Apim-Subscription-Key"))
		json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok-1", "expires_in": 3600})
	})
	mux.HandleFunc("/collection/v1_0/account/balance", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{"availableBalance": "100", "currency": "EUR"})
	})

	c := newTestMTN(t, mux)
	ctx := context.Background()

	_, err := c.Call(ctx, "org-1", "balance", nil)
	require.NoError(t, err)
	_, err = c.Call(ctx, "org-1", "balance", nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}

func TestMTNRequestToPaySetsReferenceID(t *testing.T) {
	var gotRef string
	mux := http.NewServeMux()
	mux.HandleFunc("/collection/token/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/collection/v1_0/requesttopay", func(w http.ResponseWriter, r *http.Request) {
		gotRef = r.Header.Get("X-Reference-Id")
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "10", body["amount"])
		payer := body["payer"].(map[string]interface{})
		assert.Equal(t, "MSISDN", payer["partyIdType"])
		w.WriteHeader(http.StatusAccepted)
	})

	c := newTestMTN(t, mux)
	out, err := c.Call(context.Background(), "org-1", "requestToPay", map[string]interface{}{
		"amount": "10",
		"msisdn": "233540000000",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, gotRef)
	assert.Equal(t, gotRef, out["reference_id"])
	assert.Equal(t, "PENDING", out["status"])
}

func TestMTNMissingParam(t *testing.T) {
	c := NewMTNClient(MTNCredentials{SubscriptionKey: "k", APIUser: "u", APIKey: "p"}, nil, nil)
	_, err := c.Call(context.Background(), "org-1", "requestToPay", map[string]interface{}{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestMTNUnknownOperation(t *testing.T) {
	c := NewMTNClient(MTNCredentials{}, nil, nil)
	_, err := c.Call(context.Background(), "org-1", "refund", nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestFlutterwaveHostedPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "success",
			"message": "Hosted Link",
			"data":    map[string]string{"link": "https://checkout.flutterwave.com/pay/abc"},
		})
	}))
	defer srv.Close()

	c := NewFlutterwaveClient(FlutterwaveCredentials{SecretKey: "sk_test"}, nil, nil)
	c.base = srv.URL

	out, err := c.Call(context.Background(), "org-1", "hostedPayment", map[string]interface{}{
		"amount":         "500",
		"customer_email": "a@b.co",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.flutterwave.com/pay/abc", out["link"])
	assert.NotEmpty(t, out["tx_ref"])
}

func TestFlutterwaveRejectedPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "error", "message": "invalid currency"})
	}))
	defer srv.Close()

	c := NewFlutterwaveClient(FlutterwaveCredentials{SecretKey: "sk_test"}, nil, nil)
	c.base = srv.URL

	_, err := c.Call(context.Background(), "org-1", "hostedPayment", map[string]interface{}{
		"amount":         "500",
		"customer_email": "a@b.co",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "invalid currency")
}

func TestFlutterwaveWebhookSignature(t *testing.T) {
	c := NewFlutterwaveClient(FlutterwaveCredentials{SecretHash: "whsec"}, nil, nil)
	assert.True(t, c.VerifyWebhookSignature("whsec"))
	assert.False(t, c.VerifyWebhookSignature("wrong"))
	assert.False(t, c.VerifyWebhookSignature(""))

	empty := NewFlutterwaveClient(FlutterwaveCredentials{}, nil, nil)
	assert.False(t, empty.VerifyWebhookSignature("anything"))
}

func TestProviderTimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewFlutterwaveClient(FlutterwaveCredentials{SecretKey: "sk"}, nil, nil)
	c.base = srv.URL
	c.http = &http.Client{Timeout: 50 * time.Millisecond}

	_, err := c.Call(context.Background(), "org-1", "verifyByReference", map[string]interface{}{"tx_ref": "x"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))
}

func TestRegistryLookupCaseInsensitive(t *testing.T) {
	reg := NewRegistry(NewMTNClient(MTNCredentials{}, nil, nil))
	_, ok := reg.Lookup("MTN")
	assert.True(t, ok)
	_, ok = reg.Lookup("stripe")
	assert.False(t, ok)
}
