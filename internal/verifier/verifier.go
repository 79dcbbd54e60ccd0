// Package verifier probes integrations and maintains their health status.
// A probe runs asynchronously: the caller sees status=pending immediately,
// the probe fires after a short deferral, and the outcome lands as a status
// flip plus a Notification. Database triggers broadcast the corresponding
// bus events, so every transition reaches connected clients.
package verifier

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/config"
	"github.com/flowline/backend/internal/metrics"
	"github.com/flowline/backend/internal/netguard"
	"github.com/flowline/backend/internal/store"
)

const (
	defaultProbeDelay   = 3 * time.Second
	defaultProbeTimeout = 6 * time.Second
)

// secretKeyPattern selects the auth header heuristic: keys shaped like
// Stripe's sk_/pk_ prefixes get a bare Bearer header; everything else gets
// Bearer plus X-Api-Key so either convention works.
var secretKeyPattern = regexp.MustCompile(`^(sk|pk)_`)

// probeDefaults maps a lowercase name fragment to a known health endpoint,
// used when the integration has no test URL of its own.
var probeDefaults = []struct {
	fragment string
	url      string
}{
	{"stripe", "https://api.stripe.com/v1/charges?limit=1"},
	{"github", "https://api.github.com/user"},
	{"sendgrid", "https://api.sendgrid.com/v3/scopes"},
	{"slack", "https://slack.com/api/auth.test"},
	{"twilio", "https://api.twilio.com/2010-04-01/Accounts.json"},
	{"flutterwave", "https://api.flutterwave.com/v3/balances"},
	{"paystack", "https://api.paystack.co/balance"},
}

// Worker runs integration probes. Each probe is a short-lived goroutine;
// Shutdown waits for in-flight probes.
type Worker struct {
	store      *store.Store
	metrics    *metrics.Metrics
	httpClient *http.Client
	delay      time.Duration
	timeout    time.Duration
	logger     *log.Logger
	wg         sync.WaitGroup

	// validateURL guards probe targets; swapped out in tests that probe
	// loopback servers.
	validateURL func(string) error
}

// New builds the worker. Zero config values fall back to the 3 s deferral
// and 6 s probe timeout.
func New(st *store.Store, m *metrics.Metrics, cfg config.VerifierConfig) *Worker {
	delay := cfg.ProbeDelay
	if delay <= 0 {
		delay = defaultProbeDelay
	}
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Worker{
		store:       st,
		metrics:     m,
		httpClient:  &http.Client{Timeout: timeout},
		delay:       delay,
		timeout:     timeout,
		logger:      log.New(log.Writer(), "[VERIFIER] ", log.LstdFlags),
		validateURL: netguard.CheckURL,
	}
}

// Verify writes status=pending immediately and schedules the probe. The
// integrations trigger broadcasts integrations:update on the status write.
func (w *Worker) Verify(ctx context.Context, integ *store.Integration, apiKey string) error {
	if err := w.store.UpdateIntegrationStatus(ctx, integ.ID, store.IntegrationStatusPending); err != nil {
		return err
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		time.Sleep(w.delay)
		w.probe(context.Background(), integ, apiKey)
	}()
	return nil
}

// probe resolves the URL, validates it, issues the GET, and records the
// outcome. All provider errors are absorbed into status=error; nothing
// propagates to the API caller, which already returned.
func (w *Worker) probe(ctx context.Context, integ *store.Integration, apiKey string) {
	start := time.Now()

	probeURL, err := w.probeURL(integ)
	if err != nil {
		w.conclude(ctx, integ, false, apperr.UserMessage(err), start)
		return
	}
	if err := w.validateURL(probeURL); err != nil {
		w.conclude(ctx, integ, false, apperr.UserMessage(err), start)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		w.conclude(ctx, integ, false, err.Error(), start)
		return
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if !secretKeyPattern.MatchString(apiKey) {
		req.Header.Set("X-Api-Key", apiKey)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.conclude(ctx, integ, false, err.Error(), start)
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		w.conclude(ctx, integ, true, "", start)
		return
	}
	w.conclude(ctx, integ, false, fmt.Sprintf("probe returned HTTP %d", resp.StatusCode), start)
}

// probeURL picks the target: explicit test URL first, then a provider
// default inferred from the name.
func (w *Worker) probeURL(integ *store.Integration) (string, error) {
	if integ.TestURL != "" {
		if u, err := url.Parse(integ.TestURL); err == nil && u.Host != "" {
			return integ.TestURL, nil
		}
	}
	name := strings.ToLower(integ.Name)
	for _, d := range probeDefaults {
		if strings.Contains(name, d.fragment) {
			return d.url, nil
		}
	}
	return "", apperr.New(apperr.KindValidation, "no valid Test URL")
}

// conclude writes the terminal status and emits the matching Notification.
// The status write's trigger broadcasts integrations:update; the
// notification insert's trigger broadcasts notifications:update.
func (w *Worker) conclude(ctx context.Context, integ *store.Integration, active bool, reason string, start time.Time) {
	status := store.IntegrationStatusError
	result := "error"
	if active {
		status = store.IntegrationStatusActive
		result = "active"
	}
	if w.metrics != nil {
		w.metrics.ProbesTotal.WithLabelValues(result).Inc()
		w.metrics.ProbeDuration.Observe(time.Since(start).Seconds())
	}

	if err := w.store.UpdateIntegrationStatus(ctx, integ.ID, status); err != nil {
		w.logger.Printf("status write for %s: %v", integ.ID, err)
	}

	if active {
		_, err := w.store.CreateNotification(ctx, integ.OrgID, store.NotificationInfo,
			"Integration active: "+integ.Name,
			fmt.Sprintf("Verification of %q succeeded.", integ.Name), integ.ID)
		if err != nil {
			w.logger.Printf("notification for %s: %v", integ.ID, err)
		}
		return
	}
	_, err := w.store.CreateNotification(ctx, integ.OrgID, store.NotificationError,
		"Integration verification failed: "+integ.Name, reason, integ.ID)
	if err != nil {
		w.logger.Printf("notification for %s: %v", integ.ID, err)
	}
}

// Shutdown waits for in-flight probes. Probes are bounded by the deferral
// plus the HTTP timeout, so this returns within ~10 s worst case.
func (w *Worker) Shutdown() {
	w.wg.Wait()
}
