package verifier

import (
	"context"
	"fmt"
	"net/http"

	"github.com/flowline/backend/internal/config"
	"github.com/flowline/backend/internal/providers"
	"github.com/flowline/backend/internal/store"
)

// SelfCheck re-verifies provider-backed integrations from process-environment
// credentials at startup. A deploy that drops credentials would otherwise
// leave stale active rows. Rows flip to error when credentials are absent or
// the provider rejects them; to active on a successful call.
func (w *Worker) SelfCheck(ctx context.Context, cfg config.ProvidersConfig) {
	w.selfCheckProvider(ctx, "flutterwave", cfg.FlutterwaveSecretKey != "", func() error {
		return w.bearerProbe(ctx, "https://api.flutterwave.com/v3/balances", cfg.FlutterwaveSecretKey)
	})

	w.selfCheckProvider(ctx, "mtn", cfg.MTNSubscriptionKey != "" && cfg.MTNAPIUser != "" && cfg.MTNAPIKey != "", func() error {
		client := providers.NewMTNClient(providers.MTNCredentials{
			SubscriptionKey: cfg.MTNSubscriptionKey,
			APIUser:         cfg.MTNAPIUser,
			APIKey:          cfg.MTNAPIKey,
			TargetEnv:       cfg.MTNTargetEnv,
		}, nil, w.metrics)
		_, err := client.Call(ctx, "", "token", nil)
		return err
	})
}

// bearerProbe is the minimal credential check: a GET that must come back 2xx.
func (w *Worker) bearerProbe(ctx context.Context, url, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (w *Worker) selfCheckProvider(ctx context.Context, name string, hasCreds bool, check func() error) {
	rows, err := w.store.IntegrationsNamed(ctx, name)
	if err != nil {
		w.logger.Printf("self-check lookup %q: %v", name, err)
		return
	}
	if len(rows) == 0 {
		return
	}

	status := store.IntegrationStatusError
	reason := fmt.Sprintf("%s credentials not present in environment", name)
	if hasCreds {
		if err := check(); err != nil {
			reason = err.Error()
		} else {
			status = store.IntegrationStatusActive
		}
	}

	for _, integ := range rows {
		if err := w.store.UpdateIntegrationStatus(ctx, integ.ID, status); err != nil {
			w.logger.Printf("self-check status for %s: %v", integ.ID, err)
			continue
		}
		if status == store.IntegrationStatusError {
			if _, err := w.store.CreateNotification(ctx, integ.OrgID, store.NotificationError,
				"Integration verification failed: "+integ.Name, reason, integ.ID); err != nil {
				w.logger.Printf("self-check notification for %s: %v", integ.ID, err)
			}
		}
	}
	w.logger.Printf("self-check %q: %d integration(s) -> %s", name, len(rows), status)
}
