package providers

import (
	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/config"
	"github.com/flowline/backend/internal/metrics"
	"github.com/flowline/backend/internal/store"
	"github.com/flowline/backend/internal/vault"
)

// FromEnv builds the registry from process-environment credentials. Clients
// with missing credentials are still registered so callers get a provider
// error instead of an unknown-provider error; Configured() distinguishes.
func FromEnv(cfg config.ProvidersConfig, st *store.Store, m *metrics.Metrics) *Registry {
	return NewRegistry(
		NewMTNClient(MTNCredentials{
			SubscriptionKey: cfg.MTNSubscriptionKey,
			APIUser:         cfg.MTNAPIUser,
			APIKey:          cfg.MTNAPIKey,
			TargetEnv:       cfg.MTNTargetEnv,
		}, st, m),
		NewFlutterwaveClient(FlutterwaveCredentials{
			SecretKey:  cfg.FlutterwaveSecretKey,
			SecretHash: cfg.FlutterwaveSecretHash,
		}, st, m),
	)
}

// FromConnection decrypts a stored connection into a live client. The
// decrypted credentials exist only inside the returned client; the
// ciphertext row is untouched.
func FromConnection(v *vault.Vault, conn *store.Connection, st *store.Store, m *metrics.Metrics) (Caller, error) {
	switch conn.Provider {
	case "mtn":
		var creds MTNCredentials
		if err := v.Decrypt(conn.ConfigEnc, &creds); err != nil {
			return nil, err
		}
		return NewMTNClient(creds, st, m), nil
	case "flutterwave":
		var creds FlutterwaveCredentials
		if err := v.Decrypt(conn.ConfigEnc, &creds); err != nil {
			return nil, err
		}
		return NewFlutterwaveClient(creds, st, m), nil
	default:
		return nil, apperr.Newf(apperr.KindValidation, "unknown provider %q", conn.Provider)
	}
}
