package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Providers ProvidersConfig `yaml:"providers"`
	Engine    EngineConfig    `yaml:"engine"`
	Verifier  VerifierConfig  `yaml:"verifier"`
	Bus       BusConfig       `yaml:"bus"`
	Policy    PolicyConfig    `yaml:"policy"`
	Reports   ReportsConfig   `yaml:"reports"`
}

type ServerConfig struct {
	Port           string `yaml:"port"`
	Env            string `yaml:"env"`
	FrontendOrigin string `yaml:"frontend_origin"`
}

type DatabaseConfig struct {
	URL         string `yaml:"url"`
	SSLNoVerify bool   `yaml:"ssl_no_verify"`
	Disabled    bool   `yaml:"disabled"`
}

type AuthConfig struct {
	JWTSecret          string        `yaml:"jwt_secret"`
	SessionTTL         time.Duration `yaml:"session_ttl"`
	RememberTTL        time.Duration `yaml:"remember_ttl"`
	OAuthTTL           time.Duration `yaml:"oauth_ttl"`
	GoogleClientID     string        `yaml:"google_client_id"`
	GoogleClientSecret string        `yaml:"google_client_secret"`
	GoogleRedirectURL  string        `yaml:"google_redirect_url"`
	PendingUserTTL     time.Duration `yaml:"pending_user_ttl"`
}

type SecretsConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type ProvidersConfig struct {
	FlutterwaveSecretKey  string `yaml:"flutterwave_secret_key"`
	FlutterwaveSecretHash string `yaml:"flutterwave_secret_hash"`
	MTNSubscriptionKey    string `yaml:"mtn_subscription_key"`
	MTNAPIUser            string `yaml:"mtn_api_user"`
	MTNAPIKey             string `yaml:"mtn_api_key"`
	MTNTargetEnv          string `yaml:"mtn_target_env"`
}

type EngineConfig struct {
	StaleRunningThreshold time.Duration `yaml:"stale_running_threshold"`
	ShutdownGrace         time.Duration `yaml:"shutdown_grace"`
	HTTPActionTimeout     time.Duration `yaml:"http_action_timeout"`
}

type VerifierConfig struct {
	ProbeDelay   time.Duration `yaml:"probe_delay"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

type BusConfig struct {
	QueueDepth int    `yaml:"queue_depth"`
	RedisAddr  string `yaml:"redis_addr"`
}

type PolicyConfig struct {
	SampleRetention time.Duration `yaml:"sample_retention"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

type ReportsConfig struct {
	Dir string `yaml:"dir"`
}

// LoadConfig reads the YAML config file at path, then applies environment
// overrides. A missing file is not an error: env-only deployments are
// supported.
func LoadConfig(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			decoder := yaml.NewDecoder(f)
			if err := decoder.Decode(cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Auth: AuthConfig{
			SessionTTL:     24 * time.Hour,
			RememberTTL:    30 * 24 * time.Hour,
			OAuthTTL:       7 * 24 * time.Hour,
			PendingUserTTL: 24 * time.Hour,
		},
		Engine: EngineConfig{
			StaleRunningThreshold: 15 * time.Minute,
			ShutdownGrace:         30 * time.Second,
			HTTPActionTimeout:     30 * time.Second,
		},
		Verifier: VerifierConfig{
			ProbeDelay:   3 * time.Second,
			ProbeTimeout: 6 * time.Second,
		},
		Bus: BusConfig{QueueDepth: 64},
		Policy: PolicyConfig{
			SampleRetention: 24 * time.Hour,
			SweepInterval:   time.Hour,
		},
		Reports: ReportsConfig{Dir: "data/compliance_reports"},
	}
}

func applyEnv(cfg *Config) {
	setStr(&cfg.Server.Port, "PORT")
	setStr(&cfg.Server.Env, "APP_ENV")
	setStr(&cfg.Server.FrontendOrigin, "FRONTEND_ORIGIN")

	setStr(&cfg.Database.URL, "DATABASE_URL")
	if os.Getenv("PGSSL_NO_VERIFY") == "true" {
		cfg.Database.SSLNoVerify = true
	}
	if os.Getenv("DISABLE_DB") == "true" {
		cfg.Database.Disabled = true
	}

	setStr(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setStr(&cfg.Auth.GoogleClientID, "GOOGLE_CLIENT_ID")
	setStr(&cfg.Auth.GoogleClientSecret, "GOOGLE_CLIENT_SECRET")
	setStr(&cfg.Auth.GoogleRedirectURL, "GOOGLE_REDIRECT_URL")

	setStr(&cfg.Secrets.EncryptionKey, "SECRETS_ENC_KEY")

	setStr(&cfg.SMTP.Host, "SMTP_HOST")
	setStr(&cfg.SMTP.Port, "SMTP_PORT")
	setStr(&cfg.SMTP.Username, "SMTP_USER")
	setStr(&cfg.SMTP.Password, "SMTP_PASS")
	setStr(&cfg.SMTP.From, "SMTP_FROM")

	setStr(&cfg.Providers.FlutterwaveSecretKey, "FLW_SECRET_KEY")
	setStr(&cfg.Providers.FlutterwaveSecretHash, "FLW_SECRET_HASH")
	setStr(&cfg.Providers.MTNSubscriptionKey, "MTN_SUBSCRIPTION_KEY")
	setStr(&cfg.Providers.MTNAPIUser, "MTN_API_USER")
	setStr(&cfg.Providers.MTNAPIKey, "MTN_API_KEY")
	setStr(&cfg.Providers.MTNTargetEnv, "MTN_TARGET_ENV")

	setStr(&cfg.Bus.RedisAddr, "REDIS_ADDR")
	setStr(&cfg.Reports.Dir, "REPORTS_DIR")
}

func setStr(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
