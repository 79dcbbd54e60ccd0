package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowline/backend/internal/api"
	"github.com/flowline/backend/internal/auth"
	"github.com/flowline/backend/internal/config"
	"github.com/flowline/backend/internal/engine"
	"github.com/flowline/backend/internal/events"
	"github.com/flowline/backend/internal/mail"
	"github.com/flowline/backend/internal/metrics"
	"github.com/flowline/backend/internal/policy"
	"github.com/flowline/backend/internal/providers"
	"github.com/flowline/backend/internal/realtime"
	"github.com/flowline/backend/internal/reports"
	"github.com/flowline/backend/internal/store"
	"github.com/flowline/backend/internal/vault"
	"github.com/flowline/backend/internal/verifier"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := log.New(log.Writer(), "[SERVER] ", log.LstdFlags)

	if cfg.Database.Disabled {
		runWithoutDatabase(cfg, logger)
		return
	}

	st, err := store.Open(cfg.Database.URL, cfg.Database.SSLNoVerify)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	bg, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	m := metrics.New()

	// Event plane: Postgres LISTEN/NOTIFY feeds the in-process bus; the
	// optional Redis relay covers instances that cannot hold a LISTEN
	// connection of their own.
	bus := events.NewBus(cfg.Bus.QueueDepth, m)
	defer bus.Close()
	relay := events.NewRedisRelay(cfg.Bus.RedisAddr, bus)
	if relay != nil {
		go relay.Run(bg)
		defer relay.Close()
	}
	listener, err := store.NewListener(cfg.Database.URL)
	if err != nil {
		logger.Fatalf("open listener: %v", err)
	}
	go listener.Run(bg)
	bridge := events.NewBridge(bus, listener.Events(), relay)
	go bridge.Run(bg)

	v := vault.New(cfg.Secrets.EncryptionKey)
	if !v.Ready() {
		logger.Println("SECRETS_ENC_KEY not set; provider connections are disabled")
	}

	mailer := mail.NewSMTPMailer(cfg.SMTP)
	registry := providers.FromEnv(cfg.Providers, st, m)
	eng := engine.New(st, registry, mailer, m, cfg.Engine)
	ver := verifier.New(st, m, cfg.Verifier)
	authSvc := auth.NewService(st, mailer, cfg.Auth, cfg.Server.FrontendOrigin)
	gate := policy.NewGate(st, m)
	gen := reports.New(cfg.Reports.Dir, st, nil)

	var origins []string
	if cfg.Server.FrontendOrigin != "" {
		origins = []string{cfg.Server.FrontendOrigin}
	}
	ws := realtime.NewWSHandler(bus, origins)
	gw := realtime.NewGateway(bus, authSvc)
	go func() {
		if err := gw.Run(); err != nil {
			logger.Printf("socket.io server: %v", err)
		}
	}()
	defer gw.Close()

	// Executions left running by a previous process cannot make progress;
	// surface them for the operator.
	if stale, err := st.StaleRunningExecutions(bg, cfg.Engine.StaleRunningThreshold); err != nil {
		logger.Printf("stale execution scan: %v", err)
	} else if len(stale) > 0 {
		logger.Printf("found %d stale running executions: %v", len(stale), stale)
	}

	go gate.RunSweeper(bg, cfg.Policy.SweepInterval, cfg.Policy.SampleRetention)
	go sweepPendingUsers(bg, st, cfg.Auth.PendingUserTTL, logger)
	go ver.SelfCheck(bg, cfg.Providers)

	srv := api.NewServer(api.Deps{
		Store:          st,
		Auth:           authSvc,
		Gate:           gate,
		Engine:         eng,
		Verifier:       ver,
		Vault:          v,
		Providers:      registry,
		Reports:        gen,
		Metrics:        m,
		WS:             ws,
		Gateway:        gw,
		FrontendOrigin: cfg.Server.FrontendOrigin,
		WebhookHash:    cfg.Providers.FlutterwaveSecretHash,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Printf("listening on :%s (env=%s)", cfg.Server.Port, cfg.Server.Env)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}

	// Drain order: stop accepting work, let the engine finish or mark
	// survivors, then the deferred teardown closes the event plane.
	eng.Shutdown()
	ver.Shutdown()
	logger.Println("shutdown complete")
}

// runWithoutDatabase serves health and metrics only, for smoke deployments
// with DISABLE_DB=true.
func runWithoutDatabase(cfg *config.Config, logger *log.Logger) {
	logger.Println("DISABLE_DB=true; serving health and metrics only")
	metrics.New()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"status":"ok","database":"disabled"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())

	logger.Printf("listening on :%s (degraded)", cfg.Server.Port)
	if err := http.ListenAndServe(":"+cfg.Server.Port, mux); err != nil {
		logger.Fatalf("http server: %v", err)
	}
}

func sweepPendingUsers(ctx context.Context, st *store.Store, ttl time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.DeleteStalePendingUsers(ctx, ttl)
			if err != nil {
				logger.Printf("pending user sweep: %v", err)
				continue
			}
			if n > 0 {
				logger.Printf("swept %d stale pending signups", n)
			}
		}
	}
}
