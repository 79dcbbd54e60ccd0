package policy

import (
	"context"
	"log"
	"time"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/metrics"
	"github.com/flowline/backend/internal/store"
)

const rateWindow = time.Hour

// Gate enforces the IP allowlist and the per-user hourly rate quota.
type Gate struct {
	store   *store.Store
	metrics *metrics.Metrics
	logger  *log.Logger
}

func NewGate(st *store.Store, m *metrics.Metrics) *Gate {
	return &Gate{
		store:   st,
		metrics: m,
		logger:  log.New(log.Writer(), "[POLICY] ", log.LstdFlags),
	}
}

// CheckIP enforces the allowlist when the user has it enabled. A store
// error fails open so a database hiccup does not lock operators out.
func (g *Gate) CheckIP(ctx context.Context, u *store.User, clientIP string) error {
	if !u.AllowIPWhitelist {
		return nil
	}
	allowed, err := g.store.IPAllowed(ctx, u.ID, clientIP)
	if err != nil {
		g.logger.Printf("allowlist check for %s failed open: %v", u.ID, err)
		return nil
	}
	if allowed {
		return nil
	}
	if g.metrics != nil {
		g.metrics.IPDeniedTotal.Inc()
	}
	return apperr.New(apperr.KindForbidden, "your IP address is not on the allowlist").
		WithMeta("currentIp", clientIP)
}

// RateResult carries the header values for an admitted or rejected request.
type RateResult struct {
	Limit     int
	Remaining int
	Reset     time.Time
	RetryIn   time.Duration
}

// CheckRate counts the user's samples in the trailing hour. At or over the
// quota the request is rejected and no sample is written; under it, one
// sample is appended and the remaining budget reported.
func (g *Gate) CheckRate(ctx context.Context, u *store.User, endpoint, clientIP string) (*RateResult, error) {
	now := time.Now()
	count, err := g.store.CountRateSamples(ctx, u.ID, now.Add(-rateWindow))
	if err != nil {
		// Same fail-open stance as the allowlist.
		g.logger.Printf("rate count for %s failed open: %v", u.ID, err)
		return &RateResult{Limit: u.RateLimit, Remaining: u.RateLimit, Reset: now.Add(rateWindow)}, nil
	}

	res := &RateResult{
		Limit: u.RateLimit,
		Reset: now.Add(rateWindow),
	}
	if count >= u.RateLimit {
		res.Remaining = 0
		res.RetryIn = rateWindow
		if g.metrics != nil {
			g.metrics.RateLimitedTotal.Inc()
		}
		return res, apperr.New(apperr.KindRateLimited, "hourly request quota exceeded").
			WithMeta("retryAfterSeconds", int(rateWindow.Seconds()))
	}

	if err := g.store.InsertRateSample(ctx, u.ID, endpoint, clientIP); err != nil {
		g.logger.Printf("rate sample for %s: %v", u.ID, err)
	}
	res.Remaining = u.RateLimit - count - 1
	return res, nil
}

// RunSweeper deletes rate samples older than the retention window on a
// fixed interval until ctx is cancelled.
func (g *Gate) RunSweeper(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.store.SweepRateSamples(ctx, retention)
			if err != nil {
				g.logger.Printf("sample sweep: %v", err)
				continue
			}
			if n > 0 {
				g.logger.Printf("swept %d rate samples", n)
			}
		}
	}
}

// Audit appends one audit row. Insert failures are logged, never surfaced.
func (g *Gate) Audit(ctx context.Context, e *store.AuditEntry) {
	if err := g.store.AppendAudit(ctx, e); err != nil {
		g.logger.Printf("audit append: %v", err)
	}
}
