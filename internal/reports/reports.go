// Package reports generates per-org compliance exports on disk. Files land
// under the configured directory named <sanitized-org-id>_<epoch-ms>.<ext>.
package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/store"
)

const defaultDir = "data/compliance_reports"

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9-]`)

// Report is the exported document shape.
type Report struct {
	OrgID        string                 `json:"org_id"`
	GeneratedAt  time.Time              `json:"generated_at"`
	Flows        []*store.Flow          `json:"flows"`
	Integrations []*store.Integration   `json:"integrations"`
	Recent       []*store.FlowExecution `json:"recent_executions"`
	TxSummary    TxSummary              `json:"tx_summary"`
}

// TxSummary aggregates the trailing 30 days of provider traffic.
type TxSummary struct {
	Total        int     `json:"total"`
	Failed       int     `json:"failed"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// PDFRenderer turns a report into a PDF document. The default build has no
// renderer; WritePDF reports that cleanly instead of shelling out.
type PDFRenderer interface {
	Render(r *Report) ([]byte, error)
}

// Generator builds and persists reports.
type Generator struct {
	dir      string
	store    *store.Store
	renderer PDFRenderer
	logger   *log.Logger
}

func New(dir string, st *store.Store, renderer PDFRenderer) *Generator {
	if dir == "" {
		dir = defaultDir
	}
	return &Generator{
		dir:      dir,
		store:    st,
		renderer: renderer,
		logger:   log.New(log.Writer(), "[REPORTS] ", log.LstdFlags),
	}
}

// Build assembles the report from the store.
func (g *Generator) Build(ctx context.Context, orgID string) (*Report, error) {
	flows, err := g.store.ListFlows(ctx, orgID)
	if err != nil {
		return nil, err
	}
	integrations, err := g.store.ListIntegrations(ctx, orgID)
	if err != nil {
		return nil, err
	}
	recent, err := g.store.ListRecentExecutions(ctx, orgID, 100)
	if err != nil {
		return nil, err
	}
	total, failed, avgLatency, err := g.store.TxEventStats(ctx, orgID, time.Now().AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}

	return &Report{
		OrgID:        orgID,
		GeneratedAt:  time.Now().UTC(),
		Flows:        flows,
		Integrations: integrations,
		Recent:       recent,
		TxSummary:    TxSummary{Total: total, Failed: failed, AvgLatencyMs: avgLatency},
	}, nil
}

// WriteJSON builds the report and writes it as JSON, returning the path.
func (g *Generator) WriteJSON(ctx context.Context, orgID string) (string, error) {
	report, err := g.Build(ctx, orgID)
	if err != nil {
		return "", err
	}
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	return g.writeFile(orgID, "json", raw)
}

// WritePDF renders through the configured renderer.
func (g *Generator) WritePDF(ctx context.Context, orgID string) (string, error) {
	if g.renderer == nil {
		return "", apperr.New(apperr.KindValidation, "PDF export is not available on this deployment")
	}
	report, err := g.Build(ctx, orgID)
	if err != nil {
		return "", err
	}
	raw, err := g.renderer.Render(report)
	if err != nil {
		return "", fmt.Errorf("render pdf: %w", err)
	}
	return g.writeFile(orgID, "pdf", raw)
}

func (g *Generator) writeFile(orgID, ext string, data []byte) (string, error) {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("report dir: %w", err)
	}
	name := fmt.Sprintf("%s_%d.%s", sanitizeOrgID(orgID), time.Now().UnixMilli(), ext)
	path := filepath.Join(g.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	g.logger.Printf("wrote %s (%d bytes)", path, len(data))
	return path, nil
}

func sanitizeOrgID(orgID string) string {
	s := unsafeChars.ReplaceAllString(orgID, "_")
	if s == "" {
		return "org"
	}
	return s
}
