package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// checkResult stores one table's verification outcome.
type checkResult struct {
	Table   string
	Status  string
	Details string
}

var tables = []string{
	"organizations",
	"users",
	"pending_users",
	"flows",
	"flow_versions",
	"flow_executions",
	"execution_steps",
	"execution_logs",
	"integrations",
	"connections",
	"notifications",
	"tx_events",
	"api_rate_samples",
	"ip_allowlist",
	"audit_logs",
}

var triggers = []string{
	"integrations_notify",
	"notifications_notify",
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            Flowline Backend - Schema Verification            ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()

	var results []checkResult
	for _, table := range tables {
		r := checkTable(ctx, db, table)
		results = append(results, r)
		printResult(r)
	}
	for _, trigger := range triggers {
		r := checkTrigger(ctx, db, trigger)
		results = append(results, r)
		printResult(r)
	}

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════")
	passed, failed := 0, 0
	for _, r := range results {
		if r.Status == "✅ PASS" {
			passed++
		} else {
			failed++
		}
	}
	fmt.Printf("Results: %d PASSED, %d FAILED\n", passed, failed)
	fmt.Println("═══════════════════════════════════════════════════════════════")
	if failed > 0 {
		os.Exit(1)
	}
}

func printResult(r checkResult) {
	fmt.Printf("  %-28s %s  %s\n", r.Table, r.Status, r.Details)
}

func checkTable(ctx context.Context, db *sql.DB, table string) checkResult {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, table).Scan(&exists)
	if err != nil {
		return checkResult{table, "❌ FAIL", err.Error()}
	}
	if !exists {
		return checkResult{table, "❌ FAIL", "table missing"}
	}

	var count int64
	// The table name comes from the fixed list above, never user input.
	if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, table)).Scan(&count); err != nil {
		return checkResult{table, "⚠️ WARN", err.Error()}
	}
	return checkResult{table, "✅ PASS", fmt.Sprintf("%d rows", count)}
}

func checkTrigger(ctx context.Context, db *sql.DB, trigger string) checkResult {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = $1)`, trigger).Scan(&exists)
	if err != nil {
		return checkResult{trigger, "❌ FAIL", err.Error()}
	}
	if !exists {
		return checkResult{trigger, "❌ FAIL", "trigger missing; realtime events will not fire"}
	}
	return checkResult{trigger, "✅ PASS", "trigger installed"}
}
