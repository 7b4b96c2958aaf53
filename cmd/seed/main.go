// seed loads a local dev database with two indexers and the stock
// flag-bonus rules. Run: go run ./cmd/seed
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"github.com/readmeabook/readmeabook/internal/infrastructure/postgres"
)

type indexerSpec struct {
	name     string
	kind     string
	baseURL  string
	apiKey   string
	protocol string
	priority int
}

var indexers = []indexerSpec{
	// Prowlarr proxies every torznab tracker behind one API; point the
	// base URL at your local instance and paste its API key.
	{"prowlarr", "torznab", "http://localhost:9696", "changeme", "torrent", 0},

	// Scraped site fallback. No API key; queries against it are paced.
	{"audiobay", "scrape", "https://audiobay.example", "", "torrent", 10},
}

var flagRules = []struct {
	flag   string
	points float64
}{
	{"freeleech", 5},
	{"internal", 3},
	{"halfleech", 2},
}

func main() {
	ctx := context.Background()

	_ = godotenv.Load()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set — add it to .env")
	}

	pool, err := postgres.NewPool(ctx, dbURL, "readmeabook-seed")
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		log.Fatalf("db schema: %v", err)
	}

	// Insert indexers, skip any that already exist (idempotent re-runs)
	var indexersInserted, indexersSkipped int
	for _, spec := range indexers {
		var id string
		err := pool.QueryRow(ctx, `
			INSERT INTO indexers (name, kind, base_url, api_key, protocol, priority, enabled)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE)
			ON CONFLICT (name) DO NOTHING
			RETURNING id`,
			spec.name, spec.kind, spec.baseURL, spec.apiKey, spec.protocol, spec.priority,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			indexersSkipped++
			continue
		}
		if err != nil {
			pool.Close()
			log.Fatalf("insert indexer %s: %v", spec.name, err)
		}
		indexersInserted++
	}

	var rulesInserted, rulesSkipped int
	for _, rule := range flagRules {
		var id string
		err := pool.QueryRow(ctx, `
			INSERT INTO flag_rules (flag, points)
			VALUES ($1, $2)
			ON CONFLICT (flag) DO NOTHING
			RETURNING id`,
			rule.flag, rule.points,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			rulesSkipped++
			continue
		}
		if err != nil {
			pool.Close()
			log.Fatalf("insert flag rule %s: %v", rule.flag, err)
		}
		rulesInserted++
	}

	pool.Close()

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Indexers:   %d created  (skipped %d already existing)\n", indexersInserted, indexersSkipped)
	fmt.Printf("  Flag rules: %d created  (skipped %d already existing)\n", rulesInserted, rulesSkipped)
	fmt.Println()
	fmt.Println("How to test:")
	fmt.Println()
	fmt.Println("  Step 1 — sign in with your plex.tv token (the first account becomes admin):")
	fmt.Println()
	fmt.Println("    curl -s -X POST http://localhost:8080/api/v1/auth/plex \\")
	fmt.Println("      -H 'Content-Type: application/json' \\")
	fmt.Println("      -d '{\"token\":\"YOUR_PLEX_TOKEN\"}'")
	fmt.Println("    # → {\"token\":\"eyJ...\",\"user\":{...}}")
	fmt.Println()
	fmt.Println("  Step 2 — request an audiobook:")
	fmt.Println()
	fmt.Println("    export JWT=eyJ...")
	fmt.Println("    curl -s -X POST http://localhost:8080/api/v1/requests \\")
	fmt.Println("      -H \"Authorization: Bearer $JWT\" -H 'Content-Type: application/json' \\")
	fmt.Println("      -d '{\"asin\":\"B08G9PRS1K\",\"title\":\"Project Hail Mary\",\"author\":\"Andy Weir\",\"narrator\":\"Ray Porter\"}'")
	fmt.Println()
	fmt.Println("  Step 3 — approve it (REQUIRE_APPROVAL=true by default), then watch the worker:")
	fmt.Println()
	fmt.Println("    curl -s -X POST http://localhost:8080/api/v1/requests/REQUEST_ID/approve -H \"Authorization: Bearer $JWT\"")
	fmt.Println("    curl -s http://localhost:8080/api/v1/requests/REQUEST_ID -H \"Authorization: Bearer $JWT\"")
	fmt.Println()
	fmt.Println("  What to expect:")
	fmt.Println("    The worker picks up a search_indexers job, queries both indexers,")
	fmt.Println("    ranks the candidates and hands the winner to qBittorrent. With no")
	fmt.Println("    trackers configured the request parks as awaiting_search instead.")
	fmt.Println()
	fmt.Println("  Edit the seeded prowlarr row with your real URL and API key:")
	fmt.Println()
	fmt.Println("    curl -s http://localhost:8080/api/v1/settings/indexers -H \"Authorization: Bearer $JWT\"")
}
