package main

import (
	"context"
	"fmt"
	"log"

	"github.com/david/bid-finder/internal/db"
)

func main() {
	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	var runs, sources, failed int
	err = pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM search_runs),
			(SELECT count(*) FROM search_run_sources),
			(SELECT count(*) FROM search_run_sources WHERE status = 'failed')
	`).Scan(&runs, &sources, &failed)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	fmt.Printf("Search runs: %d\n", runs)
	fmt.Printf("Source statuses: %d\n", sources)
	fmt.Printf("Failed source calls: %d\n", failed)
}
