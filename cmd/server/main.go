package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/david/bid-finder/internal/api"
	"github.com/david/bid-finder/internal/db"
	"github.com/david/bid-finder/internal/ingest"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	configs, err := ingest.LoadSourceConfigs(os.Getenv("SOURCES_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load sources: %v", err)
	}
	registry, err := ingest.BuildRegistry(configs, nil)
	if err != nil {
		log.Fatalf("Failed to build registry: %v", err)
	}
	for _, p := range registry.Platforms() {
		log.Printf("Platform %s (%s): enabled=%t configured=%t", p.ID, p.Name, p.Enabled, p.Configured)
	}

	metrics := ingest.NewMetrics(prometheus.DefaultRegisterer)
	aggregator := ingest.NewAggregator(registry, ingest.DeduperByName(os.Getenv("DEDUP_STRATEGY")), metrics)

	opts := api.Options{}
	if secs, err := strconv.Atoi(os.Getenv("AGGREGATE_TIMEOUT_SECONDS")); err == nil && secs > 0 {
		opts.SearchTimeout = time.Duration(secs) * time.Second
	}

	// The run audit is optional; without DATABASE_URL the service is stateless.
	if os.Getenv("DATABASE_URL") != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		pool, err := db.Connect(ctx)
		if err != nil {
			cancel()
			log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := db.ApplyMigrations(ctx, pool); err != nil {
			cancel()
			log.Fatalf("Migration failed: %v", err)
		}
		cancel()
		defer pool.Close()
		opts.Runs = db.NewStore(pool)
	} else {
		log.Print("DATABASE_URL not set; search run audit disabled")
	}

	srv := api.NewServer(aggregator, opts)

	go func() {
		log.Printf("Server starting on port %s...", port)
		if err := srv.Start(port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
