package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/david/bid-finder/internal/db"
	"github.com/jedib0t/go-pretty/v6/table"
)

func main() {
	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	runs, err := db.NewStore(pool).ListSearchRuns(ctx, db.RunListParams{Limit: 10})
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Run", "Keyword", "Platforms", "Results", "Dupes", "Sources", "Duration", "Started At"})

	for _, run := range runs {
		var sources []string
		for _, src := range run.Sources {
			sources = append(sources, fmt.Sprintf("%s=%s/%d", src.PlatformID, src.Status, src.Count))
		}
		platforms := make([]string, 0, len(run.Platforms))
		for _, p := range run.Platforms {
			platforms = append(platforms, string(p))
		}

		t.AppendRow(table.Row{
			run.ID.String()[:8],
			run.Filters.Keyword,
			strings.Join(platforms, ","),
			run.TotalResults,
			run.DuplicatesDropped,
			strings.Join(sources, " "),
			run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String(),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	t.Render()
}
