package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/david/bid-finder/internal/db"
	"github.com/david/bid-finder/internal/ingest"
	"github.com/david/bid-finder/internal/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCMD().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCMD() *cobra.Command {
	root := &cobra.Command{
		Use:          "search",
		Short:        "Query solicitation platforms from the command line",
		SilenceUsage: true,
	}
	root.AddCommand(searchCMD(), platformsCMD(), healthCMD())
	return root
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadRegistry(path string) (*ingest.Registry, error) {
	configs, err := ingest.LoadSourceConfigs(path)
	if err != nil {
		return nil, err
	}
	return ingest.BuildRegistry(configs, nil)
}

func searchCMD() *cobra.Command {
	var (
		configPath string
		platforms  []string
		filters    models.SearchFilters
		postedFrom string
		active     bool
		limit      int
		timeout    time.Duration
		dedup      string
	)

	cmd := &cobra.Command{
		Use:   "run [keyword]",
		Short: "Fan a search out to the configured platforms",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				filters.Keyword = args[0]
			}
			if postedFrom != "" {
				t, err := time.Parse("2006-01-02", postedFrom)
				if err != nil {
					return fmt.Errorf("invalid --posted-from: %w", err)
				}
				filters.PostedFrom = &t
			}
			if cmd.Flags().Changed("active") {
				filters.Active = &active
			}

			reg, err := loadRegistry(configPath)
			if err != nil {
				return err
			}
			ids := make([]models.PlatformID, 0, len(platforms))
			for _, p := range platforms {
				ids = append(ids, models.PlatformID(strings.TrimSpace(p)))
			}
			if len(ids) == 0 {
				ids = reg.IDs()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			agg := ingest.NewAggregator(reg, ingest.DeduperByName(dedup), nil)
			res := agg.Search(ctx, filters, ids)

			printResults(res.Results, limit)
			printStatuses(res.Sources)
			fmt.Printf("Total: %d  Duplicates dropped: %d\n", len(res.Results), res.DuplicatesDropped)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", getenv("SOURCES_CONFIG", ""), "sources YAML file (embedded defaults when empty)")
	cmd.Flags().StringSliceVarP(&platforms, "platforms", "p", nil, "platform ids to query (default: all)")
	cmd.Flags().StringVar(&filters.NAICSCode, "naics", "", "NAICS code")
	cmd.Flags().StringVar(&filters.Agency, "agency", "", "agency name")
	cmd.Flags().StringVar(&filters.SetAside, "set-aside", "", "set-aside code")
	cmd.Flags().StringVar(&postedFrom, "posted-from", "", "earliest posted date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&active, "active", true, "only open solicitations")
	cmd.Flags().IntVar(&limit, "limit", 25, "rows to print")
	cmd.Flags().DurationVar(&timeout, "timeout", 90*time.Second, "overall deadline")
	cmd.Flags().StringVar(&dedup, "dedup", getenv("DEDUP_STRATEGY", ""), "title_agency or similarity")
	return cmd
}

func printResults(results []models.PlatformSolicitation, limit int) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Platform", "Title", "Agency", "Posted", "Response", "URL"})
	for i, r := range results {
		if limit > 0 && i >= limit {
			break
		}
		t.AppendRow(table.Row{
			r.PlatformID,
			ingest.TruncateText(r.Title, 60),
			ingest.TruncateText(r.Agency, 30),
			r.PostedDate,
			r.ResponseDate,
			r.URL,
		})
	}
	t.Render()
}

func printStatuses(sources map[models.PlatformID]models.SourceStatus) {
	ids := make([]string, 0, len(sources))
	for id := range sources {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Platform", "Status", "Count", "Duration (ms)", "Error"})
	for _, id := range ids {
		s := sources[models.PlatformID(id)]
		t.AppendRow(table.Row{id, s.Status, s.Count, s.DurationMS, s.Error})
	}
	t.Render()
}

func platformsCMD() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "platforms",
		Short: "List registered platforms",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry(configPath)
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"ID", "Name", "Enabled", "Configured"})
			for _, p := range reg.Platforms() {
				t.AppendRow(table.Row{p.ID, p.Name, p.Enabled, p.Configured})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", getenv("SOURCES_CONFIG", ""), "sources YAML file")
	return cmd
}

func healthCMD() *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Summarize recorded per-source outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := db.ConnectURL(cmd.Context(), getenv("DATABASE_URL", db.DatabaseURL()))
			if err != nil {
				return err
			}
			defer pool.Close()

			health, err := db.NewStore(pool).GetSourceHealth(cmd.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Platform", "Runs", "Failures", "Avg (ms)", "Last Error"})
			for _, h := range health {
				t.AppendRow(table.Row{h.PlatformID, h.Runs, h.Failures, fmt.Sprintf("%.0f", h.AvgDurationMS), ingest.TruncateText(h.LastError, 60)})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 24, "look-back window")
	return cmd
}
