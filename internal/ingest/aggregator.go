package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/david/bid-finder/internal/models"
	"golang.org/x/sync/errgroup"
)

// AggregateResult is the merged output of one fan-out plus what happened to
// each requested platform.
type AggregateResult struct {
	Results           []models.PlatformSolicitation             `json:"results"`
	Sources           map[models.PlatformID]models.SourceStatus `json:"sources"`
	DuplicatesDropped int                                       `json:"duplicates_dropped"`
}

// Aggregator fans a search out to every requested platform, waits for all of
// them, concatenates the successful lists in request order and deduplicates.
// It holds no per-search state and is safe for concurrent use.
type Aggregator struct {
	registry *Registry
	deduper  Deduper
	metrics  *Metrics
}

func NewAggregator(registry *Registry, deduper Deduper, metrics *Metrics) *Aggregator {
	if registry == nil {
		registry = NewRegistry()
	}
	if deduper == nil {
		deduper = TitleAgencyDeduper{}
	}
	return &Aggregator{registry: registry, deduper: deduper, metrics: metrics}
}

// Registry exposes the platform table the aggregator resolves against.
func (a *Aggregator) Registry() *Registry {
	return a.registry
}

// SearchPlatforms returns the deduplicated results only. It never fails: an
// empty id list, or every source failing, gives an empty slice.
func (a *Aggregator) SearchPlatforms(ctx context.Context, filters models.SearchFilters, ids []models.PlatformID) []models.PlatformSolicitation {
	return a.Search(ctx, filters, ids).Results
}

type sourceOutcome struct {
	items  []models.PlatformSolicitation
	status models.SourceStatus
}

func (a *Aggregator) Search(ctx context.Context, filters models.SearchFilters, ids []models.PlatformID) AggregateResult {
	ids = uniqueIDs(ids)
	result := AggregateResult{
		Results: []models.PlatformSolicitation{},
		Sources: make(map[models.PlatformID]models.SourceStatus, len(ids)),
	}
	if len(ids) == 0 {
		return result
	}

	// Each slot is written by exactly one goroutine.
	outcomes := make([]sourceOutcome, len(ids))

	// Branches never return an error, so one failing source cannot cancel the
	// group context for the others.
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = a.runSource(gctx, id, filters)
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	for _, o := range outcomes {
		total += len(o.items)
	}
	merged := make([]models.PlatformSolicitation, 0, total)
	for _, o := range outcomes {
		merged = append(merged, o.items...)
		result.Sources[o.status.PlatformID] = o.status
	}

	deduped := a.deduper.Dedup(merged)
	if deduped == nil {
		deduped = []models.PlatformSolicitation{}
	}
	result.Results = deduped
	result.DuplicatesDropped = len(merged) - len(deduped)
	a.metrics.observeDuplicates(result.DuplicatesDropped)

	log.Printf("[Aggregator] %d platforms, %d records, %d duplicates dropped", len(ids), len(deduped), result.DuplicatesDropped)
	return result
}

func (a *Aggregator) runSource(ctx context.Context, id models.PlatformID, filters models.SearchFilters) sourceOutcome {
	start := time.Now()
	status := models.SourceStatus{PlatformID: id, Status: models.SourceStatusOK}

	adapter, cfg, ok := a.registry.Resolve(id)
	if !ok {
		log.Printf("[Aggregator] Unknown or disabled platform %q, contributing no results", id)
		status.Status = models.SourceStatusUnknown
		return sourceOutcome{items: []models.PlatformSolicitation{}, status: status}
	}
	if !isConfigured(cfg) {
		log.Printf("[Aggregator] Platform %s: %v", id, ErrNotConfigured)
		elapsed := time.Since(start)
		status.Status = models.SourceStatusNotConfigured
		status.DurationMS = elapsed.Milliseconds()
		a.metrics.observeSource(status, elapsed)
		return sourceOutcome{items: []models.PlatformSolicitation{}, status: status}
	}

	wrapped := WithRetry(WithTimeout(adapter, cfg.Fetch.Timeout()), RetryPolicy{MaxRetries: cfg.Fetch.MaxRetries})
	items, err := invokeAdapter(ctx, wrapped, filters)
	elapsed := time.Since(start)
	status.DurationMS = elapsed.Milliseconds()

	if err != nil {
		log.Printf("[Aggregator] Source %s failed after %s: %v", id, elapsed.Round(time.Millisecond), err)
		status.Status = models.SourceStatusFailed
		status.Error = err.Error()
		items = []models.PlatformSolicitation{}
	} else if items == nil {
		items = []models.PlatformSolicitation{}
	}
	status.Count = len(items)
	a.metrics.observeSource(status, elapsed)
	return sourceOutcome{items: items, status: status}
}

// invokeAdapter turns a panic inside an adapter into an error for that source.
func invokeAdapter(ctx context.Context, adapter Adapter, filters models.SearchFilters) (items []models.PlatformSolicitation, err error) {
	defer func() {
		if r := recover(); r != nil {
			items = nil
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	return adapter.Search(ctx, filters)
}

func uniqueIDs(ids []models.PlatformID) []models.PlatformID {
	seen := make(map[models.PlatformID]struct{}, len(ids))
	out := make([]models.PlatformID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
