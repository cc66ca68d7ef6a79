package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/david/bid-finder/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRunNotFound is returned by GetSearchRun for an unknown id.
var ErrRunNotFound = errors.New("search run not found")

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type RunListParams struct {
	Platform models.PlatformID // only runs that queried this platform
	Status   string            // only runs where some source ended in this status
	Since    *time.Time
	Limit    int
	Offset   int
}

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

const runCols = `id::text, started_at, completed_at, filters, platforms, total_results, duplicates_dropped`

// RecordSearchRun stores the run header and one row per source status in a
// single transaction.
func (s *Store) RecordSearchRun(ctx context.Context, run models.SearchRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	filters, err := json.Marshal(run.Filters)
	if err != nil {
		return fmt.Errorf("encoding filters: %w", err)
	}
	platforms := make([]string, 0, len(run.Platforms))
	for _, p := range run.Platforms {
		platforms = append(platforms, string(p))
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO search_runs (id, started_at, completed_at, filters, platforms, total_results, duplicates_dropped)
			VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
		`, run.ID.String(), run.StartedAt, run.CompletedAt, filters, platforms, run.TotalResults, run.DuplicatesDropped)
		if err != nil {
			return fmt.Errorf("inserting search run: %w", err)
		}

		batch := &pgx.Batch{}
		for _, src := range run.Sources {
			batch.Queue(`
				INSERT INTO search_run_sources (run_id, platform_id, status, result_count, error, duration_ms)
				VALUES ($1::uuid, $2, $3, $4, NULLIF($5, ''), $6)
			`, run.ID.String(), string(src.PlatformID), src.Status, src.Count, src.Error, src.DurationMS)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting source statuses: %w", err)
		}
		return nil
	})
}

// buildRunListQuery returns the SELECT for ListSearchRuns and its arguments.
func buildRunListQuery(params RunListParams) (string, []interface{}) {
	where := "WHERE 1=1"
	var args []interface{}
	argIdx := 1

	if params.Platform != "" {
		where += fmt.Sprintf(" AND $%d = ANY(platforms)", argIdx)
		args = append(args, string(params.Platform))
		argIdx++
	}
	if params.Status != "" {
		where += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM search_run_sources s WHERE s.run_id = search_runs.id AND s.status = $%d)", argIdx)
		args = append(args, params.Status)
		argIdx++
	}
	if params.Since != nil && !params.Since.IsZero() {
		where += fmt.Sprintf(" AND started_at >= $%d", argIdx)
		args = append(args, *params.Since)
		argIdx++
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	sql := fmt.Sprintf("SELECT %s FROM search_runs %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d",
		runCols, where, argIdx, argIdx+1)
	args = append(args, limit, offset)
	return sql, args
}

func scanRun(scan func(dest ...interface{}) error) (models.SearchRun, error) {
	var run models.SearchRun
	var id string
	var filtersRaw []byte
	var platforms []string

	if err := scan(&id, &run.StartedAt, &run.CompletedAt, &filtersRaw, &platforms, &run.TotalResults, &run.DuplicatesDropped); err != nil {
		return run, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return run, fmt.Errorf("invalid run id %q: %w", id, err)
	}
	run.ID = parsed

	if len(filtersRaw) > 0 {
		if err := json.Unmarshal(filtersRaw, &run.Filters); err != nil {
			return run, fmt.Errorf("decoding filters for run %s: %w", id, err)
		}
	}
	run.Platforms = make([]models.PlatformID, 0, len(platforms))
	for _, p := range platforms {
		run.Platforms = append(run.Platforms, models.PlatformID(p))
	}
	return run, nil
}

// ListSearchRuns returns the most recent runs first, each with its source
// statuses attached.
func (s *Store) ListSearchRuns(ctx context.Context, params RunListParams) ([]models.SearchRun, error) {
	sql, args := buildRunListQuery(params)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing search runs: %w", err)
	}
	defer rows.Close()

	runs := []models.SearchRun{}
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing search runs: %w", err)
	}

	if err := s.attachSources(ctx, runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *Store) GetSearchRun(ctx context.Context, id uuid.UUID) (*models.SearchRun, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM search_runs WHERE id = $1::uuid", runCols), id.String())
	run, err := scanRun(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading search run %s: %w", id, err)
	}

	runs := []models.SearchRun{run}
	if err := s.attachSources(ctx, runs); err != nil {
		return nil, err
	}
	return &runs[0], nil
}

func (s *Store) attachSources(ctx context.Context, runs []models.SearchRun) error {
	if len(runs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(runs))
	index := make(map[string]int, len(runs))
	for i, r := range runs {
		ids = append(ids, r.ID.String())
		index[r.ID.String()] = i
	}

	rows, err := s.pool.Query(ctx, `
		SELECT run_id::text, platform_id, status, result_count, COALESCE(error, ''), duration_ms
		FROM search_run_sources
		WHERE run_id = ANY($1::uuid[])
		ORDER BY platform_id
	`, ids)
	if err != nil {
		return fmt.Errorf("loading source statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var runID, platform string
		var src models.SourceStatus
		if err := rows.Scan(&runID, &platform, &src.Status, &src.Count, &src.Error, &src.DurationMS); err != nil {
			return fmt.Errorf("scanning source status: %w", err)
		}
		src.PlatformID = models.PlatformID(platform)
		if i, ok := index[strings.ToLower(runID)]; ok {
			runs[i].Sources = append(runs[i].Sources, src)
		}
	}
	return rows.Err()
}

// SourceHealth summarizes recent outcomes per platform.
type SourceHealth struct {
	PlatformID    models.PlatformID `json:"platform_id"`
	Runs          int               `json:"runs"`
	Failures      int               `json:"failures"`
	AvgDurationMS float64           `json:"avg_duration_ms"`
	LastError     string            `json:"last_error,omitempty"`
}

// GetSourceHealth aggregates source statuses for runs started after since.
func (s *Store) GetSourceHealth(ctx context.Context, since time.Time) ([]SourceHealth, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.platform_id,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE s.status = 'failed'),
		       COALESCE(AVG(s.duration_ms), 0)::float8,
		       COALESCE((ARRAY_AGG(s.error ORDER BY r.started_at DESC) FILTER (WHERE s.error IS NOT NULL))[1], '')
		FROM search_run_sources s
		JOIN search_runs r ON r.id = s.run_id
		WHERE r.started_at >= $1
		GROUP BY s.platform_id
		ORDER BY s.platform_id
	`, since)
	if err != nil {
		return nil, fmt.Errorf("loading source health: %w", err)
	}
	defer rows.Close()

	out := []SourceHealth{}
	for rows.Next() {
		var h SourceHealth
		var platform string
		if err := rows.Scan(&platform, &h.Runs, &h.Failures, &h.AvgDurationMS, &h.LastError); err != nil {
			return nil, fmt.Errorf("scanning source health: %w", err)
		}
		h.PlatformID = models.PlatformID(platform)
		out = append(out, h)
	}
	return out, rows.Err()
}
