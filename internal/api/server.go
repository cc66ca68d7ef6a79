package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/david/bid-finder/internal/db"
	"github.com/david/bid-finder/internal/ingest"
	"github.com/david/bid-finder/internal/models"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultSearchTimeout = 60 * time.Second
	recordTimeout        = 5 * time.Second
)

// RunStore persists search run audits. *db.Store satisfies it.
type RunStore interface {
	RecordSearchRun(ctx context.Context, run models.SearchRun) error
	ListSearchRuns(ctx context.Context, params db.RunListParams) ([]models.SearchRun, error)
	GetSearchRun(ctx context.Context, id uuid.UUID) (*models.SearchRun, error)
	GetSourceHealth(ctx context.Context, since time.Time) ([]db.SourceHealth, error)
}

type Options struct {
	Runs          RunStore            // nil disables the run audit
	SearchTimeout time.Duration       // Default: 60s
	Gatherer      prometheus.Gatherer // Default: prometheus.DefaultGatherer
}

type Server struct {
	Aggregator *ingest.Aggregator
	Runs       RunStore
	Echo       *echo.Echo

	searchTimeout time.Duration
}

func NewServer(agg *ingest.Aggregator, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// CORS: allow frontend origins from env or default to localhost
	allowedOrigins := []string{"http://localhost:4200"}
	allowedOrigins = append(allowedOrigins, splitCSV(os.Getenv("CORS_ORIGINS"))...)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = defaultSearchTimeout
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		Aggregator:    agg,
		Runs:          opts.Runs,
		Echo:          e,
		searchTimeout: opts.SearchTimeout,
	}

	s.routes(opts.Gatherer)
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.Echo.GET("/health", s.handleHealth)
	s.Echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := s.Echo.Group("/api/v1")
	api.GET("/platforms", s.handleListPlatforms)
	api.GET("/solicitations/search", s.handleSearch)
	api.POST("/solicitations/search", s.handleSearchJSON)

	runs := api.Group("/search-runs")
	runs.GET("", s.handleListRuns)
	runs.GET("/health", s.handleSourceHealth)
	runs.GET("/:id", s.handleGetRun)
}

func splitCSV(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleListPlatforms(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Aggregator.Registry().Platforms())
}

// SearchRequest is the POST body for a search.
type SearchRequest struct {
	Filters   models.SearchFilters `json:"filters"`
	Platforms []models.PlatformID  `json:"platforms"`
}

type SearchResponse struct {
	Results           []models.PlatformSolicitation             `json:"results"`
	Total             int                                       `json:"total"`
	DuplicatesDropped int                                       `json:"duplicates_dropped"`
	Sources           map[models.PlatformID]models.SourceStatus `json:"sources"`
	RunID             *uuid.UUID                                `json:"run_id,omitempty"`
}

func (s *Server) handleSearch(c echo.Context) error {
	filters, err := parseSearchFilters(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	var platforms []models.PlatformID
	for _, p := range splitCSV(c.QueryParam("platforms")) {
		platforms = append(platforms, models.PlatformID(p))
	}
	return s.runSearch(c, filters, platforms)
}

func (s *Server) handleSearchJSON(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	return s.runSearch(c, req.Filters, req.Platforms)
}

// runSearch queries every enabled platform when none are named.
func (s *Server) runSearch(c echo.Context, filters models.SearchFilters, platforms []models.PlatformID) error {
	if len(platforms) == 0 {
		platforms = s.Aggregator.Registry().IDs()
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.searchTimeout)
	defer cancel()

	started := time.Now().UTC()
	result := s.Aggregator.Search(ctx, filters, platforms)

	resp := SearchResponse{
		Results:           result.Results,
		Total:             len(result.Results),
		DuplicatesDropped: result.DuplicatesDropped,
		Sources:           result.Sources,
	}

	if s.Runs != nil {
		run := models.SearchRun{
			ID:                uuid.New(),
			StartedAt:         started,
			CompletedAt:       time.Now().UTC(),
			Filters:           filters,
			Platforms:         platforms,
			TotalResults:      resp.Total,
			DuplicatesDropped: resp.DuplicatesDropped,
			Sources:           sortedStatuses(result.Sources),
		}
		recCtx, recCancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), recordTimeout)
		defer recCancel()
		if err := s.Runs.RecordSearchRun(recCtx, run); err != nil {
			log.Printf("[API] Failed to record search run %s: %v", run.ID, err)
		} else {
			resp.RunID = &run.ID
		}
	}

	return c.JSON(http.StatusOK, resp)
}

func sortedStatuses(statuses map[models.PlatformID]models.SourceStatus) []models.SourceStatus {
	out := make([]models.SourceStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlatformID < out[j].PlatformID })
	return out
}

// parseSearchFilters reads the canonical filters from query parameters.
// Malformed dates, booleans and numbers are rejected rather than ignored.
func parseSearchFilters(c echo.Context) (models.SearchFilters, error) {
	f := models.SearchFilters{
		Keyword:            strings.TrimSpace(firstParam(c, "keyword", "q")),
		Agency:             strings.TrimSpace(c.QueryParam("agency")),
		Office:             strings.TrimSpace(c.QueryParam("office")),
		SolicitationNumber: strings.TrimSpace(c.QueryParam("solicitation_number")),
		NoticeID:           strings.TrimSpace(c.QueryParam("notice_id")),
		NAICSCode:          strings.TrimSpace(firstParam(c, "naics_code", "naics")),
		SetAside:           strings.TrimSpace(c.QueryParam("set_aside")),
	}

	dates := []struct {
		param string
		dest  **time.Time
	}{
		{"posted_from", &f.PostedFrom},
		{"posted_to", &f.PostedTo},
		{"response_from", &f.ResponseFrom},
		{"response_to", &f.ResponseTo},
	}
	for _, d := range dates {
		t, err := parseDateParam(c.QueryParam(d.param))
		if err != nil {
			return f, fmt.Errorf("invalid %s: %w", d.param, err)
		}
		*d.dest = t
	}

	if raw := c.QueryParam("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, fmt.Errorf("invalid active: %q", raw)
		}
		f.Active = &v
	}

	for param, dest := range map[string]*int{"page": &f.Page, "page_size": &f.PageSize} {
		raw := c.QueryParam(param)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid %s: %q", param, raw)
		}
		*dest = n
	}
	return f, nil
}

func firstParam(c echo.Context, names ...string) string {
	for _, n := range names {
		if v := c.QueryParam(n); v != "" {
			return v
		}
	}
	return ""
}

// parseDateParam accepts YYYY-MM-DD or RFC 3339.
func parseDateParam(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", raw)
	}
	return &t, nil
}

func (s *Server) handleListRuns(c echo.Context) error {
	if s.Runs == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Search run audit is not enabled"})
	}

	params := db.RunListParams{
		Platform: models.PlatformID(c.QueryParam("platform")),
		Status:   c.QueryParam("status"),
	}
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 {
		params.Limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		params.Offset = o
	}
	since, err := parseDateParam(c.QueryParam("since"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	params.Since = since

	runs, err := s.Runs.ListSearchRuns(c.Request().Context(), params)
	if err != nil {
		c.Logger().Errorf("Failed to list search runs: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleGetRun(c echo.Context) error {
	if s.Runs == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Search run audit is not enabled"})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid run id"})
	}

	run, err := s.Runs.GetSearchRun(c.Request().Context(), id)
	if errors.Is(err, db.ErrRunNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	if err != nil {
		c.Logger().Errorf("Failed to load search run %s: %v", id, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleSourceHealth(c echo.Context) error {
	if s.Runs == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Search run audit is not enabled"})
	}
	hours := 24
	if h, err := strconv.Atoi(c.QueryParam("hours")); err == nil && h > 0 && h <= 24*30 {
		hours = h
	}

	health, err := s.Runs.GetSourceHealth(c.Request().Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		c.Logger().Errorf("Failed to load source health: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, health)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}
