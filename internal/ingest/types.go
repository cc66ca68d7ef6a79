package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/david/bid-finder/internal/models"
)

// ErrNotConfigured marks a source that is missing a credential or endpoint.
// Adapters treat it as "no results", never as a failure.
var ErrNotConfigured = errors.New("source not configured")

// Adapter translates canonical filters into one platform's query protocol and
// maps the response back into canonical records. An adapter returns an empty,
// non-nil slice for "no results" and for degraded upstream responses; it only
// returns an error for transport failures or bodies it cannot parse at all.
type Adapter interface {
	Search(ctx context.Context, filters models.SearchFilters) ([]models.PlatformSolicitation, error)
}

// AdapterFunc lets a plain function satisfy Adapter.
type AdapterFunc func(ctx context.Context, filters models.SearchFilters) ([]models.PlatformSolicitation, error)

func (f AdapterFunc) Search(ctx context.Context, filters models.SearchFilters) ([]models.PlatformSolicitation, error) {
	return f(ctx, filters)
}

// noopAdapter backs unknown or disabled platform ids.
var noopAdapter = AdapterFunc(func(context.Context, models.SearchFilters) ([]models.PlatformSolicitation, error) {
	return []models.PlatformSolicitation{}, nil
})

// FetchedDocument represents the raw result of a fetch operation.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
}

// OK reports whether the upstream answered with a 2xx status.
func (d *FetchedDocument) OK() bool {
	return d.StatusCode >= 200 && d.StatusCode < 300
}

// Fetcher issues a GET and hands back the response whatever its status code.
// Callers own Body and must close it.
type Fetcher interface {
	Fetch(ctx context.Context, url string, header http.Header) (*FetchedDocument, error)
}

// StatusError describes a non-2xx upstream answer.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

// statusError drains up to 512 bytes of the body for the log line.
func statusError(doc *FetchedDocument) *StatusError {
	snippet, _ := io.ReadAll(io.LimitReader(doc.Body, 512))
	return &StatusError{StatusCode: doc.StatusCode, URL: doc.URL, Body: cleanText(string(snippet))}
}
