package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/david/bid-finder/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sol(platform models.PlatformID, title, agency string) models.PlatformSolicitation {
	return models.PlatformSolicitation{
		Solicitation: models.Solicitation{ID: title, Title: title, Agency: agency, Source: string(platform)},
		PlatformID:   platform,
		ExternalID:   title,
	}
}

func staticAdapter(items ...models.PlatformSolicitation) Adapter {
	return AdapterFunc(func(context.Context, models.SearchFilters) ([]models.PlatformSolicitation, error) {
		return items, nil
	})
}

func failingAdapter(err error) Adapter {
	return AdapterFunc(func(context.Context, models.SearchFilters) ([]models.PlatformSolicitation, error) {
		return nil, err
	})
}

func newTestRegistry(adapters map[models.PlatformID]Adapter) *Registry {
	reg := NewRegistry()
	for id, a := range adapters {
		reg.Register(SourceConfig{ID: id, Name: string(id), BaseURL: "https://bids.example.gov", APIKey: "k"}, a)
	}
	return reg
}

var allPlatforms = []models.PlatformID{models.PlatformSAM, models.PlatformFPDS, models.PlatformLocalBids}

func TestAggregator_EmptyPlatformList(t *testing.T) {
	reg := newTestRegistry(map[models.PlatformID]Adapter{
		models.PlatformSAM: staticAdapter(sol(models.PlatformSAM, "a", "x")),
	})
	agg := NewAggregator(reg, nil, nil)

	got := agg.SearchPlatforms(context.Background(), models.SearchFilters{Keyword: "anything"}, nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestAggregator_AllSourcesFail(t *testing.T) {
	reg := newTestRegistry(map[models.PlatformID]Adapter{
		models.PlatformSAM:       failingAdapter(errors.New("dns failure")),
		models.PlatformFPDS:      failingAdapter(errors.New("bad xml")),
		models.PlatformLocalBids: failingAdapter(errors.New("connection refused")),
	})
	agg := NewAggregator(reg, nil, nil)

	res := agg.Search(context.Background(), models.SearchFilters{}, allPlatforms)
	assert.NotNil(t, res.Results)
	assert.Empty(t, res.Results)
	require.Len(t, res.Sources, 3)
	for _, id := range allPlatforms {
		assert.Equal(t, models.SourceStatusFailed, res.Sources[id].Status, id)
		assert.NotEmpty(t, res.Sources[id].Error, id)
	}
}

func TestAggregator_DedupKeepsFirstInRequestOrder(t *testing.T) {
	reg := newTestRegistry(map[models.PlatformID]Adapter{
		models.PlatformSAM:       staticAdapter(sol(models.PlatformSAM, "Road Repair", "City")),
		models.PlatformLocalBids: staticAdapter(sol(models.PlatformLocalBids, "ROAD REPAIR", "city")),
	})
	agg := NewAggregator(reg, nil, nil)

	res := agg.Search(context.Background(), models.SearchFilters{}, []models.PlatformID{models.PlatformSAM, models.PlatformLocalBids})
	require.Len(t, res.Results, 1)
	assert.Equal(t, models.PlatformSAM, res.Results[0].PlatformID)
	assert.Equal(t, 1, res.DuplicatesDropped)

	res = agg.Search(context.Background(), models.SearchFilters{}, []models.PlatformID{models.PlatformLocalBids, models.PlatformSAM})
	require.Len(t, res.Results, 1)
	assert.Equal(t, models.PlatformLocalBids, res.Results[0].PlatformID)
}

func TestAggregator_PreservesAdapterOrdering(t *testing.T) {
	reg := newTestRegistry(map[models.PlatformID]Adapter{
		models.PlatformSAM:  staticAdapter(sol(models.PlatformSAM, "s1", "a"), sol(models.PlatformSAM, "s2", "a")),
		models.PlatformFPDS: staticAdapter(sol(models.PlatformFPDS, "f1", "a"), sol(models.PlatformFPDS, "f2", "a")),
	})
	agg := NewAggregator(reg, nil, nil)

	got := agg.SearchPlatforms(context.Background(), models.SearchFilters{}, []models.PlatformID{models.PlatformSAM, models.PlatformFPDS})
	order := make([]string, 0, len(got))
	for _, s := range got {
		order = append(order, s.Title)
	}
	assert.Equal(t, []string{"s1", "s2", "f1", "f2"}, order)
}

func TestAggregator_UnknownPlatformContributesNothing(t *testing.T) {
	reg := newTestRegistry(map[models.PlatformID]Adapter{
		models.PlatformSAM: staticAdapter(sol(models.PlatformSAM, "a", "x")),
	})
	reg.Register(SourceConfig{ID: models.PlatformFPDS, Disabled: true}, staticAdapter(sol(models.PlatformFPDS, "b", "y")))
	agg := NewAggregator(reg, nil, nil)

	res := agg.Search(context.Background(), models.SearchFilters{}, []models.PlatformID{"nope", models.PlatformSAM, models.PlatformFPDS})
	require.Len(t, res.Results, 1)
	assert.Equal(t, models.SourceStatusUnknown, res.Sources["nope"].Status)
	assert.Equal(t, models.SourceStatusUnknown, res.Sources[models.PlatformFPDS].Status)
	assert.Equal(t, models.SourceStatusOK, res.Sources[models.PlatformSAM].Status)
	assert.Equal(t, 1, res.Sources[models.PlatformSAM].Count)
}

func TestAggregator_DuplicateIDsQueriedOnce(t *testing.T) {
	var calls atomic.Int32
	reg := newTestRegistry(map[models.PlatformID]Adapter{
		models.PlatformSAM: AdapterFunc(func(context.Context, models.SearchFilters) ([]models.PlatformSolicitation, error) {
			calls.Add(1)
			return []models.PlatformSolicitation{sol(models.PlatformSAM, "a", "x")}, nil
		}),
	})
	agg := NewAggregator(reg, nil, nil)

	got := agg.SearchPlatforms(context.Background(), models.SearchFilters{}, []models.PlatformID{models.PlatformSAM, models.PlatformSAM})
	assert.Len(t, got, 1)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAggregator_PanicIsContained(t *testing.T) {
	reg := newTestRegistry(map[models.PlatformID]Adapter{
		models.PlatformSAM: AdapterFunc(func(context.Context, models.SearchFilters) ([]models.PlatformSolicitation, error) {
			panic("nil map write")
		}),
		models.PlatformFPDS: staticAdapter(sol(models.PlatformFPDS, "f1", "a")),
	})
	agg := NewAggregator(reg, nil, nil)

	res := agg.Search(context.Background(), models.SearchFilters{}, []models.PlatformID{models.PlatformSAM, models.PlatformFPDS})
	require.Len(t, res.Results, 1)
	assert.Equal(t, models.SourceStatusFailed, res.Sources[models.PlatformSAM].Status)
	assert.Contains(t, res.Sources[models.PlatformSAM].Error, "nil map write")
}

func TestAggregator_CallerDeadlineBoundsSlowSource(t *testing.T) {
	reg := newTestRegistry(map[models.PlatformID]Adapter{
		models.PlatformSAM: AdapterFunc(func(ctx context.Context, _ models.SearchFilters) ([]models.PlatformSolicitation, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		models.PlatformFPDS: staticAdapter(sol(models.PlatformFPDS, "fast", "a")),
	})
	agg := NewAggregator(reg, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := agg.Search(ctx, models.SearchFilters{}, []models.PlatformID{models.PlatformSAM, models.PlatformFPDS})
	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "fast", res.Results[0].Title)
	assert.Equal(t, models.SourceStatusFailed, res.Sources[models.PlatformSAM].Status)
}

func TestAggregator_PerSourceTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(SourceConfig{ID: models.PlatformSAM, APIKey: "k", Fetch: FetchConfig{TimeoutSeconds: 1}},
		AdapterFunc(func(ctx context.Context, _ models.SearchFilters) ([]models.PlatformSolicitation, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))
	agg := NewAggregator(reg, nil, nil)

	res := agg.Search(context.Background(), models.SearchFilters{}, []models.PlatformID{models.PlatformSAM})
	assert.Empty(t, res.Results)
	assert.Equal(t, models.SourceStatusFailed, res.Sources[models.PlatformSAM].Status)
	assert.Contains(t, res.Sources[models.PlatformSAM].Error, "deadline exceeded")
}

func TestAggregator_InjectedDeduper(t *testing.T) {
	reg := newTestRegistry(map[models.PlatformID]Adapter{
		models.PlatformSAM: staticAdapter(sol(models.PlatformSAM, "a", "x"), sol(models.PlatformSAM, "b", "x")),
	})
	keepFirst := DedupFunc(func(items []models.PlatformSolicitation) []models.PlatformSolicitation {
		return items[:1]
	})
	agg := NewAggregator(reg, keepFirst, nil)

	res := agg.Search(context.Background(), models.SearchFilters{}, []models.PlatformID{models.PlatformSAM})
	require.Len(t, res.Results, 1)
	assert.Equal(t, 1, res.DuplicatesDropped)
}

func TestAggregator_RecordsMetrics(t *testing.T) {
	reg := newTestRegistry(map[models.PlatformID]Adapter{
		models.PlatformSAM:  staticAdapter(sol(models.PlatformSAM, "dup", "x"), sol(models.PlatformSAM, "dup", "x")),
		models.PlatformFPDS: failingAdapter(errors.New("boom")),
	})
	metrics := NewMetrics(prometheus.NewRegistry())
	agg := NewAggregator(reg, nil, metrics)

	agg.Search(context.Background(), models.SearchFilters{}, []models.PlatformID{models.PlatformSAM, models.PlatformFPDS})

	assert.Equal(t, 1.0, counterValue(t, metrics.requests.WithLabelValues("sam_gov", "ok")))
	assert.Equal(t, 1.0, counterValue(t, metrics.requests.WithLabelValues("fpds", "failed")))
	assert.Equal(t, 2.0, counterValue(t, metrics.results.WithLabelValues("sam_gov")))
	assert.Equal(t, 1.0, counterValue(t, metrics.duplicates))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

// Source A returns three items, Source B two (one sharing title and agency
// with an A item), Source C has no endpoint configured.
func TestAggregator_ThreeSourceScenario(t *testing.T) {
	samSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"opportunitiesData": [
			{"noticeId": "1", "title": "Cloud Hosting", "department": "DEPT OF DEFENSE"},
			{"noticeId": "2", "title": "Data Analytics Platform", "department": "DEPT OF DEFENSE"},
			{"noticeId": "3", "title": "Cyber Assessment", "department": "DEPT OF ENERGY"}
		]}`))
	}))
	defer samSrv.Close()

	fpdsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<feed xmlns="http://www.w3.org/2005/Atom" xmlns:ns1="https://www.fpds.gov/FPDS">
			<entry><title>CLOUD HOSTING</title><link rel="alternate" href="https://www.fpds.gov/a"/>
				<content><ns1:award><ns1:contractingOfficeAgencyID name="Dept of Defense">9700</ns1:contractingOfficeAgencyID></ns1:award></content>
			</entry>
			<entry><title>Help Desk</title><link rel="alternate" href="https://www.fpds.gov/b"/>
				<content><ns1:award><ns1:contractingOfficeAgencyID name="DEPT OF DEFENSE">9700</ns1:contractingOfficeAgencyID></ns1:award></content>
			</entry>
		</feed>`))
	}))
	defer fpdsSrv.Close()

	reg, err := BuildRegistry([]SourceConfig{
		{ID: models.PlatformSAM, BaseURL: samSrv.URL, APIKey: "k"},
		{ID: models.PlatformFPDS, BaseURL: fpdsSrv.URL},
		{ID: models.PlatformLocalBids},
	}, func(cfg SourceConfig) Fetcher {
		switch cfg.ID {
		case models.PlatformSAM:
			return &HTTPFetcher{Client: samSrv.Client()}
		case models.PlatformFPDS:
			return &HTTPFetcher{Client: fpdsSrv.Client()}
		}
		return &HTTPFetcher{}
	})
	require.NoError(t, err)

	active := true
	res := NewAggregator(reg, nil, nil).Search(context.Background(),
		models.SearchFilters{NAICSCode: "541512", Active: &active}, allPlatforms)

	assert.Len(t, res.Results, 4)
	assert.Equal(t, 1, res.DuplicatesDropped)
	assert.Equal(t, 3, res.Sources[models.PlatformSAM].Count)
	assert.Equal(t, 2, res.Sources[models.PlatformFPDS].Count)
	assert.Equal(t, 0, res.Sources[models.PlatformLocalBids].Count)
	assert.Equal(t, models.SourceStatusNotConfigured, res.Sources[models.PlatformLocalBids].Status)
	assert.Equal(t, models.PlatformSAM, res.Results[0].PlatformID)
}

func TestAggregator_SourceAServerErrorKeepsOthers(t *testing.T) {
	samSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer samSrv.Close()

	reg := newTestRegistry(map[models.PlatformID]Adapter{
		models.PlatformFPDS:      staticAdapter(sol(models.PlatformFPDS, "f1", "a"), sol(models.PlatformFPDS, "f2", "a")),
		models.PlatformLocalBids: staticAdapter(sol(models.PlatformLocalBids, "l1", "b")),
	})
	reg.Register(SourceConfig{ID: models.PlatformSAM, APIKey: "k"},
		NewSAMAdapter(SourceConfig{BaseURL: samSrv.URL, APIKey: "k"}, &HTTPFetcher{Client: samSrv.Client()}))

	res := NewAggregator(reg, nil, nil).Search(context.Background(), models.SearchFilters{}, allPlatforms)
	assert.Len(t, res.Results, 3)
	assert.Equal(t, models.SourceStatusOK, res.Sources[models.PlatformSAM].Status)
	assert.Equal(t, 0, res.Sources[models.PlatformSAM].Count)
}

func TestAggregator_NotConfiguredSourceIsNotAFailure(t *testing.T) {
	var called atomic.Bool
	reg := newTestRegistry(map[models.PlatformID]Adapter{
		models.PlatformFPDS: staticAdapter(sol(models.PlatformFPDS, "f1", "a")),
	})
	reg.Register(SourceConfig{ID: models.PlatformSAM}, AdapterFunc(
		func(context.Context, models.SearchFilters) ([]models.PlatformSolicitation, error) {
			called.Store(true)
			return nil, errors.New("should not be called")
		}))
	reg.Register(SourceConfig{ID: models.PlatformLocalBids, APIKey: "only-a-key"}, staticAdapter(sol(models.PlatformLocalBids, "l1", "b")))

	metrics := NewMetrics(prometheus.NewRegistry())
	res := NewAggregator(reg, nil, metrics).Search(context.Background(), models.SearchFilters{}, allPlatforms)

	assert.False(t, called.Load())
	require.Len(t, res.Results, 1)
	for _, id := range []models.PlatformID{models.PlatformSAM, models.PlatformLocalBids} {
		status := res.Sources[id]
		assert.Equal(t, models.SourceStatusNotConfigured, status.Status, id)
		assert.Equal(t, 0, status.Count, id)
		assert.Empty(t, status.Error, id)
	}
	assert.Equal(t, models.SourceStatusOK, res.Sources[models.PlatformFPDS].Status)
	assert.Equal(t, 1.0, counterValue(t, metrics.requests.WithLabelValues("sam_gov", models.SourceStatusNotConfigured)))
}
