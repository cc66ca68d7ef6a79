package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/david/bid-finder/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fpdsFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:ns1="https://www.fpds.gov/FPDS">
  <title>FPDS-NG Search Results</title>
  <entry>
    <title>Cloud Migration Services</title>
    <link rel="alternate" type="text/html" href="https://www.fpds.gov/ezsearch/search.do?q=W91QUZ24C0001"/>
    <id>urn:fpds:W91QUZ24C0001</id>
    <updated>2024-01-12T10:00:00Z</updated>
    <content type="application/xml">
      <ns1:award>
        <ns1:awardID>
          <ns1:awardContractID>
            <ns1:PIID>W91QUZ24C0001</ns1:PIID>
          </ns1:awardContractID>
        </ns1:awardID>
        <ns1:relevantContractDates>
          <ns1:signedDate>2024-01-10 00:00:00</ns1:signedDate>
          <ns1:currentCompletionDate>2025-01-09 00:00:00</ns1:currentCompletionDate>
        </ns1:relevantContractDates>
        <ns1:dollarValues>
          <ns1:obligatedAmount>250000.00</ns1:obligatedAmount>
          <ns1:baseAndAllOptionsValue>1000000.00</ns1:baseAndAllOptionsValue>
        </ns1:dollarValues>
        <ns1:purchaserInformation>
          <ns1:contractingOfficeAgencyID name="DEPT OF DEFENSE">9700</ns1:contractingOfficeAgencyID>
          <ns1:contractingOfficeID name="W6QK ACC-APG">W91QUZ</ns1:contractingOfficeID>
        </ns1:purchaserInformation>
        <ns1:contractData>
          <ns1:descriptionOfContractRequirement>CLOUD MIGRATION</ns1:descriptionOfContractRequirement>
        </ns1:contractData>
        <ns1:productOrServiceInformation>
          <ns1:productOrServiceCode description="IT AND TELECOM">D302</ns1:productOrServiceCode>
          <ns1:principalNAICSCode description="COMPUTER SYSTEMS DESIGN SERVICES">541512</ns1:principalNAICSCode>
        </ns1:productOrServiceInformation>
        <ns1:vendor>
          <ns1:vendorHeader>
            <ns1:vendorName>ACME FEDERAL LLC</ns1:vendorName>
          </ns1:vendorHeader>
        </ns1:vendor>
      </ns1:award>
    </content>
  </entry>
  <entry>
    <title>Network Upgrade</title>
    <link rel="self" href="https://www.fpds.gov/self/2"/>
    <link href="https://www.fpds.gov/ezsearch/search.do?q=2"/>
    <id>urn:fpds:2</id>
  </entry>
</feed>`

func newFPDSTestAdapter(srv *httptest.Server) *FPDSAdapter {
	return NewFPDSAdapter(SourceConfig{
		ID:      models.PlatformFPDS,
		BaseURL: srv.URL + "/ezsearch/FEEDS/ATOM?FEEDNAME=PUBLIC",
	}, &HTTPFetcher{Client: srv.Client()})
}

func TestFPDSAdapter_ParsesFeed(t *testing.T) {
	var gotQuery, gotFeedName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotFeedName = r.URL.Query().Get("FEEDNAME")
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(fpdsFeed))
	}))
	defer srv.Close()

	got, err := newFPDSTestAdapter(srv).Search(context.Background(), models.SearchFilters{NAICSCode: "541512"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, `PRINCIPAL_NAICS_CODE:"541512"`, gotQuery)
	assert.Equal(t, "PUBLIC", gotFeedName)

	first := got[0]
	assert.Equal(t, "urn:fpds:W91QUZ24C0001", first.ID)
	assert.Equal(t, "Cloud Migration Services", first.Title)
	assert.Equal(t, "CLOUD MIGRATION", first.Description)
	assert.Equal(t, "DEPT OF DEFENSE", first.Agency)
	assert.Equal(t, "W6QK ACC-APG", first.Office)
	assert.Equal(t, "2024-01-10T00:00:00Z", first.PostedDate)
	assert.Equal(t, "541512", first.NAICSCode)
	assert.Equal(t, "COMPUTER SYSTEMS DESIGN SERVICES", first.NAICSDescription)
	assert.Equal(t, "D302", first.ClassificationCode)
	assert.True(t, first.Active)
	assert.Equal(t, "fpds", first.Source)
	assert.Equal(t, "https://www.fpds.gov/ezsearch/search.do?q=W91QUZ24C0001", first.URL)
	assert.Equal(t, first.URL, first.SubmissionURL)
	assert.Equal(t, models.PlatformFPDS, first.PlatformID)
	assert.Equal(t, "W91QUZ24C0001", first.ExternalID)
	assert.False(t, first.RequiresLogin)

	require.NotNil(t, first.Award)
	assert.Equal(t, "ACME FEDERAL LLC", first.Award.AwardeeName)
	assert.InDelta(t, 250000.0, first.Award.Amount, 0.001)
	require.NotNil(t, first.EstimatedValue)
	assert.InDelta(t, 1000000.0, *first.EstimatedValue, 0.001)

	second := got[1]
	assert.Equal(t, "https://www.fpds.gov/ezsearch/search.do?q=2", second.URL, "link without rel counts as alternate")
	assert.Equal(t, "urn:fpds:2", second.ExternalID)
	assert.Nil(t, second.Award)
}

func TestFPDSAdapter_SingleLinkObject(t *testing.T) {
	feed := `<feed xmlns="http://www.w3.org/2005/Atom"><entry>
		<title>Only Link</title>
		<link rel="alternate" href="https://www.fpds.gov/only"/>
	</entry></feed>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	got, err := newFPDSTestAdapter(srv).Search(context.Background(), models.SearchFilters{Keyword: "only"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://www.fpds.gov/only", got[0].URL)
	assert.Equal(t, "https://www.fpds.gov/only", got[0].SubmissionURL)
}

func TestFPDSAdapter_EmptyFeedAndSoftFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"feed without entries", http.StatusOK, `<feed xmlns="http://www.w3.org/2005/Atom"><title>none</title></feed>`},
		{"server error", http.StatusServiceUnavailable, `down`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := newFPDSTestAdapter(srv).Search(context.Background(), models.SearchFilters{Keyword: "x"})
			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestFPDSAdapter_MalformedXMLIsHardError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<feed><entry><title>broken</entry>`))
	}))
	defer srv.Close()

	_, err := newFPDSTestAdapter(srv).Search(context.Background(), models.SearchFilters{Keyword: "x"})
	assert.Error(t, err)
}

func TestFPDSAdapter_NoFiltersQueriesRecentWindow(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		_, _ = w.Write([]byte(`<feed xmlns="http://www.w3.org/2005/Atom"/>`))
	}))
	defer srv.Close()

	adapter := newFPDSTestAdapter(srv)
	adapter.now = func() time.Time { return time.Date(2024, 3, 31, 15, 0, 0, 0, time.UTC) }

	active := true
	got, err := adapter.Search(context.Background(), models.SearchFilters{Active: &active})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, "SIGNED_DATE:[2024/03/01,2024/03/31]", gotQuery)
}

func TestBuildFPDSQuery(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		filters models.SearchFilters
		want    string
	}{
		{"empty", models.SearchFilters{}, ""},
		{"keyword strips quotes", models.SearchFilters{Keyword: `say "cloud"`}, `DESCRIPTION_OF_REQUIREMENT:"say cloud"`},
		{"agency and naics", models.SearchFilters{Agency: "NASA", NAICSCode: "541512"}, `CONTRACTING_AGENCY_NAME:"NASA" PRINCIPAL_NAICS_CODE:"541512"`},
		{"closed range", models.SearchFilters{PostedFrom: &from, PostedTo: &to}, `SIGNED_DATE:[2024/01/01,2024/06/30]`},
		{"open upper bound", models.SearchFilters{PostedFrom: &from}, `SIGNED_DATE:[2024/01/01,2099/12/31]`},
		{"open lower bound", models.SearchFilters{PostedTo: &to}, `SIGNED_DATE:[1990/01/01,2024/06/30]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildFPDSQuery(tt.filters))
		})
	}
}

func TestLeafTextIgnoresNestedElements(t *testing.T) {
	entries, err := parseFPDSFeed(strings.NewReader(`<feed><entry>
		<title><div>nested</div></title>
		<id>x</id>
	</entry></feed>`))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "", entries[0].Title)
	assert.Equal(t, "x", entries[0].ID)
}
