package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/david/bid-finder/internal/models"
)

const (
	fpdsDefaultBaseURL = "https://www.fpds.gov/ezsearch/FEEDS/ATOM?FEEDNAME=PUBLIC"
	fpdsHomepageURL    = "https://www.fpds.gov/"
	fpdsMaxBodyBytes   = 20 << 20
	fpdsDateLayout     = "2006/01/02"

	// fpdsDefaultWindow bounds a search that maps to no feed clause.
	fpdsDefaultWindow = 30 * 24 * time.Hour
)

var (
	fpdsOpenStart = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	fpdsOpenEnd   = time.Date(2099, 12, 31, 0, 0, 0, 0, time.UTC)
)

// FPDSAdapter reads the FPDS public Atom feed. The feed carries awards, not
// open solicitations, and has no open/closed status.
type FPDSAdapter struct {
	cfg     SourceConfig
	fetcher Fetcher
	now     func() time.Time
}

func NewFPDSAdapter(cfg SourceConfig, fetcher Fetcher) *FPDSAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = fpdsDefaultBaseURL
	}
	if cfg.Name == "" {
		cfg.Name = "FPDS"
	}
	return &FPDSAdapter{cfg: cfg, fetcher: fetcher, now: time.Now}
}

type atomLink struct {
	Rel  string
	Href string
	Type string
}

// fpdsEntry is one Atom <entry> flattened into strings. Fields the feed sent
// with an unexpected shape are left empty.
type fpdsEntry struct {
	ID               string
	Title            string
	Updated          string
	Links            []atomLink
	PIID             string
	Description      string
	SignedDate       string
	CompletionDate   string
	ObligatedAmount  string
	BaseAndAllValue  string
	VendorName       string
	NAICSCode        string
	NAICSDescription string
	PSCCode          string
	AgencyName       string
	OfficeName       string
}

func (a *FPDSAdapter) Search(ctx context.Context, filters models.SearchFilters) ([]models.PlatformSolicitation, error) {
	query := buildFPDSQuery(filters)
	if query == "" {
		query = fpdsRecentWindow(a.now())
		log.Printf("[FPDS] No mappable filters, querying recent awards: %s", query)
	}

	u, err := url.Parse(a.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing fpds base url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Accept", "application/atom+xml")

	doc, err := a.fetcher.Fetch(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("fpds request failed: %w", err)
	}
	defer doc.Body.Close()

	if !doc.OK() {
		log.Printf("[FPDS] Degraded response, returning no results: %v", statusError(doc))
		return []models.PlatformSolicitation{}, nil
	}

	entries, err := parseFPDSFeed(io.LimitReader(doc.Body, fpdsMaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing fpds feed: %w", err)
	}

	out := make([]models.PlatformSolicitation, 0, len(entries))
	for i, entry := range entries {
		out = append(out, a.toSolicitation(i, entry))
	}
	log.Printf("[FPDS] Got %d award entries", len(out))
	return out, nil
}

// buildFPDSQuery renders the Lucene-style expression for the feed's q
// parameter. Posted bounds become a SIGNED_DATE range with open ends filled.
func buildFPDSQuery(f models.SearchFilters) string {
	var clauses []string
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		clauses = append(clauses, fpdsClause("DESCRIPTION_OF_REQUIREMENT", kw))
	}
	if agency := strings.TrimSpace(f.Agency); agency != "" {
		clauses = append(clauses, fpdsClause("CONTRACTING_AGENCY_NAME", agency))
	}
	if naics := strings.TrimSpace(f.NAICSCode); naics != "" {
		clauses = append(clauses, fpdsClause("PRINCIPAL_NAICS_CODE", naics))
	}
	if f.PostedFrom != nil || f.PostedTo != nil {
		from, to := fpdsOpenStart, fpdsOpenEnd
		if f.PostedFrom != nil && !f.PostedFrom.IsZero() {
			from = *f.PostedFrom
		}
		if f.PostedTo != nil && !f.PostedTo.IsZero() {
			to = *f.PostedTo
		}
		clauses = append(clauses, fmt.Sprintf("SIGNED_DATE:[%s,%s]", from.Format(fpdsDateLayout), to.Format(fpdsDateLayout)))
	}
	return strings.Join(clauses, " ")
}

// fpdsRecentWindow is the SIGNED_DATE clause covering the last fpdsDefaultWindow.
func fpdsRecentWindow(now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("SIGNED_DATE:[%s,%s]", now.Add(-fpdsDefaultWindow).Format(fpdsDateLayout), now.Format(fpdsDateLayout))
}

func fpdsClause(field, value string) string {
	value = strings.ReplaceAll(value, `"`, ``)
	return fmt.Sprintf(`%s:"%s"`, field, value)
}

// parseFPDSFeed returns an error only when the body is not XML at all. A feed
// with no entries yields an empty slice.
func parseFPDSFeed(r io.Reader) ([]fpdsEntry, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, err
	}

	nodes := xmlquery.Find(doc, "//*[local-name()='entry']")
	entries := make([]fpdsEntry, 0, len(nodes))
	for _, n := range nodes {
		entries = append(entries, readFPDSEntry(n))
	}
	return entries, nil
}

func readFPDSEntry(n *xmlquery.Node) fpdsEntry {
	e := fpdsEntry{
		ID:      leafText(childByName(n, "id")),
		Title:   leafText(childByName(n, "title")),
		Updated: leafText(childByName(n, "updated")),
	}
	for _, link := range xmlquery.Find(n, "./*[local-name()='link']") {
		e.Links = append(e.Links, atomLink{
			Rel:  strings.TrimSpace(link.SelectAttr("rel")),
			Href: strings.TrimSpace(link.SelectAttr("href")),
			Type: strings.TrimSpace(link.SelectAttr("type")),
		})
	}

	content := childByName(n, "content")
	if content == nil {
		return e
	}
	e.PIID = leafText(descendantByName(content, "PIID"))
	e.Description = leafText(descendantByName(content, "descriptionOfContractRequirement"))
	e.SignedDate = leafText(descendantByName(content, "signedDate"))
	e.CompletionDate = leafText(descendantByName(content, "currentCompletionDate"))
	e.ObligatedAmount = leafText(descendantByName(content, "obligatedAmount"))
	e.BaseAndAllValue = leafText(descendantByName(content, "baseAndAllOptionsValue"))
	e.VendorName = leafText(descendantByName(content, "vendorName"))

	naics := descendantByName(content, "principalNAICSCode")
	e.NAICSCode = leafText(naics)
	e.NAICSDescription = attrText(naics, "description")
	e.PSCCode = leafText(descendantByName(content, "productOrServiceCode"))

	agency := descendantByName(content, "contractingOfficeAgencyID")
	e.AgencyName = firstNonEmpty(attrText(agency, "name"), leafText(agency))
	office := descendantByName(content, "contractingOfficeID")
	e.OfficeName = firstNonEmpty(attrText(office, "name"), leafText(office))
	return e
}

func childByName(n *xmlquery.Node, name string) *xmlquery.Node {
	return xmlquery.FindOne(n, "./*[local-name()='"+name+"']")
}

func descendantByName(n *xmlquery.Node, name string) *xmlquery.Node {
	return xmlquery.FindOne(n, ".//*[local-name()='"+name+"']")
}

// leafText returns the trimmed text of an element that holds only text. An
// element with child elements is a nested object where a string was expected,
// so it counts as absent.
func leafText(n *xmlquery.Node) string {
	if n == nil {
		return ""
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return ""
		}
	}
	return cleanText(n.InnerText())
}

func attrText(n *xmlquery.Node, attr string) string {
	if n == nil {
		return ""
	}
	return cleanText(n.SelectAttr(attr))
}

// alternateLink picks the rel="alternate" href. Per Atom, a link without rel is
// an alternate link; every other relation is ignored.
func alternateLink(links []atomLink) string {
	fallback := ""
	for _, l := range links {
		if l.Href == "" {
			continue
		}
		if strings.EqualFold(l.Rel, "alternate") {
			return l.Href
		}
		if l.Rel == "" && fallback == "" {
			fallback = l.Href
		}
	}
	return fallback
}

func (a *FPDSAdapter) toSolicitation(index int, e fpdsEntry) models.PlatformSolicitation {
	link := alternateLink(e.Links)
	listingURL := firstNonEmpty(link, fpdsHomepageURL)

	sol := models.PlatformSolicitation{
		Solicitation: models.Solicitation{
			ID:                 firstNonEmpty(e.ID, e.PIID, fmt.Sprintf("fpds-%d", index)),
			Title:              firstNonEmpty(e.Title, e.Description),
			Description:        descriptionText(e.Description),
			Agency:             e.AgencyName,
			Office:             e.OfficeName,
			PostedDate:         normalizeDate(firstNonEmpty(e.SignedDate, e.Updated)),
			ResponseDate:       normalizeDate(e.CompletionDate),
			NAICSCode:          e.NAICSCode,
			NAICSDescription:   e.NAICSDescription,
			ClassificationCode: e.PSCCode,
			// The feed has no open/closed status; awards are reported as active.
			Active:             true,
			Source:             string(models.PlatformFPDS),
			URL:                listingURL,
		},
		PlatformID:    models.PlatformFPDS,
		PlatformName:  a.cfg.Name,
		SubmissionURL: listingURL,
		RequiresLogin: false,
		ExternalID:    firstNonEmpty(e.PIID, e.ID, fmt.Sprintf("fpds-%d", index)),
	}

	amount, hasAmount := parseAmount(e.ObligatedAmount)
	if e.SignedDate != "" || hasAmount || e.VendorName != "" {
		sol.Award = &models.Award{
			Date:        normalizeDate(e.SignedDate),
			Amount:      amount,
			AwardeeName: e.VendorName,
		}
	}
	if v, ok := parseAmount(e.BaseAndAllValue); ok {
		sol.EstimatedValue = &v
	}
	return sol
}
