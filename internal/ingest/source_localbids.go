package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/david/bid-finder/internal/models"
)

const (
	localBidsDefaultLimit = 50
	localBidsMaxBodyBytes = 10 << 20
	untitledSolicitation  = "Untitled Solicitation"
)

// LocalBidsAdapter queries a jurisdiction's bid portal API. The endpoint is
// deployment specific, so an empty base URL means the source is not configured.
type LocalBidsAdapter struct {
	cfg     SourceConfig
	fetcher Fetcher
}

func NewLocalBidsAdapter(cfg SourceConfig, fetcher Fetcher) *LocalBidsAdapter {
	if cfg.Name == "" {
		cfg.Name = "Local Government Bids"
	}
	return &LocalBidsAdapter{cfg: cfg, fetcher: fetcher}
}

type localBidsResponse struct {
	Results []localBid `json:"results"`
}

type localBid struct {
	ID                 flexString        `json:"id"`
	SolicitationNumber flexString        `json:"solicitation_number"`
	Title              flexString        `json:"title"`
	Description        flexString        `json:"description"`
	Agency             flexString        `json:"agency"`
	Department         flexString        `json:"department"`
	PostedDate         flexString        `json:"posted_date"`
	DueDate            flexString        `json:"due_date"`
	Status             flexString        `json:"status"`
	Category           flexString        `json:"category"`
	NAICSCode          flexString        `json:"naics_code"`
	SetAside           flexString        `json:"set_aside"`
	URL                flexString        `json:"url"`
	SubmissionURL      flexString        `json:"submission_url"`
	EstimatedValue     flexAmount        `json:"estimated_value"`
	Contact            *localBidContact  `json:"contact"`
	Attachments        []localAttachment `json:"attachments"`
}

type localBidContact struct {
	Name    flexString `json:"name"`
	Title   flexString `json:"title"`
	Email   flexString `json:"email"`
	Phone   flexString `json:"phone"`
	Address flexString `json:"address"`
}

type localAttachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

func (a *LocalBidsAdapter) Search(ctx context.Context, filters models.SearchFilters) ([]models.PlatformSolicitation, error) {
	if a.cfg.BaseURL == "" {
		log.Printf("[LocalBids] %v: no base URL, skipping", ErrNotConfigured)
		return []models.PlatformSolicitation{}, nil
	}

	reqURL, err := a.buildURL(filters)
	if err != nil {
		return nil, fmt.Errorf("building local bids url: %w", err)
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	if a.cfg.APIKey != "" {
		header.Set("X-Api-Key", a.cfg.APIKey)
	}

	doc, err := a.fetcher.Fetch(ctx, reqURL, header)
	if err != nil {
		return nil, fmt.Errorf("local bids request failed: %w", err)
	}
	defer doc.Body.Close()

	if !doc.OK() {
		log.Printf("[LocalBids] Degraded response, returning no results: %v", statusError(doc))
		return []models.PlatformSolicitation{}, nil
	}

	body, err := io.ReadAll(io.LimitReader(doc.Body, localBidsMaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading local bids response: %w", err)
	}
	bids, err := decodeLocalBids(body)
	if err != nil {
		return nil, fmt.Errorf("decoding local bids response: %w", err)
	}

	out := make([]models.PlatformSolicitation, 0, len(bids))
	for i, bid := range bids {
		out = append(out, a.toSolicitation(i, bid))
	}
	log.Printf("[LocalBids] Got %d solicitations", len(out))
	return out, nil
}

func (a *LocalBidsAdapter) buildURL(f models.SearchFilters) (string, error) {
	u, err := url.Parse(a.cfg.BaseURL)
	if err != nil {
		return "", err
	}

	limit := f.PageSize
	if limit <= 0 {
		limit = localBidsDefaultLimit
	}

	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		q.Set("search", kw)
	}
	if agency := strings.TrimSpace(f.Agency); agency != "" {
		q.Set("agency", agency)
	}
	if f.PostedFrom != nil && !f.PostedFrom.IsZero() {
		q.Set("posted_after", f.PostedFrom.Format("2006-01-02"))
	}
	if f.Active != nil {
		if *f.Active {
			q.Set("status", "open")
		} else {
			q.Set("status", "closed")
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func decodeLocalBids(body []byte) ([]localBid, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var bids []localBid
		if err := json.Unmarshal(trimmed, &bids); err != nil {
			return nil, err
		}
		return bids, nil
	}
	var resp localBidsResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// localBidActive treats anything but an explicit closing status as open.
func localBidActive(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "closed", "cancelled", "canceled", "awarded", "archived", "expired":
		return false
	}
	return true
}

func (a *LocalBidsAdapter) toSolicitation(index int, bid localBid) models.PlatformSolicitation {
	id := firstNonEmpty(bid.ID.String(), bid.SolicitationNumber.String(), fmt.Sprintf("local-%d", index))
	listingURL := firstNonEmpty(bid.URL.String(), siteRoot(a.cfg.BaseURL))

	sol := models.PlatformSolicitation{
		Solicitation: models.Solicitation{
			ID:           id,
			Title:        firstNonEmpty(cleanText(bid.Title.String()), untitledSolicitation),
			Description:  descriptionText(bid.Description.String()),
			Agency:       cleanText(bid.Agency.String()),
			Office:       cleanText(bid.Department.String()),
			PostedDate:   normalizeDate(bid.PostedDate.String()),
			ResponseDate: normalizeDate(bid.DueDate.String()),
			SetAside:     bid.SetAside.String(),
			NAICSCode:    bid.NAICSCode.String(),
			Active:       localBidActive(bid.Status.String()),
			Source:       string(models.PlatformLocalBids),
			URL:          listingURL,
		},
		PlatformID:            models.PlatformLocalBids,
		PlatformName:          a.cfg.Name,
		SubmissionURL:         firstNonEmpty(bid.SubmissionURL.String(), listingURL),
		RequiresLogin:         false,
		ExternalID:            firstNonEmpty(bid.SolicitationNumber.String(), id),
		BidDeadline:           deadlineFromDate(bid.DueDate.String()),
		EstimatedValue:        bid.EstimatedValue.Ptr(),
		RawClassificationCode: bid.Category.String(),
	}

	if c := bid.Contact; c != nil && (c.Name != "" || c.Email != "" || c.Phone != "") {
		sol.PointOfContact = &models.PointOfContact{
			Name:  cleanText(c.Name.String()),
			Email: c.Email.String(),
			Phone: c.Phone.String(),
		}
		sol.ContactInfo = &models.ContactInfo{
			Name:    sol.PointOfContact.Name,
			Title:   cleanText(c.Title.String()),
			Email:   sol.PointOfContact.Email,
			Phone:   sol.PointOfContact.Phone,
			Address: cleanText(c.Address.String()),
		}
	}

	for _, att := range bid.Attachments {
		sol.Attachments = appendAttachment(sol.Attachments, attachmentFromURL(att.URL, cleanText(att.Name), strings.TrimSpace(att.Type)))
	}
	return sol
}
