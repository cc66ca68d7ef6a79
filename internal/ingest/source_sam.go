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
	samDefaultBaseURL = "https://api.sam.gov/opportunities/v2/search"
	samHomepageURL    = "https://sam.gov/content/opportunities"
	samDefaultLimit   = 25
	samMaxLimit       = 1000
	samMaxBodyBytes   = 20 << 20
)

// SAMAdapter queries the SAM.gov opportunities search API.
type SAMAdapter struct {
	cfg     SourceConfig
	fetcher Fetcher
}

func NewSAMAdapter(cfg SourceConfig, fetcher Fetcher) *SAMAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = samDefaultBaseURL
	}
	if cfg.Name == "" {
		cfg.Name = "SAM.gov"
	}
	return &SAMAdapter{cfg: cfg, fetcher: fetcher}
}

// samResponse is the v2 search envelope. Some mirrors return the bare array.
// Items are kept raw so one malformed record cannot sink the others.
type samResponse struct {
	TotalRecords      int               `json:"totalRecords"`
	OpportunitiesData []json.RawMessage `json:"opportunitiesData"`
}

type samOpportunity struct {
	NoticeID                  flexString        `json:"noticeId"`
	Title                     flexString        `json:"title"`
	SolicitationNumber        flexString        `json:"solicitationNumber"`
	FullParentPathName        flexString        `json:"fullParentPathName"`
	Department                flexString        `json:"department"`
	SubTier                   flexString        `json:"subTier"`
	Office                    flexString        `json:"office"`
	PostedDate                flexString        `json:"postedDate"`
	Type                      flexString        `json:"type"`
	ResponseDeadLine          flexString        `json:"responseDeadLine"`
	NAICSCode                 flexString        `json:"naicsCode"`
	NAICSDescription          flexString        `json:"naicsDescription"`
	ClassificationCode        flexString        `json:"classificationCode"`
	Active                    json.RawMessage   `json:"active"`
	TypeOfSetAside            flexString        `json:"typeOfSetAside"`
	TypeOfSetAsideDescription flexString        `json:"typeOfSetAsideDescription"`
	Description               flexString        `json:"description"`
	UILink                    flexString        `json:"uiLink"`
	Award                     *samAward         `json:"award"`
	PointOfContact            []samContact      `json:"pointOfContact"`
	OfficeAddress             *samOfficeAddress `json:"officeAddress"`
	ResourceLinks             []flexString      `json:"resourceLinks"`
}

type samAward struct {
	Date    flexString `json:"date"`
	Number  flexString `json:"number"`
	Amount  flexAmount `json:"amount"`
	Awardee struct {
		Name flexString `json:"name"`
	} `json:"awardee"`
}

type samContact struct {
	Type     flexString `json:"type"`
	FullName flexString `json:"fullName"`
	Title    flexString `json:"title"`
	Email    flexString `json:"email"`
	Phone    flexString `json:"phone"`
}

type samOfficeAddress struct {
	City        flexString `json:"city"`
	State       flexString `json:"state"`
	Zipcode     flexString `json:"zipcode"`
	CountryCode flexString `json:"countryCode"`
}

func (a *SAMAdapter) Search(ctx context.Context, filters models.SearchFilters) ([]models.PlatformSolicitation, error) {
	if a.cfg.APIKey == "" {
		log.Printf("[SAM] %v: no API key, skipping", ErrNotConfigured)
		return []models.PlatformSolicitation{}, nil
	}

	reqURL, err := a.buildURL(filters)
	if err != nil {
		return nil, fmt.Errorf("building sam.gov url: %w", err)
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("X-Api-Key", a.cfg.APIKey)

	doc, err := a.fetcher.Fetch(ctx, reqURL, header)
	if err != nil {
		return nil, fmt.Errorf("sam.gov request failed: %w", err)
	}
	defer doc.Body.Close()

	if !doc.OK() {
		log.Printf("[SAM] Degraded response, returning no results: %v", statusError(doc))
		return []models.PlatformSolicitation{}, nil
	}

	body, err := io.ReadAll(io.LimitReader(doc.Body, samMaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading sam.gov response: %w", err)
	}

	records, err := decodeSAMResponse(body)
	if err != nil {
		return nil, fmt.Errorf("decoding sam.gov response: %w", err)
	}

	out := make([]models.PlatformSolicitation, 0, len(records))
	for i, rec := range records {
		out = append(out, a.toSolicitation(i, rec))
	}
	log.Printf("[SAM] Got %d opportunities", len(out))
	return out, nil
}

// buildURL maps keyword, NAICS, posted-after and active onto the query
// string. Every other filter field has no SAM counterpart here and is dropped.
func (a *SAMAdapter) buildURL(f models.SearchFilters) (string, error) {
	u, err := url.Parse(a.cfg.BaseURL)
	if err != nil {
		return "", err
	}

	limit := f.PageSize
	if limit <= 0 {
		limit = samDefaultLimit
	}
	if limit > samMaxLimit {
		limit = samMaxLimit
	}

	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		q.Set("q", kw)
	}
	if naics := strings.TrimSpace(f.NAICSCode); naics != "" {
		q.Set("ncode", naics)
	}
	if f.PostedFrom != nil && !f.PostedFrom.IsZero() {
		q.Set("pdate", f.PostedFrom.Format("01/02/2006"))
	}
	if f.Active != nil {
		q.Set("active", strconv.FormatBool(*f.Active))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// decodeSAMResponse fails only when the body is not a JSON array or envelope.
// Items whose structure does not match are logged and skipped.
func decodeSAMResponse(body []byte) ([]samOpportunity, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, err
		}
	} else {
		var resp samResponse
		if err := json.Unmarshal(trimmed, &resp); err != nil {
			return nil, err
		}
		raw = resp.OpportunitiesData
	}

	items := make([]samOpportunity, 0, len(raw))
	for i, r := range raw {
		var rec samOpportunity
		if err := json.Unmarshal(r, &rec); err != nil {
			log.Printf("[SAM] Skipping malformed record %d: %v", i, err)
			continue
		}
		items = append(items, rec)
	}
	return items, nil
}

func (a *SAMAdapter) toSolicitation(index int, rec samOpportunity) models.PlatformSolicitation {
	noticeID := rec.NoticeID.String()
	agency, office := samAgencyOffice(rec)

	listingURL := samHomepageURL
	if noticeID != "" {
		listingURL = fmt.Sprintf("https://sam.gov/opp/%s/view", url.PathEscape(noticeID))
	}

	sol := models.PlatformSolicitation{
		Solicitation: models.Solicitation{
			ID:                 firstNonEmpty(noticeID, rec.SolicitationNumber.String(), fmt.Sprintf("sam-%d", index)),
			Title:              cleanText(rec.Title.String()),
			Description:        descriptionText(rec.Description.String()),
			Agency:             agency,
			Office:             office,
			PostedDate:         normalizeDate(rec.PostedDate.String()),
			ResponseDate:       normalizeDate(rec.ResponseDeadLine.String()),
			SetAside:           rec.TypeOfSetAside.String(),
			NAICSCode:          rec.NAICSCode.String(),
			NAICSDescription:   cleanText(rec.NAICSDescription.String()),
			ClassificationCode: rec.ClassificationCode.String(),
			Active:             parseSAMActive(rec.Active),
			Source:             string(models.PlatformSAM),
			URL:                firstNonEmpty(rec.UILink.String(), listingURL),
		},
		PlatformID:    models.PlatformSAM,
		PlatformName:  a.cfg.Name,
		SubmissionURL: listingURL,
		RequiresLogin: true,
		ExternalID:    firstNonEmpty(rec.SolicitationNumber.String(), noticeID, fmt.Sprintf("sam-%d", index)),
		BidDeadline:   deadlineFromDate(rec.ResponseDeadLine.String()),
	}

	if rec.Award != nil && (rec.Award.Date != "" || rec.Award.Amount.Valid || rec.Award.Awardee.Name != "") {
		sol.Award = &models.Award{
			Date:        normalizeDate(rec.Award.Date.String()),
			Amount:      rec.Award.Amount.Value,
			AwardeeName: cleanText(rec.Award.Awardee.Name.String()),
		}
	}

	if poc := primarySAMContact(rec.PointOfContact); poc != nil {
		sol.PointOfContact = &models.PointOfContact{
			Name:  cleanText(poc.FullName.String()),
			Email: poc.Email.String(),
			Phone: poc.Phone.String(),
		}
		sol.ContactInfo = &models.ContactInfo{
			Name:    sol.PointOfContact.Name,
			Title:   cleanText(poc.Title.String()),
			Email:   sol.PointOfContact.Email,
			Phone:   sol.PointOfContact.Phone,
			Address: samAddress(rec.OfficeAddress),
		}
	}

	for _, link := range rec.ResourceLinks {
		sol.Attachments = appendAttachment(sol.Attachments, attachmentFromURL(link.String(), "", ""))
	}
	return sol
}

// samAgencyOffice prefers the explicit department/office fields and falls back
// to the dotted fullParentPathName ("DEPT OF DEFENSE.DEPT OF THE ARMY.W6QK ACC").
func samAgencyOffice(rec samOpportunity) (string, string) {
	var parts []string
	for _, p := range strings.Split(rec.FullParentPathName.String(), ".") {
		if p = cleanText(p); p != "" {
			parts = append(parts, p)
		}
	}

	agency := cleanText(rec.Department.String())
	if agency == "" && len(parts) > 0 {
		agency = parts[0]
	}
	office := cleanText(rec.Office.String())
	if office == "" && len(parts) > 1 {
		office = parts[len(parts)-1]
	}
	return agency, office
}

// parseSAMActive reads "Yes"/"No" or a JSON bool. Absent means active.
func parseSAMActive(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return true
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "no", "false", "inactive", "n":
			return false
		}
	}
	return true
}

func primarySAMContact(contacts []samContact) *samContact {
	for i := range contacts {
		if strings.EqualFold(contacts[i].Type.String(), "primary") {
			return &contacts[i]
		}
	}
	if len(contacts) > 0 {
		return &contacts[0]
	}
	return nil
}

func samAddress(addr *samOfficeAddress) string {
	if addr == nil {
		return ""
	}
	var parts []string
	for _, p := range []string{addr.City.String(), addr.State.String(), addr.Zipcode.String(), addr.CountryCode.String()} {
		if p = cleanText(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
