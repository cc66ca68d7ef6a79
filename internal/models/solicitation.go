package models

import (
	"time"

	"github.com/google/uuid"
)

// PlatformID identifies an upstream solicitation source.
type PlatformID string

const (
	PlatformSAM       PlatformID = "sam_gov"
	PlatformFPDS      PlatformID = "fpds"
	PlatformLocalBids PlatformID = "local_bids"
)

// SearchFilters is the canonical query every adapter receives. Adapters map the
// subset their upstream understands and ignore the rest.
type SearchFilters struct {
	Keyword            string     `json:"keyword,omitempty"`
	Agency             string     `json:"agency,omitempty"`
	Office             string     `json:"office,omitempty"`
	SolicitationNumber string     `json:"solicitation_number,omitempty"`
	NoticeID           string     `json:"notice_id,omitempty"`
	NAICSCode          string     `json:"naics_code,omitempty"`
	PostedFrom         *time.Time `json:"posted_from,omitempty"`
	PostedTo           *time.Time `json:"posted_to,omitempty"`
	ResponseFrom       *time.Time `json:"response_from,omitempty"`
	ResponseTo         *time.Time `json:"response_to,omitempty"`
	Active             *bool      `json:"active,omitempty"`
	SetAside           string     `json:"set_aside,omitempty"`
	Page               int        `json:"page,omitempty"`
	PageSize           int        `json:"page_size,omitempty"`
}

type Award struct {
	Date        string  `json:"date"`
	Amount      float64 `json:"amount"`
	AwardeeName string  `json:"awardee_name"`
}

type PointOfContact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type Attachment struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
}

// ContactInfo carries the richer contact block some platforms expose beyond
// the canonical point of contact.
type ContactInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address,omitempty"`
}

// Solicitation is the normalized contract-opportunity record. ID is only
// unique within one platform's result set.
type Solicitation struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Agency             string          `json:"agency"`
	Office             string          `json:"office"`
	PostedDate         string          `json:"posted_date"`
	ResponseDate       string          `json:"response_date"`
	SetAside           string          `json:"set_aside,omitempty"`
	NAICSCode          string          `json:"naics_code"`
	NAICSDescription   string          `json:"naics_description"`
	ClassificationCode string          `json:"classification_code"`
	Active             bool            `json:"active"`
	Award              *Award          `json:"award,omitempty"`
	PointOfContact     *PointOfContact `json:"point_of_contact,omitempty"`
	Attachments        []Attachment    `json:"attachments,omitempty"`
	Source             string          `json:"source"`
	URL                string          `json:"url"`
}

// PlatformSolicitation is what adapters return: the canonical record plus the
// platform metadata needed for click-through and deduplication.
type PlatformSolicitation struct {
	Solicitation

	PlatformID            PlatformID   `json:"platform_id"`
	PlatformName          string       `json:"platform_name"`
	SubmissionURL         string       `json:"submission_url"`
	RequiresLogin         bool         `json:"requires_login"`
	ExternalID            string       `json:"external_id"`
	BidDeadline           *time.Time   `json:"bid_deadline,omitempty"`
	EstimatedValue        *float64     `json:"estimated_value,omitempty"`
	ContactInfo           *ContactInfo `json:"contact_info,omitempty"`
	RawClassificationCode string       `json:"raw_classification_code,omitempty"`
}

// SourceStatus reports what happened to one platform during an aggregation.
type SourceStatus struct {
	PlatformID PlatformID `json:"platform_id"`
	Status     string     `json:"status"` // ok, failed, not_configured, unknown
	Count      int        `json:"count"`
	Error      string     `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

const (
	SourceStatusOK      = "ok"
	SourceStatusFailed  = "failed"
	SourceStatusUnknown = "unknown"

	// SourceStatusNotConfigured marks a registered source missing its
	// credential or endpoint. It contributes no results and is not a failure.
	SourceStatusNotConfigured = "not_configured"
)

// SearchRun is the audit record of one aggregation. It never holds result records.
type SearchRun struct {
	ID                uuid.UUID      `json:"id"`
	StartedAt         time.Time      `json:"started_at"`
	CompletedAt       time.Time      `json:"completed_at"`
	Filters           SearchFilters  `json:"filters"`
	Platforms         []PlatformID   `json:"platforms"`
	TotalResults      int            `json:"total_results"`
	DuplicatesDropped int            `json:"duplicates_dropped"`
	Sources           []SourceStatus `json:"sources"`
}
