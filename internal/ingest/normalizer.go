package ingest

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var descriptionPolicy = bluemonday.UGCPolicy()

// TruncateText cuts a string to max length, appending ellipsis if truncated.
func TruncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	if maxLen > 3 {
		return text[:maxLen-3] + "..."
	}
	return text[:maxLen]
}

const blockSelector = "p, div, br, li, tr, td, th, h1, h2, h3, h4, h5, h6, blockquote"

// HTMLToText converts HTML to plain text, collapsing whitespace. Block
// elements are separated by a space so list items do not run together.
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return cleanText(html)
	}
	doc.Find(blockSelector).AfterHtml(" ")
	return cleanText(doc.Text())
}

// descriptionText sanitizes an upstream description and flattens it to plain
// text. Plain-text input passes through with whitespace collapsed.
func descriptionText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.ContainsAny(raw, "<&") {
		return cleanText(raw)
	}
	return HTMLToText(descriptionPolicy.Sanitize(raw))
}

// normalizeDate renders an upstream date as RFC 3339 when it carries a time of
// day, as YYYY-MM-DD when it is a bare date, and returns the trimmed input
// unchanged when it cannot be parsed.
func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	t, hasClock, err := parseDate(raw)
	if err != nil {
		return raw
	}
	if hasClock {
		return t.Format(time.RFC3339)
	}
	return t.Format("2006-01-02")
}

// deadlineFromDate parses a due date for PlatformSolicitation.BidDeadline.
// Bare dates close at the end of the day.
func deadlineFromDate(raw string) *time.Time {
	t, hasClock, err := parseDate(raw)
	if err != nil {
		return nil
	}
	if !hasClock {
		t = toEndOfDay(t)
	}
	return &t
}
