package ingest

import (
	"bytes"
	"encoding/json"
	"math"
	"mime"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/david/bid-finder/internal/models"
)

// normalizeSpace collapses multiple spaces into one and trims the string.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanText normalizes whitespace (alias for normalizeSpace)
func cleanText(s string) string {
	return normalizeSpace(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// flexString decodes a JSON string or number. Any other shape (object, array,
// bool, null) is treated as absent.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return nil
		}
		*s = flexString(strings.TrimSpace(v))
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		*s = flexString(string(data))
	}
	return nil
}

func (s flexString) String() string { return string(s) }

// flexAmount decodes a JSON number or a currency string such as "$1,250,000".
// Values that are not finite are treated as absent.
type flexAmount struct {
	Value float64
	Valid bool
}

func (a *flexAmount) UnmarshalJSON(data []byte) error {
	var raw flexString
	if err := raw.UnmarshalJSON(data); err != nil || raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		var ok bool
		if v, ok = parseAmount(string(raw)); !ok {
			return nil
		}
	}
	// NaN and Inf parse but cannot be encoded back to JSON.
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	a.Value, a.Valid = v, true
	return nil
}

func (a flexAmount) Ptr() *float64 {
	if !a.Valid {
		return nil
	}
	v := a.Value
	return &v
}

// attachmentFromURL names an attachment after the last path segment and guesses
// its media type from the extension.
func attachmentFromURL(rawURL, name, mediaType string) models.Attachment {
	rawURL = strings.TrimSpace(rawURL)
	base := ""
	if u, err := url.Parse(rawURL); err == nil {
		base = path.Base(u.Path)
		if base == "." || base == "/" {
			base = ""
		}
	}
	if mediaType == "" && base != "" {
		mediaType = mime.TypeByExtension(strings.ToLower(path.Ext(base)))
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return models.Attachment{
		Name:      firstNonEmpty(name, base, rawURL),
		URL:       rawURL,
		MediaType: mediaType,
	}
}

// appendAttachment skips empty and already seen URLs.
func appendAttachment(list []models.Attachment, a models.Attachment) []models.Attachment {
	if a.URL == "" {
		return list
	}
	for _, existing := range list {
		if strings.EqualFold(existing.URL, a.URL) {
			return list
		}
	}
	return append(list, a)
}

// siteRoot reduces a URL to scheme://host/, used as a last-resort link.
func siteRoot(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}
