package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/david/bid-finder/internal/models"
)

// Deduper collapses records that describe the same opportunity. Implementations
// keep the first occurrence in input order.
type Deduper interface {
	Dedup(items []models.PlatformSolicitation) []models.PlatformSolicitation
}

// DedupFunc lets a plain function satisfy Deduper.
type DedupFunc func(items []models.PlatformSolicitation) []models.PlatformSolicitation

func (f DedupFunc) Dedup(items []models.PlatformSolicitation) []models.PlatformSolicitation {
	return f(items)
}

// TitleAgencyDeduper treats two records as the same when their lower-cased
// title and lower-cased agency are both exactly equal. No trimming or fuzzy
// matching is applied.
type TitleAgencyDeduper struct{}

func (TitleAgencyDeduper) Dedup(items []models.PlatformSolicitation) []models.PlatformSolicitation {
	seen := make(map[string]struct{}, len(items))
	out := make([]models.PlatformSolicitation, 0, len(items))
	for _, item := range items {
		key := titleAgencyKey(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

func titleAgencyKey(s models.PlatformSolicitation) string {
	return strings.ToLower(s.Title) + "\x00" + strings.ToLower(s.Agency)
}

const defaultSimilarityThreshold = 0.9

// SimilarityDeduper drops a record when the same platform already produced its
// externalId, or when a kept record at the same agency has a title whose
// normalized edit-distance similarity reaches Threshold.
type SimilarityDeduper struct {
	Threshold float64 // 0 means 0.9
}

func (d SimilarityDeduper) Dedup(items []models.PlatformSolicitation) []models.PlatformSolicitation {
	threshold := d.Threshold
	if threshold <= 0 || threshold > 1 {
		threshold = defaultSimilarityThreshold
	}

	seenExternal := make(map[string]struct{}, len(items))
	byAgency := make(map[string][]string)
	out := make([]models.PlatformSolicitation, 0, len(items))

	for _, item := range items {
		if item.ExternalID != "" {
			key := string(item.PlatformID) + "\x00" + item.ExternalID
			if _, dup := seenExternal[key]; dup {
				continue
			}
			seenExternal[key] = struct{}{}
		}

		agency := strings.ToLower(cleanText(item.Agency))
		title := normalizeTitle(item.Title)
		duplicate := false
		for _, kept := range byAgency[agency] {
			if titleSimilarity(title, kept) >= threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		byAgency[agency] = append(byAgency[agency], title)
		out = append(out, item)
	}
	return out
}

// normalizeTitle lower-cases, drops punctuation and collapses whitespace.
func normalizeTitle(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return ' '
		}
		return unicode.ToLower(r)
	}, s)
	return cleanText(s)
}

// titleSimilarity is 1 - distance/longest, in [0,1].
func titleSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// DeduperByName maps a strategy name to its implementation; unknown names get
// the default title+agency strategy.
func DeduperByName(name string) Deduper {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "similarity", "fuzzy":
		return SimilarityDeduper{}
	default:
		return TitleAgencyDeduper{}
	}
}
