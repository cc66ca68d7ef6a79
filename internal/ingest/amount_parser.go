package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

var amountNumberRegex = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

var amountMultipliers = map[string]float64{
	"k":        1e3,
	"thousand": 1e3,
	"m":        1e6,
	"mm":       1e6,
	"million":  1e6,
	"b":        1e9,
	"billion":  1e9,
}

// parseAmount reads a dollar figure out of text such as "$1,250,000.00",
// "USD 2.5 million" or "-$3,000" (de-obligations). When several figures
// appear, as in a range, the largest wins.
func parseAmount(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}

	locs := amountNumberRegex.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return 0, false
	}

	var best float64
	found := false
	for _, loc := range locs {
		val, err := strconv.ParseFloat(strings.ReplaceAll(text[loc[0]:loc[1]], ",", ""), 64)
		if err != nil {
			continue
		}
		if rest := strings.Fields(strings.ToLower(text[loc[1]:])); len(rest) > 0 {
			if mult, ok := amountMultipliers[strings.Trim(rest[0], ".,")]; ok {
				val *= mult
			}
		}
		if !found || val > best {
			best = val
			found = true
		}
	}
	if !found {
		return 0, false
	}

	unsigned := strings.TrimSpace(strings.TrimPrefix(text, "$"))
	if strings.HasPrefix(text, "-") || strings.HasPrefix(text, "(") || strings.HasPrefix(unsigned, "-") {
		best = -best
	}
	return best, true
}
