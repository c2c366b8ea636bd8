package relevance

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MinVariantLen is the shortest normalized variant that may match a stop name.
const MinVariantLen = 2

// Minimum rune length of a hyphen segment or a prefix remainder to count as a variant.
const minPartLen = 3

var (
	spaceRe = regexp.MustCompile(`\s+`)

	dashReplacer  = strings.NewReplacer("-", " ", "־", " ", "‐", " ", "‑", " ", "–", " ", "—", " ")
	quoteReplacer = strings.NewReplacer(`"`, "", "'", "", "`", "", "״", "", "׳", "", "’", "", "‘", "", "“", "", "”", "")

	lower = cases.Lower(language.Und)
)

// CityPrefixes are the settlement-type prefixes stripped to form a variant.
var CityPrefixes = []string{"כפר", "קרית", "גבעת", "רמת", "נווה"}

// Normalize canonicalizes text for substring matching.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = spaceRe.ReplaceAllString(s, " ")
	s = dashReplacer.Replace(s)
	s = quoteReplacer.Replace(s)
	return lower.String(s)
}

// Variants returns the alternative spellings of a city name, longest first
// and then in lexicographic order.
func Variants(city string) []string {
	if city == "" {
		return nil
	}
	set := map[string]struct{}{city: {}}

	if strings.Contains(city, "-") {
		for _, part := range strings.Split(city, "-") {
			part = strings.TrimSpace(part)
			if utf8.RuneCountInString(part) >= minPartLen {
				set[part] = struct{}{}
			}
		}
	}

	for _, prefix := range CityPrefixes {
		rest, ok := strings.CutPrefix(city, prefix+" ")
		if ok && utf8.RuneCountInString(rest) >= minPartLen {
			set[rest] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(out[i]), utf8.RuneCountInString(out[j])
		if li != lj {
			return li > lj
		}
		return out[i] < out[j]
	})
	return out
}
