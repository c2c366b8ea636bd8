package relevance

import (
	"strings"
	"unicode/utf8"

	"github.com/leapstack-labs/stridesync/pkg/core"
)

// Kind is the relevance class of a (stop, city) pair.
type Kind int

const (
	NotRelevant Kind = iota
	Exact
	NameMatch
)

// String returns the persisted relevance_type value.
func (k Kind) String() string {
	switch k {
	case Exact:
		return "exact"
	case NameMatch:
		return "name_match"
	default:
		return "not_relevant"
	}
}

// Match is the classification of a stop against one city.
type Match struct {
	Kind Kind
	// MatchedText is the city variant found in the stop name. Empty for Exact.
	MatchedText string
}

// Relevant reports whether a row should be emitted.
func (m Match) Relevant() bool { return m.Kind != NotRelevant }

// Confidence is derived from the kind.
func (m Match) Confidence() float64 {
	switch m.Kind {
	case Exact:
		return 1.0
	case NameMatch:
		return 0.8
	default:
		return 0
	}
}

// Classify decides whether stop belongs to city. The first rule that fires wins:
// same city, then a city variant inside the stop name.
func Classify(stop core.Stop, city string) Match {
	return classify(stop.City, Normalize(stop.Name), city, normalizedVariants(city))
}

type variant struct {
	raw, norm string
}

func normalizedVariants(city string) []variant {
	vs := Variants(city)
	out := make([]variant, 0, len(vs))
	for _, v := range vs {
		out = append(out, variant{raw: v, norm: Normalize(v)})
	}
	return out
}

func classify(stopCity, normName, city string, variants []variant) Match {
	if stopCity == city {
		return Match{Kind: Exact}
	}
	for _, v := range variants {
		if utf8.RuneCountInString(v.norm) >= MinVariantLen && strings.Contains(normName, v.norm) {
			return Match{Kind: NameMatch, MatchedText: v.raw}
		}
	}
	return Match{Kind: NotRelevant}
}
