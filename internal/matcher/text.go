package matcher

import (
	"strings"
	"unicode"
)

// stopWords are common English function words excluded from keyword
// comparison.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {},
	"if": {}, "then": {}, "in": {}, "on": {}, "at": {}, "of": {},
	"for": {}, "to": {}, "from": {}, "by": {}, "with": {}, "about": {},
	"into": {}, "over": {}, "under": {}, "after": {}, "before": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"it": {}, "its": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"as": {}, "not": {}, "no": {}, "has": {}, "have": {}, "had": {},
}

// lcsCap bounds the quadratic subsequence computation; inputs longer
// than this are truncated before the DP table is built.
const lcsCap = 600

// keywords lowercases s, splits on non-alphanumeric runes and drops
// stop words, returning the resulting set.
func keywords(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range splitWords(s) {
		if _, stop := stopWords[word]; stop {
			continue
		}
		set[word] = struct{}{}
	}
	return set
}

func splitWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// jaccard computes |a∩b| / |a∪b| over two keyword sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// lcsRatio is the longest-common-subsequence length between a and b
// normalized by the longer input.
func lcsRatio(a, b string) float64 {
	ra := truncateRunes(strings.ToLower(a), lcsCap)
	rb := truncateRunes(strings.ToLower(b), lcsCap)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}
	longest := max(len(ra), len(rb))
	return float64(prev[len(rb)]) / float64(longest)
}

func truncateRunes(s string, n int) []rune {
	r := []rune(s)
	if len(r) > n {
		return r[:n]
	}
	return r
}
