// Package ner provides a shallow entity hinter. It feeds the extraction
// prompt with likely persons, organizations, locations and dates pulled
// from the article text by capitalization and pattern heuristics; it is
// not a real named-entity recognizer and does not need to be.
package ner

import (
	"regexp"
	"strings"

	"github.com/eventscope/eventscope/internal/models"
	"github.com/eventscope/eventscope/pkgs/utils"
)

// Hinter extracts entity hints from article text. Implementations must
// tolerate arbitrary input and never fail; an empty Entities is a valid
// result.
type Hinter interface {
	Extract(title, content string) models.Entities
}

// MaxPerKind caps each entity list fed into the prompt.
const MaxPerKind = 10

var orgMarkers = []string{
	"inc", "corp", "ltd", "llc", "group", "company", "agency", "ministry",
	"department", "police", "army", "navy", "forces", "party", "union",
	"university", "institute", "committee", "council", "commission",
	"organization", "organisation", "association", "authority", "bank",
}

var dateREs = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}(?:,\s*\d{4})?\b`),
	regexp.MustCompile(`\b\d{1,2}\s+(?:January|February|March|April|May|June|July|August|September|October|November|December)(?:\s+\d{4})?\b`),
}

var sentenceSplitRE = regexp.MustCompile(`[.!?;\n]+`)

var stopTitleWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "in": {}, "on": {}, "at": {}, "of": {},
	"and": {}, "or": {}, "but": {}, "for": {}, "with": {}, "after": {},
	"before": {}, "as": {}, "by": {}, "from": {}, "to": {},
}

// Heuristic is the built-in Hinter.
type Heuristic struct{}

func NewHeuristic() *Heuristic { return &Heuristic{} }

// Extract scans title and content for capitalized word runs and date
// patterns. Runs carrying an organization marker become organizations,
// short runs without one become person candidates, single all-caps
// acronyms become organizations, and other single capitalized tokens
// become location candidates.
func (h *Heuristic) Extract(title, content string) models.Entities {
	text := title + ". " + content

	var entities models.Entities
	for _, re := range dateREs {
		entities.Dates = append(entities.Dates, re.FindAllString(text, MaxPerKind)...)
	}
	entities.Dates = utils.DedupeFold(entities.Dates)

	var persons, orgs, locations []string
	for _, sentence := range sentenceSplitRE.Split(text, -1) {
		for _, run := range capitalizedRuns(sentence) {
			switch classify(run) {
			case "org":
				orgs = append(orgs, run)
			case "person":
				persons = append(persons, run)
			case "location":
				locations = append(locations, run)
			}
		}
	}

	entities.Persons = cap10(utils.DedupeFold(persons))
	entities.Organizations = cap10(utils.DedupeFold(orgs))
	entities.Locations = cap10(utils.DedupeFold(locations))
	entities.Dates = cap10(entities.Dates)
	return entities
}

// capitalizedRuns returns maximal runs of capitalized words, skipping the
// sentence-leading word which is capitalized for free.
func capitalizedRuns(sentence string) []string {
	words := strings.Fields(sentence)
	var runs []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			runs = append(runs, strings.Join(current, " "))
			current = nil
		}
	}

	for i, word := range words {
		clean := strings.Trim(word, `"'()[],:`)
		if clean == "" {
			flush()
			continue
		}
		if _, stop := stopTitleWords[strings.ToLower(clean)]; stop && len(current) > 0 {
			// connectors inside a run are allowed ("Ministry of Defence")
			current = append(current, clean)
			continue
		}
		if isCapitalized(clean) && (i > 0 || len(words) == 1) {
			current = append(current, clean)
			continue
		}
		flush()
	}
	flush()

	// trim trailing connectors left dangling by the loop
	for i, run := range runs {
		words := strings.Fields(run)
		for len(words) > 0 {
			if _, stop := stopTitleWords[strings.ToLower(words[len(words)-1])]; stop {
				words = words[:len(words)-1]
				continue
			}
			break
		}
		runs[i] = strings.Join(words, " ")
	}
	return runs
}

func classify(run string) string {
	words := strings.Fields(run)
	if len(words) == 0 {
		return ""
	}
	lower := strings.ToLower(run)
	for _, marker := range orgMarkers {
		if strings.HasSuffix(lower, " "+marker) || strings.Contains(lower, " "+marker+" ") ||
			lower == marker {
			return "org"
		}
	}
	if len(words) == 1 {
		if isAcronym(words[0]) {
			return "org"
		}
		return "location"
	}
	if len(words) <= 3 {
		return "person"
	}
	return "org"
}

func isCapitalized(word string) bool {
	r := []rune(word)
	return len(r) > 0 && r[0] >= 'A' && r[0] <= 'Z'
}

func isAcronym(word string) bool {
	if len(word) < 2 || len(word) > 6 {
		return false
	}
	for _, r := range word {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func cap10(items []string) []string {
	if len(items) > MaxPerKind {
		return items[:MaxPerKind]
	}
	return items
}
