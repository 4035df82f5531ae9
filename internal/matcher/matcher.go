// Package matcher scores extracted events against the user query and
// ranks the survivors.
package matcher

import (
	"sort"
	"strings"
	"time"

	"github.com/eventscope/eventscope/internal/global"
	"github.com/eventscope/eventscope/internal/models"
	"github.com/eventscope/eventscope/pkgs/utils"
)

// DefaultMinScore is the floor below which events are discarded.
const DefaultMinScore = 0.30

// dateFalloffDays is the linear falloff window for events outside the
// requested range. The falloff is symmetric around the range.
const dateFalloffDays = 30

// Matcher computes relevance scores with configurable component weights.
type Matcher struct {
	weights  global.QueryWeights
	minScore float64
}

func New(weights global.QueryWeights, minScore float64) *Matcher {
	return &Matcher{weights: weights, minScore: minScore}
}

// Score computes the relevance of one event for a query: a weighted sum
// of text, location, date and event-type components attenuated by the
// model's confidence. Deterministic for equal inputs.
func (m *Matcher) Score(query models.Query, event models.EventData) float64 {
	sum := m.weights.Text*textScore(query, event) +
		m.weights.Location*locationScore(query, event) +
		m.weights.Date*dateScore(query, event) +
		m.weights.EventType*eventTypeScore(query, event)
	return utils.Clamp01(sum * utils.Clamp01(event.Confidence))
}

// Rank scores events, drops those under the floor and returns the rest
// sorted by score descending, ties broken by event date descending then
// insertion order. The relevance score is set on each surviving event.
func (m *Matcher) Rank(query models.Query, events []models.EventData) []models.EventData {
	type ranked struct {
		event models.EventData
		index int
	}

	kept := make([]ranked, 0, len(events))
	for i, event := range events {
		score := m.Score(query, event)
		if score < m.minScore {
			continue
		}
		event.RelevanceScore = score
		kept = append(kept, ranked{event: event, index: i})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i].event, kept[j].event
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		ad, bd := a.MatchDate(), b.MatchDate()
		switch {
		case ad != nil && bd != nil && !ad.Equal(*bd):
			return ad.After(*bd)
		case ad != nil && bd == nil:
			return true
		case ad == nil && bd != nil:
			return false
		}
		return kept[i].index < kept[j].index
	})

	out := make([]models.EventData, len(kept))
	for i, r := range kept {
		out[i] = r.event
	}
	return out
}

// MinScore exposes the configured floor.
func (m *Matcher) MinScore() float64 { return m.minScore }

func textScore(query models.Query, event models.EventData) float64 {
	text := event.Title + " " + event.Summary
	j := jaccard(keywords(query.Phrase), keywords(text))
	s := lcsRatio(query.Phrase, text)
	return 0.7*j + 0.3*s
}

func locationScore(query models.Query, event models.EventData) float64 {
	loc := strings.ToLower(strings.TrimSpace(query.Location))
	if loc == "" || event.Location == nil {
		return 0
	}

	best := 0.0
	for _, field := range []string{
		event.Location.City,
		event.Location.Region,
		event.Location.Country,
		event.Location.Venue,
	} {
		field = strings.ToLower(strings.TrimSpace(field))
		if field == "" {
			continue
		}
		switch {
		case field == loc:
			return 1.0
		case strings.Contains(field, loc) || strings.Contains(loc, field):
			best = max(best, 0.6)
		}
	}
	return best
}

func dateScore(query models.Query, event models.EventData) float64 {
	if query.DateFrom == nil && query.DateTo == nil {
		return 0.5
	}

	date := event.MatchDate()
	if date == nil {
		return 0
	}

	from, to := query.DateFrom, query.DateTo
	if from != nil && to == nil {
		to = from
	}
	if to != nil && from == nil {
		from = to
	}

	if !date.Before(*from) && !date.After(*to) {
		return 1.0
	}

	var outside time.Duration
	if date.Before(*from) {
		outside = from.Sub(*date)
	} else {
		outside = date.Sub(*to)
	}
	days := outside.Hours() / 24
	return max(0, 1-days/dateFalloffDays)
}

func eventTypeScore(query models.Query, event models.EventData) float64 {
	if query.EventType == "" {
		return 0.5
	}
	if query.EventType == event.EventType {
		return 1.0
	}
	return 0
}

// FilterByDateRange keeps events whose match date lies within the
// inclusive range. Events without a date are dropped.
func FilterByDateRange(events []models.EventData, from, to time.Time) []models.EventData {
	out := make([]models.EventData, 0, len(events))
	for _, event := range events {
		date := event.MatchDate()
		if date == nil {
			continue
		}
		if date.Before(from) || date.After(to) {
			continue
		}
		out = append(out, event)
	}
	return out
}

// FilterByLocation keeps events matching the location per the scoring
// rules (exact or substring containment on any field).
func FilterByLocation(events []models.EventData, location string) []models.EventData {
	out := make([]models.EventData, 0, len(events))
	for _, event := range events {
		probe := models.Query{Location: location}
		if locationScore(probe, event) > 0 {
			out = append(out, event)
		}
	}
	return out
}

// FilterByEventType keeps events of the given type.
func FilterByEventType(events []models.EventData, t models.EventType) []models.EventData {
	out := make([]models.EventData, 0, len(events))
	for _, event := range events {
		if event.EventType == t {
			out = append(out, event)
		}
	}
	return out
}
