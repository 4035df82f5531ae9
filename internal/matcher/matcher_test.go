package matcher_test

import (
	"testing"
	"time"

	"github.com/eventscope/eventscope/internal/global"
	"github.com/eventscope/eventscope/internal/matcher"
	"github.com/eventscope/eventscope/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultWeights = global.QueryWeights{Text: 0.40, Location: 0.25, Date: 0.20, EventType: 0.15}

func newMatcher() *matcher.Matcher {
	return matcher.New(defaultWeights, matcher.DefaultMinScore)
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestScoreHappyPath(t *testing.T) {
	m := newMatcher()

	query := models.Query{
		Phrase:    "protest in Mumbai",
		Location:  "Mumbai",
		EventType: models.EventProtest,
	}
	event := models.EventData{
		EventType:  models.EventProtest,
		Title:      "Large protest in Mumbai city center",
		Summary:    "Thousands gathered to protest in Mumbai.",
		Confidence: 0.9,
		Location:   &models.Location{City: "Mumbai", Country: "India"},
		EventDate:  date(2025, time.March, 15),
	}

	score := m.Score(query, event)
	assert.GreaterOrEqual(t, score, matcher.DefaultMinScore,
		"a well-matched event must clear the relevance floor")
	assert.LessOrEqual(t, score, 1.0)
}

func TestScoreDropsUnrelatedEvent(t *testing.T) {
	m := newMatcher()

	// §8 S5: a cyberattack in New York against a Mumbai protest query
	// lands well under the floor even at high confidence.
	query := models.Query{Phrase: "protest in Mumbai"}
	event := models.EventData{
		EventType:  models.EventCyberattack,
		Title:      "Ransomware hits hospital network",
		Summary:    "A cyberattack disrupted systems across New York.",
		Confidence: 0.9,
		Location:   &models.Location{City: "New York", Country: "USA"},
	}

	score := m.Score(query, event)
	assert.Less(t, score, matcher.DefaultMinScore)
}

func TestScoreDeterministic(t *testing.T) {
	m := newMatcher()
	query := models.Query{Phrase: "protest in Mumbai", Location: "Mumbai"}
	event := models.EventData{
		EventType:  models.EventProtest,
		Title:      "Large protest in Mumbai",
		Summary:    "Summary text.",
		Confidence: 0.8,
		EventDate:  date(2025, time.March, 15),
	}

	first := m.Score(query, event)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, m.Score(query, event))
	}
}

func TestLocationComponent(t *testing.T) {
	m := newMatcher()

	base := models.EventData{
		EventType:  models.EventProtest,
		Title:      "protest in the city",
		Summary:    "protest in the city",
		Confidence: 1.0,
	}

	exact := base
	exact.Location = &models.Location{City: "Mumbai"}

	partial := base
	partial.Location = &models.Location{Region: "Greater Mumbai Area"}

	miss := base
	miss.Location = &models.Location{City: "Pune"}

	query := models.Query{Phrase: "protest", Location: "Mumbai"}

	exactScore := m.Score(query, exact)
	partialScore := m.Score(query, partial)
	missScore := m.Score(query, miss)

	assert.Greater(t, exactScore, partialScore, "exact city match beats substring match")
	assert.Greater(t, partialScore, missScore, "substring match beats no match")
}

func TestDateComponent(t *testing.T) {
	m := newMatcher()

	query := models.Query{
		Phrase:   "protest",
		DateFrom: date(2025, time.March, 1),
		DateTo:   date(2025, time.March, 31),
	}

	mk := func(d *time.Time) models.EventData {
		return models.EventData{
			EventType:  models.EventProtest,
			Title:      "protest",
			Summary:    "protest",
			Confidence: 1.0,
			EventDate:  d,
		}
	}

	inRange := m.Score(query, mk(date(2025, time.March, 15)))
	nearMiss := m.Score(query, mk(date(2025, time.April, 5)))
	farMiss := m.Score(query, mk(date(2025, time.June, 30)))
	noDate := m.Score(query, mk(nil))

	assert.Greater(t, inRange, nearMiss, "in-range dates score highest")
	assert.Greater(t, nearMiss, farMiss, "proximity decays linearly over 30 days")
	assert.Equal(t, farMiss, noDate, "beyond the falloff window equals no date at all")

	t.Run("published date is the fallback", func(t *testing.T) {
		event := mk(nil)
		event.ArticlePublishedDate = date(2025, time.March, 10)
		assert.Equal(t, inRange, m.Score(query, event))
	})
}

func TestRank(t *testing.T) {
	m := newMatcher()
	query := models.Query{Phrase: "protest in Mumbai", Location: "Mumbai", EventType: models.EventProtest}

	strong := models.EventData{
		EventType:  models.EventProtest,
		Title:      "Large protest in Mumbai city center",
		Summary:    "Thousands protest in Mumbai.",
		Confidence: 0.95,
		Location:   &models.Location{City: "Mumbai"},
	}
	weak := models.EventData{
		EventType:  models.EventProtest,
		Title:      "Mumbai protest",
		Summary:    "A protest happened.",
		Confidence: 0.45,
		Location:   &models.Location{City: "Mumbai"},
	}
	unrelated := models.EventData{
		EventType:  models.EventCyberattack,
		Title:      "Data breach at retailer",
		Summary:    "Customer records leaked online.",
		Confidence: 0.9,
	}

	ranked := m.Rank(query, []models.EventData{weak, unrelated, strong})
	require.NotEmpty(t, ranked)
	assert.Equal(t, strong.Title, ranked[0].Title, "highest score first")

	for _, event := range ranked {
		assert.GreaterOrEqual(t, event.RelevanceScore, matcher.DefaultMinScore)
		assert.LessOrEqual(t, event.RelevanceScore, 1.0)
		assert.NotEqual(t, unrelated.Title, event.Title, "events under the floor are dropped")
	}
}

func TestFilters(t *testing.T) {
	events := []models.EventData{
		{Title: "a", EventType: models.EventProtest, EventDate: date(2025, time.March, 10),
			Location: &models.Location{City: "Mumbai"}},
		{Title: "b", EventType: models.EventFlood, EventDate: date(2025, time.June, 1),
			Location: &models.Location{City: "Chennai"}},
		{Title: "c", EventType: models.EventProtest},
	}

	t.Run("by date range", func(t *testing.T) {
		got := matcher.FilterByDateRange(events,
			time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC))
		require.Len(t, got, 1)
		assert.Equal(t, "a", got[0].Title)
	})

	t.Run("by location", func(t *testing.T) {
		got := matcher.FilterByLocation(events, "Mumbai")
		require.Len(t, got, 1)
		assert.Equal(t, "a", got[0].Title)
	})

	t.Run("by event type", func(t *testing.T) {
		got := matcher.FilterByEventType(events, models.EventProtest)
		require.Len(t, got, 2)
	})
}
