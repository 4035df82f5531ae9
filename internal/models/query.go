package models

import (
	"fmt"
	"strings"
	"time"

	ec "github.com/eventscope/eventscope/pkgs/errors"
)

// MaxPhraseLen is the upper bound on the length of a query phrase.
const MaxPhraseLen = 500

// Query is a user search request. Location and EventType narrow scoring
// only; the phrase alone drives scraping.
type Query struct {
	Phrase    string     `json:"phrase" validate:"required,max=500"`
	Location  string     `json:"location,omitempty"`
	EventType EventType  `json:"event_type,omitempty"`
	DateFrom  *time.Time `json:"date_from,omitempty"`
	DateTo    *time.Time `json:"date_to,omitempty"`
}

// ParseDate accepts "YYYY-MM-DD" or ISO-8601 with or without timezone and
// coerces the result to the start of the UTC day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	layouts := []string{
		time.DateOnly,
		time.RFC3339,
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date: %q", s)
}

// Validate checks the §3 invariants of a query. Violations are reported
// as input_invalid.
func (q *Query) Validate() *ec.Error {
	q.Phrase = strings.TrimSpace(q.Phrase)
	if q.Phrase == "" {
		return ec.ErrInputInvalid.Clone().WithDetails("phrase must not be empty")
	}
	if len(q.Phrase) > MaxPhraseLen {
		return ec.ErrInputInvalid.Clone().
			WithDetails(fmt.Sprintf("phrase exceeds %d characters", MaxPhraseLen))
	}
	if q.EventType != "" && !q.EventType.Valid() {
		q.EventType = ParseEventType(string(q.EventType))
	}
	if q.DateFrom != nil && q.DateTo != nil && q.DateFrom.After(*q.DateTo) {
		return ec.ErrInputInvalid.Clone().WithDetails("date_from must not be after date_to")
	}
	return nil
}

// ScrapePhrase returns the phrase enhanced with date context for search
// pages. Location and event type are deliberately not appended.
func (q Query) ScrapePhrase() string {
	const monthYear = "January 2006"
	switch {
	case q.DateFrom != nil && q.DateTo != nil:
		from, to := q.DateFrom.Format(monthYear), q.DateTo.Format(monthYear)
		if from == to {
			return fmt.Sprintf("%s %s", q.Phrase, from)
		}
		return fmt.Sprintf("%s %s to %s", q.Phrase, from, to)
	case q.DateFrom != nil:
		return fmt.Sprintf("%s after %s", q.Phrase, q.DateFrom.Format(monthYear))
	case q.DateTo != nil:
		return fmt.Sprintf("%s before %s", q.Phrase, q.DateTo.Format(monthYear))
	default:
		return q.Phrase + " recent"
	}
}
