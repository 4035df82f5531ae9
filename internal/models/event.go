package models

import (
	"sort"
	"strings"
	"time"

	"github.com/eventscope/eventscope/pkgs/utils"
)

// EventType is the controlled vocabulary for extracted events.
type EventType string

const (
	// violence / security
	EventAttack     EventType = "attack"
	EventBombing    EventType = "bombing"
	EventShooting   EventType = "shooting"
	EventStabbing   EventType = "stabbing"
	EventKidnapping EventType = "kidnapping"
	EventHijacking  EventType = "hijacking"
	EventRiot       EventType = "riot"

	// cyber
	EventCyberattack EventType = "cyberattack"
	EventDataBreach  EventType = "data_breach"
	EventRansomware  EventType = "ransomware"

	// meetings
	EventMeeting    EventType = "meeting"
	EventSummit     EventType = "summit"
	EventConference EventType = "conference"

	// disasters
	EventEarthquake EventType = "earthquake"
	EventFlood      EventType = "flood"
	EventWildfire   EventType = "wildfire"
	EventStorm      EventType = "storm"
	EventEpidemic   EventType = "epidemic"

	// political / military
	EventProtest           EventType = "protest"
	EventCoup              EventType = "coup"
	EventElection          EventType = "election"
	EventMilitaryOperation EventType = "military_operation"
	EventAirstrike         EventType = "airstrike"

	// crisis
	EventHumanitarianCrisis EventType = "humanitarian_crisis"
	EventRefugeeCrisis      EventType = "refugee_crisis"
	EventFamine             EventType = "famine"

	EventOther EventType = "other"
)

// EventTypes lists every member of the vocabulary in alphabetical order.
var EventTypes = func() []EventType {
	list := []EventType{
		EventAttack, EventBombing, EventShooting, EventStabbing,
		EventKidnapping, EventHijacking, EventRiot,
		EventCyberattack, EventDataBreach, EventRansomware,
		EventMeeting, EventSummit, EventConference,
		EventEarthquake, EventFlood, EventWildfire, EventStorm, EventEpidemic,
		EventProtest, EventCoup, EventElection, EventMilitaryOperation, EventAirstrike,
		EventHumanitarianCrisis, EventRefugeeCrisis, EventFamine,
		EventOther,
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}()

func (t EventType) String() string { return string(t) }

func (t EventType) Valid() bool {
	for _, m := range EventTypes {
		if t == m {
			return true
		}
	}
	return false
}

// ParseEventType maps an arbitrary string onto the vocabulary. Exact
// case-insensitive matches win; otherwise the member whose name is the
// longest substring of the raw string (ties alphabetical), then the
// reverse containment, then Other.
func ParseEventType(raw string) EventType {
	return EventType(fuzzyMatch(raw, eventTypeNames, string(EventOther)))
}

var eventTypeNames = func() []string {
	names := make([]string, len(EventTypes))
	for i, t := range EventTypes {
		names[i] = string(t)
	}
	return names
}()

// PerpetratorType is the controlled vocabulary for attributed actors.
type PerpetratorType string

const (
	PerpTerroristGroup       PerpetratorType = "terrorist_group"
	PerpStateActor           PerpetratorType = "state_actor"
	PerpCriminalOrganization PerpetratorType = "criminal_organization"
	PerpIndividual           PerpetratorType = "individual"
	PerpMultipleParties      PerpetratorType = "multiple_parties"
	PerpUnknown              PerpetratorType = "unknown"
	PerpNotApplicable        PerpetratorType = "not_applicable"
)

var perpetratorTypeNames = []string{
	"criminal_organization",
	"individual",
	"multiple_parties",
	"not_applicable",
	"state_actor",
	"terrorist_group",
	"unknown",
}

func (t PerpetratorType) String() string { return string(t) }

func (t PerpetratorType) Valid() bool {
	for _, name := range perpetratorTypeNames {
		if string(t) == name {
			return true
		}
	}
	return false
}

// ParsePerpetratorType maps an arbitrary string onto the vocabulary,
// defaulting to unknown.
func ParsePerpetratorType(raw string) PerpetratorType {
	return PerpetratorType(fuzzyMatch(raw, perpetratorTypeNames, string(PerpUnknown)))
}

// fuzzyMatch normalizes raw, tries an exact member match, then the longest
// member name contained in raw, then (for raw of four or more characters)
// the first member, in the order of names, whose name contains raw.
// names must be sorted alphabetically so ties resolve deterministically.
func fuzzyMatch(raw string, names []string, fallback string) string {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.ReplaceAll(norm, "-", "_")
	if norm == "" {
		return fallback
	}

	for _, name := range names {
		if norm == name {
			return name
		}
	}

	spaced := strings.ReplaceAll(norm, "_", " ")
	best := ""
	for _, name := range names {
		probe := strings.ReplaceAll(name, "_", " ")
		if strings.Contains(spaced, probe) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return best
	}

	if len(norm) >= 4 {
		for _, name := range names {
			if strings.Contains(strings.ReplaceAll(name, "_", " "), spaced) {
				return name
			}
		}
	}
	return fallback
}

// Location is a structured place attribution on an event.
type Location struct {
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`
	Venue   string `json:"venue,omitempty"`
}

func (l Location) IsZero() bool {
	return l.City == "" && l.Region == "" && l.Country == "" && l.Venue == ""
}

// Casualties records stated counts. A nil field means "not stated",
// which is distinct from zero.
type Casualties struct {
	Killed  *int `json:"killed,omitempty"`
	Injured *int `json:"injured,omitempty"`
}

func (c Casualties) IsZero() bool { return c.Killed == nil && c.Injured == nil }

// EventData is the normalized event record extracted from one article.
type EventData struct {
	EventType     EventType       `json:"event_type"`
	EventSubType  string          `json:"event_sub_type,omitempty"`
	Title         string          `json:"title"`
	Summary       string          `json:"summary"`
	Confidence    float64         `json:"confidence"`
	Perpetrator   string          `json:"perpetrator,omitempty"`
	PerpType      PerpetratorType `json:"perpetrator_type,omitempty"`
	Location      *Location       `json:"location,omitempty"`
	Casualties    *Casualties     `json:"casualties,omitempty"`
	Participants  []string        `json:"participants,omitempty"`
	Organizations []string        `json:"organizations,omitempty"`
	EventDate     *time.Time      `json:"event_date,omitempty"`
	EventTime     string          `json:"event_time,omitempty"`
	Impact        string          `json:"impact,omitempty"`
	FullContent   string          `json:"full_content,omitempty"`

	SourceName           string     `json:"source_name,omitempty"`
	SourceURL            string     `json:"source_url,omitempty"`
	ArticlePublishedDate *time.Time `json:"article_published_date,omitempty"`

	CollectionTimestamp time.Time `json:"collection_timestamp"`
	RelevanceScore      float64   `json:"relevance_score"`
}

// MatchDate returns the instant used for date scoring: the event date,
// falling back to the article's published date.
func (e EventData) MatchDate() *time.Time {
	if e.EventDate != nil {
		return e.EventDate
	}
	return e.ArticlePublishedDate
}

// ClampScores forces confidence and relevance into the unit interval.
func (e *EventData) ClampScores() {
	e.Confidence = utils.Clamp01(e.Confidence)
	e.RelevanceScore = utils.Clamp01(e.RelevanceScore)
}
