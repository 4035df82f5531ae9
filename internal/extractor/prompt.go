package extractor

import (
	"bytes"
	"strings"
	txttmpl "text/template"

	"github.com/eventscope/eventscope/internal/models"
)

const (
	// Prompt size is capped by keeping the lede and the conclusion of the
	// article body and eliding the middle.
	headChars = 1500
	tailChars = 500

	elisionMarker = "\n[...]\n"
)

const systemInstruction = `You are an event extraction engine for news articles. ` +
	`You respond with a single JSON object and nothing else.`

var promptTemplate = txttmpl.Must(txttmpl.New("extract").Parse(
	`Extract the single most significant event from the following news article.

Article title: {{.Title}}
{{- if .Published}}
Published: {{.Published}}
{{- end}}
Article text:
{{.Content}}
{{- if .Entities}}

Detected entities (hints, may be incomplete or wrong):
{{.Entities}}
{{- end}}

Respond with one JSON object with exactly these fields (omit a field if the
article does not state it):
  "event_type": one of {{.EventTypes}}
  "event_sub_type": free-form qualifier
  "title": short event headline
  "summary": 2-3 sentence factual summary
  "confidence": number between 0.0 and 1.0
  "perpetrator": name of the responsible actor
  "perpetrator_type": one of {{.PerpTypes}}
  "location": {"city": "", "region": "", "country": "", "venue": ""}
  "casualties": {"killed": integer, "injured": integer}
  "participants": list of person names
  "organizations": list of organization names
  "event_date": "YYYY-MM-DD"
  "event_time": free-form time of day
  "impact": short description of the impact`))

type promptVars struct {
	Title      string
	Published  string
	Content    string
	Entities   string
	EventTypes string
	PerpTypes  string
}

// BuildPrompt renders the deterministic, bounded extraction prompt for
// one article and its entity hints.
func BuildPrompt(article models.ArticleContent, entities models.Entities) string {
	vars := promptVars{
		Title:      article.Title,
		Content:    truncateContent(article.Content),
		Entities:   entityHint(entities),
		EventTypes: quotedList(eventTypeNames()),
		PerpTypes:  quotedList(perpTypeNames()),
	}
	if article.PublishedDate != nil {
		vars.Published = article.PublishedDate.Format("2006-01-02")
	}

	buf := bytes.NewBuffer(nil)
	if err := promptTemplate.Execute(buf, vars); err != nil {
		// The template and vars are fixed at compile time; execution
		// cannot fail on well-formed input.
		panic(err)
	}
	return buf.String()
}

func truncateContent(s string) string {
	runes := []rune(s)
	if len(runes) <= headChars+tailChars {
		return s
	}
	return string(runes[:headChars]) + elisionMarker + string(runes[len(runes)-tailChars:])
}

func entityHint(entities models.Entities) string {
	var lines []string
	if len(entities.Persons) > 0 {
		lines = append(lines, "persons: "+strings.Join(entities.Persons, ", "))
	}
	if len(entities.Organizations) > 0 {
		lines = append(lines, "organizations: "+strings.Join(entities.Organizations, ", "))
	}
	if len(entities.Locations) > 0 {
		lines = append(lines, "locations: "+strings.Join(entities.Locations, ", "))
	}
	if len(entities.Dates) > 0 {
		lines = append(lines, "dates: "+strings.Join(entities.Dates, ", "))
	}
	return strings.Join(lines, "\n")
}

func quotedList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = `"` + name + `"`
	}
	return strings.Join(quoted, ", ")
}

func eventTypeNames() []string {
	names := make([]string, len(models.EventTypes))
	for i, t := range models.EventTypes {
		names[i] = string(t)
	}
	return names
}

func perpTypeNames() []string {
	return []string{
		"terrorist_group", "state_actor", "criminal_organization",
		"individual", "multiple_parties", "unknown", "not_applicable",
	}
}
