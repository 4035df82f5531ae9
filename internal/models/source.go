package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// SourceKind selects the scraping strategy for a source.
type SourceKind string

const (
	SourceHTML SourceKind = "html"
	SourceRSS  SourceKind = "rss"
)

// QueryPlaceholder is substituted with the URL-encoded query phrase in a
// source's search URL template.
const QueryPlaceholder = "{query}"

// SelectorList is an ordered list of CSS selectors tried left to right.
// JSON accepts either an array or a comma-separated string; the string
// form is split once at load time.
type SelectorList []string

func (l *SelectorList) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		*l = splitSelectors(v)
	case []any:
		out := make(SelectorList, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("selector list items must be strings, got %T", item)
			}
			out = append(out, splitSelectors(s)...)
		}
		*l = out
	default:
		return fmt.Errorf("selector list must be a string or array, got %T", raw)
	}
	return nil
}

func splitSelectors(s string) SelectorList {
	parts := strings.Split(s, ",")
	out := make(SelectorList, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Selectors maps article fields to selector fallback lists. Title and
// content are required; the rest are optional.
type Selectors struct {
	Title         SelectorList `json:"title"`
	Content       SelectorList `json:"content"`
	PublishedDate SelectorList `json:"published_date,omitempty"`
	Author        SelectorList `json:"author,omitempty"`
	ArticleLinks  SelectorList `json:"article_links,omitempty"`
}

// SourceConfig describes one configured news source. Loaded at startup
// and immutable thereafter.
type SourceConfig struct {
	Name             string     `json:"name" validate:"required"`
	BaseURL          string     `json:"base_url" validate:"required,url"`
	SearchURLTmpl    string     `json:"search_url_template" validate:"required"`
	Enabled          bool       `json:"enabled"`
	Category         string     `json:"category,omitempty"`
	Kind             SourceKind `json:"kind,omitempty"`
	RateLimitSeconds float64    `json:"rate_limit_seconds" validate:"gte=0"`
	Selectors        Selectors  `json:"selectors"`
	UserAgent        string     `json:"user_agent,omitempty"`
}

// SearchURL substitutes the URL-encoded phrase into the search template.
func (s SourceConfig) SearchURL(phrase string) string {
	return strings.ReplaceAll(s.SearchURLTmpl, QueryPlaceholder, url.QueryEscape(phrase))
}

// Hosts returns the hostnames article links may point at: the base host
// with and without a leading "www.".
func (s SourceConfig) Hosts() []string {
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Host == "" {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	if bare, ok := strings.CutPrefix(host, "www."); ok {
		return []string{host, bare}
	}
	return []string{host, "www." + host}
}

// Validate checks the invariants of a source config. RSS sources carry no
// selector requirements; HTML sources need title and content selectors.
func (s SourceConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("source name is required")
	}
	if _, err := url.Parse(s.BaseURL); err != nil || s.BaseURL == "" {
		return fmt.Errorf("source %q: invalid base_url", s.Name)
	}
	if !strings.Contains(s.SearchURLTmpl, QueryPlaceholder) {
		return fmt.Errorf("source %q: search_url_template must contain %s", s.Name, QueryPlaceholder)
	}
	if s.RateLimitSeconds < 0 {
		return fmt.Errorf("source %q: rate_limit_seconds must be >= 0", s.Name)
	}
	if s.EffectiveKind() == SourceHTML {
		if len(s.Selectors.Title) == 0 || len(s.Selectors.Content) == 0 {
			return fmt.Errorf("source %q: title and content selectors are required", s.Name)
		}
	}
	return nil
}

// EffectiveKind defaults to HTML scraping when kind is unset.
func (s SourceConfig) EffectiveKind() SourceKind {
	if s.Kind == "" {
		return SourceHTML
	}
	return s.Kind
}
