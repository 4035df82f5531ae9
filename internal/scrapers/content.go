package scrapers

import (
	"bytes"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	readability "github.com/go-shiori/go-readability"
	"github.com/rs/zerolog"

	"github.com/eventscope/eventscope/internal/models"
	"github.com/eventscope/eventscope/pkgs/utils"
)

// ContentExtractor turns raw HTML plus a source's selectors into an
// ArticleContent, or rejects the page.
type ContentExtractor struct {
	logger zerolog.Logger
}

func NewContentExtractor(logger zerolog.Logger) *ContentExtractor {
	return &ContentExtractor{logger: logger}
}

// Extract parses html and applies the source's selector cascade. A nil
// result with nil error means the page was rejected, which is not a
// failure of the pipeline.
func (e *ContentExtractor) Extract(html []byte, src models.SourceConfig, pageURL string) (*models.ArticleContent, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	title := utils.NormalizeString(selectText(doc, src.Selectors.Title))
	content := utils.NormalizeString(selectText(doc, src.Selectors.Content))

	// Selector misses on unfamiliar layouts fall back to the
	// readability algorithm before giving up on the page.
	if utils.CountNonSpace(content) < models.MinContentChars {
		if text := e.readable(html, pageURL); text != "" {
			content = utils.NormalizeString(text)
		}
	}

	switch {
	case title == "":
		e.logger.Debug().Str("url", pageURL).Msg("rejected: empty title")
		return nil, nil
	case utils.CountNonSpace(content) < models.MinContentChars:
		e.logger.Debug().Str("url", pageURL).Int("chars", utils.CountNonSpace(content)).
			Msg("rejected: content too short")
		return nil, nil
	case content == title:
		e.logger.Debug().Str("url", pageURL).Msg("rejected: content identical to title")
		return nil, nil
	}

	article := &models.ArticleContent{
		URL:        CanonicalURL(pageURL),
		SourceName: src.Name,
		Title:      title,
		Content:    content,
		Author:     utils.NormalizeString(selectText(doc, src.Selectors.Author)),
		ScrapedAt:  time.Now().UTC(),
	}

	if published := e.publishedDate(doc, src.Selectors.PublishedDate); published != nil {
		article.PublishedDate = published
	}
	return article, nil
}

// ExtractLinks enumerates candidate article URLs from a search-results
// page: resolved against base_url, filtered to the source's hosts, and
// deduplicated preserving first-seen order.
func (e *ContentExtractor) ExtractLinks(html []byte, src models.SourceConfig) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(src.BaseURL)
	if err != nil {
		return nil, err
	}

	hosts := make(map[string]struct{})
	for _, h := range src.Hosts() {
		hosts[h] = struct{}{}
	}

	selectors := src.Selectors.ArticleLinks
	if len(selectors) == 0 {
		selectors = models.SelectorList{"a"}
	}

	seen := make(map[string]struct{})
	var links []string
	for _, sel := range selectors {
		doc.Find(sel).Each(func(_ int, node *goquery.Selection) {
			href, ok := node.Attr("href")
			if !ok {
				// Selector may point at a wrapper; look one level down.
				href, ok = node.Find("a[href]").First().Attr("href")
				if !ok {
					return
				}
			}
			ref, err := url.Parse(strings.TrimSpace(href))
			if err != nil {
				return
			}
			abs := base.ResolveReference(ref)
			if abs.Scheme != "http" && abs.Scheme != "https" {
				return
			}
			if _, ok := hosts[strings.ToLower(abs.Hostname())]; !ok {
				return
			}
			if abs.Path == "" || abs.Path == "/" {
				return
			}
			canon := CanonicalURL(abs.String())
			if _, dup := seen[canon]; dup {
				return
			}
			seen[canon] = struct{}{}
			links = append(links, canon)
		})
		if len(links) > 0 {
			break
		}
	}
	return links, nil
}

// selectText tries each selector in order and returns the first nonempty
// concatenation of matching nodes' trimmed text.
func selectText(doc *goquery.Document, selectors models.SelectorList) string {
	for _, sel := range selectors {
		var parts []string
		doc.Find(sel).Each(func(_ int, node *goquery.Selection) {
			if text := strings.TrimSpace(node.Text()); text != "" {
				parts = append(parts, text)
			}
		})
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	return ""
}

// publishedDate tries the datetime attribute of <time> elements first,
// then common human formats. A parse failure is not an error.
func (e *ContentExtractor) publishedDate(doc *goquery.Document, selectors models.SelectorList) *time.Time {
	candidates := make([]string, 0, 4)

	for _, sel := range selectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if dt, ok := node.Attr("datetime"); ok {
			candidates = append(candidates, dt)
		}
		if dt, ok := node.Find("time[datetime]").First().Attr("datetime"); ok {
			candidates = append(candidates, dt)
		}
		if text := strings.TrimSpace(node.Text()); text != "" {
			candidates = append(candidates, text)
		}
	}
	if len(selectors) == 0 {
		if dt, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
			candidates = append(candidates, dt)
		}
	}

	for _, raw := range candidates {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			t = t.UTC()
			return &t
		}
		if t, err := dateparse.ParseAny(raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// readable runs the readability extraction as a selector fallback.
func (e *ContentExtractor) readable(html []byte, pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		u = nil
	}
	article, err := readability.FromReader(bytes.NewReader(html), u)
	if err != nil {
		return ""
	}
	return article.TextContent
}
