package scrapers

import (
	"context"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/eventscope/eventscope/internal/models"
	"github.com/eventscope/eventscope/pkgs/utils"
)

// DefaultMaxArticles bounds how many candidate links are followed per
// source and query.
const DefaultMaxArticles = 10

// CancelProbe reports whether the surrounding search has been cancelled.
// It is polled at source and article boundaries, never blocked on.
type CancelProbe func() bool

// Manager produces a bounded list of ArticleContent for one source and
// query, honoring the cancellation probe supplied by the orchestrator.
type Manager struct {
	fetcher   *Fetcher
	extractor *ContentExtractor
	feeds     *gofeed.Parser
	delay     time.Duration
	logger    zerolog.Logger
}

func NewManager(fetcher *Fetcher, extractor *ContentExtractor, defaultDelay time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{
		fetcher:   fetcher,
		extractor: extractor,
		feeds:     gofeed.NewParser(),
		delay:     defaultDelay,
		logger:    logger,
	}
}

// ScrapeSource fetches the source's search page for phrase, follows up to
// maxArticles candidate links and extracts each. Per-article failures are
// logged and skipped; the yield is best-effort. Returns early with what
// was collected as soon as cancelled() turns true.
func (m *Manager) ScrapeSource(ctx context.Context, src models.SourceConfig, phrase string,
	maxArticles int, seen *URLSet, cancelled CancelProbe) []models.ArticleContent {

	if maxArticles <= 0 {
		maxArticles = DefaultMaxArticles
	}
	if cancelled() {
		return nil
	}

	opts := FetchOptions{
		RateLimit: m.rateLimit(src),
		UserAgent: src.UserAgent,
	}

	searchURL := src.SearchURL(phrase)
	page, err := m.fetcher.Fetch(ctx, searchURL, opts)
	if err != nil {
		m.logger.Warn().
			Str("source", src.Name).
			Str("url", searchURL).
			Err(err).
			Msg("search page fetch failed")
		return nil
	}
	if cancelled() {
		return nil
	}

	if src.EffectiveKind() == models.SourceRSS {
		return m.scrapeFeed(ctx, src, page, maxArticles, opts, seen, cancelled)
	}

	links, lerr := m.extractor.ExtractLinks(page, src)
	if lerr != nil {
		m.logger.Warn().
			Str("source", src.Name).
			Err(lerr).
			Msg("link extraction failed")
		return nil
	}
	if len(links) > maxArticles {
		links = links[:maxArticles]
	}

	articles := make([]models.ArticleContent, 0, len(links))
	for _, link := range links {
		if cancelled() {
			break
		}
		if !seen.Add(link) {
			continue
		}
		article := m.scrapeArticle(ctx, src, link, opts)
		if article != nil {
			articles = append(articles, *article)
		}
	}

	m.logger.Info().
		Str("source", src.Name).
		Int("links", len(links)).
		Int("articles", len(articles)).
		Msg("source scraped")
	return articles
}

// scrapeArticle fetches and extracts one article URL, returning nil on
// any per-article failure.
func (m *Manager) scrapeArticle(ctx context.Context, src models.SourceConfig, link string, opts FetchOptions) *models.ArticleContent {
	html, err := m.fetcher.Fetch(ctx, link, opts)
	if err != nil {
		m.logger.Debug().
			Str("source", src.Name).
			Str("url", link).
			Err(err).
			Msg("article fetch failed")
		return nil
	}

	article, xerr := m.extractor.Extract(html, src, link)
	if xerr != nil {
		m.logger.Debug().
			Str("source", src.Name).
			Str("url", link).
			Err(xerr).
			Msg("article extraction failed")
		return nil
	}
	return article
}

// scrapeFeed handles RSS/Atom sources: feed items supply the candidate
// links and publication metadata, the article pages still go through the
// regular fetch and extraction path. When a page resists extraction the
// feed item's own description is used if it is long enough.
func (m *Manager) scrapeFeed(ctx context.Context, src models.SourceConfig, payload []byte,
	maxArticles int, opts FetchOptions, seen *URLSet, cancelled CancelProbe) []models.ArticleContent {

	feed, err := m.feeds.ParseString(string(payload))
	if err != nil {
		m.logger.Warn().
			Str("source", src.Name).
			Err(err).
			Msg("feed parse failed")
		return nil
	}

	articles := make([]models.ArticleContent, 0, maxArticles)
	for _, item := range feed.Items {
		if len(articles) >= maxArticles {
			break
		}
		if cancelled() {
			break
		}
		if item.Link == "" || !seen.Add(item.Link) {
			continue
		}

		article := m.scrapeArticle(ctx, src, CanonicalURL(item.Link), opts)
		if article == nil {
			article = m.feedItemArticle(src, item)
		}
		if article == nil {
			continue
		}
		if article.PublishedDate == nil && item.PublishedParsed != nil {
			t := item.PublishedParsed.UTC()
			article.PublishedDate = &t
		}
		articles = append(articles, *article)
	}

	m.logger.Info().
		Str("source", src.Name).
		Int("items", len(feed.Items)).
		Int("articles", len(articles)).
		Msg("feed scraped")
	return articles
}

func (m *Manager) feedItemArticle(src models.SourceConfig, item *gofeed.Item) *models.ArticleContent {
	title := utils.NormalizeString(item.Title)
	content := utils.NormalizeString(item.Description)
	if content == "" {
		content = utils.NormalizeString(item.Content)
	}
	if title == "" || utils.CountNonSpace(content) < models.MinContentChars || content == title {
		return nil
	}

	article := &models.ArticleContent{
		URL:        CanonicalURL(item.Link),
		SourceName: src.Name,
		Title:      title,
		Content:    content,
		ScrapedAt:  time.Now().UTC(),
	}
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		article.Author = strings.TrimSpace(item.Authors[0].Name)
	}
	return article
}

func (m *Manager) rateLimit(src models.SourceConfig) time.Duration {
	if src.RateLimitSeconds > 0 {
		return time.Duration(src.RateLimitSeconds * float64(time.Second))
	}
	return m.delay
}
