package scrapers_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/eventscope/eventscope/internal/models"
	"github.com/eventscope/eventscope/internal/scrapers"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSource serves a search page with three article links and the
// articles behind them, returning the matching SourceConfig.
func newTestSource(t *testing.T, articleHits *atomic.Int32) (models.SourceConfig, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a class="result" href="/news/1">One</a>
			<a class="result" href="/news/2">Two</a>
			<a class="result" href="/news/3">Three</a>
		</body></html>`)
	})
	mux.HandleFunc("/news/", func(w http.ResponseWriter, r *http.Request) {
		if articleHits != nil {
			articleHits.Add(1)
		}
		fmt.Fprint(w, articleHTML("Article "+r.URL.Path, longBody()))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	src := testSource
	src.BaseURL = srv.URL
	src.SearchURLTmpl = srv.URL + "/search?q={query}"
	return src, srv
}

func never() bool { return false }

func TestScrapeSource(t *testing.T) {
	src, _ := newTestSource(t, nil)

	f := scrapers.NewFetcher(zerolog.Nop())
	m := scrapers.NewManager(f, scrapers.NewContentExtractor(zerolog.Nop()), 0, zerolog.Nop())

	articles := m.ScrapeSource(context.Background(), src, "protest", 10, scrapers.NewURLSet(), never)
	require.Len(t, articles, 3)
	for _, a := range articles {
		assert.Equal(t, "example", a.SourceName)
		assert.NotEmpty(t, a.Title)
		assert.GreaterOrEqual(t, len(a.Content), models.MinContentChars)
	}
}

func TestScrapeSourceMaxArticles(t *testing.T) {
	src, _ := newTestSource(t, nil)

	f := scrapers.NewFetcher(zerolog.Nop())
	m := scrapers.NewManager(f, scrapers.NewContentExtractor(zerolog.Nop()), 0, zerolog.Nop())

	articles := m.ScrapeSource(context.Background(), src, "protest", 2, scrapers.NewURLSet(), never)
	require.Len(t, articles, 2)
}

func TestScrapeSourceCancellation(t *testing.T) {
	var hits atomic.Int32
	src, _ := newTestSource(t, &hits)

	f := scrapers.NewFetcher(zerolog.Nop())
	m := scrapers.NewManager(f, scrapers.NewContentExtractor(zerolog.Nop()), 0, zerolog.Nop())

	// cancel as soon as the first article has been fetched
	probe := func() bool { return hits.Load() >= 1 }

	articles := m.ScrapeSource(context.Background(), src, "protest", 10, scrapers.NewURLSet(), probe)
	assert.LessOrEqual(t, len(articles), 1, "the manager returns early with what it has")
	assert.LessOrEqual(t, hits.Load(), int32(2))
}

func TestScrapeSourceSessionDedupe(t *testing.T) {
	src, _ := newTestSource(t, nil)

	f := scrapers.NewFetcher(zerolog.Nop())
	m := scrapers.NewManager(f, scrapers.NewContentExtractor(zerolog.Nop()), 0, zerolog.Nop())

	seen := scrapers.NewURLSet()
	first := m.ScrapeSource(context.Background(), src, "protest", 10, seen, never)
	require.Len(t, first, 3)

	second := m.ScrapeSource(context.Background(), src, "protest", 10, seen, never)
	require.Empty(t, second, "urls already extracted this session are skipped")
}

func TestScrapeSourceSearchPageDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	src := testSource
	src.BaseURL = srv.URL
	src.SearchURLTmpl = srv.URL + "/search?q={query}"

	f := scrapers.NewFetcher(zerolog.Nop())
	m := scrapers.NewManager(f, scrapers.NewContentExtractor(zerolog.Nop()), 0, zerolog.Nop())

	articles := m.ScrapeSource(context.Background(), src, "protest", 10, scrapers.NewURLSet(), never)
	require.Empty(t, articles, "an unavailable source yields nothing, not an error")
}

func TestScrapeFeedSource(t *testing.T) {
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
  <title>Wire</title>
  <item><title>Feed item one</title><link>%s/news/f1</link>
    <pubDate>Sat, 15 Mar 2025 08:30:00 GMT</pubDate></item>
  <item><title>Feed item two</title><link>%s/news/f2</link></item>
</channel></rss>`, srvURL, srvURL)
	})
	mux.HandleFunc("/news/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articleHTML("Feed article", longBody()))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL

	src := testSource
	src.BaseURL = srv.URL
	src.Kind = models.SourceRSS
	src.SearchURLTmpl = srv.URL + "/feed?q={query}"

	f := scrapers.NewFetcher(zerolog.Nop())
	m := scrapers.NewManager(f, scrapers.NewContentExtractor(zerolog.Nop()), 0, zerolog.Nop())

	articles := m.ScrapeSource(context.Background(), src, "protest", 10, scrapers.NewURLSet(), never)
	require.Len(t, articles, 2)
	assert.Equal(t, "Feed article", articles[0].Title)

	u, err := url.Parse(articles[0].URL)
	require.NoError(t, err)
	assert.Contains(t, u.Path, "/news/")
}
