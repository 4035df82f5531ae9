package search_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eventscope/eventscope/internal/extractor"
	"github.com/eventscope/eventscope/internal/global"
	"github.com/eventscope/eventscope/internal/llm"
	"github.com/eventscope/eventscope/internal/matcher"
	"github.com/eventscope/eventscope/internal/models"
	"github.com/eventscope/eventscope/internal/ner"
	"github.com/eventscope/eventscope/internal/scrapers"
	"github.com/eventscope/eventscope/internal/search"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mumbaiEvent = `{
	"event_type": "protest",
	"title": "Large protest in Mumbai city center",
	"summary": "Thousands gathered to protest in Mumbai.",
	"location": {"city": "Mumbai", "country": "India"},
	"event_date": "2025-03-15",
	"confidence": 0.9
}`

// scriptedLLM counts calls and lets tests vary behavior per prompt.
type scriptedLLM struct {
	response string
	delay    time.Duration
	slowOn   string
	calls    atomic.Int32
}

func (f *scriptedLLM) Generate(ctx context.Context, req *llm.GenerateRequest) (string, error) {
	f.calls.Add(1)
	delay := f.delay
	if f.slowOn != "" && strings.Contains(req.Prompt, f.slowOn) {
		delay = time.Second
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return f.response, nil
}

func (f *scriptedLLM) IsAvailable(context.Context) bool { return true }

func testConfig() *global.SearchConfig {
	return &global.SearchConfig{
		OllamaTimeout:        30 * time.Second,
		OllamaMaxArticles:    5,
		OllamaTotalTimeout:   60 * time.Second,
		MaxConcurrentScrapes: 5,
		SessionTTL:           time.Hour,
		Weights:              global.QueryWeights{Text: 0.40, Location: 0.25, Date: 0.20, EventType: 0.15},
		MinRelevance:         0.30,
		FetchTimeout:         5 * time.Second,
		FetchRetries:         1,
	}
}

func newCore(cli llm.Client, cfg *global.SearchConfig, sources ...models.SourceConfig) *search.Orchestrator {
	logger := zerolog.Nop()
	fetcher := scrapers.NewFetcher(logger,
		scrapers.WithTimeout(cfg.FetchTimeout),
		scrapers.WithMaxAttempts(max(1, cfg.FetchRetries)))
	manager := scrapers.NewManager(fetcher, scrapers.NewContentExtractor(logger), 0, logger)

	return search.NewOrchestrator(
		cfg,
		sources,
		manager,
		extractor.New(cli, ner.NewHeuristic(), "test-model", logger, nil),
		matcher.New(cfg.Weights, cfg.MinRelevance),
		search.NewRegistry(cfg.SessionTTL, logger),
		logger,
		nil,
	)
}

// newNewsSite serves a search page with n article links and the article
// pages behind them. onArticle, when set, runs before each article
// response is written.
func newNewsSite(t *testing.T, n int, onArticle func(path string)) models.SourceConfig {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		var sb strings.Builder
		sb.WriteString("<html><body>")
		for i := 1; i <= n; i++ {
			fmt.Fprintf(&sb, `<a class="result" href="/news/%d">Story %d</a>`, i, i)
		}
		sb.WriteString("</body></html>")
		_, _ = w.Write([]byte(sb.String()))
	})
	mux.HandleFunc("/news/", func(w http.ResponseWriter, r *http.Request) {
		if onArticle != nil {
			onArticle(r.URL.Path)
		}
		body := strings.Repeat("Thousands gathered in Mumbai to protest on Saturday. ", 8)
		fmt.Fprintf(w, `<html><body><h1>Large protest in Mumbai %s</h1>
			<div class="story-body"><p>%s</p></div></body></html>`, r.URL.Path, body)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return models.SourceConfig{
		Name:          "site" + srv.URL[len(srv.URL)-4:],
		BaseURL:       srv.URL,
		SearchURLTmpl: srv.URL + "/search?q={query}",
		Enabled:       true,
		Selectors: models.Selectors{
			Title:        models.SelectorList{"h1"},
			Content:      models.SelectorList{".story-body p"},
			ArticleLinks: models.SelectorList{"a.result"},
		},
	}
}

func collect(t *testing.T, frames <-chan search.Frame) []search.Frame {
	t.Helper()
	var out []search.Frame
	deadline := time.After(30 * time.Second)
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return out
			}
			out = append(out, frame)
		case <-deadline:
			t.Fatal("timed out waiting for the stream to close")
		}
	}
}

// requireFrameInvariants checks §8 property 2 on a full frame sequence:
// exactly one session frame first and exactly one terminal frame last.
func requireFrameInvariants(t *testing.T, frames []search.Frame) {
	t.Helper()
	require.NotEmpty(t, frames)
	require.Equal(t, search.FrameSession, frames[0].Kind())

	last := frames[len(frames)-1].Kind()
	require.Contains(t, []string{search.FrameComplete, search.FrameCancelled, search.FrameError}, last)

	for _, frame := range frames[1 : len(frames)-1] {
		require.Contains(t, []string{search.FrameProgress, search.FrameEvent}, frame.Kind())
	}
}

func TestSearchHappyPath(t *testing.T) {
	cli := &scriptedLLM{response: mumbaiEvent}
	src := newNewsSite(t, 1, nil)
	core := newCore(cli, testConfig(), src)

	query := models.Query{Phrase: "protest in Mumbai", Location: "Mumbai", EventType: models.EventProtest}
	session, frames, serr := core.StartSearch(context.Background(), query)
	require.Nil(t, serr)

	all := collect(t, frames)
	requireFrameInvariants(t, all)

	var events []search.EventFrame
	for _, frame := range all {
		if ef, ok := frame.(search.EventFrame); ok {
			events = append(events, ef)
		}
	}
	require.Len(t, events, 1)
	assert.GreaterOrEqual(t, events[0].Event.RelevanceScore, 0.30)
	assert.LessOrEqual(t, events[0].Event.RelevanceScore, 1.0)
	assert.GreaterOrEqual(t, events[0].Event.Confidence, 0.0)
	assert.LessOrEqual(t, events[0].Event.Confidence, 1.0)

	complete, ok := all[len(all)-1].(search.CompleteFrame)
	require.True(t, ok)
	assert.Equal(t, 1, complete.TotalEvents)
	assert.Equal(t, 1, complete.ArticlesProcessed)
	assert.Greater(t, complete.ProcessingTime, 0.0)

	require.Equal(t, search.StatusCompleted, session.Status())

	c := session.Counters()
	assert.LessOrEqual(t, c.ArticlesExtracted, min(c.ArticlesScraped, testConfig().OllamaMaxArticles))
	assert.LessOrEqual(t, c.EventsMatched, c.ArticlesExtracted)
}

func TestProgressCountersMonotonic(t *testing.T) {
	cli := &scriptedLLM{response: mumbaiEvent}
	src1 := newNewsSite(t, 2, nil)
	src2 := newNewsSite(t, 2, nil)
	core := newCore(cli, testConfig(), src1, src2)

	_, frames, serr := core.StartSearch(context.Background(), models.Query{Phrase: "protest in Mumbai"})
	require.Nil(t, serr)

	var prev *search.ProgressFrame
	for _, frame := range collect(t, frames) {
		pf, ok := frame.(search.ProgressFrame)
		if !ok {
			continue
		}
		if prev != nil {
			assert.GreaterOrEqual(t, pf.ArticlesScraped, prev.ArticlesScraped)
			assert.GreaterOrEqual(t, pf.ArticlesExtracted, prev.ArticlesExtracted)
			assert.GreaterOrEqual(t, pf.EventsMatched, prev.EventsMatched)
			assert.GreaterOrEqual(t, pf.SourcesDone, prev.SourcesDone)
		}
		prev = &pf
	}
	require.NotNil(t, prev, "at least one progress frame is emitted")
}

func TestCancellationDuringScrape(t *testing.T) {
	cli := &scriptedLLM{response: mumbaiEvent}

	var core *search.Orchestrator
	var sessionID atomic.Value
	cancelDone := make(chan struct{})
	var once sync.Once

	src1 := newNewsSite(t, 3, func(string) {
		once.Do(func() {
			// flip the flag mid-scrape and only then let the article
			// response through, so the next boundary check sees it
			id := sessionID.Load().(string)
			_, _ = core.CancelSession(id)
			close(cancelDone)
		})
		<-cancelDone
	})

	var src2Hits atomic.Int32
	src2 := newNewsSite(t, 3, nil)
	src2.SearchURLTmpl = wrapCountingServer(t, &src2Hits, src2.SearchURLTmpl)

	cfg := testConfig()
	cfg.MaxConcurrentScrapes = 1
	core = newCore(cli, cfg, src1, src2)

	session, frames, serr := core.StartSearch(context.Background(), models.Query{Phrase: "protest"})
	require.Nil(t, serr)
	sessionID.Store(session.ID.String())

	all := collect(t, frames)
	requireFrameInvariants(t, all)

	last, ok := all[len(all)-1].(search.CancelledFrame)
	require.True(t, ok, "the terminal frame is cancelled")
	assert.Equal(t, 0, last.TotalEvents)

	for _, frame := range all {
		require.NotEqual(t, search.FrameEvent, frame.Kind(), "no events stream after cancellation")
	}

	assert.Equal(t, int32(0), cli.calls.Load(), "no llm work is started after cancellation")
	assert.Equal(t, int32(0), src2Hits.Load(), "the second source's fetch never starts")
	assert.Equal(t, search.StatusCancelled, session.Status())
}

// wrapCountingServer replaces a search URL with one on a counting server
// that answers 404, so a test can assert the source's search page was
// never requested. The original target is not contacted.
func wrapCountingServer(t *testing.T, hits *atomic.Int32, target string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/search?q={query}"
}

func TestZeroSourcesEnabled(t *testing.T) {
	cli := &scriptedLLM{response: mumbaiEvent}
	src := newNewsSite(t, 3, nil)
	src.Enabled = false
	core := newCore(cli, testConfig(), src)

	session, frames, serr := core.StartSearch(context.Background(), models.Query{Phrase: "protest"})
	require.Nil(t, serr)

	all := collect(t, frames)
	requireFrameInvariants(t, all)

	complete, ok := all[len(all)-1].(search.CompleteFrame)
	require.True(t, ok)
	assert.Equal(t, 0, complete.TotalEvents)
	assert.Equal(t, 0, complete.ArticlesProcessed)

	c := session.Counters()
	assert.Equal(t, 0, c.ArticlesScraped)
	assert.Equal(t, 0, c.ArticlesExtracted)
	assert.Equal(t, 0, c.EventsMatched)
	assert.Equal(t, int32(0), cli.calls.Load())
}

func TestPerArticleTimeoutSkips(t *testing.T) {
	// the article behind /news/2 is poisoned: its extraction stalls past
	// the per-article deadline while the others return promptly
	cli := &scriptedLLM{response: mumbaiEvent, slowOn: "/news/2"}
	src := newNewsSite(t, 3, nil)

	cfg := testConfig()
	cfg.OllamaTimeout = 300 * time.Millisecond
	core := newCore(cli, cfg, src)

	query := models.Query{Phrase: "protest in Mumbai", Location: "Mumbai", EventType: models.EventProtest}
	session, frames, serr := core.StartSearch(context.Background(), query)
	require.Nil(t, serr)

	all := collect(t, frames)
	requireFrameInvariants(t, all)

	complete, ok := all[len(all)-1].(search.CompleteFrame)
	require.True(t, ok, "a timed-out article never fails the search")
	assert.Equal(t, 3, complete.ArticlesProcessed)
	assert.Equal(t, 2, complete.TotalEvents)

	c := session.Counters()
	assert.Equal(t, 2, c.ArticlesExtracted)
	assert.Equal(t, 2, c.EventsMatched)
}

func TestAllArticlesTimeOut(t *testing.T) {
	cli := &scriptedLLM{response: mumbaiEvent, delay: time.Second}
	src := newNewsSite(t, 2, nil)

	cfg := testConfig()
	cfg.OllamaTimeout = 100 * time.Millisecond
	core := newCore(cli, cfg, src)

	session, frames, serr := core.StartSearch(context.Background(), models.Query{Phrase: "protest"})
	require.Nil(t, serr)

	all := collect(t, frames)
	complete, ok := all[len(all)-1].(search.CompleteFrame)
	require.True(t, ok, "exhausted extractions complete with zero events, they do not fail")
	assert.Equal(t, 0, complete.TotalEvents)
	require.Equal(t, search.StatusCompleted, session.Status())
}

func TestInputInvalid(t *testing.T) {
	cli := &scriptedLLM{response: mumbaiEvent}
	core := newCore(cli, testConfig(), newNewsSite(t, 1, nil))

	_, frames, serr := core.StartSearch(context.Background(), models.Query{Phrase: "   "})
	require.NotNil(t, serr)
	require.Nil(t, frames)
	assert.Equal(t, http.StatusBadRequest, serr.HttpStatusCode)
	assert.Equal(t, 0, core.Registry().Len(), "no session is created for invalid input")
}

func TestGetAndCancelSessionAPI(t *testing.T) {
	cli := &scriptedLLM{response: mumbaiEvent}
	core := newCore(cli, testConfig(), newNewsSite(t, 1, nil))

	_, serr := core.GetSession("not-a-uuid")
	require.NotNil(t, serr)
	assert.Equal(t, http.StatusNotFound, serr.HttpStatusCode)

	session, frames, serr := core.StartSearch(context.Background(), models.Query{Phrase: "protest in Mumbai"})
	require.Nil(t, serr)
	collect(t, frames)

	got, gerr := core.GetSession(session.ID.String())
	require.Nil(t, gerr)
	require.Same(t, session, got)

	result, cerr := core.CancelSession(session.ID.String())
	require.Nil(t, cerr)
	assert.Equal(t, search.CancelAlreadyTerminal, result,
		"cancelling a finished session is a no-op")
}

func TestClientDisconnectCancels(t *testing.T) {
	release := make(chan struct{})
	cli := &scriptedLLM{response: mumbaiEvent}

	src := newNewsSite(t, 3, func(string) {
		<-release
	})
	core := newCore(cli, testConfig(), src)

	ctx, cancel := context.WithCancel(context.Background())
	session, frames, serr := core.StartSearch(ctx, models.Query{Phrase: "protest"})
	require.Nil(t, serr)

	// read the session frame, then walk away like a dead client
	first := <-frames
	require.Equal(t, search.FrameSession, first.Kind())
	cancel()
	close(release)

	collect(t, frames)
	require.Eventually(t, func() bool {
		return session.Status() == search.StatusCancelled
	}, 5*time.Second, 20*time.Millisecond)
}
