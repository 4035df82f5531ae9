// Package search drives one search end to end: scrape, extract, match,
// and stream. It owns the session registry, cancellation and the three
// timeout layers.
package search

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/eventscope/eventscope/internal/extractor"
	"github.com/eventscope/eventscope/internal/global"
	"github.com/eventscope/eventscope/internal/matcher"
	"github.com/eventscope/eventscope/internal/metrics"
	"github.com/eventscope/eventscope/internal/models"
	"github.com/eventscope/eventscope/internal/scrapers"
	ec "github.com/eventscope/eventscope/pkgs/errors"
)

const (
	// sessionFrameGrace gives a slow client time to record the session
	// id before any cancellation request for it can arrive.
	sessionFrameGrace = 100 * time.Millisecond

	// scrapeBudget bounds the scraping phase; together with the LLM
	// budget it forms the overall search deadline.
	scrapeBudget     = 120 * time.Second
	perSourceTimeout = 60 * time.Second

	frameBuffer = 8
)

// Orchestrator wires the pipeline components together and exposes the
// contracted surface to the transport.
type Orchestrator struct {
	cfg       *global.SearchConfig
	sources   []models.SourceConfig
	scraper   *scrapers.Manager
	extractor *extractor.Extractor
	matcher   *matcher.Matcher
	registry  *Registry
	logger    zerolog.Logger
	tracer    trace.Tracer
}

func NewOrchestrator(cfg *global.SearchConfig, sources []models.SourceConfig,
	scraper *scrapers.Manager, ex *extractor.Extractor, m *matcher.Matcher,
	registry *Registry, logger zerolog.Logger, tracer trace.Tracer) *Orchestrator {

	return &Orchestrator{
		cfg:       cfg,
		sources:   sources,
		scraper:   scraper,
		extractor: ex,
		matcher:   m,
		registry:  registry,
		logger:    logger,
		tracer:    tracer,
	}
}

// Registry exposes the session registry to the transport shell.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// StartSearch validates the query, registers a session and starts the
// pipeline. The returned channel carries the frame sequence and is
// closed after the terminal frame. Client disconnect on ctx acts as an
// implicit cancellation.
func (o *Orchestrator) StartSearch(ctx context.Context, query models.Query) (*Session, <-chan Frame, *ec.Error) {
	if err := query.Validate(); err != nil {
		return nil, nil, err
	}

	s := NewSession(query)
	o.registry.Insert(s)
	metrics.SearchesStarted.Inc()

	out := make(chan Frame, frameBuffer)
	go o.run(ctx, s, out)
	return s, out, nil
}

// GetSession looks a session up by id.
func (o *Orchestrator) GetSession(id string) (*Session, *ec.Error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, ec.ErrSessionNotFound.Clone().WithDetails("malformed session id")
	}
	s, ok := o.registry.Get(parsed)
	if !ok {
		return nil, ec.ErrSessionNotFound.Clone()
	}
	return s, nil
}

// CancelSession requests cancellation of a running session.
func (o *Orchestrator) CancelSession(id string) (CancelResult, *ec.Error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return CancelNotFound, ec.ErrSessionNotFound.Clone().WithDetails("malformed session id")
	}
	result := o.registry.MarkCancelled(parsed)
	if result == CancelNotFound {
		return result, ec.ErrSessionNotFound.Clone()
	}
	return result, nil
}

// run executes one search. All pipeline stages poll the session's
// cancellation flag at their boundaries; nothing is killed mid-call.
func (o *Orchestrator) run(ctx context.Context, s *Session, out chan<- Frame) {
	start := time.Now()
	defer close(out)

	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "search.run",
			trace.WithAttributes(attribute.String("session.id", s.ID.String())))
		defer span.End()
	}

	// emit blocks on the transport for back-pressure; a dead client
	// turns into an implicit cancellation instead of a stuck pipeline.
	emit := func(f Frame) bool {
		select {
		case out <- f:
			return true
		case <-ctx.Done():
			s.Cancel()
			return false
		}
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		o.logger.Error().
			Str("session", s.ID.String()).
			Any("panic", r).
			Msg("search pipeline panicked")
		// Partial output beats empty output: matched events turn a
		// crash into a completed search.
		if s.Counters().EventsMatched > 0 {
			if s.Finish(StatusCompleted) {
				emit(o.completeFrame(s, 0, start))
				metrics.SearchesFinished.WithLabelValues(string(StatusCompleted)).Inc()
			}
			return
		}
		if s.Finish(StatusFailed) {
			emit(ErrorFrame{Type: FrameError, Message: "internal error", Recoverable: false})
			metrics.SearchesFinished.WithLabelValues(string(StatusFailed)).Inc()
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, scrapeBudget+o.cfg.OllamaTotalTimeout)
	defer cancel()

	cancelled := func() bool {
		return s.Cancelled() || ctx.Err() != nil
	}

	if !emit(NewSessionFrame(s.ID.String())) {
		o.finishCancelled(s, emit, start)
		return
	}
	if !o.pause(runCtx, sessionFrameGrace) || cancelled() {
		o.finishCancelled(s, emit, start)
		return
	}

	scrapeCtx, scrapeCancel := context.WithTimeout(runCtx, scrapeBudget)
	articles := o.scrapePhase(scrapeCtx, s, emit, cancelled)
	scrapeCancel()
	if cancelled() {
		o.finishCancelled(s, emit, start)
		return
	}

	attempted := o.extractPhase(runCtx, s, articles, emit, cancelled)
	s.SetProcessingSeconds(time.Since(start).Seconds())

	if cancelled() {
		o.finishCancelled(s, emit, start)
		return
	}

	if s.Finish(StatusCompleted) {
		emit(o.completeFrame(s, attempted, start))
		metrics.SearchesFinished.WithLabelValues(string(StatusCompleted)).Inc()
		metrics.SearchDuration.Observe(time.Since(start).Seconds())
		o.logger.Info().
			Str("session", s.ID.String()).
			Int("events", s.Counters().EventsMatched).
			Dur("elapsed", time.Since(start)).
			Msg("search completed")
	}
}

// scrapePhase fans out over the enabled sources with bounded
// concurrency and merges their articles, deduplicated by canonical URL.
// A progress frame follows each finished source.
func (o *Orchestrator) scrapePhase(ctx context.Context, s *Session,
	emit func(Frame) bool, cancelled scrapers.CancelProbe) []models.ArticleContent {

	enabled := make([]models.SourceConfig, 0, len(o.sources))
	for _, src := range o.sources {
		if src.Enabled {
			enabled = append(enabled, src)
		}
	}

	phrase := s.Query.ScrapePhrase()
	seen := scrapers.NewURLSet()

	var (
		g, gctx  = errgroup.WithContext(ctx)
		mu       sync.Mutex
		emitMu   sync.Mutex
		articles []models.ArticleContent
		done     int
	)
	g.SetLimit(max(1, o.cfg.MaxConcurrentScrapes))

	for _, src := range enabled {
		g.Go(func() error {
			if cancelled() {
				return nil
			}
			sctx, scancel := context.WithTimeout(gctx, perSourceTimeout)
			defer scancel()

			got := o.scraper.ScrapeSource(sctx, src, phrase, scrapers.DefaultMaxArticles, seen, cancelled)
			if len(got) == 0 {
				o.logger.Warn().
					Str("session", s.ID.String()).
					Str("source", src.Name).
					Msg("source unavailable, continuing without it")
			}

			s.AddScraped(len(got))
			metrics.ArticlesScraped.Add(float64(len(got)))

			mu.Lock()
			articles = append(articles, got...)
			mu.Unlock()

			// snapshot and emit under one lock so a later frame can
			// never carry smaller counters than an earlier one
			emitMu.Lock()
			done++
			finished := done
			c := s.Counters()
			emit(ProgressFrame{
				Type:              FrameProgress,
				Message:           fmt.Sprintf("scraped %s", src.Name),
				ArticlesScraped:   c.ArticlesScraped,
				ArticlesExtracted: c.ArticlesExtracted,
				EventsMatched:     c.EventsMatched,
				SourcesDone:       finished,
				SourcesTotal:      len(enabled),
			})
			emitMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return articles
}

// extractPhase sends up to the configured cap of articles through the
// LLM under the three-layer deadline scheme and streams every event that
// survives scoring. Returns the number of articles attempted.
func (o *Orchestrator) extractPhase(ctx context.Context, s *Session,
	articles []models.ArticleContent, emit func(Frame) bool, cancelled scrapers.CancelProbe) int {

	if len(articles) > o.cfg.OllamaMaxArticles {
		articles = articles[:o.cfg.OllamaMaxArticles]
	}
	if len(articles) == 0 {
		return 0
	}

	llmCtx, cancel := context.WithTimeout(ctx, o.cfg.OllamaTotalTimeout)
	defer cancel()
	budgetEnds := time.Now().Add(o.cfg.OllamaTotalTimeout)

	g := errgroup.Group{}
	g.SetLimit(max(1, min(o.cfg.OllamaMaxArticles, runtime.NumCPU())))

	attempted := 0
	for _, article := range articles {
		if cancelled() {
			break
		}
		if time.Now().After(budgetEnds) {
			o.logger.Warn().
				Str("session", s.ID.String()).
				Int("dropped", len(articles)-attempted).
				Msg("total llm budget exhausted, dropping remaining articles")
			break
		}
		attempted++

		g.Go(func() error {
			// The flag is checked before the call starts and again after
			// it returns; an in-flight call is never killed.
			if cancelled() {
				return nil
			}
			remaining := time.Until(budgetEnds)
			if remaining <= 0 {
				return nil
			}

			actx, acancel := context.WithTimeout(llmCtx, min(o.cfg.OllamaTimeout, remaining))
			defer acancel()

			event, xerr := o.extractor.ExtractFromArticle(actx, article)
			if xerr != nil {
				o.recordExtractionFailure(s, article, xerr)
				return nil
			}
			if s.Cancelled() {
				return nil
			}

			s.IncExtracted()
			metrics.ArticlesExtracted.Inc()

			score := o.matcher.Score(s.Query, *event)
			if score < o.matcher.MinScore() {
				o.logger.Debug().
					Str("session", s.ID.String()).
					Str("url", article.URL).
					Float64("score", score).
					Msg("event below relevance floor")
				return nil
			}

			event.RelevanceScore = score
			s.AppendEvent(*event)
			metrics.EventsMatched.Inc()
			emit(NewEventFrame(*event))
			return nil
		})
	}
	_ = g.Wait()

	c := s.Counters()
	emit(ProgressFrame{
		Type:              FrameProgress,
		Message:           "extraction finished",
		ArticlesScraped:   c.ArticlesScraped,
		ArticlesExtracted: c.ArticlesExtracted,
		EventsMatched:     c.EventsMatched,
		SourcesDone:       sourcesEnabled(o.sources),
		SourcesTotal:      sourcesEnabled(o.sources),
	})
	return attempted
}

func (o *Orchestrator) recordExtractionFailure(s *Session, article models.ArticleContent, xerr *ec.Error) {
	kind := "error"
	switch {
	case errors.Is(xerr, ec.ErrLLMTimeout):
		kind = "timeout"
	case errors.Is(xerr, ec.ErrCancelled):
		kind = "cancelled"
	case errors.Is(xerr, ec.ErrArticleSkipped):
		kind = "unparseable"
	}
	metrics.LLMFailures.WithLabelValues(kind).Inc()
	o.logger.Warn().
		Str("session", s.ID.String()).
		Str("url", article.URL).
		Str("kind", kind).
		Err(xerr).
		Msg("article skipped")
}

func (o *Orchestrator) finishCancelled(s *Session, emit func(Frame) bool, start time.Time) {
	s.SetProcessingSeconds(time.Since(start).Seconds())
	if !s.Finish(StatusCancelled) {
		return
	}
	emit(CancelledFrame{
		Type:        FrameCancelled,
		TotalEvents: s.Counters().EventsMatched,
		Message:     "search cancelled",
	})
	metrics.SearchesFinished.WithLabelValues(string(StatusCancelled)).Inc()
	o.logger.Info().
		Str("session", s.ID.String()).
		Int("events", s.Counters().EventsMatched).
		Msg("search cancelled")
}

func (o *Orchestrator) completeFrame(s *Session, attempted int, start time.Time) CompleteFrame {
	return CompleteFrame{
		Type:              FrameComplete,
		TotalEvents:       s.Counters().EventsMatched,
		ArticlesProcessed: attempted,
		ProcessingTime:    time.Since(start).Seconds(),
	}
}

// pause sleeps for d unless the search is torn down first.
func (o *Orchestrator) pause(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func sourcesEnabled(sources []models.SourceConfig) int {
	n := 0
	for _, src := range sources {
		if src.Enabled {
			n++
		}
	}
	return n
}
