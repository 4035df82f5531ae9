package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/eventscope/eventscope/internal/extractor"
	"github.com/eventscope/eventscope/internal/global"
	"github.com/eventscope/eventscope/internal/llm"
	"github.com/eventscope/eventscope/internal/matcher"
	"github.com/eventscope/eventscope/internal/models"
	"github.com/eventscope/eventscope/internal/ner"
	"github.com/eventscope/eventscope/internal/router"
	"github.com/eventscope/eventscope/internal/scrapers"
	"github.com/eventscope/eventscope/internal/search"
	"go.opentelemetry.io/otel"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := global.LoadConfigs(".env", "env", []string{".", "./configs"}); err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := global.Server()
	if server.OtelTarget != "" {
		shutdown, err := global.InitTraceProvider(server.OtelTarget, ctx)
		if err != nil {
			global.Logger.Fatal().Err(err).Msg("Failed to initialize trace provider")
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			_ = shutdown(sctx)
		}()
	}

	sources, err := models.LoadSources(server.SourcesFile)
	if err != nil {
		global.Logger.Fatal().
			Err(err).
			Str("file", server.SourcesFile).
			Msg("Failed to load source configuration")
	}
	for _, src := range sources {
		if err := global.Validator().Struct(src); err != nil {
			global.Logger.Fatal().
				Err(err).
				Str("source", src.Name).
				Msg("Source configuration failed validation")
		}
	}
	global.Logger.Info().
		Int("sources", len(sources)).
		Msg("Source configuration loaded")

	cfg := global.Search()
	llmCfg := global.LLM()

	cli, err := llm.NewFromConfig(llmCfg)
	if err != nil {
		global.Logger.Fatal().Err(err).Msg("Failed to build LLM client")
	}
	if !cli.IsAvailable(ctx) {
		global.Logger.Warn().
			Str("provider", llmCfg.Provider).
			Str("base_url", llmCfg.BaseURL).
			Msg("LLM provider is not reachable; extractions will fail until it is")
	}

	tracer := otel.Tracer("eventscope")
	fetcher := scrapers.NewFetcher(global.Logger,
		scrapers.WithTimeout(cfg.FetchTimeout),
		scrapers.WithMaxAttempts(cfg.FetchRetries),
		scrapers.WithRespectRobots(cfg.ScraperRespectRobots),
		scrapers.WithUserAgent(cfg.FetchUserAgent),
	)
	content := scrapers.NewContentExtractor(global.Logger)
	manager := scrapers.NewManager(fetcher, content,
		time.Duration(cfg.ScraperDelay*float64(time.Second)), global.Logger)

	registry := search.NewRegistry(cfg.SessionTTL, global.Logger)
	go registry.RunJanitor(ctx, search.DefaultJanitorInterval)

	core := search.NewOrchestrator(
		cfg,
		sources,
		manager,
		extractor.New(cli, ner.NewHeuristic(), llmCfg.Model, global.Logger, tracer),
		matcher.New(cfg.Weights, cfg.MinRelevance),
		registry,
		global.Logger,
		tracer,
	)

	bind := fmt.Sprintf("%s:%d", server.Host, server.Port)
	srv := &http.Server{
		Addr:    bind,
		Handler: router.New(core, global.Logger),
	}

	go func() {
		global.Logger.Info().Str("bind", bind).Msg("search service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			global.Logger.Fatal().Err(err).Str("bind", bind).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	global.Logger.Info().Msg("shutting down")

	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		global.Logger.Error().Err(err).Msg("server forced to shutdown")
	}
}
