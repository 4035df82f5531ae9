// Package extractor turns one scraped article into one normalized event
// record by prompting the generation service and validating its output.
package extractor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/eventscope/eventscope/internal/llm"
	"github.com/eventscope/eventscope/internal/models"
	"github.com/eventscope/eventscope/internal/ner"
	ec "github.com/eventscope/eventscope/pkgs/errors"
	"github.com/eventscope/eventscope/pkgs/utils"
)

const (
	// LLM call parameters are fixed; the model identifier comes from
	// configuration.
	maxTokens   = 500
	temperature = 0.2

	// DefaultConfidence applies when the model omits the field.
	DefaultConfidence = 0.75
)

// Extractor coordinates the per-article LLM extraction. The deadline for
// each call is supplied by the caller through ctx.
type Extractor struct {
	llm    llm.Client
	hinter ner.Hinter
	model  string
	logger zerolog.Logger
	tracer trace.Tracer
}

func New(cli llm.Client, hinter ner.Hinter, model string, logger zerolog.Logger, tracer trace.Tracer) *Extractor {
	return &Extractor{
		llm:    cli,
		hinter: hinter,
		model:  model,
		logger: logger,
		tracer: tracer,
	}
}

// ExtractFromArticle prompts the model with a bounded view of the
// article and normalizes the reply into an EventData. A nil event with a
// non-nil error means the article yielded nothing; the caller counts and
// moves on.
func (e *Extractor) ExtractFromArticle(ctx context.Context, article models.ArticleContent) (*models.EventData, *ec.Error) {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "extractor.ExtractFromArticle",
			trace.WithAttributes(attribute.String("article.url", article.URL)))
		defer span.End()
	}

	var entities models.Entities
	if e.hinter != nil {
		entities = e.hinter.Extract(article.Title, article.Content)
	}

	prompt := BuildPrompt(article, entities)
	raw, err := e.llm.Generate(ctx, &llm.GenerateRequest{
		Prompt:      prompt,
		System:      systemInstruction,
		Model:       e.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ec.ErrLLMTimeout.Clone().
				WithDetails("url: " + article.URL).Warp(err)
		}
		if ctx.Err() != nil {
			return nil, ec.ErrCancelled.Clone().Warp(ctx.Err())
		}
		return nil, ec.ErrLLMError.Clone().
			WithDetails("url: " + article.URL).Warp(err)
	}

	wire, perr := parseResponse(raw)
	if perr != nil {
		e.logger.Debug().
			Str("url", article.URL).
			Err(perr).
			Msg("model response was not parseable JSON")
		return nil, ec.ErrArticleSkipped.Clone().Warp(perr)
	}

	event := e.normalize(wire, article, entities)
	return event, nil
}

// normalize is the sole bridge from the permissive wire schema to the
// strict event record.
func (e *Extractor) normalize(wire *eventWire, article models.ArticleContent, entities models.Entities) *models.EventData {
	event := &models.EventData{
		EventType:    models.ParseEventType(wire.EventType),
		EventSubType: wire.EventSubType,
		Title:        utils.DefaultIfZero(wire.Title, article.Title),
		Summary:      wire.Summary,
		Perpetrator:  wire.Perpetrator,
		PerpType:     models.ParsePerpetratorType(wire.PerpType),
		EventTime:    wire.EventTime,
		Impact:       wire.Impact,
		FullContent:  article.Content,

		SourceURL:            article.URL,
		ArticlePublishedDate: article.PublishedDate,
		CollectionTimestamp:  time.Now().UTC(),
	}

	if conf, ok := asFloat(wire.Confidence); ok {
		event.Confidence = utils.Clamp01(conf)
	} else {
		event.Confidence = DefaultConfidence
	}

	if wire.Location != nil {
		loc := models.Location{
			City:    wire.Location.City,
			Region:  wire.Location.Region,
			Country: wire.Location.Country,
			Venue:   wire.Location.Venue,
		}
		if !loc.IsZero() {
			event.Location = &loc
		}
	}

	if len(wire.Casualties) > 0 {
		var cas models.Casualties
		if n, ok := asInt(wire.Casualties["killed"]); ok && n >= 0 {
			cas.Killed = &n
		}
		if n, ok := asInt(wire.Casualties["injured"]); ok && n >= 0 {
			cas.Injured = &n
		}
		if !cas.IsZero() {
			event.Casualties = &cas
		}
	}

	if wire.EventDate != "" {
		if t, err := models.ParseDate(wire.EventDate); err == nil {
			event.EventDate = &t
		}
	}

	event.SourceName = wire.SourceName
	if event.SourceName == "" {
		event.SourceName = sourceNameFromURL(article.URL)
	}

	event.Participants = utils.DedupeFold(
		append(asStrings(wire.Participants), entities.Persons...))
	event.Organizations = utils.DedupeFold(
		append(asStrings(wire.Organizations), entities.Organizations...))

	return event
}
