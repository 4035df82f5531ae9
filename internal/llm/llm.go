// Package llm abstracts the external generation service behind a small
// client interface with interchangeable providers.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/eventscope/eventscope/internal/global"
)

var (
	ErrRequestShouldNotBeNull = errors.New("request should not be null")
	ErrNoPrompt               = errors.New("no prompt provided in request")
	ErrEmptyResponse          = errors.New("model returned an empty response")
	ErrUnknownProvider        = errors.New("unknown llm provider")
)

// GenerateRequest carries one prompt to the provider. Zero-valued
// parameters fall back to provider defaults.
type GenerateRequest struct {
	Prompt      string
	System      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client is the generation service consumed by the event extractor.
// Generate returns the raw model text; IsAvailable is a connectivity
// probe, called by the service entry point at startup.
type Client interface {
	Generate(ctx context.Context, req *GenerateRequest) (string, error)
	IsAvailable(ctx context.Context) bool
}

// NewFromConfig builds the provider selected by configuration, wrapped
// in the shared circuit breaker.
func NewFromConfig(cfg *global.LLMConfig) (Client, error) {
	var (
		cli Client
		err error
	)
	switch cfg.Provider {
	case "ollama", "":
		cli, err = NewOllama(cfg.BaseURL, cfg.Model, nil)
	case "openai":
		cli, err = NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithBreaker(cli, cfg.Provider), nil
}
