package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/eventscope/eventscope/pkgs/utils"
)

var (
	ErrNoBaseURL          = errors.New("base URL cannot be empty")
	ErrNoModel            = errors.New("model cannot be empty")
	ErrIncompleteResponse = errors.New("ollama request failed: response was incomplete")
)

// Ollama implements Client against a local or remote Ollama server.
type Ollama struct {
	api   *api.Client
	model string
}

func NewOllama(baseURL, model string, client *http.Client) (*Ollama, error) {
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	if model == "" {
		return nil, ErrNoModel
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL: %w", err)
	}
	return &Ollama{
		api:   api.NewClient(u, utils.IfElse(client == nil, http.DefaultClient, client)),
		model: model,
	}, nil
}

func (c *Ollama) Generate(ctx context.Context, req *GenerateRequest) (string, error) {
	if req == nil {
		return "", ErrRequestShouldNotBeNull
	}
	if req.Prompt == "" {
		return "", ErrNoPrompt
	}

	options := map[string]any{}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	isStreaming := false
	var sb strings.Builder
	var done bool
	err := c.api.Generate(ctx, &api.GenerateRequest{
		Model:   utils.DefaultIfZero(req.Model, c.model),
		Prompt:  req.Prompt,
		System:  req.System,
		Options: options,
		Stream:  &isStreaming,
	}, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		done = done || resp.Done
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate failed: %w", err)
	}
	if !done {
		return "", ErrIncompleteResponse
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

// IsAvailable pings the server by listing installed models.
func (c *Ollama) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.api.List(ctx)
	return err == nil
}
