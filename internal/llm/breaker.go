package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/eventscope/eventscope/internal/global"
)

// ErrBreakerOpen is returned while the provider is considered down and
// requests are being rejected without being sent.
var ErrBreakerOpen = errors.New("llm circuit breaker open")

// breakerClient decorates a Client with a circuit breaker so a dead
// provider fails searches fast instead of burning the LLM budget on
// timeouts.
type breakerClient struct {
	inner Client
	cb    *gobreaker.CircuitBreaker
}

// WithBreaker wraps cli in a circuit breaker named after the provider.
func WithBreaker(cli Client, name string) Client {
	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("llm-%s", name),
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			global.Logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("llm circuit breaker state changed")
		},
	}
	return &breakerClient{inner: cli, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (c *breakerClient) Generate(ctx context.Context, req *GenerateRequest) (string, error) {
	result, err := c.cb.Execute(func() (any, error) {
		return c.inner.Generate(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrBreakerOpen
		}
		return "", err
	}
	return result.(string), nil
}

func (c *breakerClient) IsAvailable(ctx context.Context) bool {
	if c.cb.State() == gobreaker.StateOpen {
		return false
	}
	return c.inner.IsAvailable(ctx)
}
