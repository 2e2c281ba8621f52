// Package gateway is the seam between the worker and the text generation
// model. Backends are thin adapters over vendor SDKs; the worker only ever
// sees the Gateway interface.
package gateway

import (
	"context"
	"fmt"
	"time"

	configpkg "github.com/drblury/sickenflow/internal/runtime/config"
	errspkg "github.com/drblury/sickenflow/internal/runtime/errors"
)

// Gateway turns a question into an answer. Implementations do not retry.
type Gateway interface {
	Generate(ctx context.Context, question string) (string, error)
}

// GatewayFunc adapts a plain function to the Gateway interface.
type GatewayFunc func(ctx context.Context, question string) (string, error)

func (f GatewayFunc) Generate(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

type timeoutGateway struct {
	next    Gateway
	timeout time.Duration
}

// WithTimeout bounds every Generate call by d. A non-positive d returns g
// unchanged.
func WithTimeout(g Gateway, d time.Duration) Gateway {
	if d <= 0 {
		return g
	}
	return &timeoutGateway{next: g, timeout: d}
}

func (t *timeoutGateway) Generate(ctx context.Context, question string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	answer, err := t.next.Generate(ctx, question)
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("generation exceeded %s: %w", t.timeout, ctx.Err())
	}
	return answer, nil
}

// New builds the backend selected by conf.GeneratorBackend, wrapped with the
// configured generation timeout.
func New(conf *configpkg.Config) (Gateway, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}

	var (
		g   Gateway
		err error
	)
	switch conf.GeneratorBackend {
	case configpkg.BackendOpenAI:
		g, err = NewOpenAI(OpenAIOptions{
			APIKey:       conf.GeneratorAPIKey,
			BaseURL:      conf.GeneratorBaseURL,
			Model:        conf.GeneratorModel,
			SystemPrompt: conf.GeneratorSystemPrompt,
			MaxTokens:    conf.GeneratorMaxTokens,
		})
	case configpkg.BackendAnthropic:
		g, err = NewAnthropic(AnthropicOptions{
			APIKey:       conf.GeneratorAPIKey,
			BaseURL:      conf.GeneratorBaseURL,
			Model:        conf.GeneratorModel,
			SystemPrompt: conf.GeneratorSystemPrompt,
			MaxTokens:    conf.GeneratorMaxTokens,
		})
	case "":
		return nil, errspkg.ErrGatewayRequired
	default:
		return nil, fmt.Errorf("unsupported generator backend %q", conf.GeneratorBackend)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(g, conf.GenerationTimeout), nil
}
