package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	errspkg "github.com/drblury/sickenflow/internal/runtime/errors"
)

type AnthropicOptions struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	MaxTokens    int
}

// Anthropic answers questions through the messages API.
type Anthropic struct {
	client anthropic.Client
	opts   AnthropicOptions
}

func NewAnthropic(opts AnthropicOptions) (*Anthropic, error) {
	if opts.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	if opts.MaxTokens <= 0 {
		return nil, errors.New("anthropic: max tokens must be positive")
	}
	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &Anthropic{client: anthropic.NewClient(reqOpts...), opts: opts}, nil
}

func (a *Anthropic) Generate(ctx context.Context, question string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.opts.Model),
		MaxTokens: int64(a.opts.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(question)),
		},
	}
	if a.opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.opts.SystemPrompt}}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var (
		sb    strings.Builder
		found bool
	)
	for _, block := range msg.Content {
		if block.Type != "text" {
			continue
		}
		found = true
		sb.WriteString(block.Text)
	}
	if !found {
		return "", errspkg.ErrEmptyAnswer
	}
	return sb.String(), nil
}
