package gateway

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	errspkg "github.com/drblury/sickenflow/internal/runtime/errors"
)

// OpenAIOptions configures the chat completions backend. BaseURL points the
// client at any OpenAI-compatible server, such as a locally hosted model.
type OpenAIOptions struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	MaxTokens    int
}

// OpenAI answers questions through the chat completions API.
type OpenAI struct {
	client openai.Client
	opts   OpenAIOptions
}

func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	if opts.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &OpenAI{client: openai.NewClient(reqOpts...), opts: opts}, nil
}

func (o *OpenAI) Generate(ctx context.Context, question string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if o.opts.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(o.opts.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(question))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.opts.Model),
		Messages: messages,
	}
	if o.opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(o.opts.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errspkg.ErrEmptyAnswer
	}
	return resp.Choices[0].Message.Content, nil
}
