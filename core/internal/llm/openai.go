package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIConfig configures the OpenAI-compatible provider. BaseURL is
// optional and lets the same provider talk to compatible gateways.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type openAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAI builds a provider over the OpenAI chat completions API.
func NewOpenAI(conf OpenAIConfig) (Provider, error) {
	if conf.APIKey == "" {
		return nil, errors.New("llm: openai api key required")
	}
	if conf.Model == "" {
		conf.Model = "gpt-4o-mini"
	}

	opts := []option.RequestOption{option.WithAPIKey(conf.APIKey)}
	if conf.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(conf.BaseURL))
	}
	return &openAIProvider{
		client: openai.NewClient(opts...),
		model:  conf.Model,
	}, nil
}

func (p *openAIProvider) Name() string { return "openai" }

func (p *openAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrInvalid)
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrOverloaded, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrInvalid, err)
		case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusInternalServerError:
			return fmt.Errorf("%w: %s", ErrProviderUnavailable, err)
		}
		return fmt.Errorf("%w: %s", ErrProviderUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %s", ErrProviderUnavailable, err)
}
