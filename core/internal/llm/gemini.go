package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiConfig configures the Gemini REST provider.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type geminiProvider struct {
	client *resty.Client
	model  string
	apiKey string
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int64   `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewGemini builds a provider over the Gemini generateContent API.
func NewGemini(conf GeminiConfig) (Provider, error) {
	if conf.APIKey == "" {
		return nil, errors.New("llm: gemini api key required")
	}
	if conf.Model == "" {
		conf.Model = "gemini-2.0-flash"
	}
	base := conf.BaseURL
	if base == "" {
		base = geminiBaseURL
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &geminiProvider{client: client, model: conf.Model, apiKey: conf.APIKey}, nil
}

func (p *geminiProvider) Name() string { return "gemini" }

func (p *geminiProvider) Complete(ctx context.Context, req Request) (string, error) {
	body := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.User}}},
		},
		GenerationConfig: geminiGenConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if req.ForceJSON {
		body.GenerationConfig.ResponseMimeType = "application/json"
	}

	var out geminiResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("key", p.apiKey).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/models/%s:generateContent", p.model))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s", ErrTimeout, err)
		}
		return "", fmt.Errorf("%w: %s", ErrProviderUnavailable, err)
	}

	if resp.IsError() {
		msg := resp.Status()
		if out.Error != nil {
			msg = out.Error.Message
		}
		switch resp.StatusCode() {
		case http.StatusTooManyRequests:
			return "", fmt.Errorf("%w: %s", ErrOverloaded, msg)
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest:
			return "", fmt.Errorf("%w: %s", ErrInvalid, msg)
		}
		return "", fmt.Errorf("%w: %s", ErrProviderUnavailable, msg)
	}

	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty candidates", ErrInvalid)
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}
