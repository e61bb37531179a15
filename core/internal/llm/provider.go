// Package llm is the gateway to chat-completion providers. It owns
// prompt delivery, retries, provider fallback, and the JSON repair
// applied to structured responses.
package llm

import (
	"context"
	"errors"
)

// Classified provider failures. The gateway maps raw provider errors
// onto these so callers can decide between retry, fallback, and
// degrade.
var (
	ErrProviderUnavailable = errors.New("llm: provider unavailable")
	ErrOverloaded          = errors.New("llm: provider overloaded")
	ErrTimeout             = errors.New("llm: request timed out")
	ErrInvalid             = errors.New("llm: invalid response")
)

// Request is one completion call. When ForceJSON is set the provider
// is asked for a JSON object response and the gateway validates it.
type Request struct {
	System      string
	User        string
	MaxTokens   int64
	Temperature float64
	ForceJSON   bool
}

// Provider is a single chat-completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}
