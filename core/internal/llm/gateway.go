package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

// Gateway fronts one or more providers. Calls go to the primary with
// retries on transient failures; if the primary is exhausted the
// fallbacks are tried in order.
type Gateway struct {
	providers []Provider
	attempts  uint
	delay     time.Duration
	maxDelay  time.Duration
	log       *zap.SugaredLogger
}

// NewGateway builds a gateway over the given providers. The first
// provider is primary, the rest are fallbacks in order.
func NewGateway(log *zap.SugaredLogger, providers ...Provider) (*Gateway, error) {
	if len(providers) == 0 {
		return nil, errors.New("llm: no providers configured")
	}
	return &Gateway{
		providers: providers,
		attempts:  3,
		delay:     1 * time.Second,
		maxDelay:  10 * time.Second,
		log:       log,
	}, nil
}

// Primary returns the primary provider's name.
func (g *Gateway) Primary() string { return g.providers[0].Name() }

// Complete runs the request through the provider chain and returns the
// raw text response.
func (g *Gateway) Complete(ctx context.Context, req Request) (string, error) {
	var lastErr error

	for i, p := range g.providers {
		out, err := g.completeWithRetry(ctx, p, req)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %s", ErrTimeout, ctx.Err())
		}
		if i+1 < len(g.providers) && g.log != nil {
			g.log.Warnf("llm provider %s failed, falling back to %s: %s",
				p.Name(), g.providers[i+1].Name(), err)
		}
	}
	return "", lastErr
}

// CompleteJSON runs the request in JSON mode, repairs common response
// wrapping, and unmarshals into out.
func (g *Gateway) CompleteJSON(ctx context.Context, req Request, out any) error {
	req.ForceJSON = true
	raw, err := g.Complete(ctx, req)
	if err != nil {
		return err
	}

	body := ExtractJSON(raw)
	if body == "" {
		return fmt.Errorf("%w: no json object in response", ErrInvalid)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, err)
	}
	return nil
}

func (g *Gateway) completeWithRetry(ctx context.Context, p Provider, req Request) (string, error) {
	return retry.DoWithData(
		func() (string, error) {
			return p.Complete(ctx, req)
		},
		retry.Context(ctx),
		retry.Attempts(g.attempts),
		retry.Delay(g.delay),
		retry.MaxDelay(g.maxDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(250*time.Millisecond),
		retry.RetryIf(retryable),
		retry.LastErrorOnly(true),
	)
}

// retryable reports whether an error is worth retrying on the same
// provider. Invalid responses and auth failures go straight to the
// fallback.
func retryable(err error) bool {
	if errors.Is(err, ErrInvalid) {
		return false
	}
	return errors.Is(err, ErrOverloaded) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// ExtractJSON pulls a JSON object out of a model response. Handles
// bare objects, ```json fences, and prose-wrapped objects by slicing
// from the first '{' to its matching '}'.
func ExtractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimPrefix(s, "JSON")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// StripSQL removes code fences and a leading "sql" language tag from a
// model response that should contain only a SQL statement.
func StripSQL(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "sql")
		s = strings.TrimPrefix(s, "SQL")
		if i := strings.Index(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
