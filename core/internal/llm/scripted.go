package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Scripted is a deterministic provider for tests and the demo command.
// Responses are matched by substring against the user prompt, in
// registration order, with an optional default.
type Scripted struct {
	mu       sync.Mutex
	rules    []scriptRule
	fallback string
	err      error
	calls    []Request
}

type scriptRule struct {
	match string
	reply string
}

// NewScripted returns an empty scripted provider.
func NewScripted() *Scripted { return &Scripted{} }

func (s *Scripted) Name() string { return "scripted" }

// On registers a reply for prompts containing match.
func (s *Scripted) On(match, reply string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, scriptRule{match: match, reply: reply})
	return s
}

// Default sets the reply used when no rule matches.
func (s *Scripted) Default(reply string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = reply
	return s
}

// Fail makes every call return err until cleared with Fail(nil).
func (s *Scripted) Fail(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

// Calls returns a copy of the requests seen so far.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Scripted) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %s", ErrTimeout, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)

	if s.err != nil {
		return "", s.err
	}
	for _, r := range s.rules {
		if strings.Contains(req.User, r.match) {
			return r.reply, nil
		}
	}
	if s.fallback != "" {
		return s.fallback, nil
	}
	return "", fmt.Errorf("%w: no scripted reply for prompt", ErrInvalid)
}
