package llm

import (
	"context"
	"fmt"
	"sync"
)

// Scripted replays programmable responses. It backs the "script"
// provider type for offline runs and stands in for real providers in
// tests.
type Scripted struct {
	provider string
	fn       func(Request) (string, error)

	mu    sync.Mutex
	calls []Request
}

// NewScripted builds a scripted model. fn receives every request; a
// nil fn echoes a deterministic completion derived from the last user
// message.
func NewScripted(provider string, fn func(Request) (string, error)) *Scripted {
	if fn == nil {
		fn = echoScript
	}
	return &Scripted{provider: provider, fn: fn}
}

// NewScriptedQueue builds a scripted model that returns the given
// responses in order, then keeps repeating the last one.
func NewScriptedQueue(provider string, responses ...string) *Scripted {
	i := 0
	return NewScripted(provider, func(Request) (string, error) {
		if len(responses) == 0 {
			return "", nil
		}
		resp := responses[min(i, len(responses)-1)]
		i++
		return resp, nil
	})
}

func (s *Scripted) Provider() string { return s.provider }

func (s *Scripted) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls = append(s.calls, req)
	fn := s.fn
	s.mu.Unlock()

	content, err := fn(req)
	if err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = "scripted"
	}
	return &Response{
		Content:          content,
		Model:            model,
		PromptTokens:     promptLength(req),
		CompletionTokens: len(content) / 4,
	}, nil
}

// Calls returns a copy of every request seen so far.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many requests the model has served.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func echoScript(req Request) (string, error) {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	if len(last) > 120 {
		last = last[:120]
	}
	return fmt.Sprintf("[scripted] %s", last), nil
}

func promptLength(req Request) int {
	total := 0
	for _, m := range req.Messages {
		total += len(m.Content)
	}
	return total / 4
}
