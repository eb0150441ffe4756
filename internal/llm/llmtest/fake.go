// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/ytnobody/riskcrew/internal/llm"
)

// Fake records every request and answers with Handler. A nil Handler
// answers "ok".
type Fake struct {
	Handler func(ctx context.Context, n int, req llm.Request) (string, error)

	mu       sync.Mutex
	requests []llm.Request
}

func (f *Fake) Invoke(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	n := len(f.requests)
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.Handler == nil {
		return "ok", nil
	}
	return f.Handler(ctx, n, req)
}

// Requests returns a copy of the recorded requests.
func (f *Fake) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// Calls returns how many times Invoke was called.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Reply answers every call with text.
func Reply(text string) *Fake {
	return &Fake{Handler: func(context.Context, int, llm.Request) (string, error) {
		return text, nil
	}}
}

// Queue answers calls in order and repeats the last answer once exhausted.
func Queue(answers ...string) *Fake {
	return &Fake{Handler: func(_ context.Context, n int, _ llm.Request) (string, error) {
		if len(answers) == 0 {
			return "", nil
		}
		if n >= len(answers) {
			n = len(answers) - 1
		}
		return answers[n], nil
	}}
}

// Fail answers every call with err.
func Fail(err error) *Fake {
	return &Fake{Handler: func(context.Context, int, llm.Request) (string, error) {
		return "", err
	}}
}

// Prompt joins the contents of all messages in req.
func Prompt(req llm.Request) string {
	parts := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}
