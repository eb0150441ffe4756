// Package llm invokes language models. A Client takes an ordered list of
// messages plus the tools the model may call and returns the model's final
// text once it stops requesting tools.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ytnobody/riskcrew/internal/tools"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type Request struct {
	Messages []Message
	Tools    tools.Set
}

// System returns the concatenated system messages and the remaining
// conversation, for backends that take the system prompt separately.
func (r Request) System() (string, []Message) {
	var (
		sys  []string
		rest []Message
	)
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			sys = append(sys, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(sys, "\n\n"), rest
}

// Client is the inference capability used by agents and the planner.
type Client interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (string, error)

func (f ClientFunc) Invoke(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// RateLimitError marks a failure caused by provider rate or quota limits.
type RateLimitError struct {
	Wrapped error
}

func (e *RateLimitError) Error() string {
	return e.Wrapped.Error()
}

func (e *RateLimitError) Unwrap() error {
	return e.Wrapped
}

// IsRateLimitError checks whether the error indicates a token/rate limit.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return true
	}
	return containsRateLimitKeyword(err.Error())
}

func containsRateLimitKeyword(s string) bool {
	msg := strings.ToLower(s)
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "token limit") ||
		strings.Contains(msg, "usage limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota exceeded") ||
		strings.Contains(msg, "resourceexhausted")
}

// MaxRoundsError is returned when the model keeps requesting tools past the
// configured number of rounds.
type MaxRoundsError struct {
	Backend string
	Rounds  int
}

func (e *MaxRoundsError) Error() string {
	return fmt.Sprintf("%s: reached maximum tool rounds (%d) without a final answer", e.Backend, e.Rounds)
}
