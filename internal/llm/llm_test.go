package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"typed", &RateLimitError{Wrapped: errors.New("x")}, true},
		{"wrapped typed", fmt.Errorf("call: %w", &RateLimitError{Wrapped: errors.New("x")}), true},
		{"429 in message", errors.New("HTTP 429 returned"), true},
		{"too many requests", errors.New("Too Many Requests"), true},
		{"gemini quota", errors.New("Error 429, RESOURCE_EXHAUSTED"), true},
		{"overloaded", errors.New("server overloaded"), true},
		{"plain failure", errors.New("connection refused"), false},
		{"max rounds", &MaxRoundsError{Backend: "gemini", Rounds: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRateLimitError(tt.err); got != tt.want {
				t.Errorf("IsRateLimitError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRateLimitErrorUnwrap(t *testing.T) {
	inner := errors.New("quota exceeded")
	err := &RateLimitError{Wrapped: inner}
	if !errors.Is(err, inner) {
		t.Error("expected RateLimitError to unwrap to the inner error")
	}
	if err.Error() != "quota exceeded" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestRequestSystem(t *testing.T) {
	req := Request{Messages: []Message{
		{Role: RoleSystem, Content: "You are the Critic."},
		{Role: RoleUser, Content: "Review this"},
		{Role: RoleSystem, Content: "Memory: none"},
		{Role: RoleAssistant, Content: "Looking"},
	}}

	sys, rest := req.System()
	if sys != "You are the Critic.\n\nMemory: none" {
		t.Errorf("system = %q", sys)
	}
	want := []Message{
		{Role: RoleUser, Content: "Review this"},
		{Role: RoleAssistant, Content: "Looking"},
	}
	if diff := cmp.Diff(want, rest); diff != "" {
		t.Errorf("rest mismatch (-want +got):\n%s", diff)
	}
}

func TestMaxRoundsErrorMessage(t *testing.T) {
	err := &MaxRoundsError{Backend: "openai", Rounds: 10}
	want := "openai: reached maximum tool rounds (10) without a final answer"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
