package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/ytnobody/riskcrew/internal/tools"
)

type GeminiOptions struct {
	Model         string
	APIKey        string
	Temperature   float64
	MaxToolRounds int
	Logger        *zap.Logger
	// BaseURL overrides the Gemini API endpoint. Used by tests.
	BaseURL string
}

// GeminiClient calls the Gemini API with function declarations and feeds
// function responses back until the model returns text only.
type GeminiClient struct {
	client *genai.Client
	opts   GeminiOptions
}

func NewGemini(ctx context.Context, opts GeminiOptions) (*GeminiClient, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = 10
	}
	cc := &genai.ClientConfig{APIKey: opts.APIKey, Backend: genai.BackendGeminiAPI}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, opts: opts}, nil
}

func toGeminiTools(set tools.Set) []*genai.Tool {
	if len(set) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(set))
	for _, t := range set {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.Parameters,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func (g *GeminiClient) Invoke(ctx context.Context, req Request) (string, error) {
	system, conv := req.System()

	temp := float32(g.opts.Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature: &temp,
		Tools:       toGeminiTools(req.Tools),
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	contents := make([]*genai.Content, 0, len(conv))
	for _, m := range conv {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}

	for range g.opts.MaxToolRounds {
		resp, err := g.client.Models.GenerateContent(ctx, g.opts.Model, contents, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if IsRateLimitError(err) {
				return "", &RateLimitError{Wrapped: fmt.Errorf("gemini rate limit: %w", err)}
			}
			return "", fmt.Errorf("gemini API error: %w", err)
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			return extractGeminiText(resp), nil
		}

		if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
			contents = append(contents, resp.Candidates[0].Content)
		}
		parts := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			args, err := json.Marshal(call.Args)
			if err != nil {
				args = []byte("{}")
			}
			result, isError := req.Tools.Dispatch(ctx, call.Name, args)
			g.opts.Logger.Debug("tool call",
				zap.String("tool", call.Name),
				zap.Bool("is_error", isError))
			payload := map[string]any{"output": result}
			if isError {
				payload = map[string]any{"error": result}
			}
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       call.ID,
				Name:     call.Name,
				Response: payload,
			}})
		}
		contents = append(contents, &genai.Content{Role: "user", Parts: parts})
	}

	return "", &MaxRoundsError{Backend: "gemini", Rounds: g.opts.MaxToolRounds}
}

func extractGeminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p.Text != "" && !p.Thought {
				parts = append(parts, p.Text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
