package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ytnobody/riskcrew/internal/tools"
)

const (
	anthropicAPIEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion  = "2023-06-01"
	anthropicMaxTokens   = 8096
	anthropicPrefix      = "anthropic/"
)

type AnthropicOptions struct {
	Model         string
	APIKey        string
	Temperature   float64
	MaxToolRounds int
	Logger        *zap.Logger
}

// AnthropicClient calls the Anthropic Messages API over plain HTTP and runs
// the tool-use loop until the model stops with a final answer.
type AnthropicClient struct {
	opts       AnthropicOptions
	client     *http.Client
	testAPIURL string // overrides anthropicAPIEndpoint in tests
}

func NewAnthropic(opts AnthropicOptions) *AnthropicClient {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = 10
	}
	return &AnthropicClient{opts: opts, client: &http.Client{}}
}

func (c *AnthropicClient) apiURL() string {
	if c.testAPIURL != "" {
		return c.testAPIURL
	}
	return anthropicAPIEndpoint
}

// --- Anthropic API types ---

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content []any  `json:"content"`
}

type anthropicTextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicToolUseContent struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type anthropicToolResultContent struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicResponse struct {
	ID         string               `json:"id"`
	Type       string               `json:"type"`
	Role       string               `json:"role"`
	Content    []anthropicRawBlock  `json:"content"`
	StopReason string               `json:"stop_reason"`
	Error      *anthropicErrorBlock `json:"error,omitempty"`
}

type anthropicRawBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicErrorBlock struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"input_schema"`
}

func toAnthropicTools(set tools.Set) []anthropicTool {
	out := make([]anthropicTool, 0, len(set))
	for _, t := range set {
		out = append(out, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	return out
}

// Invoke sends the conversation and runs the tool-use loop:
//  1. Send the messages
//  2. If the model uses tools, dispatch them and feed the results back
//  3. Repeat until stop_reason != "tool_use" or the round limit is reached
func (c *AnthropicClient) Invoke(ctx context.Context, req Request) (string, error) {
	if c.opts.APIKey == "" {
		return "", fmt.Errorf("anthropic API key is not set; the anthropic backend requires an API key")
	}

	model := stripPrefix(c.opts.Model)
	if model == "" {
		model = "claude-sonnet-4-5"
	}

	system, conv := req.System()
	messages := make([]anthropicMessage, 0, len(conv))
	for _, m := range conv {
		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, anthropicMessage{
			Role:    role,
			Content: []any{anthropicTextContent{Type: "text", Text: m.Content}},
		})
	}
	apiTools := toAnthropicTools(req.Tools)

	for range c.opts.MaxToolRounds {
		resp, err := c.callAPI(ctx, model, system, messages, apiTools)
		if err != nil {
			return "", err
		}

		if resp.Error != nil {
			errMsg := resp.Error.Message
			if containsRateLimitKeyword(errMsg) {
				return "", &RateLimitError{Wrapped: fmt.Errorf("anthropic API rate limit: %s", errMsg)}
			}
			return "", fmt.Errorf("anthropic API error: %s", errMsg)
		}

		assistantContent := make([]any, 0, len(resp.Content))
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				assistantContent = append(assistantContent, anthropicTextContent{Type: "text", Text: block.Text})
			case "tool_use":
				assistantContent = append(assistantContent, anthropicToolUseContent{
					Type:  "tool_use",
					ID:    block.ID,
					Name:  block.Name,
					Input: block.Input,
				})
			}
		}
		messages = append(messages, anthropicMessage{Role: "assistant", Content: assistantContent})

		if resp.StopReason != "tool_use" {
			return extractAnthropicText(resp.Content), nil
		}

		toolResults := make([]any, 0)
		for _, block := range resp.Content {
			if block.Type != "tool_use" {
				continue
			}
			result, isError := req.Tools.Dispatch(ctx, block.Name, block.Input)
			c.opts.Logger.Debug("tool call",
				zap.String("tool", block.Name),
				zap.Bool("is_error", isError))
			toolResults = append(toolResults, anthropicToolResultContent{
				Type:      "tool_result",
				ToolUseID: block.ID,
				Content:   result,
				IsError:   isError,
			})
		}
		messages = append(messages, anthropicMessage{Role: "user", Content: toolResults})
	}

	return "", &MaxRoundsError{Backend: "anthropic", Rounds: c.opts.MaxToolRounds}
}

func (c *AnthropicClient) callAPI(ctx context.Context, model, system string, messages []anthropicMessage, apiTools []anthropicTool) (*anthropicResponse, error) {
	reqBody := anthropicRequest{
		Model:       model,
		MaxTokens:   anthropicMaxTokens,
		System:      system,
		Temperature: c.opts.Temperature,
		Messages:    messages,
		Tools:       apiTools,
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL(), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.opts.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.Header.Set("content-type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{
			Wrapped: fmt.Errorf("anthropic API rate limit (HTTP 429): %s", strings.TrimSpace(string(body))),
		}
	}
	if httpResp.StatusCode >= 400 {
		return nil, fmt.Errorf("anthropic API HTTP %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w (body: %s)", err, string(body))
	}
	return &resp, nil
}

// extractAnthropicText collects all text blocks from the response content.
func extractAnthropicText(blocks []anthropicRawBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// stripPrefix removes the "anthropic/" prefix from model names.
// e.g. "anthropic/claude-sonnet-4-5" → "claude-sonnet-4-5"
func stripPrefix(model string) string {
	return strings.TrimPrefix(model, anthropicPrefix)
}
