package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"go.uber.org/zap"

	"github.com/ytnobody/riskcrew/internal/tools"
)

type OpenAIOptions struct {
	Model string
	// BaseURL points at any OpenAI-compatible endpoint (OpenRouter, LM
	// Studio, vLLM). Empty uses the OpenAI default.
	BaseURL       string
	APIKey        string
	Temperature   float64
	MaxToolRounds int
	Logger        *zap.Logger
}

// OpenAIClient speaks the chat completions API and runs the function-calling
// loop until the model answers without tool calls.
type OpenAIClient struct {
	client openai.Client
	opts   OpenAIOptions
}

func NewOpenAI(opts OpenAIOptions) *OpenAIClient {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = 10
	}
	// retries are owned by the Retrying wrapper
	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &OpenAIClient{client: openai.NewClient(reqOpts...), opts: opts}
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func toOpenAITools(set tools.Set) []openai.ChatCompletionToolUnionParam {
	if len(set) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(set))
	for _, t := range set {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(t.Parameters),
		}))
	}
	return out
}

func (c *OpenAIClient) Invoke(ctx context.Context, req Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.opts.Model),
		Messages:    toOpenAIMessages(req.Messages),
		Tools:       toOpenAITools(req.Tools),
		Temperature: openai.Float(c.opts.Temperature),
	}

	for range c.opts.MaxToolRounds {
		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", classifyOpenAIError(ctx, err)
		}
		if len(completion.Choices) == 0 {
			return "", fmt.Errorf("openai: empty response (no choices)")
		}

		msg := completion.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return strings.TrimSpace(msg.Content), nil
		}

		params.Messages = append(params.Messages, msg.ToParam())
		for _, call := range msg.ToolCalls {
			result, isError := req.Tools.Dispatch(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
			c.opts.Logger.Debug("tool call",
				zap.String("tool", call.Function.Name),
				zap.Bool("is_error", isError))
			params.Messages = append(params.Messages, openai.ToolMessage(result, call.ID))
		}
	}

	return "", &MaxRoundsError{Backend: "openai", Rounds: c.opts.MaxToolRounds}
}

func classifyOpenAIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{Wrapped: fmt.Errorf("openai rate limit: %w", err)}
	}
	return fmt.Errorf("openai API error: %w", err)
}
