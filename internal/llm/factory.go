package llm

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
)

const (
	BackendOpenAI    = "openai"
	BackendGemini    = "gemini"
	BackendAnthropic = "anthropic"
)

type Options struct {
	Model         string
	BaseURL       string
	APIKey        string
	Temperature   float64
	MaxToolRounds int
	Retry         RetryOptions
	Logger        *zap.Logger
}

// Backend reports which backend serves model: "gemini-*" models use the
// Gemini API, "anthropic/*" the Anthropic Messages API and everything else
// an OpenAI-compatible endpoint.
func Backend(model string) string {
	switch {
	case strings.HasPrefix(model, "gemini-"):
		return BackendGemini
	case strings.HasPrefix(model, anthropicPrefix):
		return BackendAnthropic
	default:
		return BackendOpenAI
	}
}

// New builds the backend for opts.Model wrapped with timeout, throttle and
// retry handling. A missing API key falls back to the provider's usual
// environment variable.
func New(ctx context.Context, opts Options) (Client, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.With(zap.String("model", opts.Model))

	var c Client
	switch Backend(opts.Model) {
	case BackendGemini:
		key := opts.APIKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		g, err := NewGemini(ctx, GeminiOptions{
			Model:         opts.Model,
			APIKey:        key,
			Temperature:   opts.Temperature,
			MaxToolRounds: opts.MaxToolRounds,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		c = g
	case BackendAnthropic:
		key := opts.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		c = NewAnthropic(AnthropicOptions{
			Model:         opts.Model,
			APIKey:        key,
			Temperature:   opts.Temperature,
			MaxToolRounds: opts.MaxToolRounds,
			Logger:        logger,
		})
	default:
		key := opts.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		c = NewOpenAI(OpenAIOptions{
			Model:         opts.Model,
			BaseURL:       opts.BaseURL,
			APIKey:        key,
			Temperature:   opts.Temperature,
			MaxToolRounds: opts.MaxToolRounds,
			Logger:        logger,
		})
	}

	retry := opts.Retry
	if retry.Logger == nil {
		retry.Logger = logger
	}
	return WithRetry(c, retry), nil
}
