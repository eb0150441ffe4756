package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Records   RecordsConfig   `toml:"records"`
	Documents DocumentsConfig `toml:"documents"`
	Analysis  AnalysisConfig  `toml:"analysis"`
	Log       LogConfig       `toml:"log"`
}

type LLMConfig struct {
	// Model selects the backend by prefix: "gemini-*" uses the Gemini API,
	// "anthropic/*" the Anthropic Messages API, anything else an
	// OpenAI-compatible chat completions endpoint at BaseURL.
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv   string  `toml:"api_key_env"`
	Temperature float64 `toml:"temperature"`
	// MaxToolRounds bounds the tool-call loop of a single agent invocation.
	MaxToolRounds      int `toml:"max_tool_rounds"`
	CallTimeoutSeconds int `toml:"call_timeout_seconds"`
	MaxRetries         int `toml:"max_retries"`
	// RPM is a shared requests-per-minute ceiling. 0 disables throttling.
	RPM    int         `toml:"rpm"`
	Models ModelConfig `toml:"models"`
}

// ModelConfig holds optional per-role model overrides. Empty fields fall back
// to LLMConfig.Model.
type ModelConfig struct {
	SeniorAnalyst string `toml:"senior_analyst"`
	RiskAssistant string `toml:"risk_assistant"`
	InsightAgent  string `toml:"insight_agent"`
	ReportBuilder string `toml:"report_builder"`
	Critic        string `toml:"critic"`
	Planner       string `toml:"planner"`
}

type RecordsConfig struct {
	Driver       string `toml:"driver"`
	BranchesPath string `toml:"branches_path"`
	ReviewsPath  string `toml:"reviews_path"`
	SQLitePath   string `toml:"sqlite_path"`
}

type DocumentsConfig struct {
	MethodologyPath    string `toml:"methodology_path"`
	WrongPracticesPath string `toml:"wrong_practices_path"`
}

type AnalysisConfig struct {
	MaxRevisions int  `toml:"max_revisions"`
	UsePlanner   bool `toml:"use_planner"`
	// ReportFile receives the report-building task's output on every
	// revision. Empty disables the write.
	ReportFile string `toml:"report_file"`
	// TranscriptPath mirrors session events into a chat-log file that
	// `riskcrew analyze --follow` tails. Empty disables the transcript.
	TranscriptPath     string `toml:"transcript_path"`
	TranscriptMaxLines int    `toml:"transcript_max_lines"`
	MaxConcurrent      int    `toml:"max_concurrent"`
	PromptsDir         string `toml:"prompts_dir,omitempty"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// CallTimeout returns the per-call LLM timeout.
func (c LLMConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// ModelFor returns the model configured for role, falling back to the
// default model.
func (c LLMConfig) ModelFor(role string) string {
	var m string
	switch role {
	case "senior_analyst":
		m = c.Models.SeniorAnalyst
	case "risk_assistant":
		m = c.Models.RiskAssistant
	case "insight_agent":
		m = c.Models.InsightAgent
	case "report_builder":
		m = c.Models.ReportBuilder
	case "critic":
		m = c.Models.Critic
	case "planner":
		m = c.Models.Planner
	}
	if m == "" {
		return c.Model
	}
	return m
}

// APIKey reads the API key from the configured environment variable.
func (c LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg, md)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied, as used when
// no config file is present.
func Default() *Config {
	var cfg Config
	setDefaults(&cfg, toml.MetaData{})
	return &cfg
}

// setDefaults fills unset fields. md tells an explicit zero apart from a
// missing key where zero is meaningful.
func setDefaults(cfg *Config, md toml.MetaData) {
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "qwen/qwen3-14b"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "OPENROUTER_API_KEY"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.3
	}
	if cfg.LLM.MaxToolRounds == 0 {
		cfg.LLM.MaxToolRounds = 10
	}
	if cfg.LLM.CallTimeoutSeconds == 0 {
		cfg.LLM.CallTimeoutSeconds = 180
	}
	if !md.IsDefined("llm", "max_retries") {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.Records.Driver == "" {
		cfg.Records.Driver = DriverJSON
	}
	if cfg.Records.BranchesPath == "" {
		cfg.Records.BranchesPath = "data/companies.json"
	}
	if cfg.Records.ReviewsPath == "" {
		cfg.Records.ReviewsPath = "data/reviews.json"
	}
	if cfg.Records.SQLitePath == "" {
		cfg.Records.SQLitePath = "data/records.db"
	}
	if cfg.Documents.MethodologyPath == "" {
		cfg.Documents.MethodologyPath = "data/716p.txt"
	}
	if cfg.Documents.WrongPracticesPath == "" {
		cfg.Documents.WrongPracticesPath = "data/wrongPractices.txt"
	}
	if cfg.Analysis.MaxRevisions == 0 {
		cfg.Analysis.MaxRevisions = 2
	}
	if cfg.Analysis.MaxConcurrent == 0 {
		cfg.Analysis.MaxConcurrent = 1
	}
	if cfg.Analysis.TranscriptMaxLines == 0 {
		cfg.Analysis.TranscriptMaxLines = 2000
	}
	// ReportFile and TranscriptPath stay empty unless set; empty disables
	// the write.
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

func validate(cfg *Config) error {
	switch cfg.Records.Driver {
	case DriverJSON:
		if cfg.Records.BranchesPath == "" || cfg.Records.ReviewsPath == "" {
			return fmt.Errorf("records.branches_path and records.reviews_path are required for the json driver")
		}
	case DriverSQLite:
		if cfg.Records.SQLitePath == "" {
			return fmt.Errorf("records.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("records.driver must be %q or %q, got %q", DriverJSON, DriverSQLite, cfg.Records.Driver)
	}
	if cfg.Analysis.MaxRevisions < 1 {
		return fmt.Errorf("analysis.max_revisions must be at least 1, got %d", cfg.Analysis.MaxRevisions)
	}
	if cfg.Analysis.MaxConcurrent < 1 {
		return fmt.Errorf("analysis.max_concurrent must be at least 1, got %d", cfg.Analysis.MaxConcurrent)
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2], got %v", cfg.LLM.Temperature)
	}
	if cfg.LLM.MaxToolRounds < 1 {
		return fmt.Errorf("llm.max_tool_rounds must be at least 1, got %d", cfg.LLM.MaxToolRounds)
	}
	if cfg.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative, got %d", cfg.LLM.MaxRetries)
	}
	if cfg.LLM.CallTimeoutSeconds < 0 {
		return fmt.Errorf("llm.call_timeout_seconds must not be negative")
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be \"console\" or \"json\", got %q", cfg.Log.Format)
	}
	return nil
}

// Template is the commented config written by `riskcrew init`.
const Template = `# riskcrew configuration

[llm]
# "gemini-*" selects the Gemini API, "anthropic/*" the Anthropic Messages API,
# anything else an OpenAI-compatible endpoint at base_url.
model = "qwen/qwen3-14b"
base_url = "https://openrouter.ai/api/v1"
api_key_env = "OPENROUTER_API_KEY"
temperature = 0.3
max_tool_rounds = 10
call_timeout_seconds = 180
# 0 disables retries
max_retries = 3
rpm = 0

[llm.models]
# critic = "anthropic/claude-sonnet-4-5"

[records]
driver = "json"
branches_path = "data/companies.json"
reviews_path = "data/reviews.json"
sqlite_path = "data/records.db"

[documents]
methodology_path = "data/716p.txt"
wrong_practices_path = "data/wrongPractices.txt"

[analysis]
max_revisions = 2
use_planner = false
report_file = "report_output.md"
transcript_path = ".riskcrew/transcript.log"
max_concurrent = 1

[log]
level = "info"
format = "console"
`
