// Package orchestrator runs revision-controlled analyses. A Session owns one
// analysis; the Service creates a fresh session per request and bounds how
// many run at once.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ytnobody/riskcrew/internal/chatlog"
	"github.com/ytnobody/riskcrew/internal/config"
	"github.com/ytnobody/riskcrew/internal/crew"
	"github.com/ytnobody/riskcrew/internal/docs"
	"github.com/ytnobody/riskcrew/internal/llm"
	"github.com/ytnobody/riskcrew/internal/logging"
	"github.com/ytnobody/riskcrew/internal/records"
	"github.com/ytnobody/riskcrew/prompts"
)

// Options wires a Service. Analysis supplies the defaults for every request.
type Options struct {
	Analysis  config.AnalysisConfig
	Catalog   *prompts.Catalog
	Records   records.Store
	Docs      docs.Store
	ClientFor func(crew.Role) (llm.Client, error)
	Logger    *zap.Logger
	// Observer, if set, receives the events of every session.
	Observer Observer
}

// Request is one analysis. Zero fields use the configured defaults.
type Request struct {
	Question     string
	MaxRevisions int
	ReportFile   string
	// SessionID lets a caller know the transcript tag before the analysis
	// starts. Empty means a fresh random ID.
	SessionID string
}

// Outcome is one entry of a batch.
type Outcome struct {
	Question string
	Result   Result
	Err      error
}

// Service manages the lifecycle of analysis sessions.
type Service struct {
	opts       Options
	sem        *semaphore.Weighted
	transcript *chatlog.ChatLog
	logger     *zap.Logger
	closers    []func() error
}

func New(opts Options) (*Service, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("orchestrator: no prompt catalogue")
	}
	if opts.ClientFor == nil {
		return nil, fmt.Errorf("orchestrator: no llm client factory")
	}
	if opts.Analysis.MaxConcurrent < 1 {
		opts.Analysis.MaxConcurrent = 1
	}
	if opts.Analysis.MaxRevisions < 1 {
		opts.Analysis.MaxRevisions = DefaultMaxRevisions
	}
	logger := logging.Component(opts.Logger, "orchestrator")

	s := &Service{
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.Analysis.MaxConcurrent)),
		logger: logger,
	}
	if path := opts.Analysis.TranscriptPath; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			logger.Warn("transcript dir", zap.String("path", path), zap.Error(err))
		}
		s.transcript = chatlog.New(path)
		if opts.Analysis.TranscriptMaxLines > 0 {
			removed, err := s.transcript.Truncate(opts.Analysis.TranscriptMaxLines)
			if err != nil {
				logger.Warn("transcript truncate failed", zap.Error(err))
			} else if removed > 0 {
				logger.Info("transcript truncated", zap.Int("removed_lines", removed))
			}
		}
	}
	return s, nil
}

// NewFromConfig builds the record store, documents, prompt catalogue and
// one LLM client per role from cfg.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	catalog, err := prompts.Load(cfg.Analysis.PromptsDir)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := OpenRecords(cfg.Records)
	if err != nil {
		return nil, err
	}

	documents := docs.NewFileStore(map[string]string{
		docs.RiskMethodology: cfg.Documents.MethodologyPath,
		docs.WrongPractices:  cfg.Documents.WrongPracticesPath,
	}, logging.Component(logger, "docs"))

	clients, err := newClients(ctx, cfg.LLM, logging.Component(logger, "llm"))
	if err != nil {
		closeStore()
		return nil, err
	}

	s, err := New(Options{
		Analysis: cfg.Analysis,
		Catalog:  catalog,
		Records:  store,
		Docs:     documents,
		ClientFor: func(role crew.Role) (llm.Client, error) {
			c, ok := clients[role]
			if !ok {
				return nil, fmt.Errorf("no client for role %s", role)
			}
			return c, nil
		},
		Logger: logger,
	})
	if err != nil {
		closeStore()
		return nil, err
	}
	s.closers = append(s.closers, closeStore)
	return s, nil
}

// OpenRecords opens the configured record store. The returned func releases
// it.
func OpenRecords(cfg config.RecordsConfig) (records.Store, func() error, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := records.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	default:
		return records.NewJSONStore(cfg.BranchesPath, cfg.ReviewsPath), func() error { return nil }, nil
	}
}

// newClients builds one client per role. Roles sharing a model share a
// client; all clients share one throttle.
func newClients(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (map[crew.Role]llm.Client, error) {
	throttle := llm.NewThrottle(cfg.RPM)
	byModel := make(map[string]llm.Client)
	out := make(map[crew.Role]llm.Client, len(crew.Roles()))

	for _, role := range crew.Roles() {
		model := cfg.ModelFor(string(role))
		if c, ok := byModel[model]; ok {
			out[role] = c
			continue
		}
		baseURL, apiKey := endpointFor(cfg, model)
		c, err := llm.New(ctx, llm.Options{
			Model:         model,
			BaseURL:       baseURL,
			APIKey:        apiKey,
			Temperature:   cfg.Temperature,
			MaxToolRounds: cfg.MaxToolRounds,
			Retry: llm.RetryOptions{
				MaxRetries:  cfg.MaxRetries,
				CallTimeout: cfg.CallTimeout(),
				Throttle:    throttle,
			},
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("llm client for %s: %w", role, err)
		}
		byModel[model] = c
		out[role] = c
	}
	return out, nil
}

// endpointFor returns the base URL and key for model. base_url and
// api_key_env describe the default model's backend; a per-role override on
// another backend gets neither and uses that provider's own environment
// variable.
func endpointFor(cfg config.LLMConfig, model string) (baseURL, apiKey string) {
	if llm.Backend(model) != llm.Backend(cfg.Model) {
		return "", ""
	}
	return cfg.BaseURL, cfg.APIKey()
}

// Records returns the record store the service reads from.
func (s *Service) Records() records.Store { return s.opts.Records }

// NewSession builds a session for req without running it.
func (s *Service) NewSession(req Request) (*Session, error) {
	maxRevisions := req.MaxRevisions
	if maxRevisions <= 0 {
		maxRevisions = s.opts.Analysis.MaxRevisions
	}
	reportFile := req.ReportFile
	if reportFile == "" {
		reportFile = s.opts.Analysis.ReportFile
	}

	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	var observers multiObserver
	if s.opts.Observer != nil {
		observers = append(observers, s.opts.Observer)
	}
	var tr *transcript
	if s.transcript != nil {
		tr = newTranscript(s.transcript, id, s.logger)
		observers = append(observers, tr)
	}
	var observer Observer
	if len(observers) > 0 {
		observer = observers
	}

	session, err := NewSession(SessionConfig{
		ID:           id,
		Catalog:      s.opts.Catalog,
		Records:      s.opts.Records,
		Docs:         s.opts.Docs,
		ClientFor:    s.opts.ClientFor,
		MaxRevisions: maxRevisions,
		UsePlanner:   s.opts.Analysis.UsePlanner,
		ReportFile:   reportFile,
		Logger:       s.logger,
		Observer:     observer,
	})
	if err != nil {
		return nil, err
	}
	if tr != nil {
		session.Ledger().OnConversation(tr.onConversation)
	}
	return session, nil
}

// Analyze runs req in a new session. It blocks while MaxConcurrent analyses
// are already running. Errors are always *AnalysisFailedError.
func (s *Service) Analyze(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Question) == "" {
		return Result{State: StateFailed}, &AnalysisFailedError{Question: req.Question, Err: fmt.Errorf("empty question")}
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return Result{State: StateFailed}, &AnalysisFailedError{Question: req.Question, Err: err}
	}
	defer s.sem.Release(1)

	session, err := s.NewSession(req)
	if err != nil {
		return Result{State: StateFailed}, &AnalysisFailedError{Question: req.Question, Err: err}
	}
	return session.Analyze(ctx, req.Question)
}

// Batch analyses every request concurrently, at most MaxConcurrent at a
// time. A failed request does not stop the others; outcomes keep the order
// of reqs.
func (s *Service) Batch(ctx context.Context, reqs []Request) []Outcome {
	outcomes := make([]Outcome, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Analysis.MaxConcurrent)

	for i, req := range reqs {
		g.Go(func() error {
			res, err := s.Analyze(gctx, req)
			outcomes[i] = Outcome{Question: req.Question, Result: res, Err: err}
			return nil
		})
	}
	g.Wait()
	return outcomes
}

// BatchReportFile derives a per-question report path from base, e.g.
// report_output.md -> report_output-3.md. An empty base stays empty.
func BatchReportFile(base string, n int) string {
	if base == "" {
		return ""
	}
	ext := filepath.Ext(base)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(base, ext), n, ext)
}

// TranscriptPath returns the chat-log file sessions are mirrored into, or ""
// when the transcript is disabled.
func (s *Service) TranscriptPath() string {
	if s.transcript == nil {
		return ""
	}
	return s.transcript.Path()
}

// Transcript returns the transcript lines of one session.
func (s *Service) Transcript(sessionID string) ([]chatlog.Message, error) {
	if s.transcript == nil {
		return nil, ErrNoTranscript
	}
	return s.transcript.Poll(sessionID)
}

// Close releases the record store.
func (s *Service) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
