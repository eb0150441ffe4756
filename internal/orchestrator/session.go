package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ytnobody/riskcrew/internal/crew"
	"github.com/ytnobody/riskcrew/internal/docs"
	"github.com/ytnobody/riskcrew/internal/ledger"
	"github.com/ytnobody/riskcrew/internal/llm"
	"github.com/ytnobody/riskcrew/internal/planner"
	"github.com/ytnobody/riskcrew/internal/records"
	"github.com/ytnobody/riskcrew/internal/tools"
	"github.com/ytnobody/riskcrew/prompts"
)

const (
	DefaultMaxRevisions = 2

	// ApprovalToken in a critique accepts the report.
	ApprovalToken = "APPROVED"

	ExhaustedNotice  = "Revision limit reached: report accepted with outstanding remarks."
	CriticConclusion = "CRITIC CONCLUSION:"

	criticSpeaker = "Critic"
)

// State is a step of the revision loop.
type State int

const (
	StateDrafting State = iota
	StateReviewing
	StateAccepted
	StateRetrying
	StateExhausted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDrafting:
		return "drafting"
	case StateReviewing:
		return "reviewing"
	case StateAccepted:
		return "accepted"
	case StateRetrying:
		return "retrying"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Result is the outcome of an analysis. Text is what front ends show: the
// approved report verbatim, or the last report annotated with the critic's
// outstanding remarks. Revisions counts pipeline executions.
type Result struct {
	SessionID string
	Text      string
	Report    string
	Critique  string
	Approved  bool
	Revisions int
	State     State
}

// Observer receives task and state events of one session.
type Observer interface {
	crew.Observer
	OnState(revision int, state State)
}

type SessionConfig struct {
	// ID defaults to a random UUID.
	ID           string
	Catalog      *prompts.Catalog
	Records      records.Store
	Docs         docs.Store
	ClientFor    func(crew.Role) (llm.Client, error)
	MaxRevisions int
	UsePlanner   bool
	ReportFile   string
	Logger       *zap.Logger
	Observer     Observer
}

// Session owns everything one analysis touches: its ledger, agents,
// executor and planner. Sessions share nothing, so concurrent analyses
// cannot see each other's memory.
type Session struct {
	id           string
	ledger       *ledger.Ledger
	catalog      *prompts.Catalog
	team         crew.Team
	executor     *crew.Executor
	planner      *planner.Planner
	maxRevisions int
	reportFile   string
	logger       *zap.Logger
	observer     Observer
}

// NewSession builds a session. Agents capture the ledger context once, here,
// and keep it for every revision.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("session: no prompt catalogue")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.MaxRevisions <= 0 {
		cfg.MaxRevisions = DefaultMaxRevisions
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	logger := cfg.Logger.With(zap.String("session", cfg.ID))

	l := ledger.New()
	caps := tools.Capabilities(tools.Deps{Records: cfg.Records, Docs: cfg.Docs, Ledger: l})
	team, err := crew.NewTeam(crew.TeamConfig{
		Catalog:      cfg.Catalog,
		Capabilities: caps,
		Snapshot:     l.Context(),
		ClientFor:    cfg.ClientFor,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:           cfg.ID,
		ledger:       l,
		catalog:      cfg.Catalog,
		team:         team,
		maxRevisions: cfg.MaxRevisions,
		reportFile:   cfg.ReportFile,
		logger:       logger,
		observer:     cfg.Observer,
	}
	var taskObserver crew.Observer
	if cfg.Observer != nil {
		taskObserver = cfg.Observer
	}
	s.executor = crew.NewExecutor(logger, taskObserver)
	if cfg.UsePlanner {
		s.planner = planner.New(team[crew.RolePlanner], cfg.Catalog, logger.Named("planner"))
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Ledger() *ledger.Ledger { return s.ledger }

// Approved reports whether critique accepts the report. Any occurrence of
// the token counts, including one inside a longer remark.
func Approved(critique string) bool {
	return strings.Contains(critique, ApprovalToken)
}

// Analyze runs the revision loop for question:
//
//	Drafting -> Reviewing -> Accepted
//	                      -> Retrying -> Drafting   (revision < max)
//	                      -> Exhausted              (revision == max)
//
// A failed pipeline ends the loop in StateFailed with an
// *AnalysisFailedError; the partial result carries the last complete
// report, if any.
func (s *Session) Analyze(ctx context.Context, question string) (Result, error) {
	var (
		revision     int
		lastReport   string
		lastCritique string
	)
	s.logger.Info("analysis started", zap.String("question", question), zap.Int("max_revisions", s.maxRevisions))

	for revision < s.maxRevisions {
		s.setState(revision, StateDrafting)

		tasks, err := s.buildTasks(ctx, question, revision, lastCritique)
		if err != nil {
			return s.fail(question, revision, lastReport, lastCritique, err)
		}

		run, err := s.executor.Run(ctx, tasks)
		if err != nil {
			return s.fail(question, revision, lastReport, lastCritique, err)
		}

		s.setState(revision, StateReviewing)
		report := run.Output(crew.KindReport)
		critique := run.Output(crew.KindCritique)
		lastReport = report

		if Approved(critique) {
			s.setState(revision, StateAccepted)
			s.logger.Info("report approved", zap.Int("revisions", revision+1))
			return Result{
				SessionID: s.id,
				Text:      report,
				Report:    report,
				Critique:  critique,
				Approved:  true,
				Revisions: revision + 1,
				State:     StateAccepted,
			}, nil
		}

		s.ledger.AddConversation(criticSpeaker, critique)
		lastCritique = critique
		revision++
		if revision < s.maxRevisions {
			s.setState(revision, StateRetrying)
			s.logger.Info("report rejected, revising", zap.Int("revision", revision+1))
		}
	}

	s.setState(revision, StateExhausted)
	s.logger.Warn("revision limit reached", zap.Int("revisions", revision))
	return Result{
		SessionID: s.id,
		Text:      exhaustedText(lastReport, lastCritique),
		Report:    lastReport,
		Critique:  lastCritique,
		Revisions: revision,
		State:     StateExhausted,
	}, nil
}

// buildTasks creates this iteration's tasks. From the second revision on,
// the report brief carries the previous critique.
func (s *Session) buildTasks(ctx context.Context, question string, revision int, lastCritique string) ([]crew.Task, error) {
	order := crew.CanonicalOrder()
	if s.planner != nil {
		order = s.planner.Plan(ctx, question, s.ledger.Context())
	}

	tasks, err := crew.BuildTasks(s.team, s.catalog, crew.BuildOptions{
		Question:   question,
		Order:      order,
		ReportFile: s.reportFile,
	})
	if err != nil {
		return nil, err
	}
	if revision == 0 {
		return tasks, nil
	}
	for i, t := range tasks {
		if t.Kind == crew.KindReport {
			tasks[i] = t.WithFeedback(lastCritique)
		}
	}
	return tasks, nil
}

func (s *Session) fail(question string, revision int, report, critique string, err error) (Result, error) {
	s.setState(revision, StateFailed)
	failure := newFailure(question, revision, err)
	s.logger.Error("analysis failed", zap.Error(failure))
	return Result{
		SessionID: s.id,
		Report:    report,
		Critique:  critique,
		Revisions: revision,
		State:     StateFailed,
	}, failure
}

func (s *Session) setState(revision int, state State) {
	s.logger.Debug("state", zap.Int("revision", revision+1), zap.Stringer("state", state))
	if s.observer != nil {
		s.observer.OnState(revision, state)
	}
}

func exhaustedText(report, critique string) string {
	var b strings.Builder
	b.WriteString(report)
	b.WriteString("\n\n")
	b.WriteString(ExhaustedNotice)
	b.WriteString("\n\n")
	b.WriteString(CriticConclusion)
	b.WriteString("\n")
	b.WriteString(critique)
	return b.String()
}
