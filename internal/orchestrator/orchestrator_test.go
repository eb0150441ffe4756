package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ytnobody/riskcrew/internal/chatlog"
	"github.com/ytnobody/riskcrew/internal/config"
	"github.com/ytnobody/riskcrew/internal/crew"
	"github.com/ytnobody/riskcrew/internal/ledger"
	"github.com/ytnobody/riskcrew/internal/llm"
	"github.com/ytnobody/riskcrew/internal/llm/llmtest"
	"github.com/ytnobody/riskcrew/prompts"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// started by go.opencensus.io's init, pulled in through genai
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// crewClients returns one fake per role. Roles without an override answer
// "<role> output".
func crewClients(overrides map[crew.Role]*llmtest.Fake) map[crew.Role]*llmtest.Fake {
	out := make(map[crew.Role]*llmtest.Fake)
	for _, r := range crew.Roles() {
		if f, ok := overrides[r]; ok {
			out[r] = f
			continue
		}
		out[r] = llmtest.Reply(string(r) + " output")
	}
	return out
}

func clientFor(fakes map[crew.Role]*llmtest.Fake) func(crew.Role) (llm.Client, error) {
	return func(r crew.Role) (llm.Client, error) {
		return fakes[r], nil
	}
}

func newTestSession(t *testing.T, fakes map[crew.Role]*llmtest.Fake, maxRevisions int, usePlanner bool) *Session {
	t.Helper()
	cat, err := prompts.Default()
	require.NoError(t, err)
	s, err := NewSession(SessionConfig{
		Catalog:      cat,
		ClientFor:    clientFor(fakes),
		MaxRevisions: maxRevisions,
		UsePlanner:   usePlanner,
	})
	require.NoError(t, err)
	return s
}

func TestAnalyzeEarlyAccept(t *testing.T) {
	fakes := crewClients(map[crew.Role]*llmtest.Fake{
		crew.RoleReportBuilder: llmtest.Reply("# Incident report\nBranch 3: hidden fees."),
		crew.RoleCritic:        llmtest.Reply("Looks complete. APPROVED, no changes needed."),
	})
	s := newTestSession(t, fakes, 2, false)

	res, err := s.Analyze(context.Background(), "Find operational-risk incidents")
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, res.State)
	assert.True(t, res.Approved)
	assert.Equal(t, 1, res.Revisions)
	assert.Equal(t, "# Incident report\nBranch 3: hidden fees.", res.Text)
	assert.NotContains(t, res.Text, ExhaustedNotice)
	assert.Equal(t, 1, fakes[crew.RoleReportBuilder].Calls())
	assert.Empty(t, s.Ledger().Conversation())
}

func TestAnalyzeExhausted(t *testing.T) {
	fakes := crewClients(map[crew.Role]*llmtest.Fake{
		crew.RoleReportBuilder: llmtest.Queue("report v1", "report v2"),
		crew.RoleCritic:        llmtest.Queue("Add a tone table", "Still no tone table"),
	})
	s := newTestSession(t, fakes, 2, false)

	res, err := s.Analyze(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, res.State)
	assert.False(t, res.Approved)
	assert.Equal(t, 2, res.Revisions)
	assert.Equal(t, 2, fakes[crew.RoleSeniorAnalyst].Calls())
	assert.Equal(t, 2, fakes[crew.RoleReportBuilder].Calls())
	assert.Equal(t, 2, fakes[crew.RoleCritic].Calls())

	assert.Equal(t, "report v2\n\n"+ExhaustedNotice+"\n\n"+CriticConclusion+"\nStill no tone table", res.Text)
	assert.Equal(t, "report v2", res.Report)
	assert.Equal(t, "Still no tone table", res.Critique)
}

func TestAnalyzeTwoIterationScenario(t *testing.T) {
	fakes := crewClients(map[crew.Role]*llmtest.Fake{
		crew.RoleReportBuilder: llmtest.Queue("report iteration 1", "report iteration 2"),
		crew.RoleCritic:        llmtest.Queue("Missing rating breakdown", "APPROVED"),
	})
	s := newTestSession(t, fakes, 2, false)

	res, err := s.Analyze(context.Background(), "Find operational-risk incidents")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Revisions)
	assert.Equal(t, 2, fakes[crew.RoleCritic].Calls())
	assert.Equal(t, "report iteration 2", res.Text)
	assert.Equal(t, []ledger.Entry{{Speaker: "Critic", Message: "Missing rating breakdown"}}, s.Ledger().Conversation())

	reqs := fakes[crew.RoleReportBuilder].Requests()
	require.Len(t, reqs, 2)
	first, second := llmtest.Prompt(reqs[0]), llmtest.Prompt(reqs[1])
	assert.NotContains(t, first, crew.FeedbackHeader)
	assert.Contains(t, second, crew.FeedbackHeader+"\nMissing rating breakdown")
}

func TestAnalyzeFeedbackOnlyOnReportTask(t *testing.T) {
	fakes := crewClients(map[crew.Role]*llmtest.Fake{
		crew.RoleCritic: llmtest.Queue("Fix the tables", "APPROVED"),
	})
	s := newTestSession(t, fakes, 3, false)

	_, err := s.Analyze(context.Background(), "q")
	require.NoError(t, err)

	for _, role := range []crew.Role{crew.RoleSeniorAnalyst, crew.RoleRiskAssistant, crew.RoleInsightAgent, crew.RoleCritic} {
		for _, req := range fakes[role].Requests() {
			assert.NotContains(t, llmtest.Prompt(req), crew.FeedbackHeader, "role %s", role)
		}
	}
}

func TestAnalyzeSnapshotCapturedOnce(t *testing.T) {
	fakes := crewClients(map[crew.Role]*llmtest.Fake{
		crew.RoleCritic: llmtest.Queue("Missing rating breakdown", "APPROVED"),
	})
	s := newTestSession(t, fakes, 2, false)

	_, err := s.Analyze(context.Background(), "q")
	require.NoError(t, err)

	reqs := fakes[crew.RoleReportBuilder].Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0].Messages[0].Content, reqs[1].Messages[0].Content,
		"agent personas and memory snapshot must not change between revisions")
	assert.NotContains(t, reqs[1].Messages[0].Content, "Critic: Missing rating breakdown")
}

func TestAnalyzeUpstreamReachesReport(t *testing.T) {
	fakes := crewClients(map[crew.Role]*llmtest.Fake{
		crew.RoleSeniorAnalyst: llmtest.Reply("AVERAGE RATING TABLE 4.2"),
		crew.RoleRiskAssistant: llmtest.Reply("RISK: IMPOSED INSURANCE"),
		crew.RoleCritic:        llmtest.Reply("APPROVED"),
	})
	s := newTestSession(t, fakes, 2, false)

	_, err := s.Analyze(context.Background(), "q")
	require.NoError(t, err)

	prompt := llmtest.Prompt(fakes[crew.RoleReportBuilder].Requests()[0])
	assert.Contains(t, prompt, "AVERAGE RATING TABLE 4.2")
	assert.Contains(t, prompt, "RISK: IMPOSED INSURANCE")
}

func TestAnalyzeFailureEscalates(t *testing.T) {
	boom := errors.New("llm call failed after 3 retries: openai API error")
	fakes := crewClients(map[crew.Role]*llmtest.Fake{
		crew.RoleRiskAssistant: llmtest.Fail(boom),
	})
	s := newTestSession(t, fakes, 2, false)

	res, err := s.Analyze(context.Background(), "Find operational-risk incidents")
	var failed *AnalysisFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, crew.KindRiskAnalysis, failed.Task)
	assert.Equal(t, 0, failed.Revision)
	assert.Equal(t, "Find operational-risk incidents", failed.Question)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, res.State)
	assert.Zero(t, fakes[crew.RoleCritic].Calls(), "no critique after a failed task")
	assert.Contains(t, failed.UserMessage(), "risk_analysis")
}

func TestAnalyzeFailureInSecondRevisionKeepsLastReport(t *testing.T) {
	var calls atomic.Int32
	report := &llmtest.Fake{Handler: func(_ context.Context, n int, _ llm.Request) (string, error) {
		calls.Add(1)
		if n == 0 {
			return "first report", nil
		}
		return "", errors.New("upstream unavailable")
	}}
	fakes := crewClients(map[crew.Role]*llmtest.Fake{
		crew.RoleReportBuilder: report,
		crew.RoleCritic:        llmtest.Reply("needs work"),
	})
	s := newTestSession(t, fakes, 3, false)

	res, err := s.Analyze(context.Background(), "q")
	var failed *AnalysisFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 1, failed.Revision)
	assert.Equal(t, crew.KindReport, failed.Task)
	assert.Equal(t, "first report", res.Report)
	assert.Equal(t, "needs work", res.Critique)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAnalyzeCancelledBetweenTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fakes := crewClients(map[crew.Role]*llmtest.Fake{
		crew.RoleRiskAssistant: {Handler: func(context.Context, int, llm.Request) (string, error) {
			cancel()
			return "risks", nil
		}},
	})
	s := newTestSession(t, fakes, 2, false)

	_, err := s.Analyze(ctx, "q")
	var failed *AnalysisFailedError
	require.ErrorAs(t, err, &failed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fakes[crew.RoleInsightAgent].Calls())
	assert.Equal(t, "The analysis was cancelled before it finished.", failed.UserMessage())
}

func TestAnalyzeWithPlanner(t *testing.T) {
	fakes := crewClients(map[crew.Role]*llmtest.Fake{
		crew.RolePlanner: llmtest.Reply(`{"tasks": ["risk_analysis", "report", "critique"]}`),
		crew.RoleCritic:  llmtest.Reply("APPROVED"),
	})
	s := newTestSession(t, fakes, 2, true)

	res, err := s.Analyze(context.Background(), "q")
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Zero(t, fakes[crew.RoleSeniorAnalyst].Calls())
	assert.Zero(t, fakes[crew.RoleInsightAgent].Calls())
	assert.Equal(t, 1, fakes[crew.RolePlanner].Calls())

	prompt := llmtest.Prompt(fakes[crew.RoleReportBuilder].Requests()[0])
	assert.Contains(t, prompt, "### Context from risk_analysis")
	assert.NotContains(t, prompt, "### Context from data_analysis")
}

func TestAnalyzePlannerFallback(t *testing.T) {
	fakes := crewClients(map[crew.Role]*llmtest.Fake{
		crew.RolePlanner: llmtest.Reply("not json"),
		crew.RoleCritic:  llmtest.Reply("APPROVED"),
	})
	s := newTestSession(t, fakes, 2, true)

	_, err := s.Analyze(context.Background(), "q")
	require.NoError(t, err)
	for _, r := range []crew.Role{crew.RoleSeniorAnalyst, crew.RoleRiskAssistant, crew.RoleInsightAgent, crew.RoleReportBuilder, crew.RoleCritic} {
		assert.Equal(t, 1, fakes[r].Calls(), "role %s", r)
	}
}

func TestAnalyzePlannerWithoutCritiqueExhausts(t *testing.T) {
	fakes := crewClients(map[crew.Role]*llmtest.Fake{
		crew.RolePlanner:       llmtest.Reply(`{"tasks": ["report"]}`),
		crew.RoleReportBuilder: llmtest.Reply("lonely report"),
	})
	s := newTestSession(t, fakes, 2, true)

	res, err := s.Analyze(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, res.State)
	assert.Equal(t, 2, res.Revisions)
	assert.True(t, strings.HasPrefix(res.Text, "lonely report"))
	assert.Zero(t, fakes[crew.RoleCritic].Calls())
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) OnTaskStart(crew.Task)        {}
func (r *stateRecorder) OnTaskDone(crew.Task, string) {}
func (r *stateRecorder) OnState(_ int, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func TestAnalyzeStateSequence(t *testing.T) {
	cat, err := prompts.Default()
	require.NoError(t, err)
	rec := &stateRecorder{}
	fakes := crewClients(map[crew.Role]*llmtest.Fake{
		crew.RoleCritic: llmtest.Queue("no", "APPROVED"),
	})
	s, err := NewSession(SessionConfig{Catalog: cat, ClientFor: clientFor(fakes), MaxRevisions: 2, Observer: rec})
	require.NoError(t, err)

	_, err = s.Analyze(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []State{
		StateDrafting, StateReviewing, StateRetrying,
		StateDrafting, StateReviewing, StateAccepted,
	}, rec.states)
}

func TestApproved(t *testing.T) {
	tests := []struct {
		critique string
		want     bool
	}{
		{"APPROVED", true},
		{"The report is APPROVED.", true},
		{"NOT APPROVED: add tables", true}, // substring gate accepts any occurrence
		{"approved", false},
		{"", false},
		{"Missing rating breakdown", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Approved(tt.critique), "Approved(%q)", tt.critique)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "exhausted", StateExhausted.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func newTestService(t *testing.T, fakes map[crew.Role]*llmtest.Fake, analysis config.AnalysisConfig) *Service {
	t.Helper()
	cat, err := prompts.Default()
	require.NoError(t, err)
	svc, err := New(Options{Analysis: analysis, Catalog: cat, ClientFor: clientFor(fakes)})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestEndpointForMixedBackends(t *testing.T) {
	t.Setenv("RISKCREW_TEST_KEY", "or-key")
	cfg := config.LLMConfig{
		Model:     "qwen/qwen3-14b",
		BaseURL:   "https://openrouter.ai/api/v1",
		APIKeyEnv: "RISKCREW_TEST_KEY",
	}

	tests := []struct {
		model       string
		wantBaseURL string
		wantKey     string
	}{
		{model: "qwen/qwen3-14b", wantBaseURL: "https://openrouter.ai/api/v1", wantKey: "or-key"},
		{model: "meta-llama/llama-3.3-70b-instruct", wantBaseURL: "https://openrouter.ai/api/v1", wantKey: "or-key"},
		{model: "anthropic/claude-sonnet-4-5"},
		{model: "gemini-2.5-flash"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			baseURL, key := endpointFor(cfg, tt.model)
			assert.Equal(t, tt.wantBaseURL, baseURL)
			assert.Equal(t, tt.wantKey, key)
		})
	}

	gemini := config.LLMConfig{Model: "gemini-2.5-flash", APIKeyEnv: "RISKCREW_TEST_KEY"}
	_, key := endpointFor(gemini, "gemini-2.5-pro")
	assert.Equal(t, "or-key", key)
	_, key = endpointFor(gemini, "qwen/qwen3-14b")
	assert.Empty(t, key)
}

func TestNewClientsPerModel(t *testing.T) {
	cfg := config.LLMConfig{
		Model:         "qwen/qwen3-14b",
		BaseURL:       "http://127.0.0.1:1/v1",
		MaxToolRounds: 1,
		Models:        config.ModelConfig{Critic: "anthropic/claude-sonnet-4-5"},
	}
	clients, err := newClients(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Len(t, clients, len(crew.Roles()))

	assert.Same(t, clients[crew.RoleSeniorAnalyst], clients[crew.RoleReportBuilder])
	assert.NotSame(t, clients[crew.RoleSeniorAnalyst], clients[crew.RoleCritic])
}

func TestServiceAnalyze(t *testing.T) {
	fakes := crewClients(map[crew.Role]*llmtest.Fake{crew.RoleCritic: llmtest.Reply("APPROVED")})
	svc := newTestService(t, fakes, config.AnalysisConfig{MaxRevisions: 2})

	res, err := svc.Analyze(context.Background(), Request{Question: "q"})
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.NotEmpty(t, res.SessionID)
}

func TestServiceEmptyQuestion(t *testing.T) {
	svc := newTestService(t, crewClients(nil), config.AnalysisConfig{})
	_, err := svc.Analyze(context.Background(), Request{Question: "   "})
	var failed *AnalysisFailedError
	assert.ErrorAs(t, err, &failed)
}

func TestServiceRequestOverridesMaxRevisions(t *testing.T) {
	fakes := crewClients(nil)
	svc := newTestService(t, fakes, config.AnalysisConfig{MaxRevisions: 2})

	res, err := svc.Analyze(context.Background(), Request{Question: "q", MaxRevisions: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Revisions)
	assert.Equal(t, 3, fakes[crew.RoleCritic].Calls())
}

func TestServiceSessionsAreIsolated(t *testing.T) {
	fakes := crewClients(map[crew.Role]*llmtest.Fake{
		crew.RoleCritic: {Handler: func(_ context.Context, _ int, req llm.Request) (string, error) {
			return "remark for " + questionOf(req), nil
		}},
	})
	svc := newTestService(t, fakes, config.AnalysisConfig{MaxRevisions: 1, MaxConcurrent: 2})

	a, err := svc.NewSession(Request{Question: "alpha"})
	require.NoError(t, err)
	b, err := svc.NewSession(Request{Question: "beta"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	var wg sync.WaitGroup
	for _, pair := range []struct {
		s *Session
		q string
	}{{a, "alpha"}, {b, "beta"}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pair.s.Analyze(context.Background(), pair.q)
		}()
	}
	wg.Wait()

	require.Len(t, a.Ledger().Conversation(), 1)
	require.Len(t, b.Ledger().Conversation(), 1)
	assert.Contains(t, a.Ledger().Conversation()[0].Message, "alpha")
	assert.Contains(t, b.Ledger().Conversation()[0].Message, "beta")
}

// questionOf finds which test question a critique prompt is about.
func questionOf(req llm.Request) string {
	p := llmtest.Prompt(req)
	for _, q := range []string{"alpha", "beta"} {
		if strings.Contains(p, q) {
			return q
		}
	}
	return "unknown"
}

func TestServiceBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := &llmtest.Fake{Handler: func(context.Context, int, llm.Request) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return "data", nil
	}}
	fakes := crewClients(map[crew.Role]*llmtest.Fake{
		crew.RoleSeniorAnalyst: slow,
		crew.RoleCritic:        llmtest.Reply("APPROVED"),
	})
	svc := newTestService(t, fakes, config.AnalysisConfig{MaxRevisions: 1, MaxConcurrent: 2})

	reqs := make([]Request, 6)
	for i := range reqs {
		reqs[i] = Request{Question: "q"}
	}
	outcomes := svc.Batch(context.Background(), reqs)
	for _, o := range outcomes {
		require.NoError(t, o.Err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 6, slow.Calls())
}

func TestServiceBatchKeepsGoingAfterFailure(t *testing.T) {
	fakes := crewClients(map[crew.Role]*llmtest.Fake{
		crew.RoleCritic: {Handler: func(_ context.Context, _ int, req llm.Request) (string, error) {
			if strings.Contains(llmtest.Prompt(req), "broken question") {
				return "", errors.New("model unavailable")
			}
			return "APPROVED", nil
		}},
	})
	svc := newTestService(t, fakes, config.AnalysisConfig{MaxRevisions: 2, MaxConcurrent: 2})

	outcomes := svc.Batch(context.Background(), []Request{
		{Question: "first question"},
		{Question: "broken question"},
		{Question: "third question"},
	})
	require.Len(t, outcomes, 3)
	assert.Equal(t, "first question", outcomes[0].Question)
	assert.NoError(t, outcomes[0].Err)
	assert.True(t, outcomes[0].Result.Approved)

	var failed *AnalysisFailedError
	require.ErrorAs(t, outcomes[1].Err, &failed)
	assert.Equal(t, crew.KindCritique, failed.Task)

	assert.NoError(t, outcomes[2].Err)
	assert.True(t, outcomes[2].Result.Approved)
}

func TestServiceTranscript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.log")
	fakes := crewClients(map[crew.Role]*llmtest.Fake{
		crew.RoleCritic: llmtest.Queue("Missing rating breakdown", "APPROVED"),
	})
	svc := newTestService(t, fakes, config.AnalysisConfig{MaxRevisions: 2, TranscriptPath: path})

	res, err := svc.Analyze(context.Background(), Request{Question: "q"})
	require.NoError(t, err)

	assert.Equal(t, path, svc.TranscriptPath())
	msgs, err := svc.Transcript(res.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)

	var sawMemory, sawAccepted, sawReport bool
	for _, m := range msgs {
		switch {
		case m.Speaker == "Critic" && m.Body == "(memory) Missing rating breakdown":
			sawMemory = true
		case m.Speaker == controllerSpeaker && strings.HasSuffix(m.Body, "accepted"):
			sawAccepted = true
		case m.Speaker == "Report Builder" && m.Body == "report_builder output":
			sawReport = true
		}
	}
	assert.True(t, sawMemory, "critic remark should be mirrored")
	assert.True(t, sawAccepted, "final state should be mirrored")
	assert.True(t, sawReport, "task output should be mirrored")
}

func TestServiceSessionIDFromRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.log")
	fakes := crewClients(map[crew.Role]*llmtest.Fake{crew.RoleCritic: llmtest.Reply("APPROVED")})
	svc := newTestService(t, fakes, config.AnalysisConfig{TranscriptPath: path})

	res, err := svc.Analyze(context.Background(), Request{Question: "q", SessionID: "cli-1"})
	require.NoError(t, err)
	assert.Equal(t, "cli-1", res.SessionID)

	msgs, err := chatlog.New(path).Poll("cli-1")
	require.NoError(t, err)
	assert.NotEmpty(t, msgs)
}

func TestServiceTranscriptDisabled(t *testing.T) {
	svc := newTestService(t, crewClients(nil), config.AnalysisConfig{})
	assert.Empty(t, svc.TranscriptPath())
	_, err := svc.Transcript("any")
	assert.ErrorIs(t, err, ErrNoTranscript)
}

func TestServiceTranscriptTruncatedOnStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.log")
	log := chatlog.New(path)
	for i := 0; i < 10; i++ {
		require.NoError(t, log.Append("old", "controller", "line"))
	}

	newTestService(t, crewClients(nil), config.AnalysisConfig{TranscriptPath: path, TranscriptMaxLines: 4})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(string(data), "\n"))
}

func TestServiceWritesReportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report_output.md")
	fakes := crewClients(map[crew.Role]*llmtest.Fake{
		crew.RoleReportBuilder: llmtest.Reply("# Final"),
		crew.RoleCritic:        llmtest.Reply("APPROVED"),
	})
	svc := newTestService(t, fakes, config.AnalysisConfig{ReportFile: path})

	_, err := svc.Analyze(context.Background(), Request{Question: "q"})
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Final", string(data))
}

func TestBatchReportFile(t *testing.T) {
	assert.Equal(t, "report_output-3.md", BatchReportFile("report_output.md", 3))
	assert.Equal(t, "out/report-1", BatchReportFile("out/report", 1))
	assert.Equal(t, "", BatchReportFile("", 2))
}

func TestNewRequiresCatalogAndClients(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	cat, err := prompts.Default()
	require.NoError(t, err)
	_, err = New(Options{Catalog: cat})
	assert.Error(t, err)
}

func TestOpenRecordsJSON(t *testing.T) {
	store, closeFn, err := OpenRecords(config.RecordsConfig{Driver: config.DriverJSON, BranchesPath: "b.json", ReviewsPath: "r.json"})
	require.NoError(t, err)
	assert.NotNil(t, store)
	assert.NoError(t, closeFn())
}

func TestOpenRecordsSQLite(t *testing.T) {
	store, closeFn, err := OpenRecords(config.RecordsConfig{Driver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "records.db")})
	require.NoError(t, err)
	branches, err := store.Branches(context.Background())
	require.NoError(t, err)
	assert.Empty(t, branches)
	assert.NoError(t, closeFn())
}

func TestAnalysisFailedErrorMessages(t *testing.T) {
	err := &AnalysisFailedError{Question: "q", Revision: 1, Task: crew.KindReport, Err: errors.New("boom")}
	assert.Equal(t, "analysis failed in revision 2 at task report: boom", err.Error())

	rl := &AnalysisFailedError{Err: &llm.RateLimitError{Wrapped: errors.New("429")}}
	assert.Contains(t, rl.UserMessage(), "rate limited")

	timeout := &AnalysisFailedError{Err: context.DeadlineExceeded}
	assert.Contains(t, timeout.UserMessage(), "timed out")
	assert.Equal(t, "analysis failed in revision 1: context deadline exceeded", timeout.Error())
}
