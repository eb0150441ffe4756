package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ytnobody/riskcrew/internal/chatlog"
	"github.com/ytnobody/riskcrew/internal/orchestrator"
	"github.com/ytnobody/riskcrew/internal/report"
)

const (
	defaultQuestion       = "Analyse the client comments and find operational-risk incidents in the branches"
	defaultTranscriptPath = ".riskcrew/transcript.log"
	renderWidth           = 100
)

type analyzeFlags struct {
	maxRevisions int
	planner      bool
	follow       bool
	render       bool
	out          string
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze [question]",
		Short: "Run one analysis and print the report",
		Long: `Run one analysis and print the report. Without a question the crew looks
for operational-risk incidents across all branches.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := defaultQuestion
			if len(args) == 1 {
				question = args[0]
			}
			return a.runAnalyze(cmd.Context(), question, f)
		},
	}
	cmd.Flags().IntVar(&f.maxRevisions, "max-revisions", 0, "maximum report revisions (default from config)")
	cmd.Flags().BoolVar(&f.planner, "planner", false, "let the planner agent choose the pipeline")
	cmd.Flags().BoolVar(&f.follow, "follow", false, "stream the agents' transcript while the analysis runs")
	cmd.Flags().BoolVar(&f.render, "render", false, "render the Markdown report for the terminal")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "also write the final text to this file")
	return cmd
}

func (a *app) runAnalyze(parent context.Context, question string, f analyzeFlags) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signalContext(parent)
	defer cancel()

	if f.planner {
		a.cfg.Analysis.UsePlanner = true
	}
	if f.follow && a.cfg.Analysis.TranscriptPath == "" {
		a.cfg.Analysis.TranscriptPath = defaultTranscriptPath
	}

	svc, err := a.newService(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	req := orchestrator.Request{Question: question, MaxRevisions: f.maxRevisions}
	stopFollow := func() {}
	if f.follow && svc.TranscriptPath() != "" {
		req.SessionID = uuid.NewString()
		followCtx, cancelFollow := context.WithCancel(ctx)
		// Watch takes its offset before the session writes its first line.
		msgs := chatlog.New(svc.TranscriptPath()).Watch(followCtx, req.SessionID)
		done := make(chan struct{})
		go func() {
			defer close(done)
			displayChatLog(a.stderr, msgs)
		}()
		stopFollow = func() {
			cancelFollow()
			<-done
		}
	}

	res, err := svc.Analyze(ctx, req)
	stopFollow()
	if err != nil {
		return a.analysisError(err)
	}

	text := res.Text
	if f.render {
		if rendered, err := report.Render(text, "", renderWidth); err != nil {
			a.logger.Warn("render report", zap.Error(err))
		} else {
			text = rendered
		}
	}
	fmt.Fprintln(a.stdout, text)
	fmt.Fprintln(a.stderr, statusLine(res))

	if f.out != "" {
		if err := report.Save(f.out, res.Text); err != nil {
			return err
		}
		fmt.Fprintf(a.stderr, "Report written to %s\n", f.out)
	}
	return nil
}

// analysisError turns a failed analysis into the notice shown to the user.
// Details go to the log.
func (a *app) analysisError(err error) error {
	var failed *orchestrator.AnalysisFailedError
	if errors.As(err, &failed) {
		a.logger.Error("analysis failed", zap.Error(err))
		return errors.New(failed.UserMessage())
	}
	return err
}

func newBatchCmd(a *app) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Analyse every question in a file, one per line",
		Long: `Analyse every question in a file, one per line. Blank lines and lines
starting with # are ignored. Sessions run concurrently up to
analysis.max_concurrent; each question gets its own report file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBatch(cmd.Context(), args[0], outDir)
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", "reports", "directory for the final report of each question")
	return cmd
}

func (a *app) runBatch(parent context.Context, file, outDir string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signalContext(parent)
	defer cancel()

	questions, err := readQuestions(file)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return fmt.Errorf("no questions in %s", file)
	}

	svc, err := a.newService(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	reqs := make([]orchestrator.Request, len(questions))
	for i, q := range questions {
		reqs[i] = orchestrator.Request{
			Question:   q,
			ReportFile: orchestrator.BatchReportFile(a.cfg.Analysis.ReportFile, i+1),
		}
	}

	failed := 0
	for i, o := range svc.Batch(ctx, reqs) {
		if o.Err != nil {
			failed++
			fmt.Fprintf(a.stdout, "%d. %s\n   %s\n", i+1, o.Question, failedStyle.Render(a.analysisError(o.Err).Error()))
			continue
		}
		path := filepath.Join(outDir, fmt.Sprintf("report-%d.md", i+1))
		if err := report.Save(path, o.Result.Text); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "%d. %s\n   %s -> %s\n", i+1, o.Question, statusLine(o.Result), path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d analyses failed", failed, len(questions))
	}
	return nil
}

// readQuestions reads one question per line, skipping blanks and # comments.
func readQuestions(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open questions: %w", err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	return out, nil
}
