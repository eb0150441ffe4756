package crew

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// TaskError reports the task whose agent failed. The run stops there.
type TaskError struct {
	Kind Kind
	Role string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s (%s) failed: %v", e.Kind, e.Role, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Observer is notified around every task. Implementations must not block.
type Observer interface {
	OnTaskStart(t Task)
	OnTaskDone(t Task, output string)
}

// Executor runs tasks one after another.
type Executor struct {
	logger   *zap.Logger
	observer Observer
}

func NewExecutor(logger *zap.Logger, observer Observer) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{logger: logger, observer: observer}
}

// Run executes tasks in order. Each task sees the outputs of its upstream
// kinds that already ran in this invocation. Cancellation is checked before
// every task; an agent failure aborts the run with a *TaskError.
func (e *Executor) Run(ctx context.Context, tasks []Task) (*Run, error) {
	run := &Run{Tasks: tasks, Outputs: make([]string, 0, len(tasks))}
	outputs := make(map[Kind]string, len(tasks))

	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return run, err
		}
		if t.Agent == nil || t.Agent.Client == nil {
			return run, &TaskError{Kind: t.Kind, Err: fmt.Errorf("no agent bound")}
		}

		if e.observer != nil {
			e.observer.OnTaskStart(t)
		}
		start := time.Now()
		e.logger.Info("task started", zap.String("task", string(t.Kind)), zap.String("agent", t.Agent.Role))

		out, err := t.Agent.Client.Invoke(ctx, BuildRequest(t, outputs))
		if err != nil {
			e.logger.Warn("task failed", zap.String("task", string(t.Kind)), zap.Error(err))
			return run, &TaskError{Kind: t.Kind, Role: t.Agent.Role, Err: err}
		}

		outputs[t.Kind] = out
		run.Outputs = append(run.Outputs, out)
		e.logger.Info("task finished",
			zap.String("task", string(t.Kind)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("output_bytes", len(out)))

		if t.OutputFile != "" {
			if err := writeOutput(t.OutputFile, out); err != nil {
				e.logger.Warn("write task output", zap.String("path", t.OutputFile), zap.Error(err))
			}
		}
		if e.observer != nil {
			e.observer.OnTaskDone(t, out)
		}
	}
	return run, nil
}

func writeOutput(path, text string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(text), 0644)
}
