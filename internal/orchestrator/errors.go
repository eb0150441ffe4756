package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ytnobody/riskcrew/internal/crew"
	"github.com/ytnobody/riskcrew/internal/llm"
)

// ErrNoTranscript is returned by Service.Transcript when
// analysis.transcript_path is empty.
var ErrNoTranscript = errors.New("transcript is disabled")

// AnalysisFailedError is returned by Analyze when a pipeline could not be
// completed. Task is empty when the failure happened outside a task.
type AnalysisFailedError struct {
	Question string
	Revision int
	Task     crew.Kind
	Err      error
}

func (e *AnalysisFailedError) Error() string {
	if e.Task == "" {
		return fmt.Sprintf("analysis failed in revision %d: %v", e.Revision+1, e.Err)
	}
	return fmt.Sprintf("analysis failed in revision %d at task %s: %v", e.Revision+1, e.Task, e.Err)
}

func (e *AnalysisFailedError) Unwrap() error {
	return e.Err
}

// UserMessage is the notice shown to end users instead of a report.
func (e *AnalysisFailedError) UserMessage() string {
	switch {
	case errors.Is(e.Err, context.Canceled):
		return "The analysis was cancelled before it finished."
	case errors.Is(e.Err, context.DeadlineExceeded):
		return "The analysis timed out. Try again later or raise llm.call_timeout_seconds."
	case llm.IsRateLimitError(e.Err):
		return "The language model is rate limited right now. Try again in a few minutes."
	}
	if e.Task != "" {
		cause := e.Err
		var taskErr *crew.TaskError
		if errors.As(cause, &taskErr) {
			cause = taskErr.Err
		}
		return fmt.Sprintf("The analysis could not be completed: the %s step failed (%v).", e.Task, cause)
	}
	return fmt.Sprintf("The analysis could not be completed: %v.", e.Err)
}

func newFailure(question string, revision int, err error) *AnalysisFailedError {
	f := &AnalysisFailedError{Question: question, Revision: revision, Err: err}
	var taskErr *crew.TaskError
	if errors.As(err, &taskErr) {
		f.Task = taskErr.Kind
	}
	return f
}
