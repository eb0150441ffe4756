package crew

import (
	"fmt"

	"github.com/ytnobody/riskcrew/prompts"
)

// FeedbackHeader introduces the previous critique in a revised report brief.
const FeedbackHeader = "REVISION REMARKS FROM THE CRITIC:"

// Task is one unit of work bound to a single agent. Tasks are values: a
// revision builds new ones instead of editing old ones.
type Task struct {
	Kind           Kind
	Description    string
	Agent          *Agent
	ExpectedOutput string
	Upstream       []Kind
	OutputFile     string
}

// WithFeedback returns a copy of t whose description ends with the critique
// block.
func (t Task) WithFeedback(critique string) Task {
	t.Description = t.Description + "\n\n" + FeedbackHeader + "\n" + critique
	t.Upstream = append([]Kind(nil), t.Upstream...)
	return t
}

// BuildOptions configures BuildTasks.
type BuildOptions struct {
	Question string
	Order    []Kind
	// ReportFile receives the report task's output. Empty disables it.
	ReportFile string
}

// BuildTasks creates fresh tasks for the given order, or the canonical
// order when none is given.
func BuildTasks(team Team, cat *prompts.Catalog, opts BuildOptions) ([]Task, error) {
	order := opts.Order
	if len(order) == 0 {
		order = CanonicalOrder()
	}

	tasks := make([]Task, 0, len(order))
	for _, kind := range order {
		agent, ok := team[kind.Role()]
		if !ok {
			return nil, fmt.Errorf("no agent for task %s", kind)
		}
		brief, err := cat.Brief(string(kind), prompts.Vars{Question: opts.Question})
		if err != nil {
			return nil, err
		}
		t := Task{
			Kind:           kind,
			Description:    brief.Description,
			Agent:          agent,
			ExpectedOutput: brief.ExpectedOutput,
			Upstream:       kind.Upstream(),
		}
		if kind == KindReport {
			t.OutputFile = opts.ReportFile
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Run is the result of one pipeline execution. Outputs[i] belongs to
// Tasks[i].
type Run struct {
	Tasks   []Task
	Outputs []string
}

// Output returns the output of the task of kind k, or "" when the pipeline
// did not include it.
func (r *Run) Output(k Kind) string {
	if r == nil {
		return ""
	}
	for i, t := range r.Tasks {
		if t.Kind == k && i < len(r.Outputs) {
			return r.Outputs[i]
		}
	}
	return ""
}
