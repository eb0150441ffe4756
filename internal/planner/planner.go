// Package planner asks a model which pipeline steps to run for a question.
// Whatever the model answers, Plan returns a valid order: invalid answers
// fall back to the canonical pipeline.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/ytnobody/riskcrew/internal/crew"
	"github.com/ytnobody/riskcrew/prompts"
)

const planSchema = `{
  "type": "object",
  "required": ["tasks"],
  "properties": {
    "tasks": {
      "type": "array",
      "minItems": 1,
      "uniqueItems": true,
      "items": {"enum": ["data_analysis", "risk_analysis", "insights", "report", "critique"]}
    }
  }
}`

var schema = gojsonschema.NewStringLoader(planSchema)

type Planner struct {
	agent   *crew.Agent
	catalog *prompts.Catalog
	logger  *zap.Logger
}

func New(agent *crew.Agent, catalog *prompts.Catalog, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{agent: agent, catalog: catalog, logger: logger}
}

// Plan returns an ordered subset of the canonical kinds. It never fails.
func (p *Planner) Plan(ctx context.Context, question, memory string) []crew.Kind {
	if p == nil || p.agent == nil || p.agent.Client == nil || p.catalog == nil {
		return crew.CanonicalOrder()
	}

	names := make([]string, 0, len(crew.CanonicalOrder()))
	for _, k := range crew.CanonicalOrder() {
		names = append(names, string(k))
	}
	brief, err := p.catalog.Brief("plan", prompts.Vars{
		Question: question,
		Context:  memory,
		Tasks:    strings.Join(names, ", "),
	})
	if err != nil {
		p.logger.Warn("planner brief unavailable, using canonical order", zap.Error(err))
		return crew.CanonicalOrder()
	}

	task := crew.Task{Description: brief.Description, ExpectedOutput: brief.ExpectedOutput, Agent: p.agent}
	raw, err := p.agent.Client.Invoke(ctx, crew.BuildRequest(task, nil))
	if err != nil {
		p.logger.Warn("planner call failed, using canonical order", zap.Error(err))
		return crew.CanonicalOrder()
	}

	kinds, err := Parse(raw)
	if err != nil {
		p.logger.Warn("invalid plan, using canonical order", zap.Error(err), zap.String("raw", raw))
		return crew.CanonicalOrder()
	}
	p.logger.Info("plan accepted", zap.Strings("tasks", kindNames(kinds)))
	return kinds
}

// Parse validates raw model output against the plan schema. A single
// surrounding Markdown code fence is tolerated.
func Parse(raw string) ([]crew.Kind, error) {
	body := stripFence(raw)

	result, err := gojsonschema.Validate(schema, gojsonschema.NewStringLoader(body))
	if err != nil {
		return nil, err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("plan does not match schema: %s", strings.Join(msgs, "; "))
	}

	var plan struct {
		Tasks []string `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(body), &plan); err != nil {
		return nil, err
	}
	kinds := make([]crew.Kind, 0, len(plan.Tasks))
	for _, name := range plan.Tasks {
		k, err := crew.ParseKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func kindNames(kinds []crew.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
