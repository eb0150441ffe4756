package crew

import (
	"fmt"
	"strings"

	"github.com/ytnobody/riskcrew/internal/tools"
)

// Role identifies an agent. The value doubles as the persona key in
// prompts/agents.yaml and the per-role model key in the config.
type Role string

const (
	RoleSeniorAnalyst Role = "senior_analyst"
	RoleRiskAssistant Role = "risk_assistant"
	RoleInsightAgent  Role = "insight_agent"
	RoleReportBuilder Role = "report_builder"
	RoleCritic        Role = "critic"
	RolePlanner       Role = "planner"
)

// Roles lists every agent role in construction order.
func Roles() []Role {
	return []Role{RoleSeniorAnalyst, RoleRiskAssistant, RoleInsightAgent, RoleReportBuilder, RoleCritic, RolePlanner}
}

// AllowedTools defines the capability subset per role. Roles not listed get
// no tools.
var AllowedTools = map[Role][]string{
	RoleSeniorAnalyst: {tools.GetComments, tools.GetCompanies, tools.FindBranch, tools.BranchRatingSummary},
	RoleRiskAssistant: {tools.GetComments, tools.GetCompanies, tools.GetRiskMethodology, tools.GetWrongPractices, tools.FindBranch},
	RoleInsightAgent:  {tools.GetComments, tools.SaveInsight},
	RoleReportBuilder: {tools.SaveInsight},
}

// ToolsFor returns the part of all that role may call.
func ToolsFor(role Role, all tools.Set) tools.Set {
	names, ok := AllowedTools[role]
	if !ok {
		return nil
	}
	return all.Subset(names...)
}

// Kind is one of the canonical pipeline steps.
type Kind string

const (
	KindDataAnalysis Kind = "data_analysis"
	KindRiskAnalysis Kind = "risk_analysis"
	KindInsights     Kind = "insights"
	KindReport       Kind = "report"
	KindCritique     Kind = "critique"
)

// CanonicalOrder returns the full pipeline in its fixed order.
func CanonicalOrder() []Kind {
	return []Kind{KindDataAnalysis, KindRiskAnalysis, KindInsights, KindReport, KindCritique}
}

var kindRoles = map[Kind]Role{
	KindDataAnalysis: RoleSeniorAnalyst,
	KindRiskAnalysis: RoleRiskAssistant,
	KindInsights:     RoleInsightAgent,
	KindReport:       RoleReportBuilder,
	KindCritique:     RoleCritic,
}

// ParseKind validates a task name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSpace(s))
	if _, ok := kindRoles[k]; !ok {
		return "", fmt.Errorf("unknown task kind: %q", s)
	}
	return k, nil
}

// Role returns the agent bound to k.
func (k Kind) Role() Role {
	return kindRoles[k]
}

// Upstream returns the kinds whose outputs k receives as context. The report
// always declares data_analysis and risk_analysis, whatever the pipeline
// order.
func (k Kind) Upstream() []Kind {
	if k == KindReport {
		return []Kind{KindDataAnalysis, KindRiskAnalysis}
	}
	return nil
}
