package crew

import (
	"fmt"
	"strings"

	"github.com/ytnobody/riskcrew/internal/llm"
)

// BuildRequest renders t into the messages sent to its agent. Upstream
// outputs that are missing from outputs are left out.
func BuildRequest(t Task, outputs map[Kind]string) llm.Request {
	a := t.Agent

	var sys strings.Builder
	fmt.Fprintf(&sys, "You are the %s.\n", a.Role)
	fmt.Fprintf(&sys, "Goal: %s\n", a.Goal)
	fmt.Fprintf(&sys, "Backstory: %s\n", a.Backstory)
	if a.Snapshot != "" {
		sys.WriteString("\nShared memory at the start of this analysis:\n")
		sys.WriteString(a.Snapshot)
	}
	if len(a.Tools) > 0 {
		fmt.Fprintf(&sys, "\nYou may call these tools: %s.\n", strings.Join(a.Tools.Names(), ", "))
	}

	var user strings.Builder
	user.WriteString(t.Description)
	for _, k := range t.Upstream {
		out, ok := outputs[k]
		if !ok {
			continue
		}
		fmt.Fprintf(&user, "\n\n### Context from %s\n%s", k, out)
	}
	user.WriteString("\n\nExpected output:\n")
	user.WriteString(t.ExpectedOutput)

	return llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: sys.String()},
			{Role: llm.RoleUser, Content: user.String()},
		},
		Tools: a.Tools,
	}
}
