package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/ytnobody/riskcrew/internal/chatlog"
	"github.com/ytnobody/riskcrew/internal/orchestrator"
)

// Role-based colours for the transcript.
var roleStyles = map[string]lipgloss.Style{
	"Senior Analyst": lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFFF")),
	"Risk Assistant": lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00")),
	"Insight Agent":  lipgloss.NewStyle().Foreground(lipgloss.Color("#AF87FF")),
	"Report Builder": lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A")),
	"Critic":         lipgloss.NewStyle().Foreground(lipgloss.Color("#E53935")).Bold(true),
	"Planner":        lipgloss.NewStyle().Foreground(lipgloss.Color("#00AFAF")),
	"controller":     lipgloss.NewStyle().Faint(true),
}

var (
	approvedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A")).Bold(true)
	exhaustedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00")).Bold(true)
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E53935")).Bold(true)
)

// displayChatLog prints transcript lines to w until msgs is closed.
func displayChatLog(w io.Writer, msgs <-chan chatlog.Message) {
	for msg := range msgs {
		fmt.Fprintln(w, formatMessage(msg))
	}
}

// formatMessage renders one transcript line with its speaker's colour.
// Long bodies are cut to keep the follow view readable.
func formatMessage(msg chatlog.Message) string {
	style, ok := roleStyles[msg.Speaker]
	if !ok {
		style = lipgloss.NewStyle()
	}
	body := msg.Body
	if r := []rune(body); len(r) > 400 {
		body = string(r[:400]) + "..."
	}
	return style.Render(fmt.Sprintf("[%s] %s: %s", msg.Timestamp.Format("15:04:05"), msg.Speaker, body))
}

// statusLine summarises a finished analysis.
func statusLine(res orchestrator.Result) string {
	switch res.State {
	case orchestrator.StateAccepted:
		return approvedStyle.Render(fmt.Sprintf("approved after %d revision(s)", res.Revisions))
	case orchestrator.StateExhausted:
		return exhaustedStyle.Render(fmt.Sprintf("revision limit reached after %d revision(s)", res.Revisions))
	default:
		return failedStyle.Render(res.State.String())
	}
}
