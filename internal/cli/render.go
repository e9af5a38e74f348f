package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pm-assistant/internal/assistant"
	"pm-assistant/internal/channel"
	"pm-assistant/internal/protocol"
)

var (
	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	badgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

// renderEntry formats one finished assistant entry.
func renderEntry(e assistant.Entry) string {
	var b strings.Builder
	b.WriteString(assistantStyle.Render("assistant"))
	if e.Structured != nil && e.Structured.Type != "" {
		b.WriteString(" ")
		b.WriteString(badgeStyle.Render("[" + e.Structured.Type + "]"))
	}
	b.WriteString(": ")
	b.WriteString(e.Text)
	return b.String()
}

// renderStatus returns the status line for st, or "" when the channel is
// healthy and nothing is waiting.
func renderStatus(st assistant.Status) string {
	switch {
	case st.Exhausted:
		msg := fmt.Sprintf("connection lost after %d attempts", st.MaxAttempts)
		if st.Queued > 0 {
			msg += fmt.Sprintf("; %d queued message(s) kept, restart chat to retry", st.Queued)
		}
		return errorStyle.Render(msg)
	case st.State == channel.StateOpen:
		return ""
	case st.Queued > 0 && st.Attempt > 0:
		return warningStyle.Render(fmt.Sprintf("%d queued, reconnecting (%d/%d)", st.Queued, st.Attempt, st.MaxAttempts))
	case st.Queued > 0:
		return warningStyle.Render(fmt.Sprintf("%d queued, connecting", st.Queued))
	case st.Attempt > 0:
		return warningStyle.Render(fmt.Sprintf("reconnecting (%d/%d)", st.Attempt, st.MaxAttempts))
	}
	return ""
}

// renderResults formats a mention result list.
func renderResults(term string, results []protocol.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d result(s) for %q\n", len(results), term)
	for _, r := range results {
		fmt.Fprintf(&b, "  %s %s %s\n",
			badgeStyle.Render(fmt.Sprintf("%-8s", r.Type)),
			r.Name,
			dimStyle.Render("("+r.IDString()+")"))
	}
	return b.String()
}
