package export

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/hupe1980/atlasforge/orchestrator"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Padding(0, 1)

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	speakerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	coordinatorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("135")).
				Bold(true)

	contentStyle = lipgloss.NewStyle().
			Padding(0, 2)

	answerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("42")).
			Padding(0, 1)
)

// TextExporter renders a styled transcript for terminals. Styles degrade
// to plain text when the writer is not a color terminal.
type TextExporter struct{}

// Export implements Exporter.
func (e *TextExporter) Export(res *orchestrator.Result, w io.Writer) error {
	coordinators := map[string]bool{}
	for _, a := range res.Agents {
		if a.Coordinator {
			coordinators[a.ID] = true
		}
	}

	_, _ = fmt.Fprintln(w, headerStyle.Render(oneLine(res.Prompt)))
	meta := fmt.Sprintf("session %s · %s · %d turns · %d tokens", res.SessionID, res.Status, res.Turns, res.Tokens)
	if res.HaltReason != "" {
		meta += " · halted: " + res.HaltReason
	}
	_, _ = fmt.Fprintln(w, metaStyle.Render(meta))
	_, _ = fmt.Fprintln(w)

	for _, m := range res.Messages {
		style := speakerStyle
		if coordinators[m.From] {
			style = coordinatorStyle
		}
		head := fmt.Sprintf("%d %s → %s", m.Turn, m.FromName, m.ToName)
		_, _ = fmt.Fprintf(w, "%s %s\n", style.Render(head), metaStyle.Render("["+m.Backend+"]"))
		_, _ = fmt.Fprintln(w, contentStyle.Render(m.Content))
		_, _ = fmt.Fprintln(w)
	}

	_, _ = fmt.Fprintln(w, answerStyle.Render(res.Answer))
	return nil
}

// Extension implements Exporter.
func (e *TextExporter) Extension() string { return "txt" }
