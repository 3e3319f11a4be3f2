package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/hupe1980/atlasforge/orchestrator"
)

// MarkdownExporter writes the transcript as a Markdown document.
type MarkdownExporter struct{}

// Export implements Exporter.
func (e *MarkdownExporter) Export(res *orchestrator.Result, w io.Writer) error {
	_, _ = fmt.Fprintf(w, "# %s\n\n", oneLine(res.Prompt))
	_, _ = fmt.Fprintf(w, "**Session:** %s  \n", res.SessionID)
	_, _ = fmt.Fprintf(w, "**Status:** %s", res.Status)
	if res.HaltReason != "" {
		_, _ = fmt.Fprintf(w, " (%s)", res.HaltReason)
	}
	_, _ = fmt.Fprintf(w, "  \n**Turns:** %d  \n**Tokens:** %d\n\n", res.Turns, res.Tokens)

	if len(res.Agents) > 0 {
		_, _ = fmt.Fprintf(w, "## Agents\n\n")
		for _, a := range res.Agents {
			marker := ""
			if a.Coordinator {
				marker = " *(coordinator)*"
			}
			_, _ = fmt.Fprintf(w, "- **%s**: %s, %s%s\n", a.Spec.Name, a.Spec.Role, a.Spec.Kind, marker)
		}
		_, _ = fmt.Fprintf(w, "\n")
	}

	_, _ = fmt.Fprintf(w, "## Transcript\n\n")
	for i, m := range res.Messages {
		label := fmt.Sprintf("%s → %s", m.FromName, m.ToName)
		if m.Summary {
			label += " (summary)"
		}
		_, _ = fmt.Fprintf(w, "**%d. %s** _[%s]_\n\n%s\n\n", m.Turn, label, m.Backend, m.Content)
		if i < len(res.Messages)-1 {
			_, _ = fmt.Fprintf(w, "---\n\n")
		}
	}

	_, _ = fmt.Fprintf(w, "## Answer\n\n%s\n", res.Answer)
	return nil
}

// Extension implements Exporter.
func (e *MarkdownExporter) Extension() string { return "md" }

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
