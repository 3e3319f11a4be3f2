package orchestrator

import (
	"fmt"
	"strings"

	"github.com/hupe1980/atlasforge/internal/util"
)

const turnTemplate = `Request from the user: {{.Prompt}}

Participants:
{{- range .Participants}}
- {{.Spec.Name}} ({{.Spec.Role}}){{if .Coordinator}} [coordinator]{{end}}
{{- end}}
{{- if .Notes}}

Your notes so far:
{{bullets .Notes}}
{{- end}}
{{- if .Retrieved}}

Relevant memory:
{{bullets .Retrieved}}
{{- end}}

This is turn {{.Turn}} of at most {{.MaxTurns}}.
{{- if .Coordinator}} As coordinator, delegate work to the participant best suited for it and address "user" with final set to true once the team has a complete answer.
{{- else}} Contribute from your expertise, then hand back to the coordinator or delegate to a better suited participant.
{{- end}}`

const summaryTemplate = `Request from the user: {{.Prompt}}

The discussion is over. Summarize it into one final answer for the user. Keep the concrete decisions and drop the back and forth.`

type turnData struct {
	Prompt       string
	Participants []DynamicAgent
	Notes        []string
	Retrieved    []string
	Turn         int
	MaxTurns     int
	Coordinator  bool
}

func renderTurn(d turnData) (string, error) { return util.RenderTemplate(turnTemplate, d) }

func renderSummary(prompt string) (string, error) {
	return util.RenderTemplate(summaryTemplate, map[string]any{"Prompt": prompt})
}

// transcriptLines renders the last n turns, oldest first.
func transcriptLines(msgs []ConversationMessage, n int) []string {
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = fmt.Sprintf("%s -> %s: %s", m.FromName, m.ToName, strings.TrimSpace(m.Content))
	}
	return out
}
