package synthesis

import (
	"strings"
	"text/template"

	"github.com/plantsage/backend/internal/llm"
	"github.com/plantsage/backend/internal/retrieval"
	"github.com/plantsage/backend/internal/vector"
)

const noHistory = "None"

// PromptInput is everything rendered into a prompt.
type PromptInput struct {
	Question string
	Evidence []vector.Match
	Scope    *retrieval.Scope
	History  string
}

var systemTmpl = template.Must(template.New("system").Parse(
	`{{.Persona}}

Instructions:
{{range .Instructions}}- {{.}}
{{end}}
Response format:
{{.Schema}}
`))

var userTmpl = template.Must(template.New("user").Parse(
	`Retrieved Documents:
{{if .Evidence}}{{range .Evidence}}[{{.Chunk.SourceLabel}}] (id: {{.Chunk.ID}}): {{.Chunk.Text}}
{{end}}{{else}}None
{{end}}{{if .Scope}}
Plant Context:
{{range .Scope}}{{.Label}}: {{.Value}}
{{end}}{{end}}
Conversation History:
{{.History}}

Question: {{.Question}}
`))

// BuildPrompt renders the completion request for mode. Rendering is
// deterministic for a given input.
func BuildPrompt(mode Mode, in PromptInput) (llm.CompletionRequest, error) {
	tmpl, err := TemplateFor(mode)
	if err != nil {
		return llm.CompletionRequest{}, err
	}

	var sys strings.Builder
	if err := systemTmpl.Execute(&sys, struct {
		Persona      string
		Instructions []string
		Schema       string
	}{persona, tmpl.Instructions, tmpl.Schema}); err != nil {
		return llm.CompletionRequest{}, err
	}

	history := in.History
	if strings.TrimSpace(history) == "" {
		history = noHistory
	}

	var user strings.Builder
	if err := userTmpl.Execute(&user, struct {
		Evidence []vector.Match
		Scope    []retrieval.Field
		History  string
		Question string
	}{in.Evidence, in.Scope.Fields(), history, in.Question}); err != nil {
		return llm.CompletionRequest{}, err
	}

	return llm.CompletionRequest{
		SystemPrompt: sys.String(),
		UserPrompt:   user.String(),
		JSON:         true,
	}, nil
}
