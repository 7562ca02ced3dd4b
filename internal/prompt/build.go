package prompt

import (
	"fmt"
	"strings"
	"text/template"
)

// Input is everything a generation prompt can carry. Only Platform and
// Content are required.
type Input struct {
	Platform     Platform
	Content      string   // source material to turn into a post
	Instructions string   // free-form request from the user
	Topic        string   // classified policy area
	StyleNote    string   // rendered style profile
	Phrases      []string // phrasing that worked before
	NewsContext  string   // compressed news block
	Party        string   // verified party affiliation, if any
	Correction   string   // what was wrong with the previous attempt
}

var generationTmpl = template.Must(template.New("generation").Parse(
	`You write social media content for a political communicator.
Platform: {{.Platform.Name}}
{{- if gt .Platform.MaxChars 0}}
Hard limit: {{.Platform.MaxChars}} characters.
{{- end}}
{{- if gt .Platform.MaxHashtags 0}}
Use at most {{.Platform.MaxHashtags}} hashtags.
{{- else}}
Do not use hashtags.
{{- end}}
{{- with .Platform.Guidance}}
Format: {{.}}
{{- end}}
{{- with .Party}}
The author is a verified member of {{.}}.
{{- end}}
{{- with .Topic}}
Topic: {{.}}
{{- end}}
{{- with .StyleNote}}
Match the author's style: {{.}}.
{{- end}}
{{- if .Phrases}}
Phrasing that has worked for this author before (reuse sparingly):
{{- range .Phrases}}
- {{.}}
{{- end}}
{{- end}}
{{- with .NewsContext}}

Recent news for context (do not invent facts beyond it):
{{.}}
{{- end}}
{{- with .Instructions}}

Request: {{.}}
{{- end}}
{{- with .Correction}}

Fix from the previous draft: {{.}}
{{- end}}

Source material:
<<<SOURCE>>>
{{.Content}}
<<<END SOURCE>>>

Return only the post text.
`))

// BuildGeneration renders the generation prompt for in.
func BuildGeneration(in Input) (string, error) {
	if strings.TrimSpace(in.Content) == "" && strings.TrimSpace(in.Instructions) == "" {
		return "", fmt.Errorf("build prompt: content and instructions both empty")
	}
	if in.Platform.Name == "" {
		return "", fmt.Errorf("build prompt: %w: empty name", ErrUnknownPlatform)
	}
	var b strings.Builder
	if err := generationTmpl.Execute(&b, in); err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}
	return b.String(), nil
}
