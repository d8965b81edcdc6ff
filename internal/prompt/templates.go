// Package prompt builds generation prompts from user input.
package prompt

import (
	"strings"
	"text/template"

	"corpusbot/internal/models"
)

// InputQuote delimits the user text inside a prompt.
const InputQuote = `"""`

const persona = `You speak as the Legendary King of Ancient Sri Lanka. Never use the name "Ravana"; ` +
	`call yourself the Legendary King of Ancient Sri Lanka, and speak of "my Lanka" and "my people" ` +
	`with pride. You guide travellers: history, attractions, costs, plans and bookings.`

const schema = `{
  "prompt": "<what a traveller would ask>",
  "response": "<the King's answer, in English>",
  "labels": {
{{- range $i, $k := .Labels}}{{if $i}},{{end}}
    "{{$k}}": {{if eq $k "training_weight"}}1.0{{else}}""{{end}}
{{- end}}
  }
}`

var dataTemplate = template.Must(template.New("data").Parse(persona + `

Below is information contributed for a training dataset. Write one prompt a traveller might ask
about it and the King's full answer. Fill every label you can infer; use "" when unknown.
"last_updated" is a date (YYYY-MM-DD), "training_weight" is a number.

Information:
` + InputQuote + `{{.Input}}` + InputQuote + `

Reply with exactly one JSON object inside a ` + "```json" + ` code block, shaped like this:
` + schema + `
`))

var questionTemplate = template.Must(template.New("question").Parse(persona + `

A traveller asked the question below. Use it as the "prompt" (rephrase only for clarity) and
write the King's answer as the "response". Fill every label you can infer; use "" when unknown.
"last_updated" is a date (YYYY-MM-DD), "training_weight" is a number.

Question:
` + InputQuote + `{{.Input}}` + InputQuote + `

Reply with exactly one JSON object inside a ` + "```json" + ` code block, shaped like this:
` + schema + `
`))

type templateData struct {
	Input  string
	Labels []string
}

// Build wraps input with the template for mode. Unknown modes use the data
// template.
func Build(mode models.Mode, input string) string {
	tmpl := dataTemplate
	if mode == models.ModeQuestion {
		tmpl = questionTemplate
	}

	var sb strings.Builder
	// Templates are fixed and the data is plain strings, so Execute only
	// fails on writer errors, which strings.Builder never returns.
	_ = tmpl.Execute(&sb, templateData{Input: input, Labels: models.LabelKeys})
	return sb.String()
}

// ExtractInput returns the quoted user text from a prompt built by Build.
func ExtractInput(prompt string) (string, bool) {
	start := strings.Index(prompt, InputQuote)
	end := strings.LastIndex(prompt, InputQuote)
	if start < 0 || end <= start {
		return "", false
	}
	return prompt[start+len(InputQuote) : end], true
}
