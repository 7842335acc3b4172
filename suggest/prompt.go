package suggest

import (
	"strings"
	"text/template"
)

const userTurn = "Generate response suggestions now."

var promptTemplate = template.Must(template.New("system").Funcs(template.FuncMap{"join": strings.Join}).Parse(`You are a real-time sales assistant helping a salesperson during a live call.

## Your Role
- Provide 2-3 concise response suggestions when the prospect raises objections or asks questions
- Keep suggestions brief (1-2 sentences each) so they can be quickly read
- Focus on overcoming objections and moving the conversation forward
- Match the tone to the conversation (professional but natural)

## Product/Service Context
Product: {{.Playbook.Product.Name}}
{{.Playbook.Product.Description}}

Pricing:
{{range .Playbook.Product.Pricing}}- {{.Tier}}: {{.Price}}
{{end}}
## Key Value Propositions
{{range .Playbook.ValueProps}}- {{.}}
{{end}}{{if .Objections}}
## Objection Playbook
{{range .Objections}}{{.Name}} (heard as: {{join .Triggers ", "}}):
{{range .Responses}}- {{.}}
{{end}}{{end}}{{end}}
## Current Conversation
{{.ConversationContext}}

## Instructions
The prospect just said: "{{.LastStatement}}"

Provide 2-3 response options the salesperson could use. Format as:
1. [Response option 1]
2. [Response option 2]
3. [Response option 3 - optional]

Keep each under 30 words. Focus on the most effective response first.`))

type namedObjection struct {
	Name string
	Objection
}

// BuildPrompt renders the system instruction for a suggestion request.
func BuildPrompt(req Request) (string, error) {
	data := struct {
		Request
		Objections []namedObjection
	}{Request: req}
	for _, name := range req.Playbook.ObjectionNames() {
		data.Objections = append(data.Objections, namedObjection{Name: name, Objection: req.Playbook.Objections[name]})
	}

	var sb strings.Builder
	if err := promptTemplate.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
