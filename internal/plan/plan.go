// Package plan defines the structured output contract for plan mode: the
// schema sent to the provider, parsing of the model's JSON reply, and the
// chat-friendly rendering of a validated plan.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"courier.app/courier/internal/jsonx"
)

// Step is one implementation step of a plan.
type Step struct {
	Title   string `json:"title" jsonschema:"required,description=Short step title"`
	Details string `json:"details" jsonschema:"required,description=What to do in this step"`
}

// Plan is the structured response a provider must return in plan mode.
type Plan struct {
	Objective           string   `json:"objective" jsonschema:"required,description=One-sentence goal of the work"`
	Assumptions         []string `json:"assumptions,omitempty"`
	FilesToTouch        []string `json:"files_to_touch,omitempty"`
	ImplementationSteps []Step   `json:"implementation_steps" jsonschema:"required,description=Ordered implementation steps"`
	Risks               []string `json:"risks,omitempty"`
	TestPlan            []string `json:"test_plan,omitempty"`
	RollbackPlan        []string `json:"rollback_plan,omitempty"`
}

// Schema returns the JSON schema for Plan, embedded into the plan prompt.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(Plan{})
}

// BuildPrompt rewrites a user request into the plan-mode prompt. The schema
// is inlined so the model has no excuse for shape drift.
func BuildPrompt(userPrompt string) string {
	schemaJSON, err := json.Marshal(Schema())
	if err != nil {
		// The schema is reflected from a static type; failure here is a bug.
		panic(fmt.Sprintf("plan: marshal schema: %v", err))
	}
	return fmt.Sprintf(
		"You are in plan mode. Analyze the request and return only JSON matching this schema. "+
			"Do not include markdown fences or commentary.\n\n"+
			"Schema:\n%s\n\n"+
			"User request:\n%s",
		schemaJSON, userPrompt)
}

// Parse extracts and validates a Plan from raw model output.
func Parse(text string) (*Plan, error) {
	raw, _, err := jsonx.FirstObject(text)
	if err != nil {
		return nil, fmt.Errorf("extract plan JSON: %w", err)
	}

	var p Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Plan) validate() error {
	if strings.TrimSpace(p.Objective) == "" {
		return errors.New("plan missing objective")
	}
	if len(p.ImplementationSteps) == 0 {
		return errors.New("plan has no implementation steps")
	}
	for i, step := range p.ImplementationSteps {
		if strings.TrimSpace(step.Title) == "" || strings.TrimSpace(step.Details) == "" {
			return fmt.Errorf("implementation step %d missing title or details", i+1)
		}
	}
	return nil
}

// Format renders a plan as a readable chat message.
func (p *Plan) Format() string {
	var b strings.Builder
	b.WriteString("*Plan Mode Output*\n")
	fmt.Fprintf(&b, "*Objective*: %s\n", p.Objective)

	writeSection := func(title string, items []string, code bool) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n*%s*\n", title)
		for _, item := range items {
			if code {
				fmt.Fprintf(&b, "- `%s`\n", item)
			} else {
				fmt.Fprintf(&b, "- %s\n", item)
			}
		}
	}

	writeSection("Assumptions", p.Assumptions, false)
	writeSection("Files To Touch", p.FilesToTouch, true)

	b.WriteString("\n*Implementation Steps*\n")
	for i, step := range p.ImplementationSteps {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, step.Title, step.Details)
	}

	writeSection("Risks", p.Risks, false)
	writeSection("Test Plan", p.TestPlan, false)
	writeSection("Rollback Plan", p.RollbackPlan, false)

	return strings.TrimRight(b.String(), "\n")
}
