package plan_test

import (
	"courier.app/courier/internal/plan"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Parse", func() {
	It("accepts a fenced plan with trailing commentary", func() {
		text := "```json\n" +
			`{"objective":"Add dark mode","assumptions":["CSS variables available"],` +
			`"files_to_touch":["web/theme.css"],` +
			`"implementation_steps":[{"title":"Add palette","details":"Define dark color tokens"}],` +
			`"test_plan":["toggle theme manually"]}` +
			"\n```\nHere is the plan you asked for."
		p, err := plan.Parse(text)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Objective).To(Equal("Add dark mode"))
		Expect(p.ImplementationSteps).To(HaveLen(1))
		Expect(p.FilesToTouch).To(Equal([]string{"web/theme.css"}))
	})

	It("rejects output without JSON", func() {
		_, err := plan.Parse("I would start by looking at the theme files.")
		Expect(err).To(HaveOccurred())
	})

	It("rejects a plan with no steps", func() {
		_, err := plan.Parse(`{"objective":"do things","implementation_steps":[]}`)
		Expect(err).To(MatchError(ContainSubstring("no implementation steps")))
	})

	It("rejects a step missing details", func() {
		_, err := plan.Parse(`{"objective":"do things","implementation_steps":[{"title":"step"}]}`)
		Expect(err).To(MatchError(ContainSubstring("step 1")))
	})

	It("rejects a plan with an empty objective", func() {
		_, err := plan.Parse(`{"objective":" ","implementation_steps":[{"title":"a","details":"b"}]}`)
		Expect(err).To(MatchError(ContainSubstring("objective")))
	})
})

var _ = Describe("BuildPrompt", func() {
	It("embeds the schema and the user request", func() {
		prompt := plan.BuildPrompt("refactor the auth module")
		Expect(prompt).To(ContainSubstring("plan mode"))
		Expect(prompt).To(ContainSubstring("implementation_steps"))
		Expect(prompt).To(ContainSubstring("refactor the auth module"))
	})
})

var _ = Describe("Format", func() {
	It("renders all populated sections in order", func() {
		p := &plan.Plan{
			Objective:    "Add dark mode",
			Assumptions:  []string{"CSS variables available"},
			FilesToTouch: []string{"web/theme.css"},
			ImplementationSteps: []plan.Step{
				{Title: "Add palette", Details: "Define dark color tokens"},
				{Title: "Wire toggle", Details: "Persist the selection"},
			},
			Risks:    []string{"contrast regressions"},
			TestPlan: []string{"toggle theme manually"},
		}

		out := p.Format()
		Expect(out).To(HavePrefix("*Plan Mode Output*"))
		Expect(out).To(ContainSubstring("*Objective*: Add dark mode"))
		Expect(out).To(ContainSubstring("- `web/theme.css`"))
		Expect(out).To(ContainSubstring("1. Add palette: Define dark color tokens"))
		Expect(out).To(ContainSubstring("2. Wire toggle: Persist the selection"))
		Expect(out).To(ContainSubstring("*Risks*"))
	})

	It("omits empty sections", func() {
		p := &plan.Plan{
			Objective:           "Small change",
			ImplementationSteps: []plan.Step{{Title: "Do it", Details: "Just do it"}},
		}
		out := p.Format()
		Expect(out).NotTo(ContainSubstring("*Assumptions*"))
		Expect(out).NotTo(ContainSubstring("*Rollback Plan*"))
	})
})
