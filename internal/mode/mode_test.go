package mode_test

import (
	"courier.app/courier/internal/mode"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Detect", func() {
	DescribeTable("routes messages to chat or plan",
		func(text string, want mode.Mode) {
			Expect(mode.Detect(text).Mode).To(Equal(want))
		},
		Entry("greeting", "hello there", mode.ModeChat),
		Entry("question", "what's the capital of France?", mode.ModeChat),
		Entry("empty text", "", mode.ModeChat),
		Entry("explicit plan request", "please make a plan for the migration", mode.ModePlan),
		Entry("plan mode phrase", "switch to plan mode and think first", mode.ModePlan),
		Entry("implementation plan phrase", "draft an implementation plan", mode.ModePlan),
		Entry("refactor request", "refactor this repo's auth module", mode.ModePlan),
		Entry("bug report", "there's a bug in the login flow", mode.ModePlan),
		Entry("pull request mention", "open a pull request with the change", mode.ModePlan),
		Entry("short pr word", "review my pr please", mode.ModePlan),
		Entry("pr inside another word stays chat", "what's the price of eggs in april?", mode.ModeChat),
		Entry("mixed case", "REFACTOR the parser", mode.ModePlan),
	)

	It("is deterministic across repeated calls", func() {
		first := mode.Detect("refactor this repo's auth module")
		for i := 0; i < 10; i++ {
			Expect(mode.Detect("refactor this repo's auth module")).To(Equal(first))
		}
	})

	It("reports the matched rule as the reason", func() {
		Expect(mode.Detect("make a plan for this").Reason).To(Equal("matched_hint:make a plan"))
		Expect(mode.Detect("fix the tests").Reason).To(Equal("matched_code_hint:fix"))
		Expect(mode.Detect("hello").Reason).To(Equal("default"))
	})

	It("prefers explicit plan phrases over code words", func() {
		decision := mode.Detect("make a plan to fix the bug")
		Expect(decision.Reason).To(HavePrefix("matched_hint:"))
	})

	It("honors custom hint sets", func() {
		detector := mode.NewDetector(mode.Hints{Code: []string{"deploy"}})
		Expect(detector.Detect("deploy the service").Mode).To(Equal(mode.ModePlan))
		Expect(detector.Detect("refactor everything").Mode).To(Equal(mode.ModeChat))
	})
})
