// Package mode decides how an inbound message should be handled before the
// provider is invoked. Detection is a pure function of the message text:
// deterministic, no I/O, always applied.
package mode

import (
	"regexp"
	"strings"
)

// Mode is the behavioral strategy selected for a request.
type Mode string

const (
	ModeChat Mode = "chat" // conversational reply
	ModePlan Mode = "plan" // structured multi-step planning output
)

// Decision is the routing outcome plus the rule that produced it, recorded
// on the cycle trace.
type Decision struct {
	Mode   Mode
	Reason string
}

// Hints are the keyword rules driving detection. The rule set is deliberately
// configurable; callers depending on specific keywords should supply their
// own lists.
type Hints struct {
	// Plan phrases explicitly ask for plan mode.
	Plan []string
	// Code words mark a coding-oriented request, which also routes to plan.
	Code []string
}

// DefaultHints returns the built-in rule set.
func DefaultHints() Hints {
	return Hints{
		Plan: []string{
			"plan mode",
			"make a plan",
			"create a plan",
			"before you code",
			"implementation plan",
			"review before coding",
		},
		Code: []string{
			"feature",
			"implement",
			"ship",
			"build",
			"code",
			"refactor",
			"bug",
			"fix",
			"repository",
			"repo",
			"pull request",
			"pr",
		},
	}
}

var wordPattern = regexp.MustCompile(`[a-z0-9_'-]+`)

// Detector routes messages using a fixed set of hints.
type Detector struct {
	hints Hints
}

func NewDetector(hints Hints) *Detector {
	return &Detector{hints: hints}
}

// Detect classifies text as chat or plan. Plan phrases win over code words;
// ambiguous or empty input defaults to chat.
func (d *Detector) Detect(text string) Decision {
	normalized := strings.ToLower(strings.TrimSpace(text))

	for _, hint := range d.hints.Plan {
		if strings.Contains(normalized, hint) {
			return Decision{Mode: ModePlan, Reason: "matched_hint:" + hint}
		}
	}

	words := make(map[string]struct{})
	for _, w := range wordPattern.FindAllString(normalized, -1) {
		words[w] = struct{}{}
	}

	for _, hint := range d.hints.Code {
		if strings.ContainsRune(hint, ' ') {
			// Multi-word hints match as phrases.
			if strings.Contains(normalized, hint) {
				return Decision{Mode: ModePlan, Reason: "matched_code_hint:" + hint}
			}
			continue
		}
		// Single words match whole words only, so "pr" does not fire on
		// "price" or "april".
		if _, ok := words[hint]; ok {
			return Decision{Mode: ModePlan, Reason: "matched_code_hint:" + hint}
		}
	}

	return Decision{Mode: ModeChat, Reason: "default"}
}

var defaultDetector = NewDetector(DefaultHints())

// Detect classifies text with the default hint set.
func Detect(text string) Decision {
	return defaultDetector.Detect(text)
}
