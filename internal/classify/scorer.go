package classify

import (
	"regexp"
	"strings"

	"github.com/corvidlabs/pennywise/internal/tokens"
)

// Analysis holds payload heuristics available to routing rules. It does
// not change tier selection on its own; the classifier consults it only
// for categories configured with a heavy-boost rule.
type Analysis struct {
	ReasoningScore float64 `json:"reasoningScore"`
	CodeScore      float64 `json:"codeScore"`
	MultiStepScore float64 `json:"multiStepScore"`
	EstTokens      int     `json:"estTokens"`
}

// Heavy reports whether the payload looks reasoning-dense enough that a
// category's base tier is likely to produce a low-confidence answer.
func (a Analysis) Heavy() bool {
	return a.ReasoningScore >= 0.6 || (a.ReasoningScore+a.MultiStepScore) >= 1.0
}

var (
	reCodeFence    = regexp.MustCompile("(?s)```")
	reInlineCode   = regexp.MustCompile("`[^`]+`")
	reStepPatterns = regexp.MustCompile(`\b(step\s*\d|first\b.*then\b|next\b|finally\b|phase\s*\d)`)
	reNumberedList = regexp.MustCompile(`(?m)^\s*\d+[\.\)]\s`)
)

var reasoningKeywords = []string{
	"prove", "derive", "step by step", "step-by-step",
	"why does", "why would", "why is",
	"deduce", "infer", "contradiction",
	"trade-off", "tradeoff", "root cause", "diagnose",
	"optimal", "minimize", "maximize",
}

var codeKeywords = []string{
	"function", "func ", "def ", "class ", "import ",
	"struct ", "interface ", "select ", "where ", "join ",
	"stack trace", "traceback", "exception",
}

// Analyze scores a payload on a few complexity dimensions. Scores saturate
// at 1.0.
func Analyze(payload string) Analysis {
	lower := strings.ToLower(payload)

	reasoning := 0.0
	for _, kw := range reasoningKeywords {
		if strings.Contains(lower, kw) {
			reasoning += 0.25
		}
	}

	code := 0.0
	code += float64(len(reCodeFence.FindAllString(lower, -1))/2) * 0.4
	code += float64(len(reInlineCode.FindAllString(lower, -1))) * 0.1
	for _, kw := range codeKeywords {
		if strings.Contains(lower, kw) {
			code += 0.1
		}
	}

	multi := 0.0
	multi += float64(len(reStepPatterns.FindAllString(lower, -1))) * 0.2
	multi += float64(len(reNumberedList.FindAllString(lower, -1))) * 0.15

	return Analysis{
		ReasoningScore: clamp01(reasoning),
		CodeScore:      clamp01(code),
		MultiStepScore: clamp01(multi),
		EstTokens:      tokens.Estimate(payload),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
