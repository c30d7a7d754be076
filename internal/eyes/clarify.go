package eyes

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/arguslabs/argus/internal/envelope"
)

// ClarifyEye decides whether a task is specific enough to work on. It
// scores ambiguity from surface features of the prompt and, when the
// score crosses the threshold, answers with a fixed set of clarifying
// questions sized to the score.
type ClarifyEye struct{}

func (e *ClarifyEye) ID() ID { return Clarify }

func (e *ClarifyEye) Describe() string {
	return "Scores task ambiguity and asks clarifying questions before any work starts"
}

func (e *ClarifyEye) Run(_ context.Context, req Request) envelope.Envelope {
	score, breakdown := ambiguityScore(req.Task)
	threshold := req.Settings.AmbiguityThreshold

	if score < threshold {
		md := envelope.NewMarkdown().
			Section(envelope.HeadingSummary, "Task is clear enough to proceed.").
			Section(envelope.HeadingReasoning, breakdown).
			String()
		return envelope.New(string(Clarify), envelope.CodeOKClear,
			envelope.WithMarkdown(md),
			envelope.WithData(map[string]any{
				"score":     score,
				"threshold": threshold,
			}),
		)
	}

	questions := clarifyingQuestions(score)
	md := envelope.NewMarkdown().
		Section(envelope.HeadingSummary,
			fmt.Sprintf("Task is too ambiguous to start (score %.2f, threshold %.2f).", score, threshold)).
		Section(envelope.HeadingReasoning, breakdown).
		NumberedList(envelope.HeadingQuestions, questions).
		String()
	return envelope.New(string(Clarify), envelope.CodeNeedClarification,
		envelope.WithMarkdown(md),
		envelope.WithData(map[string]any{
			"score":     score,
			"threshold": threshold,
			"questions": questions,
		}),
	)
}

// ambiguityScore rates a prompt in [0,1]. Short prompts, missing
// question marks, vague or unspecified wording and the absence of an
// action verb all push the score up.
func ambiguityScore(task string) (float64, string) {
	tokens := tokenize(task)

	var score float64
	var notes []string

	switch n := len(tokens); {
	case n < 8:
		score += 0.4
		notes = append(notes, fmt.Sprintf("very short prompt (%d tokens): +0.40", n))
	case n < 15:
		score += 0.25
		notes = append(notes, fmt.Sprintf("short prompt (%d tokens): +0.25", n))
	case n < 25:
		score += 0.1
		notes = append(notes, fmt.Sprintf("brief prompt (%d tokens): +0.10", n))
	}

	switch q := strings.Count(task, "?"); q {
	case 0:
		score += 0.05
		notes = append(notes, "no question marks: +0.05")
	case 1:
		score += 0.02
		notes = append(notes, "single question mark: +0.02")
	}

	vague := 0
	unspecified := 0
	hasVerb := false
	for _, tok := range tokens {
		if _, ok := vagueWords[tok]; ok {
			vague++
		}
		if _, ok := unspecifiedWords[tok]; ok {
			unspecified++
		}
		if _, ok := actionVerbs[tok]; ok {
			hasVerb = true
		}
	}
	if vague > 0 {
		score += 0.12 * float64(vague)
		notes = append(notes, fmt.Sprintf("%d vague word(s): +%.2f", vague, 0.12*float64(vague)))
	}
	if unspecified > 0 {
		score += 0.10 * float64(unspecified)
		notes = append(notes, fmt.Sprintf("%d unspecified reference(s): +%.2f", unspecified, 0.10*float64(unspecified)))
	}
	if !hasVerb {
		score += 0.1
		notes = append(notes, "no action verb: +0.10")
	}

	score = clamp01(score)
	// Round once so downstream arithmetic is stable across platforms.
	score = math.Round(score*100) / 100

	if len(notes) == 0 {
		notes = append(notes, "no ambiguity signals detected")
	}
	return score, strings.Join(notes, "; ")
}

// clarifyingQuestions sizes the question list from the score: between 3
// and 10 questions, taken in order from the fixed bank.
func clarifyingQuestions(score float64) []string {
	n := int(math.Ceil(score * 10))
	if n < 3 {
		n = 3
	}
	if n > 10 {
		n = 10
	}
	if n > len(questionBank) {
		n = len(questionBank)
	}
	out := make([]string, n)
	copy(out, questionBank[:n])
	return out
}

// tokenize splits on whitespace, lowercases, and strips trailing
// punctuation so "better." and "better" hit the same lexicon entry.
func tokenize(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.ToLower(strings.TrimRight(f, ".,;:!?\"')"))
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
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
