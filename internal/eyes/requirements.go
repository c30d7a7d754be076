package eyes

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/arguslabs/argus/internal/envelope"
)

// RequirementsEye drafts a requirements list from the task and any
// clarification answers recorded in the session. It blocks when the
// clarify stage left questions that were never answered; its output
// depends on that session state, so it is never cached.
type RequirementsEye struct{}

func (e *RequirementsEye) ID() ID { return Requirements }

func (e *RequirementsEye) Describe() string {
	return "Drafts requirements from the task and recorded clarification answers"
}

func (e *RequirementsEye) Run(_ context.Context, req Request) envelope.Envelope {
	pending := stringSlice(req.Context["pending_questions"])
	answers := answerMap(req.Context["clarifications"])

	if len(pending) > 0 && len(answers) == 0 {
		md := envelope.NewMarkdown().
			Section(envelope.HeadingSummary, "Clarifying questions are still unanswered.").
			NumberedList(envelope.HeadingQuestions, pending).
			String()
		return envelope.New(string(Requirements), envelope.CodeNeedAnswers,
			envelope.WithMarkdown(md),
			envelope.WithData(map[string]any{"pending_questions": pending}),
		)
	}

	reqs := draftRequirements(req.Task, answers, req.Settings)
	md := envelope.NewMarkdown().
		Section(envelope.HeadingSummary,
			fmt.Sprintf("Drafted %d requirement(s) from the task.", len(reqs))).
		NumberedList(envelope.HeadingNextSteps, reqs).
		String()
	return envelope.New(string(Requirements), envelope.CodeOKRequirementsReady,
		envelope.WithMarkdown(md),
		envelope.WithData(map[string]any{"requirements": reqs}),
	)
}

// draftRequirements turns the task plus answers into an ordered
// requirements list. Deterministic: same task and answers, same draft.
func draftRequirements(task string, answers map[string]string, settings Settings) []string {
	reqs := []string{fmt.Sprintf("Deliver: %s", strings.TrimSpace(task))}
	for _, q := range sortedKeys(answers) {
		reqs = append(reqs, fmt.Sprintf("Honor clarification %q: %s", q, answers[q]))
	}
	reqs = append(reqs,
		fmt.Sprintf("Pass every review gate at %s strictness.", settings.Strictness))
	return reqs
}

func answerMap(v any) map[string]string {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		if s, ok := val.(string); ok && strings.TrimSpace(s) != "" {
			out[k] = s
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
