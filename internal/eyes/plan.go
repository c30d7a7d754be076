package eyes

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/arguslabs/argus/internal/envelope"
)

// PlanReviewEye gates an implementation plan before any code is written.
// A plan must carry the sections reviewers need to judge it and enough
// substance to be a plan at all.
type PlanReviewEye struct{}

// requiredPlanSections are the headings a reviewable plan must contain.
var requiredPlanSections = []string{"Objective", "Steps", "Risks"}

func (e *PlanReviewEye) ID() ID { return PlanReview }

func (e *PlanReviewEye) Describe() string {
	return "Approves implementation plans that state objective, steps and risks"
}

func (e *PlanReviewEye) Run(_ context.Context, req Request) envelope.Envelope {
	if env, failed := requireReasoning(PlanReview, req); failed {
		return env
	}
	plan, env, ok := payloadString(PlanReview, req, "plan")
	if !ok {
		return env
	}

	var issues []string
	var missing []string
	for _, section := range requiredPlanSections {
		heading := regexp.MustCompile(`(?mi)^#{1,6}\s*` + section + `\b`)
		if !heading.MatchString(plan) {
			missing = append(missing, section)
		}
	}
	if len(missing) > 0 {
		issues = append(issues, fmt.Sprintf("missing required section(s): %s", strings.Join(missing, ", ")))
	}
	if substantiveLines(plan) < 3 {
		issues = append(issues, "plan is too thin to review: fewer than three substantive lines")
	}

	if len(issues) > 0 {
		md := envelope.NewMarkdown().
			Section(envelope.HeadingSummary, "Plan is not ready for implementation.").
			List(envelope.HeadingIssues, issues).
			String()
		return envelope.New(string(PlanReview), envelope.CodeErrPlanIncomplete,
			envelope.WithMarkdown(md),
			envelope.WithData(map[string]any{"missing_sections": missing}),
		)
	}

	md := envelope.NewMarkdown().
		Section(envelope.HeadingSummary, "Plan covers objective, steps and risks.").
		Section(envelope.HeadingReasoning, req.Reasoning).
		String()
	return envelope.New(string(PlanReview), envelope.CodeOKPlanApproved,
		envelope.WithMarkdown(md),
	)
}

func substantiveLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			n++
		}
	}
	return n
}
