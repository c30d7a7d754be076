package eyes

import (
	"context"
	"fmt"

	"github.com/arguslabs/argus/internal/envelope"
)

// FinalReviewEye aggregates the verdicts of the stages that ran before
// it. It approves only when every prior verdict passed; otherwise it
// lists the failing stages so the caller knows exactly what to fix.
type FinalReviewEye struct{}

// priorVerdict is one row of the verdict summary the caller assembles
// from session history.
type priorVerdict struct {
	Eye  string
	OK   bool
	Code string
}

func (e *FinalReviewEye) ID() ID { return FinalReview }

func (e *FinalReviewEye) Describe() string {
	return "Aggregates prior stage verdicts into a single release gate"
}

func (e *FinalReviewEye) Run(_ context.Context, req Request) envelope.Envelope {
	if env, failed := requireReasoning(FinalReview, req); failed {
		return env
	}

	verdicts, ok := parseVerdicts(req.Payload["verdicts"])
	if !ok || len(verdicts) == 0 {
		return invalidPayload(FinalReview, `payload field "verdicts" must be a non-empty list of {eye, ok, code} rows`)
	}

	var failing []string
	for _, v := range verdicts {
		if !v.OK {
			failing = append(failing, fmt.Sprintf("%s (%s)", v.Eye, v.Code))
		}
	}

	data := map[string]any{
		"total":   len(verdicts),
		"failing": failing,
	}

	if len(failing) > 0 {
		md := envelope.NewMarkdown().
			Section(envelope.HeadingSummary,
				fmt.Sprintf("%d of %d prior stage(s) did not pass.", len(failing), len(verdicts))).
			List(envelope.HeadingIssues, failing).
			String()
		return envelope.New(string(FinalReview), envelope.CodeErrFinalRejected,
			envelope.WithMarkdown(md),
			envelope.WithData(data),
		)
	}

	md := envelope.NewMarkdown().
		Section(envelope.HeadingSummary,
			fmt.Sprintf("All %d prior stage(s) passed.", len(verdicts))).
		Section(envelope.HeadingReasoning, req.Reasoning).
		String()
	return envelope.New(string(FinalReview), envelope.CodeOKFinalApproved,
		envelope.WithMarkdown(md),
		envelope.WithData(data),
	)
}

func parseVerdicts(v any) ([]priorVerdict, bool) {
	rows, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]priorVerdict, 0, len(rows))
	for _, raw := range rows {
		row, ok := raw.(map[string]any)
		if !ok {
			return nil, false
		}
		eye, _ := row["eye"].(string)
		passed, _ := row["ok"].(bool)
		code, _ := row["code"].(string)
		if eye == "" {
			return nil, false
		}
		out = append(out, priorVerdict{Eye: eye, OK: passed, Code: code})
	}
	return out, true
}

// ApprovalEye is the terminal go/no-go decision. It records an explicit
// human or policy approval; nothing downstream of it runs.
type ApprovalEye struct{}

func (e *ApprovalEye) ID() ID { return Approval }

func (e *ApprovalEye) Describe() string {
	return "Records the terminal go/no-go decision for a task"
}

func (e *ApprovalEye) Run(_ context.Context, req Request) envelope.Envelope {
	if env, failed := requireReasoning(Approval, req); failed {
		return env
	}

	approved, ok := req.Payload["approved"].(bool)
	if !ok {
		return invalidPayload(Approval, `payload field "approved" must be a boolean`)
	}
	notes, _ := req.Payload["notes"].(string)

	if !approved {
		md := envelope.NewMarkdown().
			Section(envelope.HeadingSummary, "Task was not approved.").
			Section(envelope.HeadingIssues, notes).
			String()
		return envelope.New(string(Approval), envelope.CodeErrRejected,
			envelope.WithMarkdown(md),
			envelope.WithData(map[string]any{"approved": false, "notes": notes}),
		)
	}

	md := envelope.NewMarkdown().
		Section(envelope.HeadingSummary, "Task approved.").
		Section(envelope.HeadingReasoning, req.Reasoning).
		String()
	return envelope.New(string(Approval), envelope.CodeOKApproved,
		envelope.WithMarkdown(md),
		envelope.WithData(map[string]any{"approved": true, "notes": notes}),
	)
}
