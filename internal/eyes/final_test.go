package eyes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arguslabs/argus/internal/envelope"
)

func TestFinalReviewApprovesWhenAllPassed(t *testing.T) {
	eye := &FinalReviewEye{}
	env := eye.Run(context.Background(), Request{
		Payload: map[string]any{
			"verdicts": []any{
				map[string]any{"eye": "clarify", "ok": true, "code": "OK_CLEAR"},
				map[string]any{"eye": "requirements", "ok": true, "code": "OK_REQUIREMENTS_READY"},
			},
		},
		Reasoning: "both gates green in this session",
		Settings:  DefaultSettings(),
	})
	require.True(t, env.OK)
	assert.Equal(t, envelope.CodeOKFinalApproved, env.Code)
	assert.Equal(t, envelope.ActionProceedToApproval, env.NextAction)
}

func TestFinalReviewListsFailingStages(t *testing.T) {
	eye := &FinalReviewEye{}
	env := eye.Run(context.Background(), Request{
		Payload: map[string]any{
			"verdicts": []any{
				map[string]any{"eye": "consistency", "ok": false, "code": "E_CONTRADICTION"},
				map[string]any{"eye": "evidence", "ok": true, "code": "OK_EVIDENCE_VALID"},
			},
		},
		Reasoning: "one gate red",
		Settings:  DefaultSettings(),
	})
	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeErrFinalRejected, env.Code)
	assert.Contains(t, env.MD, "consistency (E_CONTRADICTION)")
}

func TestFinalReviewRejectsEmptyVerdicts(t *testing.T) {
	eye := &FinalReviewEye{}
	env := eye.Run(context.Background(), Request{
		Payload:   map[string]any{"verdicts": []any{}},
		Reasoning: "nothing ran",
		Settings:  DefaultSettings(),
	})
	assert.Equal(t, envelope.CodeErrPayloadInvalid, env.Code)
}

func TestApprovalTerminalDecision(t *testing.T) {
	eye := &ApprovalEye{}

	granted := eye.Run(context.Background(), Request{
		Payload:   map[string]any{"approved": true},
		Reasoning: "release criteria met",
		Settings:  DefaultSettings(),
	})
	require.True(t, granted.OK)
	assert.Equal(t, envelope.CodeOKApproved, granted.Code)
	assert.Equal(t, envelope.ActionComplete, granted.NextAction)

	denied := eye.Run(context.Background(), Request{
		Payload:   map[string]any{"approved": false, "notes": "rollback story missing"},
		Reasoning: "release criteria not met",
		Settings:  DefaultSettings(),
	})
	require.False(t, denied.OK)
	assert.Equal(t, envelope.CodeErrRejected, denied.Code)
	assert.Contains(t, denied.MD, "rollback story missing")
}
