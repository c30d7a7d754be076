package eyes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arguslabs/argus/internal/envelope"
)

const reviewablePlan = `# Rollout plan

## Objective

Move session reads to the replica.

## Steps

1. Add a read-only pool.
2. Route GetSession through it.
3. Watch replication lag for a day.

## Risks

Stale reads during failover.
`

func TestPlanReviewApprovesCompletePlan(t *testing.T) {
	eye := &PlanReviewEye{}
	env := eye.Run(context.Background(), Request{
		Payload:   map[string]any{"plan": reviewablePlan},
		Reasoning: "plan keeps the write path untouched",
		Settings:  DefaultSettings(),
	})
	require.True(t, env.OK)
	assert.Equal(t, envelope.CodeOKPlanApproved, env.Code)
	assert.Equal(t, envelope.ActionProceedToScaffold, env.NextAction)
}

func TestPlanReviewNamesMissingSections(t *testing.T) {
	eye := &PlanReviewEye{}
	env := eye.Run(context.Background(), Request{
		Payload:   map[string]any{"plan": "## Objective\n\nShip it.\nDo the work.\nCelebrate."},
		Reasoning: "short plan",
		Settings:  DefaultSettings(),
	})
	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeErrPlanIncomplete, env.Code)
	assert.Contains(t, env.MD, "Steps")
	assert.Contains(t, env.MD, "Risks")

	missing, ok := env.Data["missing_sections"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"Steps", "Risks"}, missing)
}

func TestPlanReviewRejectsThinPlan(t *testing.T) {
	eye := &PlanReviewEye{}
	env := eye.Run(context.Background(), Request{
		Payload:   map[string]any{"plan": "## Objective\n\n## Steps\n\n## Risks\n\nnone"},
		Reasoning: "placeholder",
		Settings:  DefaultSettings(),
	})
	assert.False(t, env.OK)
}
