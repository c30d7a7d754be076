package eyes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arguslabs/argus/internal/envelope"
)

func consistencyRequest(draft string) Request {
	return Request{
		Payload:   map[string]any{"draft": draft},
		Reasoning: "reviewed the document for contradictions",
		Settings:  DefaultSettings(),
	}
}

func TestConsistencyPolarityPairCostsExactlyPoint3(t *testing.T) {
	score, issues := consistencyScore("The cache is always warm. The cache is never warm.")
	assert.InDelta(t, 0.7, score, 0.001)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "always/never")
}

func TestConsistencyUnfinishedMarker(t *testing.T) {
	score, issues := consistencyScore("Rollout is complete. TODO verify the metrics.")
	assert.InDelta(t, 0.6, score, 0.001)
	require.Len(t, issues, 1)
}

func TestConsistencyNoChangeWithTrendVerb(t *testing.T) {
	score, issues := consistencyScore("There was no change in latency, although p99 increased by 40ms.")
	assert.InDelta(t, 0.8, score, 0.001)
	require.Len(t, issues, 1)
}

func TestConsistencyPenaltiesStack(t *testing.T) {
	text := "TODO finish this. We always retry. We never retry. No change overall, yet errors doubled."
	score, issues := consistencyScore(text)
	// 1.0 - 0.4 - 0.3 - 0.2
	assert.InDelta(t, 0.1, score, 0.001)
	assert.Len(t, issues, 3)
}

func TestConsistencyCleanDocumentPasses(t *testing.T) {
	eye := &ConsistencyEye{}
	env := eye.Run(context.Background(),
		consistencyRequest("Latency went down after the cache change. Error rates held steady."))
	assert.True(t, env.OK)
	assert.Equal(t, envelope.CodeOKConsistent, env.Code)
}

func TestConsistencyFailsOnlyBelowTolerance(t *testing.T) {
	eye := &ConsistencyEye{}
	draft := "We always batch writes. We never batch writes."

	env := eye.Run(context.Background(), consistencyRequest(draft))
	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeErrContradiction, env.Code)
	assert.Equal(t, envelope.ActionFixContradictions, env.NextAction)

	// Same document under a looser tolerance passes: 0.7 is not below 0.6.
	req := consistencyRequest(draft)
	req.Settings.ConsistencyTolerance = 0.6
	env = eye.Run(context.Background(), req)
	assert.True(t, env.OK)
}

func TestConsistencyRequiresReasoning(t *testing.T) {
	eye := &ConsistencyEye{}
	env := eye.Run(context.Background(), Request{
		Payload:  map[string]any{"draft": "fine"},
		Settings: DefaultSettings(),
	})
	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeErrReasoningMissing, env.Code)
}
