package eyes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arguslabs/argus/internal/envelope"
)

func TestAmbiguityShortPromptFloor(t *testing.T) {
	// Under 8 tokens, no action verb, no question mark: the base and
	// verb penalties alone must reach 0.4 + 0.1, plus 0.05 for the
	// missing question mark.
	score, _ := ambiguityScore("the thing from yesterday")
	assert.GreaterOrEqual(t, score, 0.5)
}

func TestAmbiguityClearTask(t *testing.T) {
	task := "Refactor the session manager in internal/session/manager.go to extract the LRU eviction " +
		"logic into its own type, keep the existing TTL behavior unchanged, and update the unit tests " +
		"to cover eviction order for at least five concurrent sessions."
	score, _ := ambiguityScore(task)
	assert.Less(t, score, 0.5)
}

func TestAmbiguityScoreBreakdown(t *testing.T) {
	// "make it better": base 0.40 (3 tokens), +0.05 no question mark,
	// +0.12 one vague word, action verb present.
	score, _ := ambiguityScore("make it better")
	assert.InDelta(t, 0.57, score, 0.001)
}

func TestClarifyMakeItBetterScenario(t *testing.T) {
	eye := &ClarifyEye{}
	env := eye.Run(context.Background(), Request{
		Task:     "make it better",
		Settings: DefaultSettings(),
	})

	require.False(t, env.OK)
	require.Equal(t, envelope.CodeNeedClarification, env.Code)
	assert.True(t, env.AwaitsInput())

	questions, ok := env.Data["questions"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(questions), 3)
	assert.LessOrEqual(t, len(questions), 10)
	assert.Len(t, questions, 6) // ceil(0.57*10)
}

func TestClarifyThresholdOverride(t *testing.T) {
	eye := &ClarifyEye{}
	settings := DefaultSettings()
	settings.AmbiguityThreshold = 0.95

	env := eye.Run(context.Background(), Request{
		Task:     "make it better",
		Settings: settings,
	})
	assert.True(t, env.OK)
	assert.Equal(t, envelope.CodeOKClear, env.Code)
	assert.Equal(t, envelope.ActionProceedToRequirements, env.NextAction)
}

func TestClarifyQuestionCountBounds(t *testing.T) {
	assert.Len(t, clarifyingQuestions(0.1), 3)
	assert.Len(t, clarifyingQuestions(0.55), 6)
	assert.Len(t, clarifyingQuestions(1.0), 10)
}

func TestTokenizeStripsTrailingPunctuation(t *testing.T) {
	tokens := tokenize("Fix it, somehow... better?")
	assert.Equal(t, []string{"fix", "it", "somehow", "better"}, tokens)
}
