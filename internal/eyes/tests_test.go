package eyes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arguslabs/argus/internal/envelope"
)

func coverageRequest(report string, level Strictness) Request {
	s := DefaultSettings()
	s.Strictness = level
	return Request{
		Payload:   map[string]any{"coverage_report": report},
		Reasoning: "ran the suite and captured the coverage summary",
		Settings:  s,
	}
}

func TestCoverageStrictFailsNormalPasses(t *testing.T) {
	eye := &TestsReviewEye{}
	report := "suite green. lines: 80%, branches: 58%"

	strict := eye.Run(context.Background(), coverageRequest(report, StrictnessStrict))
	require.False(t, strict.OK)
	assert.Equal(t, envelope.CodeErrCoverageLow, strict.Code)
	assert.Equal(t, envelope.ActionResubmitTests, strict.NextAction)

	normal := eye.Run(context.Background(), coverageRequest(report, StrictnessNormal))
	require.True(t, normal.OK)
	assert.Equal(t, envelope.CodeOKTestsApproved, normal.Code)
	// The branch shortfall is still reported, it just does not gate.
	assert.Contains(t, normal.MD, "branch coverage 58%")
}

func TestCoverageLineShortfallGatesEveryLevel(t *testing.T) {
	eye := &TestsReviewEye{}
	report := "lines: 64%, branches: 90%"

	for _, level := range []Strictness{StrictnessLenient, StrictnessNormal, StrictnessStrict} {
		t.Run(string(level), func(t *testing.T) {
			env := eye.Run(context.Background(), coverageRequest(report, level))
			assert.False(t, env.OK)
		})
	}
}

func TestCoverageLenientBoundary(t *testing.T) {
	eye := &TestsReviewEye{}
	env := eye.Run(context.Background(),
		coverageRequest("lines: 70%, branches: 55%", StrictnessLenient))
	assert.True(t, env.OK)
}

func TestCoverageMissingMetricIsInvalidPayload(t *testing.T) {
	eye := &TestsReviewEye{}

	env := eye.Run(context.Background(),
		coverageRequest("all tests passed, coverage looked fine", StrictnessNormal))
	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeErrPayloadInvalid, env.Code)

	env = eye.Run(context.Background(),
		coverageRequest("lines: 88%", StrictnessNormal))
	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeErrPayloadInvalid, env.Code)
}

func TestCoverageParsesDecimals(t *testing.T) {
	eye := &TestsReviewEye{}
	env := eye.Run(context.Background(),
		coverageRequest("lines: 85.5%, branches: 75.1%", StrictnessStrict))
	assert.True(t, env.OK)
}
