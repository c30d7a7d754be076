package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arguslabs/argus/internal/envelope"
	"github.com/arguslabs/argus/internal/events"
	"github.com/arguslabs/argus/internal/eyes"
)

type stubEye struct {
	id  eyes.ID
	run func(ctx context.Context, req eyes.Request) envelope.Envelope
}

func (s stubEye) ID() eyes.ID      { return s.id }
func (s stubEye) Describe() string { return "stub stage" }
func (s stubEye) Run(ctx context.Context, req eyes.Request) envelope.Envelope {
	return s.run(ctx, req)
}

type stubSource map[eyes.ID]eyes.Eye

func (s stubSource) Get(id eyes.ID) (eyes.Eye, error) {
	eye, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("unknown eye %q", id)
	}
	return eye, nil
}

func stubReturning(id eyes.ID, code envelope.Code, opts ...envelope.Option) stubEye {
	return stubEye{id: id, run: func(ctx context.Context, req eyes.Request) envelope.Envelope {
		return envelope.New(string(id), code, opts...)
	}}
}

type tickClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

func newTestExecutor(t *testing.T, src StageSource) *Executor {
	t.Helper()
	clock := &tickClock{t: time.Unix(1700000000, 0), step: 5 * time.Millisecond}
	return NewExecutor(src, ExecutorOptions{Clock: clock.Now, Logger: zaptest.NewLogger(t)})
}

func TestExecuteSkipScenario(t *testing.T) {
	// [A, B(skipIf A.field==0), C] with A producing field=0.
	src := stubSource{
		eyes.Clarify:     stubReturning(eyes.Clarify, envelope.CodeOKClear, envelope.WithData(map[string]any{"field": 0})),
		eyes.Consistency: stubReturning(eyes.Consistency, envelope.CodeOKConsistent),
		eyes.Evidence:    stubReturning(eyes.Evidence, envelope.CodeOKEvidenceValid),
	}
	def := Definition{
		ID:   "skip-scenario",
		Name: "Skip scenario",
		Steps: []Step{
			{Eye: eyes.Clarify},
			{Eye: eyes.Consistency, Conditions: &Conditions{
				SkipIf: &SkipCondition{PreviousEye: eyes.Clarify, Field: "field", Operator: OpEq, Value: 0},
			}},
			{Eye: eyes.Evidence},
		},
	}

	res, err := newTestExecutor(t, src).Execute(context.Background(), def, Input{Task: "review the draft"})
	require.NoError(t, err)
	require.Len(t, res.Steps, 3)
	assert.False(t, res.Steps[0].Skipped)
	assert.True(t, res.Steps[1].Skipped)
	assert.Nil(t, res.Steps[1].Result)
	assert.False(t, res.Steps[2].Skipped)
	assert.NotNil(t, res.Steps[2].Result)
	assert.True(t, res.Success)

	_, ok := res.CombinedOutput[string(eyes.Consistency)]
	assert.False(t, ok, "skipped step must leave no output")
}

func TestExecuteIdempotence(t *testing.T) {
	src := stubSource{
		eyes.Clarify:     stubReturning(eyes.Clarify, envelope.CodeOKClear, envelope.WithData(map[string]any{"score": 0.12})),
		eyes.Consistency: stubReturning(eyes.Consistency, envelope.CodeOKConsistent),
		eyes.Evidence:    stubReturning(eyes.Evidence, envelope.CodeOKEvidenceValid),
	}
	def := Definition{
		ID:   "repeat",
		Name: "Repeat run",
		Steps: []Step{
			{Eye: eyes.Clarify},
			{Eye: eyes.Consistency, Conditions: &Conditions{
				SkipIf: &SkipCondition{PreviousEye: eyes.Clarify, Field: "score", Operator: OpLt, Value: 0.5},
			}},
			{Eye: eyes.Evidence},
		},
	}

	exec := newTestExecutor(t, src)
	first, err := exec.Execute(context.Background(), def, Input{Task: "same input"})
	require.NoError(t, err)
	second, err := exec.Execute(context.Background(), def, Input{Task: "same input"})
	require.NoError(t, err)

	require.Len(t, second.Steps, len(first.Steps))
	for i := range first.Steps {
		assert.Equal(t, first.Steps[i].Skipped, second.Steps[i].Skipped, "step %d skipped differs", i)
	}
	assert.Equal(t, first.Success, second.Success)
}

func TestExecuteHaltsOnFailure(t *testing.T) {
	src := stubSource{
		eyes.Clarify:  stubReturning(eyes.Clarify, envelope.CodeOKClear),
		eyes.Evidence: stubReturning(eyes.Evidence, envelope.CodeErrNeedsEvidence),
		eyes.Memory:   stubReturning(eyes.Memory, envelope.CodeOKMemoryStored),
	}
	def := Definition{
		ID:   "halt",
		Name: "Halt on failure",
		Steps: []Step{
			{Eye: eyes.Clarify},
			{Eye: eyes.Evidence},
			{Eye: eyes.Memory},
		},
	}

	res, err := newTestExecutor(t, src).Execute(context.Background(), def, Input{Task: "prove it"})
	require.NoError(t, err)
	require.Len(t, res.Steps, 2, "halted steps must not appear in the result")
	assert.Equal(t, eyes.Evidence, res.Steps[1].Eye)
	assert.NotEmpty(t, res.Steps[1].Error)
	assert.False(t, res.Success)
}

func TestExecuteContinueOnFailure(t *testing.T) {
	src := stubSource{
		eyes.Clarify:  stubReturning(eyes.Clarify, envelope.CodeOKClear),
		eyes.Evidence: stubReturning(eyes.Evidence, envelope.CodeErrNeedsEvidence),
		eyes.Memory:   stubReturning(eyes.Memory, envelope.CodeOKMemoryStored),
	}
	def := Definition{
		ID:   "tolerant",
		Name: "Tolerant run",
		Steps: []Step{
			{Eye: eyes.Clarify},
			{Eye: eyes.Evidence, Conditions: &Conditions{ContinueOnFailure: true}},
			{Eye: eyes.Memory},
		},
	}

	res, err := newTestExecutor(t, src).Execute(context.Background(), def, Input{Task: "prove it"})
	require.NoError(t, err)
	require.Len(t, res.Steps, 3)
	assert.NotEmpty(t, res.Steps[1].Error)
	assert.Empty(t, res.Steps[2].Error)
	assert.False(t, res.Success)
}

func TestExecuteClarificationDoesNotFailStep(t *testing.T) {
	src := stubSource{
		eyes.Clarify: stubReturning(eyes.Clarify, envelope.CodeNeedClarification),
		eyes.Memory:  stubReturning(eyes.Memory, envelope.CodeOKMemoryStored),
	}
	def := Definition{
		ID:    "clarify-first",
		Name:  "Clarify first",
		Steps: []Step{{Eye: eyes.Clarify}, {Eye: eyes.Memory}},
	}

	res, err := newTestExecutor(t, src).Execute(context.Background(), def, Input{Task: "make it better"})
	require.NoError(t, err)
	require.Len(t, res.Steps, 2)
	assert.Empty(t, res.Steps[0].Error)
	assert.False(t, res.Steps[0].Result.OK)
	assert.True(t, res.Success)
}

func TestExecuteCapturesPanics(t *testing.T) {
	src := stubSource{
		eyes.Clarify: stubEye{id: eyes.Clarify, run: func(ctx context.Context, req eyes.Request) envelope.Envelope {
			panic("boom")
		}},
		eyes.Memory: stubReturning(eyes.Memory, envelope.CodeOKMemoryStored),
	}
	def := Definition{
		ID:    "panicky",
		Name:  "Panicky stage",
		Steps: []Step{{Eye: eyes.Clarify}, {Eye: eyes.Memory}},
	}

	res, err := newTestExecutor(t, src).Execute(context.Background(), def, Input{Task: "anything"})
	require.NoError(t, err, "a panicking stage must not crash the run")
	require.Len(t, res.Steps, 1)
	assert.Contains(t, res.Steps[0].Error, "stage panicked")
	assert.Nil(t, res.Steps[0].Result)
	assert.False(t, res.Success)
}

func TestExecuteMissingSkipFieldNeverSkips(t *testing.T) {
	src := stubSource{
		eyes.Clarify: stubReturning(eyes.Clarify, envelope.CodeOKClear),
		eyes.Memory:  stubReturning(eyes.Memory, envelope.CodeOKMemoryStored),
	}
	def := Definition{
		ID:   "missing-field",
		Name: "Missing field",
		Steps: []Step{
			{Eye: eyes.Clarify},
			{Eye: eyes.Memory, Conditions: &Conditions{
				SkipIf: &SkipCondition{PreviousEye: eyes.Clarify, Field: "data.absent.path", Operator: OpEq, Value: 1},
			}},
		},
	}

	res, err := newTestExecutor(t, src).Execute(context.Background(), def, Input{Task: "store this"})
	require.NoError(t, err)
	require.Len(t, res.Steps, 2)
	assert.False(t, res.Steps[1].Skipped)
}

func TestExecuteSkipConditionOnVerdictFields(t *testing.T) {
	src := stubSource{
		eyes.Clarify: stubReturning(eyes.Clarify, envelope.CodeOKClear),
		eyes.Memory:  stubReturning(eyes.Memory, envelope.CodeOKMemoryStored),
	}
	def := Definition{
		ID:   "verdict-skip",
		Name: "Verdict skip",
		Steps: []Step{
			{Eye: eyes.Clarify},
			{Eye: eyes.Memory, Conditions: &Conditions{
				SkipIf: &SkipCondition{PreviousEye: eyes.Clarify, Field: "code", Operator: OpEq, Value: string(envelope.CodeOKClear)},
			}},
		},
	}

	res, err := newTestExecutor(t, src).Execute(context.Background(), def, Input{Task: "clear task"})
	require.NoError(t, err)
	require.Len(t, res.Steps, 2)
	assert.True(t, res.Steps[1].Skipped)
}

func TestExecuteNestedDotPath(t *testing.T) {
	src := stubSource{
		eyes.TestsReview: stubReturning(eyes.TestsReview, envelope.CodeOKTestsApproved,
			envelope.WithData(map[string]any{"coverage": map[string]any{"lines": 92.5, "branches": 80.1}})),
		eyes.Memory: stubReturning(eyes.Memory, envelope.CodeOKMemoryStored),
	}
	def := Definition{
		ID:   "nested",
		Name: "Nested lookup",
		Steps: []Step{
			{Eye: eyes.TestsReview},
			{Eye: eyes.Memory, Conditions: &Conditions{
				SkipIf: &SkipCondition{PreviousEye: eyes.TestsReview, Field: "coverage.lines", Operator: OpGte, Value: 90},
			}},
		},
	}

	res, err := newTestExecutor(t, src).Execute(context.Background(), def, Input{
		Task:    "review tests",
		Payload: map[string]any{"reasoning": "coverage inspected", "report": "lines: 92.5%\nbranches: 80.1%"},
	})
	require.NoError(t, err)
	require.Len(t, res.Steps, 2)
	assert.True(t, res.Steps[1].Skipped, "nested dot-path should resolve into stage data")
}

func TestExecuteStepConfigOverridesInput(t *testing.T) {
	var seen map[string]any
	src := stubSource{
		eyes.Clarify: stubEye{id: eyes.Clarify, run: func(ctx context.Context, req eyes.Request) envelope.Envelope {
			seen = req.Payload
			return envelope.New("clarify", envelope.CodeOKClear)
		}},
	}
	def := Definition{
		ID:   "config",
		Name: "Config override",
		Steps: []Step{
			{Eye: eyes.Clarify, Config: map[string]any{"mode": "fast", "extra": true}},
		},
	}

	_, err := newTestExecutor(t, src).Execute(context.Background(), def, Input{
		Task:    "check config",
		Payload: map[string]any{"mode": "slow", "shared": "yes"},
	})
	require.NoError(t, err)
	assert.Equal(t, "fast", seen["mode"])
	assert.Equal(t, true, seen["extra"])
	assert.Equal(t, "yes", seen["shared"])
}

func TestExecuteRejectsInvalidDefinition(t *testing.T) {
	def := Definition{ID: "bad", Name: "Bad"}
	_, err := newTestExecutor(t, stubSource{}).Execute(context.Background(), def, Input{})
	assert.Error(t, err)
}

func TestExecuteCancelledContextHalts(t *testing.T) {
	src := stubSource{
		eyes.Clarify: stubReturning(eyes.Clarify, envelope.CodeOKClear),
	}
	def := Definition{
		ID:    "cancelled",
		Name:  "Cancelled",
		Steps: []Step{{Eye: eyes.Clarify}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newTestExecutor(t, src).Execute(ctx, def, Input{Task: "never runs"})
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)
	assert.NotEmpty(t, res.Steps[0].Error)
	assert.False(t, res.Success)
}

func TestExecuteRecordsLatency(t *testing.T) {
	src := stubSource{
		eyes.Clarify: stubReturning(eyes.Clarify, envelope.CodeOKClear),
	}
	def := Definition{
		ID:    "timed",
		Name:  "Timed",
		Steps: []Step{{Eye: eyes.Clarify}},
	}

	res, err := newTestExecutor(t, src).Execute(context.Background(), def, Input{Task: "time me"})
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)
	assert.Greater(t, res.Steps[0].LatencyMs, int64(0))
	assert.Greater(t, res.TotalLatencyMs, int64(0))
}

func TestExecutePublishesStepEvents(t *testing.T) {
	src := stubSource{
		eyes.Clarify:     stubReturning(eyes.Clarify, envelope.CodeOKClear, envelope.WithData(map[string]any{"field": 0})),
		eyes.Consistency: stubReturning(eyes.Consistency, envelope.CodeOKConsistent),
		eyes.Evidence:    stubReturning(eyes.Evidence, envelope.CodeOKEvidenceValid),
	}
	def := Definition{
		ID:   "eventful",
		Name: "Eventful run",
		Steps: []Step{
			{Eye: eyes.Clarify},
			{Eye: eyes.Consistency, Conditions: &Conditions{
				SkipIf: &SkipCondition{PreviousEye: eyes.Clarify, Field: "field", Operator: OpEq, Value: 0},
			}},
			{Eye: eyes.Evidence},
		},
	}

	bus := events.NewBus(16)
	clock := &tickClock{t: time.Unix(1700000000, 0), step: 5 * time.Millisecond}
	exec := NewExecutor(src, ExecutorOptions{Clock: clock.Now, Logger: zaptest.NewLogger(t), Bus: bus})

	_, err := exec.Execute(context.Background(), def, Input{SessionID: "sess-events", Task: "review"})
	require.NoError(t, err)

	got := bus.ReplaySince("sess-events", 0)
	require.Len(t, got, 5)
	assert.Equal(t, events.TypePipelineStepStarted, got[0].Type)
	assert.Equal(t, string(eyes.Clarify), got[0].Eye)
	assert.Equal(t, events.TypePipelineStepCompleted, got[1].Type)
	assert.Equal(t, string(envelope.CodeOKClear), got[1].Code)
	assert.Equal(t, events.TypePipelineStepSkipped, got[2].Type)
	assert.Equal(t, string(eyes.Consistency), got[2].Eye)
	assert.Equal(t, events.TypePipelineStepStarted, got[3].Type)
	assert.Equal(t, events.TypePipelineStepCompleted, got[4].Type)
	assert.Equal(t, string(eyes.Evidence), got[4].Eye)
}

func TestExecuteWithoutSessionStaysSilent(t *testing.T) {
	src := stubSource{
		eyes.Clarify: stubReturning(eyes.Clarify, envelope.CodeOKClear),
	}
	def := Definition{
		ID:    "quiet",
		Name:  "Quiet run",
		Steps: []Step{{Eye: eyes.Clarify}},
	}

	bus := events.NewBus(16)
	clock := &tickClock{t: time.Unix(1700000000, 0), step: 5 * time.Millisecond}
	exec := NewExecutor(src, ExecutorOptions{Clock: clock.Now, Logger: zaptest.NewLogger(t), Bus: bus})

	_, err := exec.Execute(context.Background(), def, Input{Task: "no session"})
	require.NoError(t, err)
	assert.Empty(t, bus.ReplaySince("", 0))
}

func TestExecuteWithRealRegistry(t *testing.T) {
	reg := eyes.NewRegistry()
	def := Definition{
		ID:    "live-clarify",
		Name:  "Live clarify",
		Steps: []Step{{Eye: eyes.Clarify}},
	}

	res, err := newTestExecutor(t, reg).Execute(context.Background(), def, Input{
		Task:     "make it better",
		Settings: eyes.DefaultSettings(),
	})
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)
	require.NotNil(t, res.Steps[0].Result)
	assert.False(t, res.Steps[0].Result.OK)
	assert.True(t, res.Steps[0].Result.Code.IsClarification())
	assert.Empty(t, res.Steps[0].Error)
	assert.True(t, res.Success, "a clarification verdict is not a step failure")
}
