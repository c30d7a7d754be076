package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arguslabs/argus/internal/envelope"
	"github.com/arguslabs/argus/internal/events"
	"github.com/arguslabs/argus/internal/eyes"
	"github.com/arguslabs/argus/internal/metrics"
)

// Input is the caller-supplied material a pipeline run works on. The
// payload is shared by every step; per-step config overrides it. A
// non-empty SessionID keys step progress events on the bus.
type Input struct {
	SessionID string
	Task      string
	Payload   map[string]any
	Settings  eyes.Settings
}

// StepResult records one step of a run. Halted steps do not appear at
// all; skipped steps appear with Skipped set and no envelope.
type StepResult struct {
	Eye       eyes.ID            `json:"eye"`
	Skipped   bool               `json:"skipped"`
	Error     string             `json:"error,omitempty"`
	Result    *envelope.Envelope `json:"result,omitempty"`
	LatencyMs int64              `json:"latency_ms,omitempty"`
}

// Result is the outcome of one pipeline execution.
type Result struct {
	PipelineID     string         `json:"pipeline_id"`
	Success        bool           `json:"success"`
	Steps          []StepResult   `json:"steps"`
	TotalLatencyMs int64          `json:"total_latency_ms"`
	CombinedOutput map[string]any `json:"combined_output"`
}

// StageSource resolves stage ids to implementations. *eyes.Registry
// satisfies it.
type StageSource interface {
	Get(id eyes.ID) (eyes.Eye, error)
}

// Executor runs pipeline definitions against a stage source. It holds
// no per-run state, so a single executor serves concurrent runs.
type Executor struct {
	registry StageSource
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
	bus      *events.Bus
}

// ExecutorOptions configures an Executor. The zero value uses the wall
// clock and a no-op logger; a nil Bus disables step events.
type ExecutorOptions struct {
	Clock  func() time.Time
	Logger *zap.Logger
	Bus    *events.Bus
}

func NewExecutor(registry StageSource, opts ExecutorOptions) *Executor {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		registry: registry,
		logger:   logger,
		tracer:   otel.Tracer("argus/pipeline"),
		now:      now,
		bus:      opts.Bus,
	}
}

// Execute runs def from its first step to its end or first hard
// failure. A step failure (error-family verdict or execution error)
// halts the run unless the step sets continueOnFailure; halted steps
// are absent from the result. Validation errors are returned before
// anything runs.
func (e *Executor) Execute(ctx context.Context, def Definition, input Input) (Result, error) {
	if err := Validate(def); err != nil {
		return Result{}, err
	}

	ctx, span := e.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("pipeline_id", def.ID)))
	defer span.End()

	started := e.now()
	res := Result{
		PipelineID:     def.ID,
		Success:        true,
		Steps:          make([]StepResult, 0, len(def.Steps)),
		CombinedOutput: make(map[string]any, len(def.Steps)),
	}
	views := make(map[eyes.ID]map[string]any, len(def.Steps))

	for i, step := range def.Steps {
		if err := ctx.Err(); err != nil {
			res.Steps = append(res.Steps, StepResult{Eye: step.Eye, Error: err.Error()})
			res.Success = false
			metrics.PipelineSteps.WithLabelValues(string(step.Eye), "failed").Inc()
			break
		}

		if shouldSkip(step, views) {
			res.Steps = append(res.Steps, StepResult{Eye: step.Eye, Skipped: true})
			metrics.PipelineSteps.WithLabelValues(string(step.Eye), "skipped").Inc()
			e.publish(input, events.Event{
				Type: events.TypePipelineStepSkipped,
				Eye:  string(step.Eye),
			})
			e.logger.Debug("Pipeline step skipped",
				zap.String("pipeline_id", def.ID),
				zap.String("eye", string(step.Eye)),
				zap.Int("step", i))
			continue
		}

		e.publish(input, events.Event{
			Type: events.TypePipelineStepStarted,
			Eye:  string(step.Eye),
		})
		sr := e.runStep(ctx, step, input)
		res.Steps = append(res.Steps, sr)
		if sr.Result != nil {
			res.CombinedOutput[string(step.Eye)] = *sr.Result
			views[step.Eye] = resultView(*sr.Result)
		}
		done := events.Event{
			Type:    events.TypePipelineStepCompleted,
			Eye:     string(step.Eye),
			Message: sr.Error,
		}
		if sr.Result != nil {
			done.Code = string(sr.Result.Code)
		}
		e.publish(input, done)

		if sr.Error != "" {
			res.Success = false
			metrics.PipelineSteps.WithLabelValues(string(step.Eye), "failed").Inc()
			if step.Conditions == nil || !step.Conditions.ContinueOnFailure {
				e.logger.Info("Pipeline halted on step failure",
					zap.String("pipeline_id", def.ID),
					zap.String("eye", string(step.Eye)),
					zap.Int("step", i),
					zap.String("error", sr.Error))
				break
			}
			continue
		}
		metrics.PipelineSteps.WithLabelValues(string(step.Eye), "completed").Inc()
	}

	res.TotalLatencyMs = e.now().Sub(started).Milliseconds()
	status := "completed"
	if !res.Success {
		status = "failed"
	}
	metrics.RecordPipelineRun(def.ID, status, float64(res.TotalLatencyMs))
	e.logger.Info("Pipeline finished",
		zap.String("pipeline_id", def.ID),
		zap.Bool("success", res.Success),
		zap.Int("steps", len(res.Steps)),
		zap.Int64("total_latency_ms", res.TotalLatencyMs))
	return res, nil
}

// publish emits a step event when the run is tied to a session and a
// bus is wired; standalone runs stay silent.
func (e *Executor) publish(input Input, evt events.Event) {
	if e.bus == nil || input.SessionID == "" {
		return
	}
	evt.SessionID = input.SessionID
	e.bus.Publish(evt)
}

// runStep executes one stage, translating panics and error-family
// verdicts into a step error so a misbehaving stage cannot take down
// the run.
func (e *Executor) runStep(ctx context.Context, step Step, input Input) (sr StepResult) {
	sr.Eye = step.Eye
	ctx, span := e.tracer.Start(ctx, "pipeline.step",
		trace.WithAttributes(attribute.String("eye", string(step.Eye))))
	defer span.End()

	started := e.now()
	defer func() {
		sr.LatencyMs = e.now().Sub(started).Milliseconds()
		if r := recover(); r != nil {
			sr.Result = nil
			sr.Error = fmt.Sprintf("stage panicked: %v", r)
		}
	}()

	eye, err := e.registry.Get(step.Eye)
	if err != nil {
		sr.Error = err.Error()
		return sr
	}

	req := eyes.Request{
		Task:     input.Task,
		Payload:  mergePayload(input.Payload, step.Config),
		Settings: input.Settings,
	}
	if reasoning, ok := req.Payload["reasoning"].(string); ok {
		req.Reasoning = reasoning
	}

	env := eye.Run(ctx, req)
	sr.Result = &env
	if env.Code.IsError() {
		sr.Error = fmt.Sprintf("%s rejected: %s", step.Eye, env.Code)
	}
	return sr
}

func shouldSkip(step Step, views map[eyes.ID]map[string]any) bool {
	if step.Conditions == nil || step.Conditions.SkipIf == nil {
		return false
	}
	skip := step.Conditions.SkipIf
	view, ok := views[skip.PreviousEye]
	if !ok {
		return false
	}
	got, ok := lookupPath(view, skip.Field)
	if !ok {
		return false
	}
	return compare(got, skip.Operator, skip.Value)
}

// resultView flattens an envelope for dot-path lookups: verdict fields
// at the top level, data keys both flattened and reachable under
// "data". Data keys win on collision.
func resultView(env envelope.Envelope) map[string]any {
	view := map[string]any{
		"tag":         env.Tag,
		"ok":          env.OK,
		"code":        string(env.Code),
		"next_action": env.NextAction,
	}
	data := normalizeData(env.Data)
	if data != nil {
		view["data"] = data
		for k, v := range data {
			view[k] = v
		}
	}
	return view
}

// normalizeData round-trips arbitrary data through JSON so lookups see
// the same scalar types a stored or transported result would carry.
func normalizeData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return data
	}
	return out
}

func mergePayload(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
