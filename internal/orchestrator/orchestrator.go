// Package orchestrator drives the auto-routed validation loop: route,
// vet against the order guard, run the stage, persist, publish, repeat
// until the task completes, pauses for input or runs out of budget.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arguslabs/argus/internal/cache"
	"github.com/arguslabs/argus/internal/envelope"
	"github.com/arguslabs/argus/internal/events"
	"github.com/arguslabs/argus/internal/eyes"
	"github.com/arguslabs/argus/internal/guard"
	"github.com/arguslabs/argus/internal/metrics"
	"github.com/arguslabs/argus/internal/router"
	"github.com/arguslabs/argus/internal/routing"
	"github.com/arguslabs/argus/internal/session"
	"github.com/arguslabs/argus/internal/store"
)

// Boundary error codes. Stage-level failures are envelopes, never
// errors; these two name the loop's own failure modes.
const (
	CodeOrderViolation     = "PIPELINE_ORDER"
	CodePipelineIncomplete = "PIPELINE_INCOMPLETE"
)

// ErrOrderViolation wraps a guard rejection that escaped the router's
// own filtering. Nothing is executed or persisted for that hop.
var ErrOrderViolation = errors.New("stage order violation")

// StageSource resolves stage ids to runnable eyes; *eyes.Registry
// satisfies it.
type StageSource interface {
	Get(id eyes.ID) (eyes.Eye, error)
}

// Sessions is the slice of the session manager the loop needs. Create
// with an existing id resumes rather than restarts.
type Sessions interface {
	Create(ctx context.Context, id, task string, settings eyes.Settings) (*session.Session, error)
	Update(ctx context.Context, sess *session.Session) error
}

// Recorder receives the durable write stream; *store.Store satisfies
// it. Writes are fire-and-forget.
type Recorder interface {
	QueueRun(run *store.RunRecord, callback func(error))
	QueueSessionSnapshot(rec *store.SessionRecord, callback func(error))
	QueueMemory(rec *store.MemoryRecord, callback func(error))
}

// ModelResolver stamps run records with the assignment that served the
// hop; *routing.Table satisfies it.
type ModelResolver interface {
	Resolve(eye eyes.ID) (routing.Assignment, error)
}

// Request is one task submission.
type Request struct {
	Task      string
	SessionID string
	Context   map[string]any
	Config    map[string]any
}

// Result is what a submission returns: the terminal state or the
// envelope the task paused on.
type Result struct {
	SessionID  string             `json:"session_id"`
	Status     session.Status     `json:"status"`
	Code       string             `json:"code,omitempty"`
	Envelope   *envelope.Envelope `json:"envelope,omitempty"`
	Reasoning  string             `json:"reasoning,omitempty"`
	Hops       int                `json:"hops"`
	TokensUsed int                `json:"tokens_used"`
}

// Options configures the loop. Zero values select the defaults.
type Options struct {
	// MaxHops caps stage executions per session, default 16.
	MaxHops int
	// TokenBudget is the default per-session ceiling; zero means
	// unlimited. A session config "token_budget" overrides it.
	TokenBudget int
	// BackpressureAt is the budget fraction past which hops are rate
	// limited, default 0.8.
	BackpressureAt float64
	// BackpressureRate is the hops-per-second ceiling once
	// backpressure engages, default 2.
	BackpressureRate float64
	Cache            *cache.Service
	Routing          ModelResolver
	Bus              *events.Bus
	Logger           *zap.Logger
	Clock            func() time.Time
}

// Orchestrator owns the auto-router path.
type Orchestrator struct {
	registry StageSource
	router   router.Router
	guard    *guard.Guard
	sessions Sessions
	recorder Recorder

	cache   *cache.Service
	routing ModelResolver
	bus     *events.Bus

	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
	limiter *rate.Limiter

	maxHops        int
	tokenBudget    int
	backpressureAt float64
}

// New wires the loop. Registry, router, guard, sessions and recorder
// are required; everything in Options is optional.
func New(registry StageSource, rt router.Router, g *guard.Guard, sessions Sessions, recorder Recorder, opts Options) (*Orchestrator, error) {
	if registry == nil || rt == nil || g == nil || sessions == nil || recorder == nil {
		return nil, fmt.Errorf("orchestrator: registry, router, guard, sessions and recorder are required")
	}
	if opts.MaxHops <= 0 {
		opts.MaxHops = 16
	}
	if opts.BackpressureAt <= 0 || opts.BackpressureAt >= 1 {
		opts.BackpressureAt = 0.8
	}
	if opts.BackpressureRate <= 0 {
		opts.BackpressureRate = 2
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Orchestrator{
		registry:       registry,
		router:         rt,
		guard:          g,
		sessions:       sessions,
		recorder:       recorder,
		cache:          opts.Cache,
		routing:        opts.Routing,
		bus:            opts.Bus,
		logger:         opts.Logger,
		tracer:         otel.Tracer("argus/orchestrator"),
		now:            opts.Clock,
		limiter:        rate.NewLimiter(rate.Limit(opts.BackpressureRate), 1),
		maxHops:        opts.MaxHops,
		tokenBudget:    opts.TokenBudget,
		backpressureAt: opts.BackpressureAt,
	}, nil
}

// SubmitTask runs the loop for one submission. Resubmitting a paused
// session's id resumes it; new context keys are merged in first so
// clarification answers reach the next stage.
func (o *Orchestrator) SubmitTask(ctx context.Context, req Request) (*Result, error) {
	if req.Task == "" {
		return nil, fmt.Errorf("task is required")
	}

	settings, err := eyes.SettingsFromConfig(req.Config)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	sess, err := o.sessions.Create(ctx, req.SessionID, req.Task, settings)
	if err != nil {
		return nil, err
	}
	o.prepare(sess, req)
	metrics.TasksSubmitted.Inc()

	return o.loop(ctx, sess)
}

// prepare merges submission context into the session and wakes a
// paused session for another pass. A resubmission may refine the task
// text; clarification stages score the prompt itself, so answering
// their questions means sharpening it.
func (o *Orchestrator) prepare(sess *session.Session, req Request) {
	if req.Task != "" && req.Task != sess.Task {
		sess.Task = req.Task
	}
	for k, v := range req.Context {
		sess.SetContextValue(k, v)
	}
	if sess.TokenBudget == 0 {
		sess.TokenBudget = o.tokenBudget
	}
	if raw, ok := sess.GetContextValue("token_budget"); ok {
		if budget, ok := asInt(raw); ok && budget > 0 {
			sess.TokenBudget = budget
		}
	}
	if sess.AwaitingInput() {
		sess.Status = session.StatusRunning
		sess.PendingQuestion = ""
	}
}

func (o *Orchestrator) loop(ctx context.Context, sess *session.Session) (*Result, error) {
	if sess.Terminal() {
		return o.finish(ctx, sess, "", nil), nil
	}

	// The cap counts hops within this submission; a resumed session
	// gets a fresh allowance. Lifetime spend is the budget's job.
	startHops := sess.Hops

	lastReasoning := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if sess.Hops-startHops >= o.maxHops {
			return o.incomplete(ctx, sess, lastReasoning,
				fmt.Sprintf("hop cap of %d reached", o.maxHops)), nil
		}
		if !sess.WithinBudget(1) {
			metrics.BudgetDenials.Inc()
			return o.incomplete(ctx, sess, lastReasoning,
				fmt.Sprintf("token budget of %d exhausted", sess.TokenBudget)), nil
		}
		o.applyBackpressure(ctx, sess)

		decision, err := o.router.Route(ctx, sess.Task, router.State{
			Executed:       sess.History,
			SessionContext: sess.Context,
		})
		if errors.Is(err, router.ErrExhausted) {
			return o.incomplete(ctx, sess, lastReasoning, "no eligible stage remains"), nil
		}
		if err != nil {
			// Cancellation is the caller leaving, not the task failing.
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			err = fmt.Errorf("route: %w", err)
			o.fail(ctx, sess, err)
			return nil, err
		}
		lastReasoning = decision.Reasoning

		verdict := o.guard.Allowed(decision.Eye, sess.History)
		if !verdict.Allowed {
			metrics.GuardRejections.WithLabelValues(string(decision.Eye)).Inc()
			o.logger.Warn("Routed stage failed guard check",
				zap.String("session_id", sess.ID),
				zap.String("eye", string(decision.Eye)),
				zap.String("reason", verdict.Reason))
			return nil, fmt.Errorf("%w: %s", ErrOrderViolation, verdict.Reason)
		}

		o.recordRouterHop(sess, decision)

		env, err := o.runStage(ctx, sess, decision)
		if err != nil {
			o.fail(ctx, sess, err)
			return nil, err
		}

		if decision.Eye == eyes.Approval && env.OK {
			return o.complete(ctx, sess, env), nil
		}
		if env.Blocking() {
			return o.pause(ctx, sess, env), nil
		}
	}
}

// applyBackpressure slows the loop once token spend crosses the soft
// threshold.
func (o *Orchestrator) applyBackpressure(ctx context.Context, sess *session.Session) {
	if sess.TokenBudget <= 0 {
		return
	}
	if float64(sess.TokensUsed) < o.backpressureAt*float64(sess.TokenBudget) {
		return
	}
	metrics.BudgetBackpressure.Inc()
	o.logger.Info("Session near token budget, applying backpressure",
		zap.String("session_id", sess.ID),
		zap.Int("tokens_used", sess.TokensUsed),
		zap.Int("token_budget", sess.TokenBudget))
	_ = o.limiter.Wait(ctx)
}

// recordRouterHop persists the routing decision next to stage runs and
// charges its token spend.
func (o *Orchestrator) recordRouterHop(sess *session.Session, decision router.Decision) {
	sess.AddTokens(decision.TokensUsed)
	metrics.RecordSessionTokens(decision.TokensUsed)

	rec := &store.RunRecord{
		ID:        uuid.New().String(),
		SessionID: sess.ID,
		Eye:       string(eyes.Router),
		Code:      string(envelope.CodeOKRouted),
		OK:        true,
		Reasoning: decision.Reasoning,
		TokensIn:  decision.TokensUsed,
		CreatedAt: o.now(),
	}
	if o.routing != nil {
		if a, err := o.routing.Resolve(eyes.Router); err == nil {
			rec.Provider = a.PrimaryProvider
			rec.Model = a.PrimaryModel
		}
	}
	o.recorder.QueueRun(rec, nil)
}

// runStage executes one vetted stage: cache lookup, eye run, history
// append, persistence, event publication.
func (o *Orchestrator) runStage(ctx context.Context, sess *session.Session, decision router.Decision) (*envelope.Envelope, error) {
	eye, err := o.registry.Get(decision.Eye)
	if err != nil {
		return nil, fmt.Errorf("resolve stage: %w", err)
	}

	ctx, span := o.tracer.Start(ctx, "eye.run",
		trace.WithAttributes(
			attribute.String("eye", string(decision.Eye)),
			attribute.String("session_id", sess.ID),
		))
	defer span.End()

	o.publish(events.Event{
		SessionID: sess.ID,
		Type:      events.TypeEyeStarted,
		Eye:       string(decision.Eye),
		Message:   decision.Reasoning,
	})

	req := o.stageRequest(sess, decision.Eye)
	key := cacheInput{
		Task:      req.Task,
		Payload:   req.Payload,
		Reasoning: req.Reasoning,
		Settings:  req.Settings,
	}
	start := o.now()

	env, cached := o.cachedResult(decision.Eye, key)
	if !cached {
		result := eye.Run(ctx, req)
		env = &result
		o.cacheResult(decision.Eye, key, env)
	}
	latency := o.now().Sub(start)

	now := o.now()
	exec := guard.Execution{Eye: decision.Eye, Code: string(env.Code), OK: env.OK, CreatedAt: now}
	sess.RecordRun(exec)
	metrics.RecordEyeRun(string(decision.Eye), string(env.Code), float64(latency.Milliseconds()))

	o.persistStageRun(sess, decision, env, latency, now)
	o.persistMemoryFacts(sess, decision.Eye, env, now)

	if err := o.sessions.Update(ctx, sess); err != nil {
		o.logger.Error("Session update failed",
			zap.String("session_id", sess.ID), zap.Error(err))
	}

	o.publish(events.Event{
		SessionID: sess.ID,
		Type:      events.TypeEyeCompleted,
		Eye:       string(decision.Eye),
		Code:      string(env.Code),
	})
	return env, nil
}

// stageRequest builds the eye input from session state. The aggregate
// gate gets its verdict list assembled from history rather than from
// the caller: the loop owns the authoritative record.
func (o *Orchestrator) stageRequest(sess *session.Session, eye eyes.ID) eyes.Request {
	req := eyes.Request{
		Task:     sess.Task,
		Settings: sess.Settings,
		Context:  sess.Context,
	}
	if raw, ok := sess.GetContextValue("payload"); ok {
		if payload, ok := raw.(map[string]any); ok {
			req.Payload = make(map[string]any, len(payload)+1)
			for k, v := range payload {
				req.Payload[k] = v
			}
		}
	}
	if raw, ok := sess.GetContextValue("reasoning"); ok {
		if reasoning, ok := raw.(string); ok {
			req.Reasoning = reasoning
		}
	}
	if eye == eyes.FinalReview {
		if req.Payload == nil {
			req.Payload = make(map[string]any, 1)
		}
		req.Payload["verdicts"] = verdictsFromHistory(sess.History)
	}
	return req
}

// verdictsFromHistory reduces the run history to the latest verdict per
// stage, in first-seen order. Superseded failures vanish: a stage that
// blocked once but passed on resume counts as passed. The aggregate
// gate's own earlier attempts are excluded so a stale rejection cannot
// veto the rerun.
func verdictsFromHistory(history []guard.Execution) []any {
	order := make([]eyes.ID, 0, len(history))
	latest := make(map[eyes.ID]guard.Execution, len(history))
	for _, exec := range history {
		if exec.Eye == eyes.FinalReview {
			continue
		}
		if _, seen := latest[exec.Eye]; !seen {
			order = append(order, exec.Eye)
		}
		latest[exec.Eye] = exec
	}

	verdicts := make([]any, 0, len(order))
	for _, eye := range order {
		exec := latest[eye]
		verdicts = append(verdicts, map[string]any{
			"eye":  string(exec.Eye),
			"ok":   exec.OK,
			"code": exec.Code,
		})
	}
	return verdicts
}

// cacheInput is the cache key material: exactly the fields a cacheable
// stage's output is a function of. Session context stays out so
// identical submissions share entries across sessions.
type cacheInput struct {
	Task      string         `json:"task"`
	Payload   map[string]any `json:"payload,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
	Settings  eyes.Settings  `json:"settings"`
}

// cachedResult round-trips a cache hit back into an envelope. Failures
// degrade to a miss.
func (o *Orchestrator) cachedResult(eye eyes.ID, key cacheInput) (*envelope.Envelope, bool) {
	if o.cache == nil {
		return nil, false
	}
	data, ok := o.cache.Get(eye, key)
	if !ok {
		return nil, false
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	var env envelope.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	if env.Code == "" {
		return nil, false
	}
	return &env, true
}

func (o *Orchestrator) cacheResult(eye eyes.ID, key cacheInput, env *envelope.Envelope) {
	if o.cache == nil {
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return
	}
	o.cache.Set(eye, key, data)
}

func (o *Orchestrator) persistStageRun(sess *session.Session, decision router.Decision, env *envelope.Envelope, latency time.Duration, now time.Time) {
	raw, err := json.Marshal(env)
	if err != nil {
		raw = nil
	}
	rec := &store.RunRecord{
		ID:         uuid.New().String(),
		SessionID:  sess.ID,
		Eye:        string(decision.Eye),
		Code:       string(env.Code),
		OK:         env.OK,
		NextAction: env.NextAction,
		Reasoning:  decision.Reasoning,
		Envelope:   raw,
		LatencyMs:  latency.Milliseconds(),
		CreatedAt:  now,
	}
	if o.routing != nil {
		if a, err := o.routing.Resolve(decision.Eye); err == nil {
			rec.Provider = a.PrimaryProvider
			rec.Model = a.PrimaryModel
		}
	}
	o.recorder.QueueRun(rec, nil)
}

// persistMemoryFacts stores what the memory stage extracted.
func (o *Orchestrator) persistMemoryFacts(sess *session.Session, eye eyes.ID, env *envelope.Envelope, now time.Time) {
	if eye != eyes.Memory || !env.OK {
		return
	}
	for _, fact := range stringList(env.Data["facts"]) {
		o.recorder.QueueMemory(&store.MemoryRecord{
			ID:        uuid.New().String(),
			SessionID: sess.ID,
			Fact:      fact,
			CreatedAt: now,
		}, nil)
	}
}

func (o *Orchestrator) complete(ctx context.Context, sess *session.Session, env *envelope.Envelope) *Result {
	sess.Status = session.StatusCompleted
	o.publish(events.Event{SessionID: sess.ID, Type: events.TypeTaskCompleted, Code: string(env.Code)})
	metrics.RecordTaskCompletion(string(session.StatusCompleted), sess.Hops, sess.TokensUsed)
	o.logger.Info("Task completed",
		zap.String("session_id", sess.ID),
		zap.Int("hops", sess.Hops),
		zap.Int("tokens_used", sess.TokensUsed))
	return o.finish(ctx, sess, "", env)
}

func (o *Orchestrator) pause(ctx context.Context, sess *session.Session, env *envelope.Envelope) *Result {
	sess.Status = session.StatusPaused
	sess.PendingQuestion = env.MD
	if env.AwaitsInput() {
		if questions := stringList(env.Data["questions"]); len(questions) > 0 {
			sess.SetContextValue("pending_questions", questions)
		} else if questions := stringList(env.Data["pending_questions"]); len(questions) > 0 {
			sess.SetContextValue("pending_questions", questions)
		}
	}
	o.publish(events.Event{
		SessionID: sess.ID,
		Type:      events.TypeTaskPaused,
		Eye:       env.Tag,
		Code:      string(env.Code),
		Message:   env.NextAction,
	})
	o.logger.Info("Task paused awaiting input",
		zap.String("session_id", sess.ID),
		zap.String("eye", env.Tag),
		zap.String("code", string(env.Code)))
	return o.finish(ctx, sess, "", env)
}

func (o *Orchestrator) incomplete(ctx context.Context, sess *session.Session, lastReasoning, detail string) *Result {
	sess.Status = session.StatusIncomplete
	o.publish(events.Event{
		SessionID: sess.ID,
		Type:      events.TypeTaskIncomplete,
		Message:   detail,
	})
	metrics.RecordTaskCompletion(string(session.StatusIncomplete), sess.Hops, sess.TokensUsed)
	o.logger.Warn("Task stopped before a terminal stage",
		zap.String("session_id", sess.ID),
		zap.String("detail", detail),
		zap.Int("hops", sess.Hops))

	result := o.finish(ctx, sess, CodePipelineIncomplete, nil)
	result.Reasoning = lastReasoning
	return result
}

// fail marks the session failed on an unrecoverable loop error. Order
// violations never land here: nothing ran for that hop, so the session
// stays resumable as it was.
func (o *Orchestrator) fail(ctx context.Context, sess *session.Session, cause error) {
	sess.Status = session.StatusFailed
	o.publish(events.Event{
		SessionID: sess.ID,
		Type:      events.TypeTaskFailed,
		Message:   cause.Error(),
	})
	metrics.RecordTaskCompletion(string(session.StatusFailed), sess.Hops, sess.TokensUsed)
	o.logger.Error("Task failed",
		zap.String("session_id", sess.ID),
		zap.Error(cause))
	o.finish(ctx, sess, "", nil)
}

// finish snapshots the session and assembles the result.
func (o *Orchestrator) finish(ctx context.Context, sess *session.Session, code string, env *envelope.Envelope) *Result {
	if err := o.sessions.Update(ctx, sess); err != nil {
		o.logger.Error("Final session update failed",
			zap.String("session_id", sess.ID), zap.Error(err))
	}
	o.snapshot(sess)

	return &Result{
		SessionID:  sess.ID,
		Status:     sess.Status,
		Code:       code,
		Envelope:   env,
		Hops:       sess.Hops,
		TokensUsed: sess.TokensUsed,
	}
}

// snapshot queues the durable session row.
func (o *Orchestrator) snapshot(sess *session.Session) {
	rec := &store.SessionRecord{
		ID:          sess.ID,
		Task:        sess.Task,
		Status:      string(sess.Status),
		Strictness:  string(sess.Settings.Strictness),
		TokensUsed:  sess.TokensUsed,
		TokenBudget: sess.TokenBudget,
		Hops:        sess.Hops,
		Context:     store.MarshalContext(sess.Context),
		CreatedAt:   sess.CreatedAt,
		UpdatedAt:   sess.UpdatedAt,
	}
	if sess.Terminal() {
		completed := o.now()
		rec.CompletedAt = &completed
	}
	o.recorder.QueueSessionSnapshot(rec, nil)
}

func (o *Orchestrator) publish(evt events.Event) {
	if o.bus == nil {
		return
	}
	evt.Timestamp = o.now()
	o.bus.Publish(evt)
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// stringList tolerates both []string from a fresh envelope and []any
// from one that round-tripped through JSON.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, raw := range list {
			if s, ok := raw.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
