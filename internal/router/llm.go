package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/arguslabs/argus/internal/eyes"
	"github.com/arguslabs/argus/internal/metrics"
	"github.com/arguslabs/argus/internal/provider"
)

// ClientSource resolves provider names; *provider.Registry satisfies it.
type ClientSource interface {
	Get(name string) (provider.Client, error)
}

// ModelSource resolves which provider and model handle a stage; the
// routing table service satisfies it.
type ModelSource interface {
	ModelFor(eye eyes.ID) (providerName, model string, err error)
}

const routerSystemPrompt = `You route tasks through a validation pipeline. ` +
	`Given the task and the stages already executed, choose the next stage id. ` +
	`Reply with exactly one JSON object: {"eye": "<stage id>", "reasoning": "<one sentence>"}. ` +
	`No other text.`

// LLM asks a model to pick the next stage. Every failure mode falls
// back to the heuristic: provider errors, unparsable replies, unknown
// stage ids, and ids the guard would reject. The decision then carries
// the fallback cause in its reasoning.
type LLM struct {
	clients   ClientSource
	models    ModelSource
	heuristic *Heuristic
	logger    *zap.Logger
}

func NewLLM(clients ClientSource, models ModelSource, heuristic *Heuristic, logger *zap.Logger) *LLM {
	return &LLM{
		clients:   clients,
		models:    models,
		heuristic: heuristic,
		logger:    logger,
	}
}

func (l *LLM) Name() string { return "llm" }

func (l *LLM) Route(ctx context.Context, task string, state State) (Decision, error) {
	decision, err := l.routeViaModel(ctx, task, state)
	if err != nil {
		return l.fallback(ctx, task, state, err)
	}
	metrics.RouterDecisions.WithLabelValues(l.Name(), string(decision.Eye)).Inc()
	return decision, nil
}

func (l *LLM) routeViaModel(ctx context.Context, task string, state State) (Decision, error) {
	providerName, model, err := l.models.ModelFor(eyes.Router)
	if err != nil {
		return Decision{}, fmt.Errorf("no routing assignment: %w", err)
	}
	client, err := l.clients.Get(providerName)
	if err != nil {
		return Decision{}, err
	}

	resp, err := client.Complete(ctx, provider.CompletionRequest{
		Model:     model,
		System:    routerSystemPrompt,
		Prompt:    buildRoutingPrompt(task, state),
		MaxTokens: 200,
	})
	if err != nil {
		return Decision{}, err
	}

	decision, err := parseDecision(resp.Text)
	if err != nil {
		return Decision{}, err
	}
	decision.TokensUsed = resp.TokensUsed

	if !l.heuristic.guard.Allowed(decision.Eye, state.Executed).Allowed {
		return Decision{}, fmt.Errorf("model chose %s but its prerequisites are unmet", decision.Eye)
	}
	return decision, nil
}

func (l *LLM) fallback(ctx context.Context, task string, state State, cause error) (Decision, error) {
	metrics.RouterFallbacks.Inc()
	l.logger.Warn("LLM routing failed, using heuristic",
		zap.Error(cause))

	decision, err := l.heuristic.Route(ctx, task, state)
	if err != nil {
		return Decision{}, err
	}
	decision.Reasoning = fmt.Sprintf("fallback (%v): %s", cause, decision.Reasoning)
	return decision, nil
}

func buildRoutingPrompt(task string, state State) string {
	var b strings.Builder
	b.WriteString("Stages: ")
	for i, id := range eyes.Order {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(id))
	}
	b.WriteString("\n\nTask: ")
	b.WriteString(task)
	b.WriteString("\n\nExecuted so far:\n")
	if len(state.Executed) == 0 {
		b.WriteString("(none)\n")
	}
	for _, run := range state.Executed {
		fmt.Fprintf(&b, "- %s ok=%t code=%s\n", run.Eye, run.OK, run.Code)
	}
	if len(state.SessionContext) > 0 {
		if raw, err := json.Marshal(state.SessionContext); err == nil {
			b.WriteString("\nSession context: ")
			b.Write(raw)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// parseDecision reads the first JSON object out of the reply and
// rejects anything that is not a known, routable stage id.
func parseDecision(reply string) (Decision, error) {
	start := strings.IndexByte(reply, '{')
	if start < 0 {
		return Decision{}, fmt.Errorf("reply carries no JSON object: %q", truncate(reply, 80))
	}

	var parsed struct {
		Eye       string `json:"eye"`
		Reasoning string `json:"reasoning"`
	}
	dec := json.NewDecoder(strings.NewReader(reply[start:]))
	if err := dec.Decode(&parsed); err != nil {
		return Decision{}, fmt.Errorf("unparsable reply: %w", err)
	}

	id, err := eyes.ParseID(parsed.Eye)
	if err != nil {
		return Decision{}, err
	}
	if id == eyes.Router {
		return Decision{}, fmt.Errorf("model routed to the router itself")
	}

	reasoning := strings.TrimSpace(parsed.Reasoning)
	if reasoning == "" {
		reasoning = "model gave no reasoning"
	}
	return Decision{Eye: id, Reasoning: reasoning}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
