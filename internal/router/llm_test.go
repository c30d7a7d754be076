package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arguslabs/argus/internal/eyes"
	"github.com/arguslabs/argus/internal/guard"
	"github.com/arguslabs/argus/internal/provider"
)

type scriptedClient struct {
	name  string
	reply string
	err   error
}

func (c *scriptedClient) Name() string { return c.name }
func (c *scriptedClient) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &provider.CompletionResponse{Text: c.reply, TokensUsed: 10, Model: req.Model}, nil
}
func (c *scriptedClient) Probe(ctx context.Context) error { return nil }

type singleClientSource struct{ client provider.Client }

func (s singleClientSource) Get(name string) (provider.Client, error) {
	if s.client == nil || s.client.Name() != name {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return s.client, nil
}

type fixedModelSource struct {
	provider string
	model    string
	err      error
}

func (f fixedModelSource) ModelFor(eye eyes.ID) (string, string, error) {
	return f.provider, f.model, f.err
}

func newLLMRouter(t *testing.T, client provider.Client, modelErr error) *LLM {
	t.Helper()
	g, err := guard.New(guard.DefaultTable(), zaptest.NewLogger(t))
	require.NoError(t, err)
	heuristic := NewHeuristic(g, zaptest.NewLogger(t))
	providerName := ""
	if client != nil {
		providerName = client.Name()
	}
	return NewLLM(
		singleClientSource{client: client},
		fixedModelSource{provider: providerName, model: "router-m1", err: modelErr},
		heuristic,
		zaptest.NewLogger(t),
	)
}

func TestLLMRouteUsesModelDecision(t *testing.T) {
	client := &scriptedClient{name: "p1", reply: `{"eye": "clarify", "reasoning": "fresh task"}`}
	r := newLLMRouter(t, client, nil)

	d, err := r.Route(context.Background(), "implement the thing", State{})
	require.NoError(t, err)
	assert.Equal(t, eyes.Clarify, d.Eye)
	assert.Equal(t, "fresh task", d.Reasoning)
	assert.Equal(t, 10, d.TokensUsed)
	assert.NotContains(t, d.Reasoning, "fallback")
}

func TestLLMRouteParsesFencedReply(t *testing.T) {
	client := &scriptedClient{name: "p1", reply: "Sure, routing now:\n```json\n{\"eye\": \"clarify\", \"reasoning\": \"start\"}\n```"}
	r := newLLMRouter(t, client, nil)

	d, err := r.Route(context.Background(), "anything", State{})
	require.NoError(t, err)
	assert.Equal(t, eyes.Clarify, d.Eye)
}

func TestLLMRouteFallsBackOnProviderError(t *testing.T) {
	client := &scriptedClient{name: "p1", err: errors.New("connection refused")}
	r := newLLMRouter(t, client, nil)

	d, err := r.Route(context.Background(), "fix the build script", State{})
	require.NoError(t, err)
	assert.Equal(t, eyes.Clarify, d.Eye)
	assert.True(t, strings.HasPrefix(d.Reasoning, "fallback ("), "reasoning must note the fallback: %s", d.Reasoning)
}

func TestLLMRouteFallsBackOnUnparsableReply(t *testing.T) {
	client := &scriptedClient{name: "p1", reply: "I think you should probably clarify first."}
	r := newLLMRouter(t, client, nil)

	d, err := r.Route(context.Background(), "fix the build script", State{})
	require.NoError(t, err)
	assert.Equal(t, eyes.Clarify, d.Eye)
	assert.Contains(t, d.Reasoning, "fallback")
}

func TestLLMRouteFallsBackOnUnknownEye(t *testing.T) {
	client := &scriptedClient{name: "p1", reply: `{"eye": "lint_review", "reasoning": "not a stage"}`}
	r := newLLMRouter(t, client, nil)

	d, err := r.Route(context.Background(), "fix the build script", State{})
	require.NoError(t, err)
	assert.Equal(t, eyes.Clarify, d.Eye)
	assert.Contains(t, d.Reasoning, "fallback")
}

func TestLLMRouteFallsBackOnIneligibleEye(t *testing.T) {
	// plan_review needs a passing requirements run; fresh session has none.
	client := &scriptedClient{name: "p1", reply: `{"eye": "plan_review", "reasoning": "skip ahead"}`}
	r := newLLMRouter(t, client, nil)

	d, err := r.Route(context.Background(), "implement the cache", State{})
	require.NoError(t, err)
	assert.Equal(t, eyes.Clarify, d.Eye)
	assert.Contains(t, d.Reasoning, "fallback")
}

func TestLLMRouteFallsBackOnMissingAssignment(t *testing.T) {
	r := newLLMRouter(t, nil, errors.New("no assignment for router"))

	d, err := r.Route(context.Background(), "write the migration", State{})
	require.NoError(t, err)
	assert.Equal(t, eyes.Clarify, d.Eye)
	assert.Contains(t, d.Reasoning, "fallback")
}

func TestLLMRouteExhaustedPropagates(t *testing.T) {
	client := &scriptedClient{name: "p1", err: errors.New("down")}
	r := newLLMRouter(t, client, nil)

	var history []guard.Execution
	for _, eye := range codeFlow {
		history = append(history, passingRun(eye))
	}
	_, err := r.Route(context.Background(), "implement the cache", State{Executed: history})
	assert.True(t, errors.Is(err, ErrExhausted))
}

func TestParseDecisionRejectsRouterSelfReference(t *testing.T) {
	_, err := parseDecision(`{"eye": "router", "reasoning": "loop"}`)
	assert.Error(t, err)
}
