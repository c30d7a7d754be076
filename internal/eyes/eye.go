package eyes

import (
	"context"
	"fmt"
	"strings"

	"github.com/arguslabs/argus/internal/envelope"
)

// Request is the input every eye receives. Payload carries the work
// product under review (keys are documented per eye), Reasoning the
// submitter's rationale, Context the session's accumulated facts and
// clarification answers. Eyes treat the request as read-only.
type Request struct {
	Task      string
	Payload   map[string]any
	Reasoning string
	Context   map[string]any
	Settings  Settings
}

// Eye is a single validation stage. Run must be deterministic for
// identical requests and free of side effects; anything that needs a
// clock, the network or storage lives in the caller.
type Eye interface {
	ID() ID
	Describe() string
	Run(ctx context.Context, req Request) envelope.Envelope
}

// requireReasoning is the universal fast-fail: review gates demand the
// submitter's rationale before any domain check runs.
func requireReasoning(id ID, req Request) (envelope.Envelope, bool) {
	if strings.TrimSpace(req.Reasoning) != "" {
		return envelope.Envelope{}, false
	}
	md := envelope.NewMarkdown().
		Section(envelope.HeadingSummary, "Submission rejected before review.").
		List(envelope.HeadingIssues, []string{"No reasoning was provided for this submission."}).
		String()
	return envelope.New(string(id), envelope.CodeErrReasoningMissing,
		envelope.WithMarkdown(md),
	), true
}

// payloadString extracts a string payload field, reporting a uniform
// invalid-payload envelope when it is absent or mistyped.
func payloadString(id ID, req Request, key string) (string, envelope.Envelope, bool) {
	raw, ok := req.Payload[key]
	if !ok {
		return "", invalidPayload(id, fmt.Sprintf("payload field %q is required", key)), false
	}
	s, ok := raw.(string)
	if !ok {
		return "", invalidPayload(id, fmt.Sprintf("payload field %q must be a string, got %T", key, raw)), false
	}
	return s, envelope.Envelope{}, true
}

func invalidPayload(id ID, detail string) envelope.Envelope {
	md := envelope.NewMarkdown().
		Section(envelope.HeadingSummary, "Submission payload is malformed.").
		List(envelope.HeadingIssues, []string{detail}).
		String()
	return envelope.New(string(id), envelope.CodeErrPayloadInvalid,
		envelope.WithMarkdown(md),
		envelope.WithData(map[string]any{"detail": detail}),
	)
}
