package eyes

import (
	"context"
	"fmt"
	"strings"

	"github.com/arguslabs/argus/internal/envelope"
)

// DocsReviewEye verifies that documentation accompanies a change: the
// docs text must exist and must cover every identifier the submission
// declares as changed.
type DocsReviewEye struct{}

func (e *DocsReviewEye) ID() ID { return DocsReview }

func (e *DocsReviewEye) Describe() string {
	return "Requires documentation covering every changed identifier"
}

func (e *DocsReviewEye) Run(_ context.Context, req Request) envelope.Envelope {
	if env, failed := requireReasoning(DocsReview, req); failed {
		return env
	}
	docs, env, ok := payloadString(DocsReview, req, "docs")
	if !ok {
		return env
	}

	identifiers := stringSlice(req.Payload["identifiers"])

	var issues []string
	if strings.TrimSpace(docs) == "" {
		issues = append(issues, "documentation text is empty")
	}
	var uncovered []string
	lower := strings.ToLower(docs)
	for _, ident := range identifiers {
		if !strings.Contains(lower, strings.ToLower(ident)) {
			uncovered = append(uncovered, ident)
			issues = append(issues, fmt.Sprintf("changed identifier %q is not documented", ident))
		}
	}

	data := map[string]any{
		"identifiers": identifiers,
		"uncovered":   uncovered,
	}

	if len(issues) > 0 {
		md := envelope.NewMarkdown().
			Section(envelope.HeadingSummary, "Documentation does not cover the change.").
			List(envelope.HeadingIssues, issues).
			String()
		return envelope.New(string(DocsReview), envelope.CodeErrDocsMissing,
			envelope.WithMarkdown(md),
			envelope.WithData(data),
		)
	}

	md := envelope.NewMarkdown().
		Section(envelope.HeadingSummary,
			fmt.Sprintf("Documentation approved: %d identifier(s) covered.", len(identifiers))).
		String()
	return envelope.New(string(DocsReview), envelope.CodeOKDocsApproved,
		envelope.WithMarkdown(md),
		envelope.WithData(data),
	)
}

// stringSlice coerces a payload value into []string, tolerating the
// []any shape JSON decoding produces.
func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
