package eyes

import (
	"context"
	"fmt"
	"math"

	"github.com/arguslabs/argus/internal/envelope"
)

// ConsistencyEye checks a document for internal contradictions:
// unfinished-work markers, opposite absolute claims, and "no change"
// narratives that also report movement. Session answers can legitimately
// change what counts as contradictory, so this stage is never cached.
type ConsistencyEye struct{}

func (e *ConsistencyEye) ID() ID { return Consistency }

func (e *ConsistencyEye) Describe() string {
	return "Scores a document for internal contradictions and unfinished work"
}

func (e *ConsistencyEye) Run(_ context.Context, req Request) envelope.Envelope {
	if env, failed := requireReasoning(Consistency, req); failed {
		return env
	}
	draft, env, ok := payloadString(Consistency, req, "draft")
	if !ok {
		return env
	}

	score, issues := consistencyScore(draft)
	tolerance := req.Settings.ConsistencyTolerance
	data := map[string]any{
		"score":     score,
		"tolerance": tolerance,
		"issues":    issues,
	}

	// Both conditions must hold to fail: a sub-tolerance score with no
	// recorded issue means the penalties came from nowhere actionable.
	if score < tolerance && len(issues) > 0 {
		md := envelope.NewMarkdown().
			Section(envelope.HeadingSummary,
				fmt.Sprintf("Document contradicts itself (score %.2f, tolerance %.2f).", score, tolerance)).
			List(envelope.HeadingIssues, issues).
			Section(envelope.HeadingConsistency, "Resolve each issue above, then resubmit the document.").
			String()
		return envelope.New(string(Consistency), envelope.CodeErrContradiction,
			envelope.WithMarkdown(md),
			envelope.WithData(data),
		)
	}

	md := envelope.NewMarkdown().
		Section(envelope.HeadingSummary, "No blocking contradictions found.").
		Section(envelope.HeadingConsistency,
			fmt.Sprintf("Consistency score %.2f against tolerance %.2f.", score, tolerance)).
		String()
	return envelope.New(string(Consistency), envelope.CodeOKConsistent,
		envelope.WithMarkdown(md),
		envelope.WithData(data),
	)
}

// consistencyScore starts from 1.0 and subtracts per detected issue:
// 0.4 for unfinished-work markers, 0.3 per polarity pair both present,
// 0.2 for a "no change" claim next to a trend verb. Clamped to [0,1].
func consistencyScore(text string) (float64, []string) {
	score := 1.0
	var issues []string

	if m := unfinishedMarker.FindString(text); m != "" {
		score -= 0.4
		issues = append(issues, fmt.Sprintf("unfinished-work marker %q left in the document", m))
	}

	for _, pair := range polarityPairs {
		if pair.left.MatchString(text) && pair.right.MatchString(text) {
			score -= 0.3
			issues = append(issues, fmt.Sprintf("opposite absolute claims: %s both appear", pair.name))
		}
	}

	if noChangeClaim.MatchString(text) && trendVerb.MatchString(text) {
		score -= 0.2
		issues = append(issues, `"no change" is claimed while a growth or decline verb reports movement`)
	}

	score = clamp01(score)
	score = math.Round(score*100) / 100
	return score, issues
}
