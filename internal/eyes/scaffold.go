package eyes

import (
	"context"
	"fmt"
	"regexp"

	"github.com/arguslabs/argus/internal/envelope"
)

// ScaffoldReviewEye gates the file layout proposed for a change: at
// least one concrete file path, repository-relative paths only, and no
// duplicate entries.
type ScaffoldReviewEye struct{}

var (
	filePathToken = regexp.MustCompile(`[\w.-]+(?:/[\w.-]+)*\.[A-Za-z][A-Za-z0-9]{0,3}\b`)
	absolutePath  = regexp.MustCompile(`(?m)(?:^|\s)(/[\w.-]+(?:/[\w.-]+)+)`)
)

func (e *ScaffoldReviewEye) ID() ID { return ScaffoldReview }

func (e *ScaffoldReviewEye) Describe() string {
	return "Approves file scaffolds with concrete, repo-relative, non-duplicated paths"
}

func (e *ScaffoldReviewEye) Run(_ context.Context, req Request) envelope.Envelope {
	if env, failed := requireReasoning(ScaffoldReview, req); failed {
		return env
	}
	scaffold, env, ok := payloadString(ScaffoldReview, req, "scaffold")
	if !ok {
		return env
	}

	paths := filePathToken.FindAllString(scaffold, -1)
	var issues []string
	if len(paths) == 0 {
		issues = append(issues, "no concrete file paths listed; name every file the change touches")
	}
	for _, abs := range absolutePath.FindAllStringSubmatch(scaffold, -1) {
		issues = append(issues, fmt.Sprintf("absolute path %q: scaffold paths must be repository-relative", abs[1]))
	}
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if seen[p] {
			issues = append(issues, fmt.Sprintf("duplicate path %q", p))
		}
		seen[p] = true
	}

	if len(issues) > 0 {
		md := envelope.NewMarkdown().
			Section(envelope.HeadingSummary, "Scaffold cannot be approved as submitted.").
			List(envelope.HeadingIssues, issues).
			String()
		return envelope.New(string(ScaffoldReview), envelope.CodeErrScaffoldInvalid,
			envelope.WithMarkdown(md),
			envelope.WithData(map[string]any{"paths": paths}),
		)
	}

	md := envelope.NewMarkdown().
		Section(envelope.HeadingSummary,
			fmt.Sprintf("Scaffold approved: %d file(s) planned.", len(paths))).
		List(envelope.HeadingNextSteps, []string{"Implement the listed files and submit the diff for review."}).
		String()
	return envelope.New(string(ScaffoldReview), envelope.CodeOKScaffoldApproved,
		envelope.WithMarkdown(md),
		envelope.WithData(map[string]any{"paths": paths}),
	)
}
