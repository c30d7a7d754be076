package eyes

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/arguslabs/argus/internal/envelope"
)

// ImplReviewEye gates a submitted diff. The submission must actually be
// a diff, and the reasoning must account for every file it touches; a
// change nobody explains does not pass review.
type ImplReviewEye struct{}

var (
	diffFileHeader = regexp.MustCompile(`(?m)^\+\+\+\s+(?:b/)?(\S+)`)
	diffHunkMarker = regexp.MustCompile(`(?m)^@@ `)
	codeFence      = regexp.MustCompile("(?m)^```")
)

func (e *ImplReviewEye) ID() ID { return ImplReview }

func (e *ImplReviewEye) Describe() string {
	return "Approves diffs whose reasoning accounts for every touched file"
}

func (e *ImplReviewEye) Run(_ context.Context, req Request) envelope.Envelope {
	if env, failed := requireReasoning(ImplReview, req); failed {
		return env
	}
	diff, env, ok := payloadString(ImplReview, req, "diff")
	if !ok {
		return env
	}

	if !diffHunkMarker.MatchString(diff) && !codeFence.MatchString(diff) {
		return invalidPayload(ImplReview, "payload field \"diff\" does not look like a diff: no hunk markers or code fences")
	}

	added, removed := countDiffLines(diff)
	files := touchedFiles(diff)

	var unexplained []string
	reasoning := strings.ToLower(req.Reasoning)
	for _, f := range files {
		base := strings.ToLower(path.Base(f))
		if !strings.Contains(reasoning, base) && !strings.Contains(reasoning, strings.ToLower(f)) {
			unexplained = append(unexplained, f)
		}
	}

	data := map[string]any{
		"files":         files,
		"lines_added":   added,
		"lines_removed": removed,
	}

	if added == 0 && removed == 0 {
		md := envelope.NewMarkdown().
			Section(envelope.HeadingSummary, "Diff contains no changed lines.").
			List(envelope.HeadingIssues, []string{"Submit the actual change, not an empty diff."}).
			String()
		return envelope.New(string(ImplReview), envelope.CodeErrImplUnjustified,
			envelope.WithMarkdown(md),
			envelope.WithData(data),
		)
	}

	if len(unexplained) > 0 {
		issues := make([]string, len(unexplained))
		for i, f := range unexplained {
			issues[i] = fmt.Sprintf("file %q changed but never mentioned in the reasoning", f)
		}
		md := envelope.NewMarkdown().
			Section(envelope.HeadingSummary,
				fmt.Sprintf("%d of %d touched file(s) are not accounted for.", len(unexplained), len(files))).
			List(envelope.HeadingIssues, issues).
			String()
		return envelope.New(string(ImplReview), envelope.CodeErrImplUnjustified,
			envelope.WithMarkdown(md),
			envelope.WithData(data),
		)
	}

	md := envelope.NewMarkdown().
		Section(envelope.HeadingSummary,
			fmt.Sprintf("Implementation approved: %d file(s), +%d/-%d lines, all accounted for.", len(files), added, removed)).
		Section(envelope.HeadingReasoning, req.Reasoning).
		String()
	return envelope.New(string(ImplReview), envelope.CodeOKImplApproved,
		envelope.WithMarkdown(md),
		envelope.WithData(data),
	)
}

func countDiffLines(diff string) (added, removed int) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}

func touchedFiles(diff string) []string {
	matches := diffFileHeader.FindAllStringSubmatch(diff, -1)
	files := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if f := m[1]; !seen[f] && f != "/dev/null" {
			files = append(files, f)
			seen[f] = true
		}
	}
	return files
}
