package eyes

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/arguslabs/argus/internal/envelope"
)

// TestsReviewEye gates test submissions on coverage. Line coverage is a
// hard gate at every strictness level; branch coverage is a hard gate at
// strict, and below strict a branch shortfall is reported as an issue
// without failing the verdict.
type TestsReviewEye struct{}

// coverageMinimums maps strictness to required line/branch percentages.
var coverageMinimums = map[Strictness]struct{ Lines, Branches float64 }{
	StrictnessLenient: {Lines: 70, Branches: 55},
	StrictnessNormal:  {Lines: 75, Branches: 60},
	StrictnessStrict:  {Lines: 85, Branches: 75},
}

var (
	linesMetric    = regexp.MustCompile(`(?i)\blines:\s*([0-9]+(?:\.[0-9]+)?)\s*%`)
	branchesMetric = regexp.MustCompile(`(?i)\bbranches:\s*([0-9]+(?:\.[0-9]+)?)\s*%`)
)

func (e *TestsReviewEye) ID() ID { return TestsReview }

func (e *TestsReviewEye) Describe() string {
	return "Gates test submissions on line and branch coverage per strictness level"
}

func (e *TestsReviewEye) Run(_ context.Context, req Request) envelope.Envelope {
	if env, failed := requireReasoning(TestsReview, req); failed {
		return env
	}
	report, env, ok := payloadString(TestsReview, req, "coverage_report")
	if !ok {
		return env
	}

	lines, ok := parseMetric(linesMetric, report)
	if !ok {
		return invalidPayload(TestsReview, `coverage report has no "lines: N%" metric`)
	}
	branches, ok := parseMetric(branchesMetric, report)
	if !ok {
		return invalidPayload(TestsReview, `coverage report has no "branches: N%" metric`)
	}

	level := req.Settings.Strictness
	min := coverageMinimums[level]
	data := map[string]any{
		"lines":        lines,
		"branches":     branches,
		"min_lines":    min.Lines,
		"min_branches": min.Branches,
		"strictness":   string(level),
	}

	var failures []string
	var warnings []string
	if lines < min.Lines {
		failures = append(failures,
			fmt.Sprintf("line coverage %.0f%% below the %.0f%% minimum for %s", lines, min.Lines, level))
	}
	if branches < min.Branches {
		msg := fmt.Sprintf("branch coverage %.0f%% below the %.0f%% minimum for %s", branches, min.Branches, level)
		if level == StrictnessStrict {
			failures = append(failures, msg)
		} else {
			warnings = append(warnings, msg)
		}
	}

	coverage := fmt.Sprintf("lines %.0f%% (min %.0f%%), branches %.0f%% (min %.0f%%) at %s strictness",
		lines, min.Lines, branches, min.Branches, level)

	if len(failures) > 0 {
		md := envelope.NewMarkdown().
			Section(envelope.HeadingSummary, "Coverage does not meet the bar.").
			Section(envelope.HeadingCoverage, coverage).
			List(envelope.HeadingIssues, append(failures, warnings...)).
			String()
		return envelope.New(string(TestsReview), envelope.CodeErrCoverageLow,
			envelope.WithMarkdown(md),
			envelope.WithData(data),
		)
	}

	md := envelope.NewMarkdown().
		Section(envelope.HeadingSummary, "Coverage meets the bar.").
		Section(envelope.HeadingCoverage, coverage).
		List(envelope.HeadingIssues, warnings).
		String()
	return envelope.New(string(TestsReview), envelope.CodeOKTestsApproved,
		envelope.WithMarkdown(md),
		envelope.WithData(data),
	)
}

func parseMetric(re *regexp.Regexp, report string) (float64, bool) {
	m := re.FindStringSubmatch(report)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
