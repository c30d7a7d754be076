package eyes

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/arguslabs/argus/internal/envelope"
)

// EvidenceEye verifies that a document backs its claims with a citations
// table and that every entry is confident enough to rely on. One weak or
// empty citation fails the whole check so the author fixes them in one
// pass instead of resubmitting per entry.
type EvidenceEye struct{}

// citationEntry is one parsed row of the citations table.
type citationEntry struct {
	Claim      string  `json:"claim"`
	Citation   string  `json:"citation"`
	Confidence float64 `json:"confidence"`
}

var citationsHeading = regexp.MustCompile(`(?mi)^#{1,6}\s*citations\b`)

func (e *EvidenceEye) ID() ID { return Evidence }

func (e *EvidenceEye) Describe() string {
	return "Requires a citations table and rejects low-confidence or empty citations"
}

func (e *EvidenceEye) Run(_ context.Context, req Request) envelope.Envelope {
	if env, failed := requireReasoning(Evidence, req); failed {
		return env
	}
	draft, env, ok := payloadString(Evidence, req, "draft")
	if !ok {
		return env
	}

	entries, found := parseCitationsTable(draft)
	if !found {
		md := envelope.NewMarkdown().
			Section(envelope.HeadingSummary, "Document has no citations section with a table.").
			List(envelope.HeadingIssues, []string{
				"Add a Citations section containing a claim/citation/confidence table.",
			}).
			String()
		return envelope.New(string(Evidence), envelope.CodeErrNeedsEvidence,
			envelope.WithMarkdown(md),
		)
	}

	cutoff := req.Settings.CitationCutoff
	var offenders [][]string
	for i, entry := range entries {
		switch {
		case strings.TrimSpace(entry.Citation) == "":
			offenders = append(offenders, []string{strconv.Itoa(i + 1), entry.Claim, "citation text is empty"})
		case entry.Confidence < cutoff:
			offenders = append(offenders, []string{strconv.Itoa(i + 1), entry.Claim,
				fmt.Sprintf("confidence %.2f below cutoff %.2f", entry.Confidence, cutoff)})
		}
	}

	data := map[string]any{
		"entries": entries,
		"cutoff":  cutoff,
	}

	if len(offenders) > 0 {
		md := envelope.NewMarkdown().
			Section(envelope.HeadingSummary,
				fmt.Sprintf("%d of %d citation(s) do not meet the evidence bar.", len(offenders), len(entries))).
			Table(envelope.HeadingIssues, []string{"Row", "Claim", "Problem"}, offenders).
			String()
		return envelope.New(string(Evidence), envelope.CodeErrNeedsEvidence,
			envelope.WithMarkdown(md),
			envelope.WithData(data),
		)
	}

	md := envelope.NewMarkdown().
		Section(envelope.HeadingSummary,
			fmt.Sprintf("All %d citation(s) meet the evidence bar.", len(entries))).
		String()
	return envelope.New(string(Evidence), envelope.CodeOKEvidenceValid,
		envelope.WithMarkdown(md),
		envelope.WithData(data),
	)
}

// parseCitationsTable locates a citations heading and reads the first
// markdown table after it. Rows are claim | citation | confidence; the
// confidence column is the last cell. found is false when there is no
// citations section or it holds no data rows.
func parseCitationsTable(doc string) ([]citationEntry, bool) {
	loc := citationsHeading.FindStringIndex(doc)
	if loc == nil {
		return nil, false
	}

	var entries []citationEntry
	inTable := false
	for _, line := range strings.Split(doc[loc[1]:], "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			break // next section
		}
		if !strings.HasPrefix(trimmed, "|") {
			if inTable {
				break
			}
			continue
		}
		inTable = true
		cells := splitTableRow(trimmed)
		if len(cells) < 2 || isSeparatorRow(cells) || isHeaderRow(cells) {
			continue
		}
		entry := citationEntry{Claim: cells[0]}
		if len(cells) >= 3 {
			entry.Citation = strings.Join(cells[1:len(cells)-1], " ")
			if conf, err := strconv.ParseFloat(strings.TrimSuffix(cells[len(cells)-1], "%"), 64); err == nil {
				entry.Confidence = conf
			}
		} else {
			// Two columns: citation present, confidence missing. The
			// zero confidence fails the cutoff and flags the row.
			entry.Citation = cells[1]
		}
		entries = append(entries, entry)
	}
	return entries, len(entries) > 0
}

func splitTableRow(line string) []string {
	line = strings.Trim(line, "|")
	parts := strings.Split(line, "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	return cells
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if strings.Trim(c, "-: ") != "" {
			return false
		}
	}
	return true
}

func isHeaderRow(cells []string) bool {
	last := strings.ToLower(cells[len(cells)-1])
	return strings.Contains(last, "confidence")
}
