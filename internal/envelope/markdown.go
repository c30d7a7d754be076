package envelope

import (
	"fmt"
	"strings"
)

// Heading is the fixed vocabulary of markdown sections stages may emit.
// Keeping the set closed lets downstream renderers and tests key on
// section names instead of scraping prose.
type Heading string

const (
	HeadingSummary     Heading = "Summary"
	HeadingReasoning   Heading = "Reasoning"
	HeadingIssues      Heading = "Issues"
	HeadingConsistency Heading = "Consistency Check"
	HeadingQuestions   Heading = "Questions"
	HeadingCitations   Heading = "Citations"
	HeadingCoverage    Heading = "Coverage"
	HeadingNextSteps   Heading = "Next Steps"
)

// MarkdownBuilder assembles stage commentary from fixed-vocabulary
// sections. Sections render in insertion order; empty bodies are skipped.
type MarkdownBuilder struct {
	sections []section
}

type section struct {
	heading Heading
	body    string
}

// NewMarkdown returns an empty builder.
func NewMarkdown() *MarkdownBuilder {
	return &MarkdownBuilder{}
}

// Section appends a prose section.
func (b *MarkdownBuilder) Section(h Heading, body string) *MarkdownBuilder {
	if strings.TrimSpace(body) == "" {
		return b
	}
	b.sections = append(b.sections, section{heading: h, body: strings.TrimSpace(body)})
	return b
}

// List appends a bulleted section.
func (b *MarkdownBuilder) List(h Heading, items []string) *MarkdownBuilder {
	if len(items) == 0 {
		return b
	}
	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- ")
		sb.WriteString(item)
	}
	return b.Section(h, sb.String())
}

// NumberedList appends an ordered section, used for question banks where
// callers answer by number.
func (b *MarkdownBuilder) NumberedList(h Heading, items []string) *MarkdownBuilder {
	if len(items) == 0 {
		return b
	}
	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d. %s", i+1, item)
	}
	return b.Section(h, sb.String())
}

// Table appends a markdown table section.
func (b *MarkdownBuilder) Table(h Heading, columns []string, rows [][]string) *MarkdownBuilder {
	if len(columns) == 0 || len(rows) == 0 {
		return b
	}
	var sb strings.Builder
	sb.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	sb.WriteString("|" + strings.Repeat(" --- |", len(columns)) + "\n")
	for i, row := range rows {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("| " + strings.Join(row, " | ") + " |")
	}
	return b.Section(h, sb.String())
}

// String renders the sections as markdown with H2 headings.
func (b *MarkdownBuilder) String() string {
	var sb strings.Builder
	for i, s := range b.sections {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## ")
		sb.WriteString(string(s.heading))
		sb.WriteString("\n\n")
		sb.WriteString(s.body)
	}
	return sb.String()
}
