package envelope

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkdownSectionsRenderInOrder(t *testing.T) {
	md := NewMarkdown().
		Section(HeadingSummary, "verdict stands").
		List(HeadingIssues, []string{"first", "second"}).
		String()

	assert.Equal(t, "## Summary\n\nverdict stands\n\n## Issues\n\n- first\n- second", md)
}

func TestMarkdownSkipsEmptySections(t *testing.T) {
	md := NewMarkdown().
		Section(HeadingSummary, "  ").
		List(HeadingIssues, nil).
		Section(HeadingReasoning, "because").
		String()

	assert.Equal(t, "## Reasoning\n\nbecause", md)
}

func TestMarkdownNumberedList(t *testing.T) {
	md := NewMarkdown().
		NumberedList(HeadingQuestions, []string{"What inputs?", "What outputs?"}).
		String()

	assert.Contains(t, md, "1. What inputs?")
	assert.Contains(t, md, "2. What outputs?")
}

func TestMarkdownTable(t *testing.T) {
	md := NewMarkdown().
		Table(HeadingCitations,
			[]string{"Claim", "Citation", "Confidence"},
			[][]string{{"x grows", "doc 4", "0.91"}},
		).
		String()

	lines := strings.Split(md, "\n")
	assert.Equal(t, "## Citations", lines[0])
	assert.Equal(t, "| Claim | Citation | Confidence |", lines[2])
	assert.Equal(t, "| --- | --- | --- |", lines[3])
	assert.Equal(t, "| x grows | doc 4 | 0.91 |", lines[4])
}
