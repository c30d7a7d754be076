package eyes

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/arguslabs/argus/internal/envelope"
)

// MemoryEye extracts durable facts from a submission so the session can
// carry them forward. It always succeeds: finding nothing to remember is
// a valid outcome, not an error. Its output depends on session state, so
// it sits in the cache skip set.
type MemoryEye struct{}

var rememberLine = regexp.MustCompile(`(?im)^\s*(?:-\s*)?remember:\s*(.+)$`)

func (e *MemoryEye) ID() ID { return Memory }

func (e *MemoryEye) Describe() string {
	return "Extracts remember: facts from a submission into session context"
}

func (e *MemoryEye) Run(_ context.Context, req Request) envelope.Envelope {
	notes, _ := req.Payload["notes"].(string)
	facts := extractFacts(req.Task + "\n" + notes)

	data := map[string]any{"facts": facts}

	if len(facts) == 0 {
		md := envelope.NewMarkdown().
			Section(envelope.HeadingSummary, "No durable facts were provided.").
			String()
		return envelope.New(string(Memory), envelope.CodeOKMemoryStored,
			envelope.WithMarkdown(md),
			envelope.WithData(data),
		)
	}

	md := envelope.NewMarkdown().
		Section(envelope.HeadingSummary,
			fmt.Sprintf("Stored %d fact(s) for this session.", len(facts))).
		List(envelope.HeadingNextSteps, facts).
		String()
	return envelope.New(string(Memory), envelope.CodeOKMemoryStored,
		envelope.WithMarkdown(md),
		envelope.WithData(data),
	)
}

func extractFacts(text string) []string {
	var facts []string
	for _, m := range rememberLine.FindAllStringSubmatch(text, -1) {
		if fact := strings.TrimSpace(m[1]); fact != "" {
			facts = append(facts, fact)
		}
	}
	return facts
}
