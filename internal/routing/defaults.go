package routing

import "github.com/arguslabs/argus/internal/eyes"

// DefaultAssignments covers every stage plus the router itself, so a
// fresh deployment routes without any stored rows. Light stages get
// the cheap tier; review stages get the strong tier with a cross-
// provider fallback.
func DefaultAssignments() map[eyes.ID]Assignment {
	light := Assignment{
		PrimaryProvider:  "openai",
		PrimaryModel:     "gpt-4o-mini",
		FallbackProvider: "anthropic",
		FallbackModel:    "claude-3-5-haiku",
	}
	strong := Assignment{
		PrimaryProvider:  "openai",
		PrimaryModel:     "gpt-4o",
		FallbackProvider: "anthropic",
		FallbackModel:    "claude-sonnet-4",
	}

	table := make(map[eyes.ID]Assignment, len(eyes.Order)+1)
	for _, id := range []eyes.ID{eyes.Clarify, eyes.Memory, eyes.Router} {
		a := light
		a.Eye = id
		table[id] = a
	}
	for _, id := range eyes.Order {
		if _, ok := table[id]; ok {
			continue
		}
		a := strong
		a.Eye = id
		table[id] = a
	}
	return table
}
