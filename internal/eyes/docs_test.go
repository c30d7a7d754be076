package eyes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arguslabs/argus/internal/envelope"
)

func TestDocsReviewCoversIdentifiers(t *testing.T) {
	eye := &DocsReviewEye{}
	env := eye.Run(context.Background(), Request{
		Payload: map[string]any{
			"docs":        "PoolGet now returns ErrPoolClosed once Close has been called.",
			"identifiers": []any{"PoolGet", "ErrPoolClosed"},
		},
		Reasoning: "documented the new failure mode",
		Settings:  DefaultSettings(),
	})
	require.True(t, env.OK)
	assert.Equal(t, envelope.CodeOKDocsApproved, env.Code)
}

func TestDocsReviewListsUncoveredIdentifiers(t *testing.T) {
	eye := &DocsReviewEye{}
	env := eye.Run(context.Background(), Request{
		Payload: map[string]any{
			"docs":        "The pool closes cleanly now.",
			"identifiers": []any{"ErrPoolClosed"},
		},
		Reasoning: "notes",
		Settings:  DefaultSettings(),
	})
	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeErrDocsMissing, env.Code)
	assert.Equal(t, []string{"ErrPoolClosed"}, env.Data["uncovered"])
}

func TestDocsReviewRejectsEmptyDocs(t *testing.T) {
	eye := &DocsReviewEye{}
	env := eye.Run(context.Background(), Request{
		Payload:   map[string]any{"docs": "   "},
		Reasoning: "nothing written yet",
		Settings:  DefaultSettings(),
	})
	assert.False(t, env.OK)
	assert.Equal(t, envelope.ActionResubmitDocs, env.NextAction)
}
