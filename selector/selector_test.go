package selector

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeText struct {
	completion string
	lastUser   string
}

func (f *fakeText) Complete(_ context.Context, _, user string) (string, error) {
	f.lastUser = user
	return f.completion, nil
}

var pool = []RefImage{
	{Path: "a.png", Description: "front portrait"},
	{Path: "b.png", Description: "side portrait"},
	{Path: "c.png", Description: "anchor frame"},
}

func TestSelectResolvesIndices(t *testing.T) {
	text := &fakeText{completion: `{"selected_indices": [0, 2], "text_prompt": "a man at a desk"}`}
	out, err := New(text, zerolog.Nop()).Select(context.Background(), pool, "a man at a desk")
	require.NoError(t, err)

	assert.Equal(t, []string{"a.png", "c.png"}, out.Paths())
	assert.Equal(t, "a man at a desk", out.TextPrompt)
	assert.Contains(t, text.lastUser, "front portrait")
}

func TestSelectRejectsOutOfRangeIndex(t *testing.T) {
	text := &fakeText{completion: `{"selected_indices": [3], "text_prompt": "x"}`}
	_, err := New(text, zerolog.Nop()).Select(context.Background(), pool, "x")
	assert.Error(t, err)
}

func TestSelectRejectsEmptySelection(t *testing.T) {
	text := &fakeText{completion: `{"selected_indices": [], "text_prompt": "x"}`}
	_, err := New(text, zerolog.Nop()).Select(context.Background(), pool, "x")
	assert.Error(t, err)
}

func TestSelectHandlesFencedJSON(t *testing.T) {
	text := &fakeText{completion: "```json\n{\"selected_indices\": [1], \"text_prompt\": \"y\"}\n```"}
	out, err := New(text, zerolog.Nop()).Select(context.Background(), pool, "y")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.png"}, out.Paths())
}

func TestPromptListsReferencesBeforeText(t *testing.T) {
	out := &Output{
		References: []RefImage{{Path: "a.png", Description: "front portrait"}},
		TextPrompt: "a man at a desk",
	}
	assert.Equal(t, "Image 0: front portrait\n\na man at a desk", out.Prompt())
}
