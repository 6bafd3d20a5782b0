package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/antigravity/cloudcode-gateway/pkg/anthropic"
)

func TestEffectiveModel_DowngradesBackgroundTask(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:  "claude-sonnet-4-5-thinking",
		System: "You summarize conversation titles.",
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "Title this chat."}}},
		},
	}
	assert.Equal(t, "claude-haiku-4-5", EffectiveModel(req))
}

func TestEffectiveModel_NoOpWithTools(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:  "claude-sonnet-4-5-thinking",
		System: "You summarize conversation titles.",
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "Title this chat."}}},
		},
		Tools: []anthropic.Tool{{Name: "lookup"}},
	}
	assert.Equal(t, "claude-sonnet-4-5-thinking", EffectiveModel(req))
}

func TestEffectiveModel_NoOpWithThinking(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:    "claude-sonnet-4-5-thinking",
		System:   "You summarize conversation titles.",
		Messages: []anthropic.Message{{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "Title this chat."}}}},
		Thinking: &anthropic.ThinkingConfig{Type: "enabled"},
	}
	assert.Equal(t, "claude-sonnet-4-5-thinking", EffectiveModel(req))
}

func TestNormalize_RewritesDatedModel(t *testing.T) {
	assert.Equal(t, "claude-sonnet-4-5-thinking", Normalize("claude-sonnet-4-5-20250929"))
	assert.Equal(t, "claude-opus-4-5-thinking", Normalize("claude-opus-4-5-20251101"))
}

func TestNormalize_PassesThroughUnknownModel(t *testing.T) {
	assert.Equal(t, "some-other-model", Normalize("some-other-model"))
}

func TestIsBackgroundTask_UnrelatedConversationNotFlagged(t *testing.T) {
	messages := []anthropic.Message{
		{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "Write a function that reverses a string."}}},
	}
	assert.False(t, IsBackgroundTask(messages, ""))
}

func TestIsBackgroundTask_OnlyChecksFirstThreeMessages(t *testing.T) {
	messages := []anthropic.Message{
		{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "one"}}},
		{Role: "assistant", Content: []anthropic.ContentBlock{{Type: "text", Text: "two"}}},
		{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "three"}}},
		{Role: "assistant", Content: []anthropic.ContentBlock{{Type: "text", Text: "generate a short title"}}},
	}
	assert.False(t, IsBackgroundTask(messages, ""))
}
