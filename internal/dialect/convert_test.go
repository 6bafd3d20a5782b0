package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity/cloudcode-gateway/pkg/anthropic"
)

func TestToMessagesRequest_FoldsSystemMessages(t *testing.T) {
	req := &ChatCompletionsRequest{
		Model: "claude-sonnet-4-5",
		Messages: []ChatMessage{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hello"},
		},
	}
	out := ToMessagesRequest(req)
	assert.Equal(t, "be terse", out.System)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "user", out.Messages[0].Role)
	assert.Equal(t, "hello", out.Messages[0].Content[0].Text)
}

func TestToMessagesRequest_UnknownRoleFoldsToUser(t *testing.T) {
	req := &ChatCompletionsRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []ChatMessage{{Role: "tool", Content: "result text"}},
	}
	out := ToMessagesRequest(req)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "user", out.Messages[0].Role)
}

func TestToMessagesRequest_DefaultsMaxTokens(t *testing.T) {
	req := &ChatCompletionsRequest{Model: "claude-sonnet-4-5", Messages: []ChatMessage{{Role: "user", Content: "hi"}}}
	out := ToMessagesRequest(req)
	assert.Equal(t, 4096, out.MaxTokens)
}

func TestExtractText_ContentPartsArray(t *testing.T) {
	content := []any{
		map[string]any{"type": "text", "text": "part one "},
		map[string]any{"type": "text", "text": "part two"},
	}
	assert.Equal(t, "part one part two", extractText(content))
}

func TestToMessagesRequest_ImagePartBecomesTextPlaceholder(t *testing.T) {
	req := &ChatCompletionsRequest{
		Model: "claude-sonnet-4-5",
		Messages: []ChatMessage{
			{Role: "user", Content: []any{
				map[string]any{"type": "text", "text": "what is this?"},
				map[string]any{"type": "image_url", "image_url": map[string]any{"url": "https://example.com/cat.png"}},
			}},
		},
	}
	out := ToMessagesRequest(req)
	require.Len(t, out.Messages, 1)
	blocks := out.Messages[0].Content
	require.Len(t, blocks, 2)
	assert.Equal(t, "text", blocks[0].Type)
	assert.Equal(t, "what is this?", blocks[0].Text)
	assert.Equal(t, "text", blocks[1].Type)
	assert.Equal(t, "[image: https://example.com/cat.png]", blocks[1].Text)
}

func TestToMessagesRequest_ToolResultPartCarriesToolUseID(t *testing.T) {
	req := &ChatCompletionsRequest{
		Model: "claude-sonnet-4-5",
		Messages: []ChatMessage{
			{Role: "user", Content: []any{
				map[string]any{"type": "tool_result", "tool_call_id": "call_123", "content": "42 degrees"},
			}},
		},
	}
	out := ToMessagesRequest(req)
	require.Len(t, out.Messages, 1)
	require.Len(t, out.Messages[0].Content, 1)
	block := out.Messages[0].Content[0]
	assert.Equal(t, "tool_result", block.Type)
	assert.Equal(t, "call_123", block.ToolUseID)
	assert.Equal(t, "42 degrees", block.Content)
}

func TestToMessagesRequest_ToolResultPartFallsBackToLiteralToolID(t *testing.T) {
	req := &ChatCompletionsRequest{
		Model: "claude-sonnet-4-5",
		Messages: []ChatMessage{
			{Role: "user", Content: []any{
				map[string]any{"type": "tool_result", "content": "done"},
			}},
		},
	}
	out := ToMessagesRequest(req)
	assert.Equal(t, "tool", out.Messages[0].Content[0].ToolUseID)
}

func TestFromMessagesResponse_RoundTripPreservesIDRoleAndText(t *testing.T) {
	resp := anthropic.NewMessagesResponse("msg_abc123", "claude-sonnet-4-5", []anthropic.ContentBlock{
		{Type: "text", Text: "hello "},
		{Type: "text", Text: "world"},
	}, "end_turn", &anthropic.Usage{InputTokens: 10, OutputTokens: 5})

	out := FromMessagesResponse(resp, "claude-sonnet-4-5", 1234)
	assert.Equal(t, "msg_abc123", out.ID)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "assistant", out.Choices[0].Message.Role)
	assert.Equal(t, "hello \nworld", out.Choices[0].Message.Content)
	assert.Equal(t, "stop", *out.Choices[0].FinishReason)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 15, out.Usage.TotalTokens)
}

func TestFromMessagesResponse_MaxTokensMapsToLength(t *testing.T) {
	resp := anthropic.NewMessagesResponse("msg_1", "m", nil, "max_tokens", nil)
	out := FromMessagesResponse(resp, "m", 0)
	assert.Equal(t, "length", *out.Choices[0].FinishReason)
}
