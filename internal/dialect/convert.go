package dialect

import (
	"fmt"
	"strings"

	"github.com/antigravity/cloudcode-gateway/pkg/anthropic"
)

// ToMessagesRequest translates a Chat Completions request into the internal
// Messages representation. Every "system" message, wherever it appears, is
// concatenated (newline-separated) into the Messages system prompt;
// everything else becomes a user/assistant turn in order, with any
// non-user/assistant role folded to "user".
func ToMessagesRequest(req *ChatCompletionsRequest) *anthropic.MessagesRequest {
	out := &anthropic.MessagesRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = 4096
	}
	if req.Temperature != nil {
		out.Temperature = req.Temperature
	}
	if req.TopP != nil {
		out.TopP = req.TopP
	}
	if len(req.Stop) > 0 {
		out.StopSequences = req.Stop
	}

	var system strings.Builder
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			if system.Len() > 0 {
				system.WriteByte('\n')
			}
			system.WriteString(extractText(msg.Content))
			continue
		}

		role := msg.Role
		if role != "assistant" {
			role = "user"
		}
		out.Messages = append(out.Messages, anthropic.Message{
			Role:    role,
			Content: contentBlocksFor(msg.Content),
		})
	}
	if system.Len() > 0 {
		out.System = system.String()
	}
	return out
}

// extractText flattens an OpenAI-dialect content value to plain text, for
// the system-prompt fold where a single string is all that's needed. Image
// and tool-result parts are folded in using the same normalization
// contentBlocksFor applies to ordinary message content.
func extractText(content any) string {
	var parts []string
	for _, block := range contentBlocksFor(content) {
		switch block.Type {
		case "tool_result":
			if text, ok := block.Content.(string); ok {
				parts = append(parts, text)
			}
		default:
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "")
}

// contentBlocksFor normalizes an OpenAI-dialect content value (a plain
// string, or an array of content parts) into Messages-dialect content
// blocks (spec §4.5): text parts pass through verbatim; image parts become
// a textual placeholder referencing the URL; tool-result parts are
// rewritten to carry a tool_use_id (first available of tool_call_id, id,
// or the literal "tool") and their textual content.
func contentBlocksFor(content any) []anthropic.ContentBlock {
	switch v := content.(type) {
	case string:
		return []anthropic.ContentBlock{{Type: "text", Text: v}}
	case []any:
		var blocks []anthropic.ContentBlock
		for _, part := range v {
			m, ok := part.(map[string]any)
			if !ok {
				continue
			}
			switch t, _ := m["type"].(string); t {
			case "text":
				if text, ok := m["text"].(string); ok {
					blocks = append(blocks, anthropic.ContentBlock{Type: "text", Text: text})
				}
			case "image_url", "image":
				blocks = append(blocks, anthropic.ContentBlock{Type: "text", Text: imagePlaceholder(m)})
			case "tool_result":
				blocks = append(blocks, toolResultBlock(m))
			}
		}
		return blocks
	default:
		return nil
	}
}

// imagePlaceholder builds the textual stand-in for an image content part,
// referencing whichever URL field the part carries.
func imagePlaceholder(m map[string]any) string {
	url, _ := m["url"].(string)
	if url == "" {
		if iu, ok := m["image_url"].(map[string]any); ok {
			url, _ = iu["url"].(string)
		}
	}
	return fmt.Sprintf("[image: %s]", url)
}

// toolResultBlock rewrites a Chat-Completions tool-result part into a
// Messages-dialect tool_result block.
func toolResultBlock(m map[string]any) anthropic.ContentBlock {
	toolUseID := firstString(m, "tool_call_id", "id")
	if toolUseID == "" {
		toolUseID = "tool"
	}
	text, _ := m["content"].(string)
	if text == "" {
		text, _ = m["text"].(string)
	}
	return anthropic.ContentBlock{Type: "tool_result", ToolUseID: toolUseID, Content: text}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, _ := m[k].(string); v != "" {
			return v
		}
	}
	return ""
}

// FromMessagesResponse translates a non-streaming Messages response back
// into the Chat Completions dialect, joining every text block with newlines
// into a single assistant message (spec §4.5, §8 round-trip property).
func FromMessagesResponse(resp *anthropic.MessagesResponse, model string, createdUnix int64) *ChatCompletionsResponse {
	var texts []string
	for _, cb := range resp.Content {
		if cb.IsText() {
			texts = append(texts, cb.Text)
		}
	}

	finish := finishReasonFor(resp.StopReason)

	out := &ChatCompletionsResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: createdUnix,
		Model:   model,
		Choices: []ChatChoice{
			{
				Index:        0,
				Message:      ChatMessage{Role: "assistant", Content: strings.Join(texts, "\n")},
				FinishReason: &finish,
			},
		},
	}
	if resp.Usage != nil {
		out.Usage = &ChatUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return out
}

func finishReasonFor(stopReason string) string {
	switch stopReason {
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return "stop"
	}
}
