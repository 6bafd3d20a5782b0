// Package classify implements the Request Classifier (spec §4.4):
// background-task detection with a transparent model downgrade, and
// model-name normalization of dated client-declared aliases.
package classify

import (
	"strings"

	"github.com/antigravity/cloudcode-gateway/internal/config"
	"github.com/antigravity/cloudcode-gateway/pkg/anthropic"
)

// IsBackgroundTask reports whether the first three messages plus the
// system prompt contain any BackgroundTaskPatterns substring.
func IsBackgroundTask(messages []anthropic.Message, system anthropic.SystemContent) bool {
	var b strings.Builder

	n := len(messages)
	if n > 3 {
		n = 3
	}
	for i := 0; i < n; i++ {
		for _, cb := range messages[i].Content {
			if cb.IsText() {
				b.WriteString(cb.Text)
				b.WriteByte(' ')
			}
		}
	}
	b.WriteString(flattenSystem(system))

	lower := strings.ToLower(b.String())
	for _, pattern := range config.BackgroundTaskPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func flattenSystem(system anthropic.SystemContent) string {
	switch v := system.(type) {
	case string:
		return v
	case []anthropic.ContentBlock:
		var b strings.Builder
		for _, cb := range v {
			if cb.IsText() {
				b.WriteString(cb.Text)
				b.WriteByte(' ')
			}
		}
		return b.String()
	default:
		return ""
	}
}

// EffectiveModel applies normalization and, if eligible, the background-task
// downgrade to a client-declared model. hasTools/hasThinking gate the
// downgrade off per spec §4.4 and §8 ("no-op on a request containing any
// tool or the extended-thinking flag").
func EffectiveModel(req *anthropic.MessagesRequest) string {
	model := Normalize(req.Model)

	hasTools := len(req.Tools) > 0
	hasThinking := req.Thinking != nil

	if !hasTools && !hasThinking && IsBackgroundTask(req.Messages, req.System) {
		if IsSupported(config.FreeModelForBackground) {
			return config.FreeModelForBackground
		}
	}
	return model
}

// Normalize rewrites a dated model identifier to its canonical variant.
func Normalize(model string) string {
	if mapped, ok := config.ModelFallbackMap[model]; ok {
		return mapped
	}
	return model
}

// IsSupported reports whether model is one of the statically enumerated
// supported models.
func IsSupported(model string) bool {
	for _, m := range config.SupportedModels {
		if m == model {
			return true
		}
	}
	return false
}
