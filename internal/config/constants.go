// Package config holds runtime configuration and the tunable constants that
// drive the account pool, token resolver, and request pipeline.
package config

import "time"

// Pool selection timings (spec §4.3).
const (
	// DefaultAffinityLockWindowMs is how long a just-used account stays
	// sticky regardless of rank, to preserve upstream prompt-cache locality.
	DefaultAffinityLockWindowMs = 60_000
	// DefaultShortWaitThresholdMs is the cooldown below which the pool
	// prefers waiting over switching accounts.
	DefaultShortWaitThresholdMs = 10_000
	// DefaultMaxWaitBeforeErrorMs is the cooldown above which the pool
	// gives up waiting and either switches or surfaces an overloaded error.
	DefaultMaxWaitBeforeErrorMs = 60_000
	// DefaultCooldownMs is used when the upstream doesn't supply a reset hint.
	DefaultCooldownMs = 10_000
)

// TokenRefreshInterval is the Token Cache Entry TTL (spec §3).
const TokenRefreshInterval = 5 * time.Minute

// DefaultProjectID is returned when project discovery exhausts its endpoint
// fallbacks without a well-formed response.
const DefaultProjectID = "rising-fact-p41fc"

// DatabaseExtractTimeout bounds the local SQLite credential extraction
// (spec §9 Design Notes — Timeouts).
const DatabaseExtractTimeout = 5 * time.Second

// FreeModelForBackground is the downgrade target for classified
// background-task requests (spec §4.4).
const FreeModelForBackground = "claude-haiku-4-5"

// BackgroundTaskPatterns are lowercase substrings whose presence in the
// first three messages or the system prompt marks a request as a
// background task eligible for downgrade.
var BackgroundTaskPatterns = []string{
	"summarize the conversation",
	"summarize this conversation",
	"generate a short title",
	"generate a concise title",
	"title this chat",
	"you summarize conversation titles",
	"<system-reminder>",
	"conversation summary",
}

// ModelFallbackMap rewrites dated model identifiers to their canonical
// thinking-enabled variant before selection (spec §4.4).
var ModelFallbackMap = map[string]string{
	"claude-opus-4-5-20251101":   "claude-opus-4-5-thinking",
	"claude-sonnet-4-5-20250929": "claude-sonnet-4-5-thinking",
	"claude-3-5-sonnet-20241022": "claude-sonnet-4-5",
	"claude-3-5-haiku-20241022":  "claude-haiku-4-5",
}

// SupportedModels is the static enumeration served by GET /v1/models.
var SupportedModels = []string{
	"claude-opus-4-5-thinking",
	"claude-sonnet-4-5-thinking",
	"claude-sonnet-4-5",
	"claude-haiku-4-5",
}

// ProjectDiscoveryEndpoints is the ordered list of upstream endpoints tried
// for project-id discovery (spec §4.2).
var ProjectDiscoveryEndpoints = []string{
	"https://cloudcode-pa.googleapis.com/v1internal:loadCodeAssist",
	"https://cloudcode-pa.googleapis.com/v1internal:onboardUser",
}

// DefaultPort is the HTTP listen port when none is configured.
const DefaultPort = 8080

// RequestBodyLimit caps incoming request bodies (bytes).
const RequestBodyLimit = 10 << 20 // 10MB

// MaxConsecutiveFailures marks an account invalid after this many
// consecutive upstream failures outside the rate-limit taxonomy.
const MaxConsecutiveFailures = 3

// MaxFlowEntries is the default ring-buffer capacity for the flow monitor.
const MaxFlowEntries = 500

// FlowRetentionDays is how long daily NDJSON flow logs are kept on disk.
const FlowRetentionDays = 7

// MaxBackups bounds the number of rolling Credential Store backups kept.
const MaxBackups = 5
