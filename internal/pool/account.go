// Package pool implements the Account Pool: a health-scored, persistent set
// of end-user credentials with the sticky-selection policy that preserves
// upstream prompt-cache locality (spec §3, §4.3). Unlike the hybrid
// strategy/health-tracker split this is grounded on, the pool and its
// scoring are one cohesive type, because the ranking rule is defined
// directly in terms of the health score rather than a pluggable strategy.
package pool

import "time"

// Source identifies how an Account's credential material is obtained.
type Source string

const (
	SourceOAuth    Source = "oauth"
	SourceDatabase Source = "database"
	SourceManual   Source = "manual"
)

// Stats accumulates per-account outcome counters feeding the health score.
type Stats struct {
	SuccessCount  int64 `json:"successCount"`
	ErrorCount    int64 `json:"errorCount"`
	LastSuccessAt int64 `json:"lastSuccessAt,omitempty"`
	LastFailureAt int64 `json:"lastFailureAt,omitempty"`
}

// Account is one end-user credential in the pool.
type Account struct {
	Email  string `json:"email"`
	Source Source `json:"source"`

	// Credential material. Exactly one is meaningful, selected by Source.
	RefreshToken string `json:"refreshToken,omitempty"`
	ManualAPIKey string `json:"manualApiKey,omitempty"`
	DatabasePath string `json:"databasePath,omitempty"`

	ProjectID string `json:"projectId,omitempty"`

	IsRateLimited      bool  `json:"isRateLimited"`
	RateLimitResetTime int64 `json:"rateLimitResetTime,omitempty"`

	IsInvalid     bool   `json:"isInvalid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	InvalidAt     int64  `json:"invalidAt,omitempty"`

	LastUsed int64 `json:"lastUsed,omitempty"`

	Stats Stats `json:"stats"`

	HealthScore int  `json:"healthScore"`
	Recommended bool `json:"recommended"`
}

// Available reports whether the account can be handed out right now.
func (a *Account) Available() bool {
	return !a.IsInvalid && !a.IsRateLimited
}

// RemainingCooldown returns the remaining rate-limit cooldown in ms, or 0 if
// none is set or it has already expired.
func (a *Account) RemainingCooldown(now time.Time) int64 {
	if !a.IsRateLimited || a.RateLimitResetTime == 0 {
		return 0
	}
	remaining := a.RateLimitResetTime - now.UnixMilli()
	if remaining < 0 {
		return 0
	}
	return remaining
}

const (
	stateWeightInvalid     = -50
	stateWeightRateLimited = -20
	stateWeightHealthy     = 30
)

// Rescore recomputes HealthScore as a pure function of the account's current
// state (spec §4.3). defaultCooldownMs is the denominator for cooldownFactor.
func (a *Account) Rescore(now time.Time, defaultCooldownMs int64) {
	var stateWeight float64
	switch {
	case a.IsInvalid:
		stateWeight = stateWeightInvalid
	case a.IsRateLimited:
		stateWeight = stateWeightRateLimited
	default:
		stateWeight = stateWeightHealthy
	}

	successDen := a.Stats.SuccessCount + a.Stats.ErrorCount
	if successDen < 1 {
		successDen = 1
	}
	usageRatio := float64(a.Stats.SuccessCount) / float64(successDen)
	errorRatio := float64(a.Stats.ErrorCount) / float64(successDen)

	cooldownFactor := 1.0
	if a.IsRateLimited {
		if defaultCooldownMs <= 0 {
			defaultCooldownMs = 1
		}
		remaining := a.RemainingCooldown(now)
		ratio := float64(remaining) / float64(defaultCooldownMs)
		if ratio > 1 {
			ratio = 1
		}
		cooldownFactor = clampFloat(1-ratio, 0, 1)
	}

	score := stateWeight + (1-usageRatio)*30 + (1-errorRatio)*20 + cooldownFactor*10
	a.HealthScore = int(clampFloat(score, -100, 120))
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
