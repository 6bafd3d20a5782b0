package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() Settings {
	return Settings{
		CooldownDurationMs:   10_000,
		AffinityLockWindowMs: 60_000,
		ShortWaitThresholdMs: 10_000,
		MaxWaitBeforeErrorMs: 120_000,
	}
}

func TestPickStickyAccount_AffinityLockHolds(t *testing.T) {
	a := &Account{Email: "a@example.com"}
	b := &Account{Email: "b@example.com"}
	p := New([]*Account{a, b}, 0, testSettings(), nil)

	first := p.PickStickyAccount("model")
	require.NotNil(t, first.Account)
	assert.Equal(t, "a@example.com", first.Account.Email)

	for i := 0; i < 50; i++ {
		sel := p.PickStickyAccount("model")
		require.NotNil(t, sel.Account)
		assert.Equal(t, first.Account.Email, sel.Account.Email)
	}
}

func TestPickStickyAccount_NeverReturnsUnavailable(t *testing.T) {
	a := &Account{Email: "a@example.com", IsInvalid: true}
	b := &Account{Email: "b@example.com", IsRateLimited: true, RateLimitResetTime: time.Now().Add(time.Hour).UnixMilli()}
	p := New([]*Account{a, b}, 0, testSettings(), nil)

	sel := p.PickStickyAccount("model")
	assert.Nil(t, sel.Account)
}

func TestPickStickyAccount_SwitchesOnMediumCooldown(t *testing.T) {
	a := &Account{Email: "a@example.com", IsRateLimited: true, RateLimitResetTime: time.Now().Add(30 * time.Second).UnixMilli()}
	b := &Account{Email: "b@example.com"}
	p := New([]*Account{a, b}, 0, testSettings(), nil)

	sel := p.PickStickyAccount("model")
	require.NotNil(t, sel.Account)
	assert.Equal(t, "b@example.com", sel.Account.Email)
}

func TestPickStickyAccount_ShortWaitReturnsWaitMs(t *testing.T) {
	a := &Account{Email: "a@example.com", IsRateLimited: true, RateLimitResetTime: time.Now().Add(5 * time.Second).UnixMilli()}
	p := New([]*Account{a}, 0, testSettings(), nil)

	sel := p.PickStickyAccount("model")
	assert.Nil(t, sel.Account)
	assert.Greater(t, sel.WaitMs, int64(0))
	assert.LessOrEqual(t, sel.WaitMs, int64(5000))
}

func TestClearExpiredLimits(t *testing.T) {
	a := &Account{Email: "a@example.com", IsRateLimited: true, RateLimitResetTime: time.Now().Add(-time.Second).UnixMilli()}
	p := New([]*Account{a}, 0, testSettings(), nil)

	cleared := p.ClearExpiredLimits()
	assert.Equal(t, 1, cleared)
	assert.False(t, a.IsRateLimited)
}

func TestHealthScore_WithinBounds(t *testing.T) {
	a := &Account{Email: "a@example.com"}
	a.Stats.SuccessCount = 100
	a.Rescore(time.Now(), 10_000)
	assert.LessOrEqual(t, a.HealthScore, 120)
	assert.GreaterOrEqual(t, a.HealthScore, -100)

	b := &Account{Email: "b@example.com", IsInvalid: true}
	b.Stats.ErrorCount = 100
	b.Rescore(time.Now(), 10_000)
	assert.GreaterOrEqual(t, b.HealthScore, -100)
}

func TestHealthScore_ZeroObservationsHasDefinedRatios(t *testing.T) {
	a := &Account{Email: "a@example.com"}
	a.Rescore(time.Now(), 10_000)
	// stateWeight(30) + 1*30 + 1*20 + 1*10 = 90, no NaN/Inf from zero denominator.
	assert.Equal(t, 90, a.HealthScore)
}

func TestResetAllRateLimits(t *testing.T) {
	a := &Account{Email: "a@example.com", IsRateLimited: true, RateLimitResetTime: time.Now().Add(time.Hour).UnixMilli()}
	b := &Account{Email: "b@example.com", IsRateLimited: true, RateLimitResetTime: time.Now().Add(time.Hour).UnixMilli()}
	p := New([]*Account{a, b}, 0, testSettings(), nil)

	assert.True(t, p.IsAllRateLimited())
	p.ResetAllRateLimits()
	assert.False(t, p.IsAllRateLimited())
	assert.False(t, a.IsRateLimited)
	assert.False(t, b.IsRateLimited)
}

func TestRecordSuccess_ClearsFlags(t *testing.T) {
	a := &Account{Email: "a@example.com", IsRateLimited: true, RateLimitResetTime: time.Now().Add(time.Minute).UnixMilli()}
	p := New([]*Account{a}, 0, testSettings(), nil)

	p.RecordSuccess("a@example.com")
	assert.False(t, a.IsRateLimited)
	assert.Equal(t, int64(1), a.Stats.SuccessCount)
}

func TestMarkRateLimited_SetsResetTimeInFuture(t *testing.T) {
	a := &Account{Email: "a@example.com"}
	p := New([]*Account{a}, 0, testSettings(), nil)

	before := time.Now().UnixMilli()
	p.MarkRateLimited("a@example.com", 5000)
	assert.True(t, a.IsRateLimited)
	assert.Greater(t, a.RateLimitResetTime, before)
}

func TestPoolSizeZero_NoAccountReturned(t *testing.T) {
	p := New(nil, 0, testSettings(), nil)
	sel := p.PickStickyAccount("model")
	assert.Nil(t, sel.Account)
	assert.Equal(t, int64(0), sel.WaitMs)
}

func TestRecommended_HighestScoringNonInvalidAccount(t *testing.T) {
	a := &Account{Email: "a@example.com"}
	a.Stats.SuccessCount = 10
	b := &Account{Email: "b@example.com"}
	b.Stats.ErrorCount = 10
	p := New([]*Account{a, b}, 0, testSettings(), nil)
	p.RecordSuccess("a@example.com")

	assert.True(t, a.Recommended)
	assert.False(t, b.Recommended)
}
