package pool

import (
	"sort"
	"sync"
	"time"
)

// Settings holds the pool's tunable cooldown/affinity parameters (spec §3).
type Settings struct {
	CooldownDurationMs   int64 `json:"cooldownDurationMs"`
	AffinityLockWindowMs int64 `json:"affinityLockWindowMs"`
	ShortWaitThresholdMs int64 `json:"shortWaitThresholdMs"`
	MaxWaitBeforeErrorMs int64 `json:"maxWaitBeforeErrorMs"`
}

// Pool is the in-memory, mutex-guarded set of Accounts plus the sticky
// selection anchor. All access is serialized through mu; the lock is held
// only for bookkeeping, never across upstream I/O (spec §5).
type Pool struct {
	mu sync.Mutex

	accounts []*Account

	currentIndex int

	lastUsedAccount string
	lastUsedAt      int64

	settings Settings

	onChange func([]*Account, int) // persistence hook, called with mu held
}

// New builds a Pool from a loaded account slice and settings.
func New(accounts []*Account, currentIndex int, settings Settings, onChange func([]*Account, int)) *Pool {
	if currentIndex < 0 || currentIndex >= len(accounts) {
		currentIndex = 0
	}
	return &Pool{
		accounts:     accounts,
		currentIndex: currentIndex,
		settings:     settings,
		onChange:     onChange,
	}
}

// Selection is the result of a selection attempt.
type Selection struct {
	Account *Account
	WaitMs  int64
}

// Count returns the number of accounts in the pool.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// Snapshot returns a shallow copy of the account slice for read-only status
// reporting. Callers MUST NOT mutate the returned Accounts.
func (p *Pool) Snapshot() []*Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Account, len(p.accounts))
	copy(out, p.accounts)
	return out
}

// PickStickyAccount implements the four-rule selection policy (spec §4.3).
func (p *Pool) PickStickyAccount(modelID string) Selection {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.clearExpiredLimitsLocked(now)

	if len(p.accounts) == 0 {
		return Selection{}
	}

	// Rule 1: affinity lock.
	if p.lastUsedAccount != "" {
		lockAge := now.UnixMilli() - p.lastUsedAt
		if lockAge < p.settings.AffinityLockWindowMs {
			if acc := p.findByEmailLocked(p.lastUsedAccount); acc != nil {
				if acc.Available() {
					return Selection{Account: acc}
				}
				if acc.IsRateLimited {
					remaining := acc.RemainingCooldown(now)
					if remaining > 0 && remaining <= p.settings.ShortWaitThresholdMs {
						return Selection{WaitMs: remaining}
					}
				}
				// Invalid or long cooldown: fall through to Rule 2.
			}
		}
	}

	// Rule 2: sticky current.
	if p.currentIndex >= 0 && p.currentIndex < len(p.accounts) {
		current := p.accounts[p.currentIndex]
		if current.Available() {
			p.markUsedLocked(current, now)
			return Selection{Account: current}
		}

		// Rule 3: wait-versus-switch, evaluated against the current account.
		if current.IsRateLimited {
			remaining := current.RemainingCooldown(now)
			switch {
			case remaining <= 0:
				// Already expired; clearExpiredLimitsLocked should have
				// caught this, but handle a race defensively.
			case remaining <= p.settings.ShortWaitThresholdMs:
				return Selection{WaitMs: remaining}
			case remaining <= p.settings.MaxWaitBeforeErrorMs:
				if next := p.pickNextLocked(now); next != nil {
					return Selection{Account: next}
				}
				return Selection{WaitMs: remaining}
			default:
				// remaining > MaxWaitBeforeErrorMs: don't wait, fall through.
			}
		}
	}

	// Rule 4: pick next.
	if next := p.pickNextLocked(now); next != nil {
		return Selection{Account: next}
	}
	return Selection{}
}

// pickNextLocked selects from the available set by (healthScore desc,
// lastSuccessAt desc), updates currentIndex and the affinity anchor.
// Caller must hold p.mu.
func (p *Pool) pickNextLocked(now time.Time) *Account {
	type candidate struct {
		acc *Account
		idx int
	}
	var available []candidate
	for i, acc := range p.accounts {
		if acc.Available() {
			available = append(available, candidate{acc, i})
		}
	}
	if len(available) == 0 {
		return nil
	}

	sort.SliceStable(available, func(i, j int) bool {
		a, b := available[i].acc, available[j].acc
		if a.HealthScore != b.HealthScore {
			return a.HealthScore > b.HealthScore
		}
		return a.Stats.LastSuccessAt > b.Stats.LastSuccessAt
	})

	chosen := available[0]
	p.currentIndex = chosen.idx
	p.markUsedLocked(chosen.acc, now)
	return chosen.acc
}

func (p *Pool) markUsedLocked(acc *Account, now time.Time) {
	acc.LastUsed = now.UnixMilli()
	p.lastUsedAccount = acc.Email
	p.lastUsedAt = now.UnixMilli()
	p.recomputeRecommendedLocked(now)
	p.persistLocked()
}

func (p *Pool) findByEmailLocked(email string) *Account {
	for _, acc := range p.accounts {
		if acc.Email == email {
			return acc
		}
	}
	return nil
}

// clearExpiredLimitsLocked expires any cooldown whose reset time has
// passed, rescoring the account. Unlike the ambient pattern's no-op
// (which relied on an external TTL store to reap stale rate limits), this
// pool does the reconciliation itself since the durable state is a plain
// JSON document with no TTL semantics of its own.
func (p *Pool) clearExpiredLimitsLocked(now time.Time) int {
	var cleared int
	for _, acc := range p.accounts {
		if acc.IsRateLimited && acc.RateLimitResetTime > 0 && acc.RateLimitResetTime <= now.UnixMilli() {
			acc.IsRateLimited = false
			acc.RateLimitResetTime = 0
			acc.Rescore(now, p.settings.CooldownDurationMs)
			cleared++
		}
	}
	if cleared > 0 {
		p.recomputeRecommendedLocked(now)
		p.persistLocked()
	}
	return cleared
}

// ClearExpiredLimits is the externally callable form, used by a periodic
// sweep independent of selection.
func (p *Pool) ClearExpiredLimits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clearExpiredLimitsLocked(time.Now())
}

// recomputeRecommendedLocked marks the single non-invalid account with the
// strictly highest score as Recommended, provided its score is > 0 (spec
// §4.3). A tie for the top score marks no account.
func (p *Pool) recomputeRecommendedLocked(now time.Time) {
	var best *Account
	tied := false
	for _, acc := range p.accounts {
		acc.Recommended = false
		if acc.IsInvalid {
			continue
		}
		switch {
		case best == nil || acc.HealthScore > best.HealthScore:
			best = acc
			tied = false
		case acc.HealthScore == best.HealthScore:
			tied = true
		}
	}
	if best != nil && !tied && best.HealthScore > 0 {
		best.Recommended = true
	}
}

// IsAllRateLimited reports whether every account that is not invalid is
// currently rate-limited. Invalid accounts are skipped; an empty pool
// reports false.
func (p *Pool) IsAllRateLimited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.accounts) == 0 {
		return false
	}
	for _, acc := range p.accounts {
		if acc.IsInvalid {
			continue
		}
		if !acc.IsRateLimited {
			return false
		}
	}
	return true
}

// ResetAllRateLimits implements the optimistic-reset escape hatch (spec
// §4.3): when the whole pool looks exhausted, clear every cooldown so the
// next call probes the upstream instead of refusing locally.
func (p *Pool) ResetAllRateLimits() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for _, acc := range p.accounts {
		if acc.IsRateLimited {
			acc.IsRateLimited = false
			acc.RateLimitResetTime = 0
			acc.Rescore(now, p.settings.CooldownDurationMs)
		}
	}
	p.recomputeRecommendedLocked(now)
	p.persistLocked()
}

// RecordSuccess implements the recordSuccess mutation (spec §4.3).
func (p *Pool) RecordSuccess(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc := p.findByEmailLocked(email)
	if acc == nil {
		return
	}
	now := time.Now()
	acc.Stats.SuccessCount++
	acc.Stats.LastSuccessAt = now.UnixMilli()
	acc.IsRateLimited = false
	acc.RateLimitResetTime = 0
	acc.IsInvalid = false
	acc.InvalidReason = ""
	acc.Rescore(now, p.settings.CooldownDurationMs)
	p.recomputeRecommendedLocked(now)
	p.persistLocked()
}

// MarkRateLimited implements the markRateLimited mutation. cooldownMs<=0
// uses the pool's default cooldown.
func (p *Pool) MarkRateLimited(email string, cooldownMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc := p.findByEmailLocked(email)
	if acc == nil {
		return
	}
	if cooldownMs <= 0 {
		cooldownMs = p.settings.CooldownDurationMs
	}
	now := time.Now()
	acc.IsRateLimited = true
	acc.RateLimitResetTime = now.UnixMilli() + cooldownMs
	acc.Stats.ErrorCount++
	acc.Stats.LastFailureAt = now.UnixMilli()
	acc.Rescore(now, p.settings.CooldownDurationMs)
	p.recomputeRecommendedLocked(now)
	p.persistLocked()
}

// ClearInvalid clears an account's invalid flag without touching its
// stats, used by the Token Resolver after a successful refresh (spec §4.2:
// "on success, clear isInvalid on the account").
func (p *Pool) ClearInvalid(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc := p.findByEmailLocked(email)
	if acc == nil || !acc.IsInvalid {
		return
	}
	acc.IsInvalid = false
	acc.InvalidReason = ""
	acc.Rescore(time.Now(), p.settings.CooldownDurationMs)
	p.recomputeRecommendedLocked(time.Now())
	p.persistLocked()
}

// MarkInvalid implements the markInvalid mutation.
func (p *Pool) MarkInvalid(email, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc := p.findByEmailLocked(email)
	if acc == nil {
		return
	}
	now := time.Now()
	acc.IsInvalid = true
	acc.InvalidReason = reason
	acc.InvalidAt = now.UnixMilli()
	acc.Rescore(now, p.settings.CooldownDurationMs)
	p.recomputeRecommendedLocked(now)
	p.persistLocked()
}

// FailureOptions parameterizes RecordFailure.
type FailureOptions struct {
	RateLimitMs int64
	Invalidate  bool
	Reason      string
}

// RecordFailure implements the recordFailure mutation, combining the
// rate-limit and invalidation effects conditionally.
func (p *Pool) RecordFailure(email string, opts FailureOptions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc := p.findByEmailLocked(email)
	if acc == nil {
		return
	}
	now := time.Now()
	acc.Stats.ErrorCount++
	acc.Stats.LastFailureAt = now.UnixMilli()
	if opts.RateLimitMs > 0 {
		acc.IsRateLimited = true
		acc.RateLimitResetTime = now.UnixMilli() + opts.RateLimitMs
	}
	if opts.Invalidate {
		acc.IsInvalid = true
		acc.InvalidReason = opts.Reason
		acc.InvalidAt = now.UnixMilli()
	}
	acc.Rescore(now, p.settings.CooldownDurationMs)
	p.recomputeRecommendedLocked(now)
	p.persistLocked()
}

// AddOrUpdate inserts a new account or replaces an existing one by email.
func (p *Pool) AddOrUpdate(acc *Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.accounts {
		if existing.Email == acc.Email {
			p.accounts[i] = acc
			p.persistLocked()
			return
		}
	}
	p.accounts = append(p.accounts, acc)
	p.persistLocked()
}

// Remove deletes an account by email, returning whether it was found.
func (p *Pool) Remove(email string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, acc := range p.accounts {
		if acc.Email == email {
			p.accounts = append(p.accounts[:i], p.accounts[i+1:]...)
			if p.currentIndex >= len(p.accounts) {
				p.currentIndex = 0
			}
			p.persistLocked()
			return true
		}
	}
	return false
}

// ByEmail returns the account with the given email, if present.
func (p *Pool) ByEmail(email string) *Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.findByEmailLocked(email)
}

// CurrentIndex returns the pool's persisted sticky index, for callers (the
// Credential Store's manual backup path) that need a full document
// snapshot rather than just the account slice.
func (p *Pool) CurrentIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentIndex
}

// Summary reports the counts behind GET /health and GET /account-limits
// (spec §4.8): total accounts and how many are available, rate-limited, or
// invalid right now.
type Summary struct {
	Total       int `json:"total"`
	Available   int `json:"available"`
	RateLimited int `json:"rateLimited"`
	Invalid     int `json:"invalid"`
}

// Summarize computes the pool's current Summary.
func (p *Pool) Summarize() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Summary{Total: len(p.accounts)}
	for _, acc := range p.accounts {
		switch {
		case acc.IsInvalid:
			s.Invalid++
		case acc.IsRateLimited:
			s.RateLimited++
		default:
			s.Available++
		}
	}
	return s
}

// Settings returns a copy of the pool's current tunables.
func (p *Pool) Settings() Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

// persistLocked invokes the write-behind hook with a snapshot. Called with
// p.mu held; the hook itself must not block on I/O synchronously with the
// lock (it enqueues onto the Credential Store's single-writer chain).
func (p *Pool) persistLocked() {
	if p.onChange == nil {
		return
	}
	snapshot := make([]*Account, len(p.accounts))
	copy(snapshot, p.accounts)
	p.onChange(snapshot, p.currentIndex)
}
