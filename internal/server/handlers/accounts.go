package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antigravity/cloudcode-gateway/internal/config"
	"github.com/antigravity/cloudcode-gateway/internal/pool"
)

// AccountsHandler serves GET /account-limits (spec §4.8): per-account pool
// status in JSON or ASCII-table form. Real per-model quota figures require
// the real upstream wire adapter, out of scope for this port (spec §4.5);
// this reports the pool's own health-score view of each account instead.
type AccountsHandler struct {
	pool *pool.Pool
	cfg  *config.Config
}

// NewAccountsHandler builds an AccountsHandler.
func NewAccountsHandler(p *pool.Pool, cfg *config.Config) *AccountsHandler {
	return &AccountsHandler{pool: p, cfg: cfg}
}

type accountLimitEntry struct {
	Email              string `json:"email"`
	Status             string `json:"status"`
	HealthScore        int    `json:"healthScore"`
	Recommended        bool   `json:"recommended"`
	SuccessCount       int64  `json:"successCount"`
	ErrorCount         int64  `json:"errorCount"`
	LastUsed           string `json:"lastUsed,omitempty"`
	RateLimitResetTime string `json:"rateLimitResetTime,omitempty"`
	InvalidReason      string `json:"invalidReason,omitempty"`
}

// AccountLimits handles GET /account-limits.
func (h *AccountsHandler) AccountLimits(c *gin.Context) {
	snapshot := h.pool.Snapshot()
	entries := make([]accountLimitEntry, 0, len(snapshot))
	for _, acc := range snapshot {
		entries = append(entries, newAccountLimitEntry(acc))
	}

	if c.Query("format") == "table" {
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.String(http.StatusOK, buildAccountLimitsTable(entries))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"timestamp":    time.Now().Format(time.RFC3339),
		"pool":         h.pool.Summarize(),
		"modelMapping": h.cfg.ModelMapping,
		"accounts":     entries,
	})
}

func newAccountLimitEntry(acc *pool.Account) accountLimitEntry {
	e := accountLimitEntry{
		Email:        acc.Email,
		HealthScore:  acc.HealthScore,
		Recommended:  acc.Recommended,
		SuccessCount: acc.Stats.SuccessCount,
		ErrorCount:   acc.Stats.ErrorCount,
	}
	switch {
	case acc.IsInvalid:
		e.Status = "invalid"
		e.InvalidReason = acc.InvalidReason
	case acc.IsRateLimited:
		e.Status = "rate-limited"
		e.RateLimitResetTime = time.UnixMilli(acc.RateLimitResetTime).Format(time.RFC3339)
	default:
		e.Status = "ok"
	}
	if acc.LastUsed > 0 {
		e.LastUsed = time.UnixMilli(acc.LastUsed).Format(time.RFC3339)
	}
	return e
}

func buildAccountLimitsTable(entries []accountLimitEntry) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Account Limits (%s)\n\n", time.Now().Format(time.RFC1123)))
	sb.WriteString(fmt.Sprintf("%-28s%-16s%-8s%s\n", "Account", "Status", "Score", "Last Used"))
	sb.WriteString(strings.Repeat("-", 70) + "\n")
	for _, e := range entries {
		lastUsed := e.LastUsed
		if lastUsed == "" {
			lastUsed = "never"
		}
		sb.WriteString(fmt.Sprintf("%-28s%-16s%-8d%s\n", e.Email, e.Status, e.HealthScore, lastUsed))
		if e.InvalidReason != "" {
			sb.WriteString(fmt.Sprintf("  -> %s\n", e.InvalidReason))
		}
	}
	return sb.String()
}
