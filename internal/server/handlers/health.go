// Package handlers provides the gin handlers backing the HTTP Surface
// (spec §4.8): health, models, messages, chat completions, account limits,
// token refresh, and the admin/flow endpoints.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/antigravity/cloudcode-gateway/internal/pool"
)

// HealthHandler serves GET /health: a pool summary, used by operators and
// by clients probing whether the gateway is up before sending traffic.
type HealthHandler struct {
	pool *pool.Pool
}

// NewHealthHandler builds a HealthHandler.
func NewHealthHandler(p *pool.Pool) *HealthHandler {
	return &HealthHandler{pool: p}
}

// Health handles GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"pool":   h.pool.Summarize(),
	})
}
