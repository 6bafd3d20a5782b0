package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/antigravity/cloudcode-gateway/internal/flow"
)

// FlowsHandler serves GET/DELETE /api/flows (spec §4.9, §6).
type FlowsHandler struct {
	monitor *flow.Monitor
}

// NewFlowsHandler builds a FlowsHandler. monitor may be nil, in which case
// the endpoints report an empty flow set rather than failing.
func NewFlowsHandler(m *flow.Monitor) *FlowsHandler {
	return &FlowsHandler{monitor: m}
}

// Query handles GET /api/flows?limit=N&export=json|file&day=YYYY-MM-DD.
func (h *FlowsHandler) Query(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusOK, gin.H{"flows": []*flow.Event{}})
		return
	}

	if c.Query("export") == "file" {
		day := c.Query("day")
		if day == "" {
			c.JSON(http.StatusBadRequest, gin.H{"type": "error", "error": gin.H{"type": "invalid_request_error", "message": "day is required when export=file"}})
			return
		}
		events, err := h.monitor.QueryCombined(day)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"type": "error", "error": gin.H{"type": "invalid_request_error", "message": err.Error()}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"flows": events})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	c.JSON(http.StatusOK, gin.H{"flows": h.monitor.Query(limit)})
}

// Clear handles DELETE /api/flows (admin): resets the in-memory ring,
// leaving already-written NDJSON files untouched (spec §4.9).
func (h *FlowsHandler) Clear(c *gin.Context) {
	if h.monitor != nil {
		h.monitor.Clear()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
