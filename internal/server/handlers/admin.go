package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/antigravity/cloudcode-gateway/internal/config"
	"github.com/antigravity/cloudcode-gateway/internal/pool"
)

// AdminHandler serves the /api/admin/* surface (spec §6): config
// read/patch and Credential Store backup management. Callers reach these
// handlers only through AdminKeyAuthMiddleware.
type AdminHandler struct {
	cfg   *config.Config
	pool  *pool.Pool
	store *pool.Store
}

// NewAdminHandler builds an AdminHandler. store may be nil in deployments
// without a Credential Store, in which case the backup endpoints degrade
// to an empty/unavailable response.
func NewAdminHandler(cfg *config.Config, p *pool.Pool, store *pool.Store) *AdminHandler {
	return &AdminHandler{cfg: cfg, pool: p, store: store}
}

// GetConfig handles GET /api/admin/config.
func (h *AdminHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.cfg.GetAdminView())
}

// PatchConfig handles POST /api/admin/config.
func (h *AdminHandler) PatchConfig(c *gin.Context) {
	var patch config.AdminConfigView
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"type": "error", "error": gin.H{"type": "invalid_request_error", "message": err.Error()}})
		return
	}
	requiresRestart, err := h.cfg.ApplyAdminView(patch)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"type": "error", "error": gin.H{"type": "invalid_request_error", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requiresRestart": requiresRestart})
}

type backupRequest struct {
	Label string `json:"label"`
}

// CreateBackup handles POST /api/admin/backup.
func (h *AdminHandler) CreateBackup(c *gin.Context) {
	var req backupRequest
	_ = c.ShouldBindJSON(&req) // body, including label, is optional

	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"type": "error", "error": gin.H{"type": "api_error", "message": "credential store is not configured"}})
		return
	}

	info, err := h.store.TriggerBackup(h.pool.Snapshot(), h.pool.CurrentIndex(), h.pool.Settings(), h.cfg, req.Label)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"type": "error", "error": gin.H{"type": "api_error", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, info)
}

// ListBackups handles GET /api/admin/backups.
func (h *AdminHandler) ListBackups(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"backups": []pool.BackupInfo{}})
		return
	}
	backups, err := h.store.ListBackups()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"type": "error", "error": gin.H{"type": "api_error", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": backups})
}
