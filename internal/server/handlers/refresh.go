package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// TokenCacheClearer is the narrow view of internal/token.Resolver this
// handler needs.
type TokenCacheClearer interface {
	ClearTokenCache(email string)
	ClearProjectCache(email string)
}

// RefreshTokenHandler serves POST /refresh-token (spec §4.8): clears every
// cached token/project so the next request re-derives credentials from
// scratch.
type RefreshTokenHandler struct {
	resolver TokenCacheClearer
}

// NewRefreshTokenHandler builds a RefreshTokenHandler.
func NewRefreshTokenHandler(resolver TokenCacheClearer) *RefreshTokenHandler {
	return &RefreshTokenHandler{resolver: resolver}
}

// RefreshToken handles POST /refresh-token.
func (h *RefreshTokenHandler) RefreshToken(c *gin.Context) {
	h.resolver.ClearTokenCache("")
	h.resolver.ClearProjectCache("")
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "token and project caches cleared"})
}
