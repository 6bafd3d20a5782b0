package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/antigravity/cloudcode-gateway/internal/config"
	"github.com/antigravity/cloudcode-gateway/pkg/anthropic"
)

// ModelsHandler serves GET /v1/models: the static enumeration of models
// the pool's configured provider supports (spec §4.8, §6).
type ModelsHandler struct{}

// NewModelsHandler builds a ModelsHandler.
func NewModelsHandler() *ModelsHandler {
	return &ModelsHandler{}
}

// Models handles GET /v1/models.
func (h *ModelsHandler) Models(c *gin.Context) {
	data := make([]anthropic.Model, 0, len(config.SupportedModels))
	for _, id := range config.SupportedModels {
		data = append(data, anthropic.Model{ID: id, Object: "model", OwnedBy: "anthropic"})
	}
	c.JSON(http.StatusOK, anthropic.ModelsResponse{Object: "list", Data: data})
}
