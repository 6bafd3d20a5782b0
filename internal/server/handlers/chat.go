package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antigravity/cloudcode-gateway/internal/apierr"
	"github.com/antigravity/cloudcode-gateway/internal/dialect"
	"github.com/antigravity/cloudcode-gateway/internal/pipeline"
)

// ChatCompletionsHandler adapts the Chat-Completions dialect onto the
// Request Pipeline via internal/dialect (spec §4.5). Streaming requests
// are rejected with HTTP 400 before any translation is attempted.
type ChatCompletionsHandler struct {
	pipeline *pipeline.Pipeline
}

// NewChatCompletionsHandler builds a ChatCompletionsHandler.
func NewChatCompletionsHandler(p *pipeline.Pipeline) *ChatCompletionsHandler {
	return &ChatCompletionsHandler{pipeline: p}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *ChatCompletionsHandler) ChatCompletions(c *gin.Context) {
	var req dialect.ChatCompletionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dialect.NewChatErrorResponse("invalid_request_error", "invalid request body: "+err.Error()))
		return
	}
	if req.Stream {
		c.JSON(http.StatusBadRequest, dialect.NewChatErrorResponse("invalid_request_error", "streaming is not supported on /v1/chat/completions"))
		return
	}

	declaredModel := req.Model
	resp, err := h.pipeline.SendMessage(c.Request.Context(), dialect.ToMessagesRequest(&req))
	if err != nil {
		var apiErr *apierr.APIError
		statusCode, errType, msg := http.StatusInternalServerError, string(apierr.TypeAPI), err.Error()
		if errors.As(err, &apiErr) {
			statusCode, errType, msg = apiErr.StatusCode, string(apiErr.ErrType), apiErr.Message
			if apiErr.RetryAfterMs > 0 {
				c.Header("Retry-After", strconv.FormatInt((apiErr.RetryAfterMs+999)/1000, 10))
			}
		}
		c.JSON(statusCode, dialect.NewChatErrorResponse(errType, msg))
		return
	}

	out := dialect.FromMessagesResponse(resp, declaredModel, time.Now().Unix())
	c.JSON(http.StatusOK, out)
}
