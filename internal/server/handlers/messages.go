package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/antigravity/cloudcode-gateway/internal/apierr"
	"github.com/antigravity/cloudcode-gateway/internal/pipeline"
	"github.com/antigravity/cloudcode-gateway/internal/server/sse"
	"github.com/antigravity/cloudcode-gateway/pkg/anthropic"
)

// MessagesHandler serves the Messages dialect's POST /v1/messages (spec
// §4.8, §6), dispatching both the streaming and non-streaming paths
// through the shared Request Pipeline.
type MessagesHandler struct {
	pipeline *pipeline.Pipeline
}

// NewMessagesHandler builds a MessagesHandler.
func NewMessagesHandler(p *pipeline.Pipeline) *MessagesHandler {
	return &MessagesHandler{pipeline: p}
}

// Messages handles POST /v1/messages.
func (h *MessagesHandler) Messages(c *gin.Context) {
	var req anthropic.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeMessagesError(c, http.StatusBadRequest, "invalid_request_error", "invalid request body: "+err.Error())
		return
	}
	// The classifier may downgrade req.Model for scheduling purposes; the
	// client-visible response still echoes what it declared (spec §8,
	// scenario 4).
	declaredModel := req.Model

	if req.Stream {
		h.stream(c, &req, declaredModel)
		return
	}
	h.send(c, &req, declaredModel)
}

func (h *MessagesHandler) send(c *gin.Context, req *anthropic.MessagesRequest, declaredModel string) {
	resp, err := h.pipeline.SendMessage(c.Request.Context(), req)
	if err != nil {
		statusCode, errType, msg := classifyError(err)
		setRetryAfter(c, err)
		writeMessagesError(c, statusCode, errType, msg)
		return
	}
	if declaredModel != "" {
		resp.Model = declaredModel
	}
	c.JSON(http.StatusOK, resp)
}

func (h *MessagesHandler) stream(c *gin.Context, req *anthropic.MessagesRequest, declaredModel string) {
	w, err := sse.NewWriter(c.Writer)
	if err != nil {
		writeMessagesError(c, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	headersSent := false
	emit := func(ev *anthropic.SSEEvent) error {
		if ev.Type == anthropic.SSEEventMessageStart && ev.Message != nil && declaredModel != "" {
			ev.Message.Model = declaredModel
		}
		if !headersSent {
			c.Status(http.StatusOK)
			w.SetHeaders()
			headersSent = true
		}
		return w.WriteEvent(string(ev.Type), ev)
	}

	err = h.pipeline.StreamMessage(c.Request.Context(), req, emit)
	if err == nil {
		return
	}

	if !headersSent {
		statusCode, errType, msg := classifyError(err)
		setRetryAfter(c, err)
		writeMessagesError(c, statusCode, errType, msg)
		return
	}

	// Headers are already flushed: the error surfaces as an SSE error
	// frame, preceded by a retry hint when one is available (spec §6).
	_, errType, msg := classifyError(err)
	if retryMs := retryAfterMs(err); retryMs > 0 {
		_ = w.WriteRetry(retryMs)
	}
	_ = w.WriteError(errType, msg)
}

// CountTokens handles POST /v1/messages/count_tokens. Exact token counting
// requires the real upstream adapter, out of scope for this port (spec
// §4.5); the endpoint reports that contract explicitly.
func (h *MessagesHandler) CountTokens(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, anthropic.NewErrorResponse(
		"invalid_request_error",
		"token counting is not implemented by this gateway",
	))
}

func writeMessagesError(c *gin.Context, statusCode int, errType, message string) {
	c.JSON(statusCode, anthropic.NewErrorResponse(errType, message))
}

func classifyError(err error) (statusCode int, errType, message string) {
	var apiErr *apierr.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, string(apiErr.ErrType), apiErr.Message
	}
	return http.StatusInternalServerError, string(apierr.TypeAPI), err.Error()
}

func retryAfterMs(err error) int64 {
	var apiErr *apierr.APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfterMs
	}
	return 0
}

// setRetryAfter sets the HTTP Retry-After header (in whole seconds,
// rounded up) when err carries a retry hint (spec §7: "503s also carry
// Retry-After").
func setRetryAfter(c *gin.Context, err error) {
	if ms := retryAfterMs(err); ms > 0 {
		c.Header("Retry-After", strconv.FormatInt((ms+999)/1000, 10))
	}
}
