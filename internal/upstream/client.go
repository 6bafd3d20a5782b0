// Package upstream supplies the gateway's UpstreamClient implementations.
// The real upstream wire adapter (rewriting an internal Messages request
// into whatever the "Cloud Code" backend expects) is out of scope for this
// port; PassthroughClient assumes the configured base URL already speaks
// the Messages dialect and forwards requests essentially unchanged, the way
// the teacher's own message_handler.go forwards to its configured endpoint
// list before any Gemini-specific rewriting happens.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antigravity/cloudcode-gateway/internal/apierr"
	"github.com/antigravity/cloudcode-gateway/internal/pipeline"
	"github.com/antigravity/cloudcode-gateway/pkg/anthropic"
)

// PassthroughClient implements pipeline.UpstreamClient over a single HTTP
// endpoint, matching the teacher's 10-minute client timeout for long
// streaming responses.
type PassthroughClient struct {
	baseURL string
	http    *http.Client
}

// NewPassthroughClient builds a client against baseURL (no trailing slash).
func NewPassthroughClient(baseURL string) *PassthroughClient {
	return &PassthroughClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *PassthroughClient) newRequest(ctx context.Context, path string, req *pipeline.DispatchRequest) (*http.Request, error) {
	body, err := json.Marshal(req.MessagesRequest)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
	if req.ProjectID != "" {
		httpReq.Header.Set("X-Project-ID", req.ProjectID)
	}
	return httpReq, nil
}

// Send implements pipeline.UpstreamClient.
func (c *PassthroughClient) Send(ctx context.Context, req *pipeline.DispatchRequest) (*anthropic.MessagesResponse, error) {
	httpReq, err := c.newRequest(ctx, "/v1/messages", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, apierr.NewAPIError(fmt.Sprintf("upstream unreachable: %v", err), 503, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, apierr.Classify(resp.StatusCode, resp.Header, string(body), nil)
	}

	var out anthropic.MessagesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apierr.NewAPIError("malformed upstream response", 502, err)
	}
	return &out, nil
}

// Stream implements pipeline.UpstreamClient. Upstream SSE chunks are
// decoded directly into anthropic.SSEEvent values and relayed unchanged,
// since a pass-through upstream already speaks the Messages dialect.
func (c *PassthroughClient) Stream(ctx context.Context, req *pipeline.DispatchRequest) (<-chan *anthropic.SSEEvent, <-chan error) {
	events := make(chan *anthropic.SSEEvent, 32)
	errs := make(chan error, 1)

	httpReq, err := c.newRequest(ctx, "/v1/messages", req)
	if err != nil {
		go func() { errs <- err; close(events); close(errs) }()
		return events, errs
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		go func() {
			errs <- apierr.NewAPIError(fmt.Sprintf("upstream unreachable: %v", err), 503, err)
			close(events)
			close(errs)
		}()
		return events, errs
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		go func() {
			errs <- apierr.Classify(resp.StatusCode, resp.Header, string(body), nil)
			close(events)
			close(errs)
		}()
		return events, errs
	}

	go func() {
		defer resp.Body.Close()
		defer close(events)
		defer close(errs)

		scanner := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			jsonText := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if jsonText == "" {
				continue
			}
			var ev anthropic.SSEEvent
			if err := json.Unmarshal([]byte(jsonText), &ev); err != nil {
				continue
			}
			if ev.Type == anthropic.SSEEventError {
				// The client still needs to see the frame, but the account's
				// outcome must be recorded as a failure (spec §4.7 Scenario 5:
				// a 200 response can still error mid-stream).
				events <- &ev
				errs <- classifyStreamError(ev.Error)
				continue
			}
			events <- &ev
		}
		if err := scanner.Err(); err != nil {
			errs <- err
		}
	}()

	return events, errs
}

// classifyStreamError maps an in-band `event: error` payload onto the
// closed error taxonomy. Unlike an initial non-200 response, the event's
// own Type field already names the taxonomy member (spec §4.7 Scenario 5),
// so no status-code dispatch is needed.
func classifyStreamError(sseErr *anthropic.SSEError) *apierr.APIError {
	if sseErr == nil {
		return apierr.NewAPIError("upstream stream error", 502, nil)
	}
	switch apierr.Type(sseErr.Type) {
	case apierr.TypeAuthentication:
		return apierr.NewAuthError(sseErr.Message, nil)
	case apierr.TypePermission:
		return apierr.NewPermissionError(sseErr.Message, nil)
	case apierr.TypeInvalidRequest:
		return apierr.NewInvalidRequestError(sseErr.Message)
	case apierr.TypeOverloaded:
		return apierr.NewOverloadedError(sseErr.Message, apierr.ParseResetTime(nil, sseErr.Message), nil)
	default:
		return apierr.NewAPIError(sseErr.Message, 500, nil)
	}
}
