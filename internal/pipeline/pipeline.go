// Package pipeline implements the Request Pipeline (spec §4.6): the
// classify → acquire-account → resolve-token/project → dispatch →
// record-outcome orchestration shared by both client-facing dialects.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/antigravity/cloudcode-gateway/internal/apierr"
	"github.com/antigravity/cloudcode-gateway/internal/classify"
	"github.com/antigravity/cloudcode-gateway/internal/pool"
	"github.com/antigravity/cloudcode-gateway/pkg/anthropic"
)

// DispatchRequest is the unit of work handed to the UpstreamClient: an
// internal Messages request plus the resolved credentials needed to
// authenticate the call.
type DispatchRequest struct {
	*anthropic.MessagesRequest
	AccessToken  string
	ProjectID    string
	AccountEmail string
}

// UpstreamClient dispatches a resolved request to the upstream backend. The
// upstream wire format itself is out of scope (spec §4.5); this port only
// depends on this interface, supplying a thin pass-through implementation
// (internal/upstream) plus a test double.
type UpstreamClient interface {
	Send(ctx context.Context, req *DispatchRequest) (*anthropic.MessagesResponse, error)
	Stream(ctx context.Context, req *DispatchRequest) (<-chan *anthropic.SSEEvent, <-chan error)
}

// TokenResolver is the narrow view of internal/token.Resolver the pipeline
// depends on.
type TokenResolver interface {
	GetToken(ctx context.Context, acc *pool.Account) (string, error)
	GetProject(ctx context.Context, acc *pool.Account, accessToken string) (string, error)
	ClearTokenCache(email string)
	ClearProjectCache(email string)
}

// FlowRecorder records the flow-start/chunk/complete/error events of §4.9.
// A nil FlowRecorder disables flow recording entirely.
type FlowRecorder interface {
	Start(protocol, route, model string, stream bool, messages []anthropic.Message) string
	Chunk(flowID string, size int)
	Complete(flowID string, usage *anthropic.Usage, summary string)
	Error(flowID string, err error)
}

// Settings are the pipeline's own tunables, distinct from the pool's
// selection settings.
type Settings struct {
	MaxRetries int
}

// Pipeline is the root orchestrator threaded explicitly into the HTTP
// handlers; it holds no package-level state.
type Pipeline struct {
	pool     *pool.Pool
	resolver TokenResolver
	upstream UpstreamClient
	flow     FlowRecorder
	settings Settings
	log      zerolog.Logger
}

// New builds a Pipeline. flow may be nil.
func New(p *pool.Pool, resolver TokenResolver, upstream UpstreamClient, flow FlowRecorder, settings Settings, log zerolog.Logger) *Pipeline {
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = 5
	}
	return &Pipeline{pool: p, resolver: resolver, upstream: upstream, flow: flow, settings: settings, log: log}
}

func (p *Pipeline) startFlow(protocol, route, model string, stream bool, messages []anthropic.Message) string {
	if p.flow == nil {
		return ""
	}
	truncated := messages
	if len(truncated) > 3 {
		truncated = truncated[:3]
	}
	return p.flow.Start(protocol, route, model, stream, truncated)
}

// acquireAccount loops PickStickyAccount/sleep until an account is returned
// or the pool reports nothing usable (spec §4.6 step 5, §4.3 Rule 3). A pool
// with no accounts at all fails with an authentication_error.
func (p *Pipeline) acquireAccount(ctx context.Context, model string) (*pool.Account, error) {
	if p.pool.Count() == 0 {
		return nil, apierr.NewAuthError("no accounts are configured; enroll an account to serve requests", nil)
	}
	if p.pool.IsAllRateLimited() {
		p.pool.ResetAllRateLimits()
	}

	for {
		sel := p.pool.PickStickyAccount(model)
		if sel.Account != nil {
			return sel.Account, nil
		}
		if sel.WaitMs <= 0 {
			return nil, apierr.NewNoAccountsError(0)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(sel.WaitMs+500) * time.Millisecond):
		}
	}
}

func (p *Pipeline) resolveCredentials(ctx context.Context, acc *pool.Account) (token, project string, err error) {
	token, err = p.resolver.GetToken(ctx, acc)
	if err != nil {
		return "", "", err
	}
	project, err = p.resolver.GetProject(ctx, acc, token)
	if err != nil {
		return "", "", err
	}
	return token, project, nil
}

// recordOutcome applies spec §4.6 step 8 / §4.7's classified-failure
// handling to the pool state for the account that just attempted a
// dispatch.
func (p *Pipeline) recordOutcome(acc *pool.Account, err error) {
	if err == nil {
		p.pool.RecordSuccess(acc.Email)
		return
	}

	var apiErr *apierr.APIError
	if !errors.As(err, &apiErr) {
		p.pool.RecordFailure(acc.Email, pool.FailureOptions{})
		return
	}

	switch apiErr.ErrType {
	case apierr.TypeAuthentication:
		p.resolver.ClearTokenCache(acc.Email)
		p.resolver.ClearProjectCache(acc.Email)
		p.pool.RecordFailure(acc.Email, pool.FailureOptions{Invalidate: true, Reason: apiErr.Message})
	case apierr.TypeOverloaded:
		cooldown := apiErr.RetryAfterMs
		if cooldown <= 0 {
			cooldown = p.pool.Settings().CooldownDurationMs
		}
		p.pool.RecordFailure(acc.Email, pool.FailureOptions{RateLimitMs: cooldown})
	default:
		p.pool.RecordFailure(acc.Email, pool.FailureOptions{})
	}
}

func isRetryable(err error) bool {
	var apiErr *apierr.APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	switch apiErr.ErrType {
	case apierr.TypeInvalidRequest, apierr.TypePermission:
		return false
	default:
		return true
	}
}

func summarizeResponse(resp *anthropic.MessagesResponse) string {
	for _, cb := range resp.Content {
		if cb.IsText() && cb.Text != "" {
			if len(cb.Text) > 200 {
				return cb.Text[:200]
			}
			return cb.Text
		}
	}
	return resp.StopReason
}

// SendMessage runs the non-streaming path of spec §4.6.
func (p *Pipeline) SendMessage(ctx context.Context, req *anthropic.MessagesRequest) (*anthropic.MessagesResponse, error) {
	if len(req.Messages) == 0 {
		return nil, apierr.NewInvalidRequestError("messages must be a non-empty ordered sequence")
	}
	req.Model = classify.EffectiveModel(req)

	flowID := p.startFlow("messages", "/v1/messages", req.Model, false, req.Messages)

	var lastErr error
	for attempt := 0; attempt < p.settings.MaxRetries; attempt++ {
		acc, err := p.acquireAccount(ctx, req.Model)
		if err != nil {
			lastErr = err
			break
		}

		token, project, err := p.resolveCredentials(ctx, acc)
		if err != nil {
			lastErr = err
			p.recordOutcome(acc, err)
			continue
		}

		resp, err := p.upstream.Send(ctx, &DispatchRequest{
			MessagesRequest: req,
			AccessToken:     token,
			ProjectID:       project,
			AccountEmail:    acc.Email,
		})
		p.recordOutcome(acc, err)
		if err == nil {
			if p.flow != nil {
				p.flow.Complete(flowID, resp.Usage, summarizeResponse(resp))
			}
			return resp, nil
		}

		lastErr = err
		if !isRetryable(err) {
			break
		}
	}

	if p.flow != nil && lastErr != nil {
		p.flow.Error(flowID, lastErr)
	}
	if lastErr == nil {
		lastErr = apierr.NewAPIError("max retries exceeded", 503, nil)
	}
	return nil, lastErr
}

// StreamMessage runs the streaming path of spec §4.6/§6: upstream chunks are
// relayed to emit unchanged, one SSE event per chunk. The first acquired
// account is used for the whole stream; client disconnects (ctx canceled)
// do not count as a recordable failure (spec §5 Cancellation/timeouts).
func (p *Pipeline) StreamMessage(ctx context.Context, req *anthropic.MessagesRequest, emit func(*anthropic.SSEEvent) error) error {
	if len(req.Messages) == 0 {
		return apierr.NewInvalidRequestError("messages must be a non-empty ordered sequence")
	}
	req.Model = classify.EffectiveModel(req)

	flowID := p.startFlow("messages", "/v1/messages", req.Model, true, req.Messages)

	acc, err := p.acquireAccount(ctx, req.Model)
	if err != nil {
		if p.flow != nil {
			p.flow.Error(flowID, err)
		}
		return err
	}

	token, project, err := p.resolveCredentials(ctx, acc)
	if err != nil {
		p.recordOutcome(acc, err)
		if p.flow != nil {
			p.flow.Error(flowID, err)
		}
		return err
	}

	events, errs := p.upstream.Stream(ctx, &DispatchRequest{
		MessagesRequest: req,
		AccessToken:     token,
		ProjectID:       project,
		AccountEmail:    acc.Email,
	})

	var usage *anthropic.Usage
	var streamErr error
	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Usage != nil {
				usage = ev.Usage
			}
			if p.flow != nil {
				p.flow.Chunk(flowID, 1)
			}
			if emitErr := emit(ev); emitErr != nil {
				streamErr = emitErr
			}
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			streamErr = e
		case <-ctx.Done():
			if p.flow != nil {
				p.flow.Complete(flowID, usage, "client disconnected")
			}
			return ctx.Err()
		}
	}

	p.recordOutcome(acc, streamErr)
	if p.flow != nil {
		if streamErr != nil {
			p.flow.Error(flowID, streamErr)
		} else {
			p.flow.Complete(flowID, usage, "")
		}
	}
	return streamErr
}
