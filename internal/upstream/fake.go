package upstream

import (
	"context"

	"github.com/antigravity/cloudcode-gateway/internal/pipeline"
	"github.com/antigravity/cloudcode-gateway/pkg/anthropic"
)

// FakeClient is the test double named in spec §4.5 ("this port supplies a
// thin pass-through implementation plus a test double, not the real
// adapter"). Responses and events are scripted in order; SendFunc/StreamFunc
// override the defaults when set.
type FakeClient struct {
	Responses []*anthropic.MessagesResponse
	Errors    []error
	Events    []*anthropic.SSEEvent
	StreamErr error

	SendFunc   func(ctx context.Context, req *pipeline.DispatchRequest) (*anthropic.MessagesResponse, error)
	StreamFunc func(ctx context.Context, req *pipeline.DispatchRequest) (<-chan *anthropic.SSEEvent, <-chan error)

	Calls []*pipeline.DispatchRequest

	callIndex int
}

// Send implements pipeline.UpstreamClient, returning the next scripted
// response/error pair, or delegating to SendFunc if set.
func (f *FakeClient) Send(ctx context.Context, req *pipeline.DispatchRequest) (*anthropic.MessagesResponse, error) {
	f.Calls = append(f.Calls, req)
	if f.SendFunc != nil {
		return f.SendFunc(ctx, req)
	}

	idx := f.callIndex
	f.callIndex++

	var err error
	if idx < len(f.Errors) {
		err = f.Errors[idx]
	}
	var resp *anthropic.MessagesResponse
	if idx < len(f.Responses) {
		resp = f.Responses[idx]
	}
	return resp, err
}

// Stream implements pipeline.UpstreamClient, replaying the scripted Events
// slice followed by StreamErr, or delegating to StreamFunc if set.
func (f *FakeClient) Stream(ctx context.Context, req *pipeline.DispatchRequest) (<-chan *anthropic.SSEEvent, <-chan error) {
	f.Calls = append(f.Calls, req)
	if f.StreamFunc != nil {
		return f.StreamFunc(ctx, req)
	}

	events := make(chan *anthropic.SSEEvent, len(f.Events))
	errs := make(chan error, 1)
	for _, ev := range f.Events {
		events <- ev
	}
	close(events)
	if f.StreamErr != nil {
		errs <- f.StreamErr
	}
	close(errs)
	return events, errs
}
