package pipeline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity/cloudcode-gateway/internal/apierr"
	"github.com/antigravity/cloudcode-gateway/internal/pool"
	"github.com/antigravity/cloudcode-gateway/pkg/anthropic"
)

type fakeResolver struct {
	token, project string
	err            error
	clearedTokens  []string
	clearedProject []string
}

func (f *fakeResolver) GetToken(ctx context.Context, acc *pool.Account) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}
func (f *fakeResolver) GetProject(ctx context.Context, acc *pool.Account, accessToken string) (string, error) {
	return f.project, nil
}
func (f *fakeResolver) ClearTokenCache(email string)   { f.clearedTokens = append(f.clearedTokens, email) }
func (f *fakeResolver) ClearProjectCache(email string)  { f.clearedProject = append(f.clearedProject, email) }

type fakeUpstream struct {
	resp *anthropic.MessagesResponse
	err  error

	// streamEvents/streamErr script the Stream path. A non-nil streamErr is
	// sent on errs after every streamEvents entry has been sent on events,
	// reproducing an in-band `type:"error"` event arriving mid-stream on an
	// otherwise-200 response.
	streamEvents []*anthropic.SSEEvent
	streamErr    error
}

func (f *fakeUpstream) Send(ctx context.Context, req *DispatchRequest) (*anthropic.MessagesResponse, error) {
	return f.resp, f.err
}
func (f *fakeUpstream) Stream(ctx context.Context, req *DispatchRequest) (<-chan *anthropic.SSEEvent, <-chan error) {
	events := make(chan *anthropic.SSEEvent, len(f.streamEvents))
	errs := make(chan error, 1)
	for _, ev := range f.streamEvents {
		events <- ev
	}
	close(events)
	if f.streamErr != nil {
		errs <- f.streamErr
	}
	close(errs)
	return events, errs
}

func testPool() *pool.Pool {
	return pool.New([]*pool.Account{{Email: "a@example.com"}}, 0, pool.Settings{
		CooldownDurationMs:   10_000,
		AffinityLockWindowMs: 60_000,
		ShortWaitThresholdMs: 10_000,
		MaxWaitBeforeErrorMs: 120_000,
	}, nil)
}

func basicRequest() *anthropic.MessagesRequest {
	return &anthropic.MessagesRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []anthropic.Message{{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}}},
	}
}

func TestSendMessage_RejectsEmptyMessages(t *testing.T) {
	p := New(testPool(), &fakeResolver{}, &fakeUpstream{}, nil, Settings{}, zerolog.Nop())
	_, err := p.SendMessage(context.Background(), &anthropic.MessagesRequest{Model: "m"})
	require.Error(t, err)
	var apiErr *apierr.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.TypeInvalidRequest, apiErr.ErrType)
}

func TestSendMessage_SuccessRecordsPoolSuccess(t *testing.T) {
	want := anthropic.NewMessagesResponse("msg_1", "claude-sonnet-4-5", []anthropic.ContentBlock{{Type: "text", Text: "hello"}}, "end_turn", nil)
	up := &fakeUpstream{resp: want}
	pl := testPool()
	p := New(pl, &fakeResolver{token: "tok", project: "proj"}, up, nil, Settings{}, zerolog.Nop())

	resp, err := p.SendMessage(context.Background(), basicRequest())
	require.NoError(t, err)
	assert.Equal(t, "msg_1", resp.ID)
	assert.Equal(t, int64(1), pl.ByEmail("a@example.com").Stats.SuccessCount)
}

func TestSendMessage_AuthFailureInvalidatesAccountAndClearsCaches(t *testing.T) {
	up := &fakeUpstream{err: apierr.NewAuthError("token revoked", nil)}
	pl := testPool()
	resolver := &fakeResolver{token: "tok", project: "proj"}
	p := New(pl, resolver, up, nil, Settings{MaxRetries: 1}, zerolog.Nop())

	_, err := p.SendMessage(context.Background(), basicRequest())
	require.Error(t, err)
	acc := pl.ByEmail("a@example.com")
	assert.True(t, acc.IsInvalid)
	assert.Contains(t, resolver.clearedTokens, "a@example.com")
	assert.Contains(t, resolver.clearedProject, "a@example.com")
}

func TestSendMessage_InvalidRequestErrorDoesNotRetry(t *testing.T) {
	up := &fakeUpstream{err: apierr.NewInvalidRequestError("bad input")}
	pl := testPool()
	p := New(pl, &fakeResolver{token: "tok"}, up, nil, Settings{MaxRetries: 5}, zerolog.Nop())

	_, err := p.SendMessage(context.Background(), basicRequest())
	require.Error(t, err)
	var apiErr *apierr.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.TypeInvalidRequest, apiErr.ErrType)
	assert.Equal(t, int64(1), pl.ByEmail("a@example.com").Stats.ErrorCount, "only one dispatch attempt is recorded")
}

func TestStreamMessage_InBandErrorDoesNotRecordSuccess(t *testing.T) {
	up := &fakeUpstream{
		streamEvents: []*anthropic.SSEEvent{
			{Type: anthropic.SSEEventContentBlockDelta, Delta: &anthropic.ContentDelta{Type: "text_delta", Text: "partial"}},
		},
		streamErr: apierr.NewOverloadedError("RESOURCE_EXHAUSTED, reset after 2m0s", 120_000, nil),
	}
	pl := testPool()
	p := New(pl, &fakeResolver{token: "tok", project: "proj"}, up, nil, Settings{}, zerolog.Nop())

	var emitted []*anthropic.SSEEvent
	err := p.StreamMessage(context.Background(), basicRequest(), func(ev *anthropic.SSEEvent) error {
		emitted = append(emitted, ev)
		return nil
	})

	require.Error(t, err)
	var apiErr *apierr.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.TypeOverloaded, apiErr.ErrType)

	acc := pl.ByEmail("a@example.com")
	assert.Equal(t, int64(0), acc.Stats.SuccessCount)
	assert.Equal(t, int64(1), acc.Stats.ErrorCount)
	assert.True(t, acc.IsRateLimited)
	assert.Len(t, emitted, 1, "the chunk preceding the in-band error still reaches the client")
}

func TestSendMessage_NoAccountsReturnsAuthenticationError(t *testing.T) {
	pl := pool.New(nil, 0, pool.Settings{}, nil)
	p := New(pl, &fakeResolver{}, &fakeUpstream{}, nil, Settings{}, zerolog.Nop())

	_, err := p.SendMessage(context.Background(), basicRequest())
	require.Error(t, err)
	var apiErr *apierr.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.TypeAuthentication, apiErr.ErrType)
}
