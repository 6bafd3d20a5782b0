package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity/cloudcode-gateway/internal/config"
	"github.com/antigravity/cloudcode-gateway/internal/flow"
	"github.com/antigravity/cloudcode-gateway/internal/pipeline"
	"github.com/antigravity/cloudcode-gateway/internal/pool"
	"github.com/antigravity/cloudcode-gateway/pkg/anthropic"
)

type stubResolver struct{}

func (stubResolver) GetToken(ctx context.Context, acc *pool.Account) (string, error) {
	return "tok", nil
}
func (stubResolver) GetProject(ctx context.Context, acc *pool.Account, accessToken string) (string, error) {
	return "proj", nil
}
func (stubResolver) ClearTokenCache(email string)   {}
func (stubResolver) ClearProjectCache(email string) {}

type stubUpstream struct{}

func (stubUpstream) Send(ctx context.Context, req *pipeline.DispatchRequest) (*anthropic.MessagesResponse, error) {
	return anthropic.NewMessagesResponse("msg_1", req.Model,
		[]anthropic.ContentBlock{{Type: "text", Text: "hi"}}, "end_turn",
		&anthropic.Usage{InputTokens: 1, OutputTokens: 1}), nil
}

func (stubUpstream) Stream(ctx context.Context, req *pipeline.DispatchRequest) (<-chan *anthropic.SSEEvent, <-chan error) {
	events := make(chan *anthropic.SSEEvent)
	errs := make(chan error)
	close(events)
	close(errs)
	return events, errs
}

func newTestServer(t *testing.T) *Server {
	p := pool.New([]*pool.Account{{Email: "a@example.com"}}, 0, pool.Settings{
		CooldownDurationMs:   10_000,
		AffinityLockWindowMs: 60_000,
		ShortWaitThresholdMs: 10_000,
		MaxWaitBeforeErrorMs: 120_000,
	}, nil)
	fm := flow.New(t.TempDir(), 10, 7, zerolog.Nop())
	t.Cleanup(fm.Close)
	pl := pipeline.New(p, stubResolver{}, stubUpstream{}, fm, pipeline.Settings{}, zerolog.Nop())

	app := &App{
		Config:   config.DefaultConfig(),
		Pool:     p,
		Pipeline: pl,
		Flow:     fm,
		Tokens:   stubResolver{},
		Log:      zerolog.Nop(),
	}
	return New(app, Options{})
}

func TestHealth_ReturnsPoolSummary(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminConfig_RequiresAdminKeyWhenConfigured(t *testing.T) {
	s := newTestServer(t)
	s.app.Config.AdminKey = "secret"

	req := httptest.NewRequest(http.MethodGet, "/api/admin/config", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/api/admin/config", nil)
	req2.Header.Set("X-Admin-Key", "secret")
	rec2 := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestMessages_NonStreamingRoundTrip(t *testing.T) {
	s := newTestServer(t)
	body := strings.NewReader(`{"model":"claude-sonnet-4-5","max_tokens":100,"messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"claude-sonnet-4-5"`)
}

func TestNoRoute_Returns404WithTaxonomy(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request_error")
}
