package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity/cloudcode-gateway/internal/pool"
)

type fakeInvalidator struct {
	invalidEmail  string
	invalidReason string
	cleared       string
}

func (f *fakeInvalidator) MarkInvalid(email, reason string) {
	f.invalidEmail = email
	f.invalidReason = reason
}

func (f *fakeInvalidator) ClearInvalid(email string) {
	f.cleared = email
}

func TestResolver_ManualSourceReturnsStoredKey(t *testing.T) {
	inv := &fakeInvalidator{}
	r := New(Config{TokenTTL: 5 * time.Minute}, nil, inv)

	acc := &pool.Account{Email: "a@example.com", Source: pool.SourceManual, ManualAPIKey: "sk-manual-key"}
	tok, err := r.GetToken(context.Background(), acc)
	require.NoError(t, err)
	assert.Equal(t, "sk-manual-key", tok)
}

func TestResolver_TokenCacheHitSkipsRefresh(t *testing.T) {
	inv := &fakeInvalidator{}
	r := New(Config{TokenTTL: 5 * time.Minute}, nil, inv)
	acc := &pool.Account{Email: "a@example.com", Source: pool.SourceManual, ManualAPIKey: "first"}

	tok1, err := r.GetToken(context.Background(), acc)
	require.NoError(t, err)

	acc.ManualAPIKey = "second"
	tok2, err := r.GetToken(context.Background(), acc)
	require.NoError(t, err)

	assert.Equal(t, tok1, tok2)
}

func TestResolver_ProjectFromAccountOverride(t *testing.T) {
	inv := &fakeInvalidator{}
	r := New(Config{DefaultProject: "fallback-project"}, nil, inv)
	acc := &pool.Account{Email: "a@example.com", ProjectID: "explicit-project"}

	project, err := r.GetProject(context.Background(), acc, "token")
	require.NoError(t, err)
	assert.Equal(t, "explicit-project", project)
}

func TestResolver_ProjectFallsBackToDefault(t *testing.T) {
	inv := &fakeInvalidator{}
	r := New(Config{DefaultProject: "fallback-project", DiscoveryURLs: nil}, nil, inv)
	acc := &pool.Account{Email: "b@example.com"}

	project, err := r.GetProject(context.Background(), acc, "token")
	require.NoError(t, err)
	assert.Equal(t, "fallback-project", project)
}

func TestResolver_DatabaseSourceMarksInvalidOnFailure(t *testing.T) {
	inv := &fakeInvalidator{}
	r := New(Config{DBTimeout: time.Second}, nil, inv)
	acc := &pool.Account{Email: "c@example.com", Source: pool.SourceDatabase, DatabasePath: "/nonexistent/path.sqlite"}

	_, err := r.GetToken(context.Background(), acc)
	require.Error(t, err)
	assert.Equal(t, "c@example.com", inv.invalidEmail)
}

func TestResolver_ClearTokenCacheForcesRefresh(t *testing.T) {
	inv := &fakeInvalidator{}
	r := New(Config{TokenTTL: 5 * time.Minute}, nil, inv)
	acc := &pool.Account{Email: "a@example.com", Source: pool.SourceManual, ManualAPIKey: "first"}

	_, err := r.GetToken(context.Background(), acc)
	require.NoError(t, err)

	r.ClearTokenCache(acc.Email)
	acc.ManualAPIKey = "second"
	tok, err := r.GetToken(context.Background(), acc)
	require.NoError(t, err)
	assert.Equal(t, "second", tok)
}
