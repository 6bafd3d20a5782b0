package flow

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity/cloudcode-gateway/pkg/anthropic"
)

func newTestMonitor(t *testing.T, capacity int) *Monitor {
	m := New(t.TempDir(), capacity, 7, zerolog.Nop())
	t.Cleanup(m.Close)
	return m
}

func TestStartThenComplete_UpdatesRingEntry(t *testing.T) {
	m := newTestMonitor(t, 10)
	id := m.Start("messages", "/v1/messages", "claude-sonnet-4-5", false, nil)
	m.Complete(id, &anthropic.Usage{InputTokens: 5, OutputTokens: 7}, "hello")

	results := m.Query(10)
	require.Len(t, results, 1)
	assert.Equal(t, StatusComplete, results[0].Status)
	assert.Equal(t, "hello", results[0].Summary)
	assert.Equal(t, 7, results[0].Usage.OutputTokens)
}

func TestError_MarksFlowErrorStatus(t *testing.T) {
	m := newTestMonitor(t, 10)
	id := m.Start("chat_completions", "/v1/chat/completions", "claude-haiku-4-5", false, nil)
	m.Error(id, assertError{"boom"})

	results := m.Query(10)
	require.Len(t, results, 1)
	assert.Equal(t, StatusError, results[0].Status)
	assert.Equal(t, "boom", results[0].Error)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

func TestQuery_ReturnsNewestFirst(t *testing.T) {
	m := newTestMonitor(t, 10)
	first := m.Start("messages", "/v1/messages", "m1", false, nil)
	time.Sleep(time.Millisecond)
	second := m.Start("messages", "/v1/messages", "m2", false, nil)

	results := m.Query(10)
	require.Len(t, results, 2)
	assert.Equal(t, second, results[0].ID)
	assert.Equal(t, first, results[1].ID)
}

func TestRingEvictsOldestBeyondCapacity(t *testing.T) {
	m := newTestMonitor(t, 2)
	m.Start("messages", "/v1/messages", "m1", false, nil)
	m.Start("messages", "/v1/messages", "m2", false, nil)
	third := m.Start("messages", "/v1/messages", "m3", false, nil)

	results := m.Query(10)
	require.Len(t, results, 2)
	assert.Equal(t, third, results[0].ID)
}

func TestClear_EmptiesRing(t *testing.T) {
	m := newTestMonitor(t, 10)
	m.Start("messages", "/v1/messages", "m1", false, nil)
	m.Clear()
	assert.Empty(t, m.Query(10))
}

func TestQueryCombined_RingVersionOverridesStaleFileLine(t *testing.T) {
	m := New(t.TempDir(), 10, 7, zerolog.Nop())
	id := m.Start("messages", "/v1/messages", "m1", false, nil)
	m.Complete(id, &anthropic.Usage{InputTokens: 1, OutputTokens: 2}, "done")
	m.Close() // drains the write queue so both the start and complete lines land on disk

	today := time.Now().UTC().Format("2006-01-02")
	fileEvents, err := m.QueryFile(today)
	require.NoError(t, err)
	require.Len(t, fileEvents, 2, "the file carries one line for Start and one for Complete")

	merged, err := m.QueryCombined(today)
	require.NoError(t, err)
	require.Len(t, merged, 1, "the ring's single up-to-date entry replaces both file lines for the same flow ID")
	assert.Equal(t, StatusComplete, merged[0].Status)
}

func TestChunk_IncrementsCountOnInProgressFlow(t *testing.T) {
	m := newTestMonitor(t, 10)
	id := m.Start("messages", "/v1/messages", "m1", true, nil)
	m.Chunk(id, 1)
	m.Chunk(id, 1)

	results := m.Query(10)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].ChunkCount)
}
