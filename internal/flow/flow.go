// Package flow implements the Flow Monitor (spec §4.9, ambient): a bounded
// in-memory ring of recent request flows for the /api/flows read path, plus
// a single-writer NDJSON append log (one file per UTC day) with an hourly
// retention sweep — mirroring the teacher's usage-stats background-pruning
// ticker idiom, applied to a new domain.
package flow

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/antigravity/cloudcode-gateway/internal/utils"
	"github.com/antigravity/cloudcode-gateway/pkg/anthropic"
)

// Status is a flow's terminal or in-progress state.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Event is one recorded flow: a single /v1/messages or /v1/chat/completions
// call, from flow-start through its terminal chunk/complete/error.
type Event struct {
	ID          string              `json:"id"`
	Protocol    string              `json:"protocol"`
	Route       string              `json:"route"`
	Model       string              `json:"model"`
	Stream      bool                `json:"stream"`
	Messages    []anthropic.Message `json:"messages"`
	Status      Status              `json:"status"`
	ChunkCount  int                 `json:"chunkCount,omitempty"`
	Usage       *anthropic.Usage    `json:"usage,omitempty"`
	Summary     string              `json:"summary,omitempty"`
	Error       string              `json:"error,omitempty"`
	StartedAt   int64               `json:"startedAt"`
	CompletedAt int64               `json:"completedAt,omitempty"`
}

// Monitor is the Flow Monitor: a mutex-guarded ring buffer plus a
// channel-fed single-writer NDJSON log.
type Monitor struct {
	mu       sync.Mutex
	ring     []*Event
	capacity int
	byID     map[string]int // id -> index into ring, for Chunk/Complete/Error lookups

	logDir        string
	retentionDays int
	log           zerolog.Logger

	writes chan *Event
	done   chan struct{}
	stop   chan struct{}
}

// New starts the Monitor's background writer and hourly retention sweep.
func New(logDir string, capacity, retentionDays int, log zerolog.Logger) *Monitor {
	if capacity <= 0 {
		capacity = 500
	}
	if retentionDays <= 0 {
		retentionDays = 7
	}
	m := &Monitor{
		byID:          make(map[string]int),
		capacity:      capacity,
		logDir:        logDir,
		retentionDays: retentionDays,
		log:           log,
		writes:        make(chan *Event, 128),
		done:          make(chan struct{}),
		stop:          make(chan struct{}),
	}
	go m.writerLoop()
	go m.sweepLoop()
	return m
}

// Close stops the background goroutines, waiting for the write queue to
// drain first.
func (m *Monitor) Close() {
	close(m.writes)
	<-m.done
	close(m.stop)
}

// Start implements pipeline.FlowRecorder: records a flow-start event and
// returns its ID.
func (m *Monitor) Start(protocol, route, model string, stream bool, messages []anthropic.Message) string {
	ev := &Event{
		ID:        "flow_" + uuid.New().String(),
		Protocol:  protocol,
		Route:     route,
		Model:     model,
		Stream:    stream,
		Messages:  messages,
		Status:    StatusInProgress,
		StartedAt: time.Now().UnixMilli(),
	}
	m.push(ev)
	m.enqueueWrite(ev)
	return ev.ID
}

// Chunk implements pipeline.FlowRecorder: increments the streaming
// chunk-size counter for an in-flight flow.
func (m *Monitor) Chunk(flowID string, size int) {
	if flowID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.byID[flowID]; ok {
		m.ring[idx].ChunkCount += size
	}
}

// Complete implements pipeline.FlowRecorder.
func (m *Monitor) Complete(flowID string, usage *anthropic.Usage, summary string) {
	if flowID == "" {
		return
	}
	m.mu.Lock()
	ev, ok := m.completeLocked(flowID, StatusComplete, usage, summary, "")
	m.mu.Unlock()
	if ok {
		m.enqueueWrite(ev)
	}
}

// Error implements pipeline.FlowRecorder.
func (m *Monitor) Error(flowID string, err error) {
	if flowID == "" || err == nil {
		return
	}
	m.mu.Lock()
	ev, ok := m.completeLocked(flowID, StatusError, nil, "", err.Error())
	m.mu.Unlock()
	if ok {
		m.enqueueWrite(ev)
	}
}

func (m *Monitor) completeLocked(flowID string, status Status, usage *anthropic.Usage, summary, errMsg string) (*Event, bool) {
	idx, ok := m.byID[flowID]
	if !ok {
		return nil, false
	}
	ev := m.ring[idx]
	ev.Status = status
	ev.Usage = usage
	ev.Summary = summary
	ev.Error = errMsg
	ev.CompletedAt = time.Now().UnixMilli()
	return ev, true
}

// push appends a new event to the ring, evicting the oldest once capacity
// is exceeded.
func (m *Monitor) push(ev *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ring = append(m.ring, ev)
	if len(m.ring) > m.capacity {
		evicted := m.ring[0]
		m.ring = m.ring[1:]
		delete(m.byID, evicted.ID)
		for id, idx := range m.byID {
			m.byID[id] = idx - 1
		}
	}
	m.byID[ev.ID] = len(m.ring) - 1
}

func (m *Monitor) enqueueWrite(ev *Event) {
	snapshot := *ev
	select {
	case m.writes <- &snapshot:
	default:
		m.log.Warn().Str("flowID", ev.ID).Msg("flow log write queue full, dropping a persist")
	}
}

// Query returns up to limit of the most recent flows, newest first.
func (m *Monitor) Query(limit int) []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.ring)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Event, limit)
	for i := 0; i < limit; i++ {
		out[i] = m.ring[n-1-i]
	}
	return out
}

// Clear empties the ring. Already-written NDJSON files are untouched
// (spec §4.9: "non-destructive to already-written files").
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ring = nil
	m.byID = make(map[string]int)
}

func (m *Monitor) writerLoop() {
	defer close(m.done)
	for ev := range m.writes {
		if err := m.appendToDailyLog(ev); err != nil {
			m.log.Warn().Err(err).Msg("flow log append failed")
		}
	}
}

func (m *Monitor) appendToDailyLog(ev *Event) error {
	if err := utils.EnsureDir(m.logDir); err != nil {
		return err
	}
	day := time.UnixMilli(ev.StartedAt).UTC().Format("2006-01-02")
	path := filepath.Join(m.logDir, "flows-"+day+".ndjson")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// QueryFile reads a daily NDJSON log for GET /api/flows?export=file&day=....
func (m *Monitor) QueryFile(day string) ([]*Event, error) {
	path := filepath.Join(m.logDir, "flows-"+day+".ndjson")
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []*Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		out = append(out, &ev)
	}
	return out, scanner.Err()
}

func (m *Monitor) sweepLoop() {
	m.sweepOnce()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

// sweepOnce deletes daily flow logs older than retentionDays (spec §4.9).
func (m *Monitor) sweepOnce() {
	entries, err := os.ReadDir(m.logDir)
	if err != nil {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -m.retentionDays)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "flows-") || !strings.HasSuffix(name, ".ndjson") {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(name, "flows-"), ".ndjson")
		t, err := time.Parse("2006-01-02", day)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			if err := os.Remove(filepath.Join(m.logDir, name)); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		m.log.Debug().Int("removed", removed).Msg("flow log retention sweep")
	}
}

// QueryCombined returns day's NDJSON log merged with the in-memory ring.
// The file holds one line per persisted write of a flow (its in_progress
// start line, then its terminal line once it completes or errors), so the
// file alone repeats flows and shows running ones with a stale status; when
// day is today, this method folds the ring's live (and more current) copy
// of each flow over whatever the file already has for it, one entry per
// flow ID, then sorts the result newest-first. Other days are returned
// line by line as the file holds them.
func (m *Monitor) QueryCombined(day string) ([]*Event, error) {
	fileEvents, err := m.QueryFile(day)
	if err != nil {
		return nil, err
	}
	if day != time.Now().UTC().Format("2006-01-02") {
		return fileEvents, nil
	}

	byID := make(map[string]*Event, len(fileEvents))
	for _, ev := range fileEvents {
		byID[ev.ID] = ev
	}
	for _, ev := range m.Query(0) {
		byID[ev.ID] = ev
	}

	merged := make([]*Event, 0, len(byID))
	for _, ev := range byID {
		merged = append(merged, ev)
	}
	sortEventsByStart(merged)
	return merged, nil
}

// sortEventsByStart orders events newest-first, the shape QueryCombined's
// ring+file merge needs before it reaches the client.
func sortEventsByStart(events []*Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].StartedAt > events[j].StartedAt })
}
