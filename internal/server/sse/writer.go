// Package sse provides Server-Sent Events response writing for the
// Messages dialect's streaming endpoint (spec §6).
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Writer wraps an http.ResponseWriter for SSE streaming.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter creates a new SSE writer, failing if the underlying
// ResponseWriter doesn't support flushing.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &Writer{w: w, flusher: flusher}, nil
}

// SetHeaders writes the SSE response headers. Must be called before the
// first WriteEvent.
func (sw *Writer) SetHeaders() {
	sw.w.Header().Set("Content-Type", "text/event-stream")
	sw.w.Header().Set("Cache-Control", "no-cache")
	sw.w.Header().Set("Connection", "keep-alive")
	sw.w.Header().Set("X-Accel-Buffering", "no")
}

// WriteEvent writes an SSE event with the given type and JSON-encoded data.
func (sw *Writer) WriteEvent(eventType string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", eventType, jsonData)
	if err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// WriteRetry writes a bare `retry: <ms>` field, used ahead of an error
// event to hint the client's reconnect backoff (spec §6).
func (sw *Writer) WriteRetry(ms int64) error {
	_, err := fmt.Fprintf(sw.w, "retry: %d\n", ms)
	if err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// WriteError writes an `event: error` frame carrying the taxonomy type and
// message.
func (sw *Writer) WriteError(errorType, message string) error {
	return sw.WriteEvent("error", map[string]interface{}{
		"type": "error",
		"error": map[string]string{
			"type":    errorType,
			"message": message,
		},
	})
}

// Flush flushes any buffered data.
func (sw *Writer) Flush() {
	sw.flusher.Flush()
}
