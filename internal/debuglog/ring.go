// pattern: Imperative Shell

// Package debuglog implements the process-wide operator-visible event log:
// a bounded ring buffer with FIFO eviction, fed by the tmux façade, bridge
// protocol, session API, and notification manager.
package debuglog

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the ring's maximum entry count.
const DefaultCapacity = 2000

// Entry is one DebugLogEntry: id, timestamp, level, source, message and an
// optional free-form detail payload.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Source    string         `json:"source"`
	Message   string         `json:"message"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Ring is a mutex-protected, fixed-capacity FIFO buffer of Entry values. It
// implements zapcore.WriteSyncer so it can be teed alongside the file sink
// in the logging manager: every ScopedLogger call also lands here without
// call sites doing anything extra.
type Ring struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	closed   bool
}

// NewRing creates a ring buffer with the given capacity. capacity <= 0 uses
// DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
	}
}

// Write implements io.Writer for zapcore.AddSync. It parses the JSON-encoded
// zap entry and appends a DebugLogEntry, evicting the oldest entry on
// overflow. Unparseable writes are swallowed so logging is never blocked.
func (r *Ring) Write(p []byte) (int, error) {
	entry, ok := parseEntry(p)
	if !ok {
		return len(p), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= r.capacity {
		r.entries = append(r.entries[1:], entry)
	} else {
		r.entries = append(r.entries, entry)
	}

	return len(p), nil
}

// Sync implements zapcore.WriteSyncer. No-op; the ring has no backing file.
func (r *Ring) Sync() error {
	return nil
}

// Append directly records an entry, bypassing the zap JSON path, for
// recording an operator-visible event without going through a ScopedLogger.
func (r *Ring) Append(level, source, message string, detail map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Level:     level,
		Source:    source,
		Message:   message,
		Detail:    detail,
	}

	if len(r.entries) >= r.capacity {
		r.entries = append(r.entries[1:], entry)
	} else {
		r.entries = append(r.entries, entry)
	}
}

// Entries returns a defensive copy snapshot of the buffer, oldest first.
func (r *Ring) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Clear empties the buffer.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = r.entries[:0]
}

// Len returns the current entry count.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func parseEntry(data []byte) (Entry, bool) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Entry{}, false
	}

	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Level:     "info",
	}

	if msg, ok := raw["msg"].(string); ok {
		entry.Message = msg
		delete(raw, "msg")
	}

	if level, ok := raw["level"].(string); ok {
		entry.Level = normalizeLevel(level)
		delete(raw, "level")
	}

	if logger, ok := raw["logger"].(string); ok {
		entry.Source = logger
		delete(raw, "logger")
	} else {
		entry.Source = "app"
	}

	if ts, ok := raw["ts"].(float64); ok {
		sec := int64(ts)
		nsec := int64((ts - float64(sec)) * 1e9)
		entry.Timestamp = time.Unix(sec, nsec)
		delete(raw, "ts")
	}

	delete(raw, "caller")
	delete(raw, "stacktrace")

	if len(raw) > 0 {
		entry.Detail = raw
	}

	return entry, true
}

func normalizeLevel(level string) string {
	switch level {
	case "debug":
		return "info"
	case "info":
		return "info"
	case "warn", "warning":
		return "warn"
	case "error", "dpanic", "panic", "fatal":
		return "error"
	default:
		return "info"
	}
}
