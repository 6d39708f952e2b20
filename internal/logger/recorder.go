package logger

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// EventLogEntry is the WebSocket event carrying one log entry.
const EventLogEntry = "logs:entry"

const defaultRecorderSize = 1000

// Broadcaster sends events to connected clients.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// Entry is one recorded log line.
type Entry struct {
	Time      string         `json:"time"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Recorder keeps the most recent log entries in memory and forwards them
// to a broadcaster. It is an io.Writer fed with zerolog's JSON output.
type Recorder struct {
	entries *ring[Entry]

	mu  sync.RWMutex
	hub Broadcaster
}

// NewRecorder creates a recorder holding up to size entries.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = defaultRecorderSize
	}
	return &Recorder{entries: newRing[Entry](size)}
}

// SetBroadcaster starts forwarding entries. The hub is created after the
// logger, so it is attached late.
func (r *Recorder) SetBroadcaster(hub Broadcaster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hub = hub
}

// Write records one JSON log line. Lines that are not JSON are dropped.
func (r *Recorder) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err != nil {
		return len(p), nil //nolint:nilerr // never fail the logger
	}

	e := Entry{
		Time:      take(raw, zerolog.TimestampFieldName),
		Level:     take(raw, zerolog.LevelFieldName),
		Component: take(raw, "component"),
		Message:   take(raw, zerolog.MessageFieldName),
	}
	if len(raw) > 0 {
		e.Fields = raw
	}
	r.entries.push(e)

	r.mu.RLock()
	hub := r.hub
	r.mu.RUnlock()
	if hub != nil {
		// A busy hub drops the event; the entry stays in the buffer.
		_ = hub.Broadcast(EventLogEntry, e)
	}
	return len(p), nil
}

func take(m map[string]any, key string) string {
	v, _ := m[key].(string)
	delete(m, key)
	return v
}

// Recent returns up to limit entries at or above minLevel, newest first.
// A non-positive limit returns every matching entry.
func (r *Recorder) Recent(limit int, minLevel zerolog.Level) []Entry {
	all := r.entries.snapshot()
	out := make([]Entry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		lvl, err := zerolog.ParseLevel(all[i].Level)
		if err == nil && lvl < minLevel {
			continue
		}
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
