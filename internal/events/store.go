// Package events keeps an append-only JSONL journal of tunnel state
// changes.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/treykane/sshtunnel/internal/appconfig"
	"github.com/treykane/sshtunnel/internal/model"
	"github.com/treykane/sshtunnel/internal/status"
)

// Event types written by Record.
const (
	TypeConnecting   = "connecting"
	TypeConnected    = "connected"
	TypeDisconnected = "disconnected"
	TypeFailed       = "failed"
	// TypeDropped is a disconnect caused by an abnormal exit after the
	// tunnel had connected.
	TypeDropped = "dropped"
)

// Event is one tunnel lifecycle record persisted to events.jsonl.
type Event struct {
	Timestamp  time.Time             `json:"timestamp"`
	TunnelID   string                `json:"tunnel_id,omitempty"`
	TunnelName string                `json:"tunnel_name,omitempty"`
	EventType  string                `json:"event_type"`
	State      model.ConnectionState `json:"state,omitempty"`
	Previous   model.ConnectionState `json:"previous,omitempty"`
	Message    string                `json:"message,omitempty"`
	ExitCode   *int                  `json:"exit_code,omitempty"`
}

// Query controls event filtering and bounded reads.
type Query struct {
	TunnelID  string
	EventType string
	Since     time.Time
	Limit     int
}

// Store provides append/read access to the local event journal.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a journal at path; an empty path selects events.jsonl in
// the config directory.
func NewStore(path string) (*Store, error) {
	if path == "" {
		p, err := appconfig.DataPath("events.jsonl")
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &Store{path: path}, nil
}

// Path returns the journal location.
func (s *Store) Path() string { return s.path }

// Append writes a single event as one JSON line.
func (s *Store) Append(evt Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

// Record appends an event for every registry change. name maps a tunnel id
// to a display name and may be nil. The returned function stops recording.
func (s *Store) Record(reg *status.Registry, name func(id string) string) func() {
	return reg.Subscribe(func(ch status.Change) {
		evt := FromChange(ch)
		if name != nil {
			evt.TunnelName = name(ch.ID)
		}
		if err := s.Append(evt); err != nil {
			slog.Warn("failed to append tunnel event", "tunnel", ch.ID, "error", err)
		}
	})
}

// FromChange converts a registry change into a journal event.
func FromChange(ch status.Change) Event {
	evt := Event{
		Timestamp: ch.Changed.UTC(),
		TunnelID:  ch.ID,
		State:     ch.State,
		Previous:  ch.Previous,
		Message:   ch.Error,
	}
	if ch.HasExit {
		code := ch.ExitCode
		evt.ExitCode = &code
	}
	switch ch.State {
	case model.Connecting:
		evt.EventType = TypeConnecting
	case model.Connected:
		evt.EventType = TypeConnected
	case model.Error:
		evt.EventType = TypeFailed
	default:
		evt.EventType = TypeDisconnected
		if ch.HasExit {
			evt.EventType = TypeDropped
		}
	}
	return evt
}

// Read returns events in append order, filtered by query, with optional limit.
func (s *Store) Read(q Query) ([]Event, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			continue
		}
		if !matches(evt, q) {
			continue
		}
		out = append(out, evt)
		if q.Limit > 0 && len(out) > q.Limit {
			out = out[len(out)-q.Limit:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return out, nil
}

func matches(evt Event, q Query) bool {
	if strings.TrimSpace(q.TunnelID) != "" && evt.TunnelID != q.TunnelID {
		return false
	}
	if strings.TrimSpace(q.EventType) != "" && evt.EventType != q.EventType {
		return false
	}
	if !q.Since.IsZero() && evt.Timestamp.Before(q.Since) {
		return false
	}
	return true
}
