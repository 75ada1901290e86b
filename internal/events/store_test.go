package events

import (
	"testing"
	"time"

	"github.com/treykane/sshtunnel/internal/model"
	"github.com/treykane/sshtunnel/internal/status"
)

func TestStoreAppendReadAndFilters(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	s, err := NewStore("")
	if err != nil {
		t.Fatal(err)
	}

	base := time.Now().Add(-2 * time.Hour).UTC()
	seed := []Event{
		{Timestamp: base, TunnelID: "a", EventType: TypeConnecting},
		{Timestamp: base.Add(10 * time.Minute), TunnelID: "a", EventType: TypeConnected},
		{Timestamp: base.Add(20 * time.Minute), TunnelID: "b", EventType: TypeFailed},
	}
	for _, evt := range seed {
		if err := s.Append(evt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := s.Read(Query{})
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}

	tunnelOnly, err := s.Read(Query{TunnelID: "a"})
	if err != nil {
		t.Fatalf("read tunnel: %v", err)
	}
	if len(tunnelOnly) != 2 {
		t.Fatalf("expected 2 events for a, got %d", len(tunnelOnly))
	}

	limited, err := s.Read(Query{Limit: 1})
	if err != nil {
		t.Fatalf("read limit: %v", err)
	}
	if len(limited) != 1 || limited[0].TunnelID != "b" {
		t.Fatalf("unexpected limited result: %+v", limited)
	}

	since, err := s.Read(Query{Since: base.Add(15 * time.Minute)})
	if err != nil {
		t.Fatalf("read since: %v", err)
	}
	if len(since) != 1 || since[0].TunnelID != "b" {
		t.Fatalf("unexpected since result: %+v", since)
	}
}

func TestFromChange(t *testing.T) {
	now := time.Now()
	cases := []struct {
		ch   status.Change
		want string
	}{
		{status.Change{ID: "t", Status: status.Status{State: model.Connecting, Changed: now}}, TypeConnecting},
		{status.Change{ID: "t", Previous: model.Connecting, Status: status.Status{State: model.Connected, Changed: now}}, TypeConnected},
		{status.Change{ID: "t", Status: status.Status{State: model.Error, Error: "Connection failed (exit 255)", Changed: now}}, TypeFailed},
		{status.Change{ID: "t", Status: status.Status{State: model.Disconnected, Changed: now}}, TypeDisconnected},
		{status.Change{ID: "t", Previous: model.Connected, Status: status.Status{State: model.Disconnected, ExitCode: 7, HasExit: true, Changed: now}}, TypeDropped},
	}
	for _, tc := range cases {
		evt := FromChange(tc.ch)
		if evt.EventType != tc.want {
			t.Errorf("%s: got event type %s, want %s", tc.ch.State, evt.EventType, tc.want)
		}
	}
	dropped := FromChange(cases[4].ch)
	if dropped.ExitCode == nil || *dropped.ExitCode != 7 {
		t.Fatalf("expected exit code 7, got %+v", dropped.ExitCode)
	}
}

func TestRecordAppendsRegistryChanges(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	s, err := NewStore("")
	if err != nil {
		t.Fatal(err)
	}
	reg := status.NewRegistry()
	stop := s.Record(reg, func(id string) string { return "name-" + id })
	defer stop()

	reg.Set("t1", model.Connecting, "")
	reg.Set("t1", model.Error, "Connection failed (exit 1)")

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := s.Read(Query{TunnelID: "t1"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) == 2 {
			if got[0].EventType != TypeConnecting || got[1].EventType != TypeFailed || got[1].TunnelName != "name-t1" {
				t.Fatalf("unexpected events: %+v", got)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 events, got %+v", got)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
