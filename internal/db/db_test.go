package db

import (
	"context"
	"testing"

	"github.com/ticlink-project/ticlink/internal/events"
	"github.com/ticlink-project/ticlink/internal/session"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBans(t *testing.T) {
	s := openStore(t)

	if err := s.AddBan(session.Ban{Address: "10.0.0.7", Name: "Eggman", Reason: "griefing"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddBan(session.Ban{Address: "192.168.4.0/24"}); err != nil {
		t.Fatalf("add range: %v", err)
	}
	if err := s.AddBan(session.Ban{Address: "not an address"}); err == nil {
		t.Fatalf("invalid address accepted")
	}

	cases := []struct {
		addr string
		want bool
	}{
		{"10.0.0.7", true},
		{"10.0.0.8", false},
		{"192.168.4.200", true},
		{"192.168.5.1", false},
	}
	for _, tc := range cases {
		got, err := s.IsBanned(tc.addr)
		if err != nil {
			t.Fatalf("IsBanned(%s): %v", tc.addr, err)
		}
		if got != tc.want {
			t.Errorf("IsBanned(%s) = %v, want %v", tc.addr, got, tc.want)
		}
	}

	bans, err := s.ListBans()
	if err != nil || len(bans) != 2 {
		t.Fatalf("list = %v, %v", bans, err)
	}
	if bans[0].Name != "Eggman" || bans[0].Reason != "griefing" {
		t.Fatalf("first ban %+v", bans[0])
	}

	removed, err := s.RemoveBan("10.0.0.7")
	if err != nil || !removed {
		t.Fatalf("remove = %v, %v", removed, err)
	}
	if removed, _ := s.RemoveBan("10.0.0.7"); removed {
		t.Fatalf("second remove reported a ban")
	}
	if banned, _ := s.IsBanned("10.0.0.7"); banned {
		t.Fatalf("address still banned")
	}
}

func TestRecorderStoresIncidents(t *testing.T) {
	s := openStore(t)
	bus := events.NewEventBus()
	defer bus.Stop()
	NewRecorder(s, bus)

	ctx := context.Background()
	if err := bus.EmitSync(ctx, events.New(events.EventDesync, "test", events.DesyncPayload{Node: 3, Tic: 99, Local: 1, Remote: 2, Score: 200})); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := bus.EmitSync(ctx, events.New(events.EventPlayerKicked, "test", events.KickPayload{Player: 2, Name: "Tails", Reason: "synch failure", Forged: true})); err != nil {
		t.Fatalf("emit: %v", err)
	}

	all, err := s.Incidents("", 10)
	if err != nil {
		t.Fatalf("incidents: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d incidents", len(all))
	}

	kicks, err := s.Incidents(string(events.EventPlayerKicked), 10)
	if err != nil || len(kicks) != 1 {
		t.Fatalf("kicks = %v, %v", kicks, err)
	}
	k := kicks[0]
	if k.Player != 2 || k.Name != "Tails" || k.Detail != "synch failure (forged kick)" {
		t.Fatalf("kick incident %+v", k)
	}

	got, ok, err := s.Incident(k.ID)
	if err != nil || !ok || got.Kind != k.Kind {
		t.Fatalf("lookup by id = %+v, %v, %v", got, ok, err)
	}
	if _, ok, _ := s.Incident("missing"); ok {
		t.Fatalf("found a missing incident")
	}
}
