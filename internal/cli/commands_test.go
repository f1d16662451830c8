package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ticlink-project/ticlink/internal/config"
	"github.com/ticlink-project/ticlink/internal/events"
	"github.com/ticlink-project/ticlink/internal/netgame"
	"github.com/ticlink-project/ticlink/internal/network"
	"github.com/ticlink-project/ticlink/internal/session"
	"github.com/ticlink-project/ticlink/internal/sim"
)

func newConsole(t *testing.T, in string) (*CLI, *bytes.Buffer, *events.EventBus) {
	t.Helper()
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	bus := events.NewEventBus()
	ncfg := netgame.DefaultConfig()
	ncfg.PlayerNames = []string{"Sonic"}
	host := netgame.NewServer(ncfg, network.NewMemoryHub().Endpoint("server:5029"),
		sim.NewReference(sim.GameTypeCoop, "MAP01", 1), session.NewMemoryBans(), bus)
	for i := 0; i < 200; i++ {
		host.Frame(1)
		if _, ok := host.Status().Player(0); ok {
			break
		}
	}
	if _, ok := host.Status().Player(0); !ok {
		t.Fatalf("server player never joined")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			host.Frame(1)
			time.Sleep(time.Millisecond)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		bus.Stop()
	})

	out := &bytes.Buffer{}
	return NewCLI(cfg, bus, host, netgame.NewLagMonitor(bus, 300), strings.NewReader(in), out), out, bus
}

func TestPlayersTable(t *testing.T) {
	c, out, _ := newConsole(t, "")
	if err := c.Execute(context.Background(), "players"); err != nil {
		t.Fatalf("players: %v", err)
	}
	if !strings.Contains(out.String(), "Sonic") {
		t.Fatalf("table missing server player:\n%s", out.String())
	}
}

func TestCommandErrors(t *testing.T) {
	c, _, _ := newConsole(t, "")
	ctx := context.Background()
	for _, line := range []string{
		"kick 9",
		"kick x",
		"admin 0 maybe",
		"unban 1.2.3.4",
		"setconfig nope 1",
		"setconfig admin_password_hash x",
	} {
		if err := c.Execute(ctx, line); err == nil {
			t.Errorf("%q succeeded", line)
		}
	}
}

func TestSetConfig(t *testing.T) {
	c, _, bus := newConsole(t, "")
	changed := make(chan events.ConfigChangedPayload, 1)
	bus.Subscribe(events.EventConfigChanged, "test", func(_ context.Context, ev events.Event) error {
		changed <- ev.Payload.(events.ConfigChangedPayload)
		return nil
	})

	if err := c.Execute(context.Background(), "setconfig max_ping_ms 250"); err != nil {
		t.Fatalf("setconfig: %v", err)
	}
	if got := c.cfg.GetNetData().MaxPing; got != 250 {
		t.Fatalf("max ping = %d", got)
	}
	select {
	case p := <-changed:
		if p.Key != "max_ping_ms" {
			t.Fatalf("changed key = %s", p.Key)
		}
	case <-time.After(time.Second):
		t.Fatalf("no config event")
	}
}

func TestParseValue(t *testing.T) {
	cases := map[string]interface{}{
		"12":    12,
		"0.5":   0.5,
		"true":  true,
		"MAP02": "MAP02",
	}
	for in, want := range cases {
		if got := parseValue(in); got != want {
			t.Errorf("parseValue(%q) = %v (%T), want %v", in, got, got, want)
		}
	}
}

func TestStartRunsScript(t *testing.T) {
	c, out, bus := newConsole(t, "status\nquit\n")
	quit := make(chan struct{}, 1)
	bus.Subscribe(events.EventShutdown, "test", func(context.Context, events.Event) error {
		quit <- struct{}{}
		return nil
	})

	c.Start(context.Background())

	if !strings.Contains(out.String(), "Role:        server") {
		t.Fatalf("status not printed:\n%s", out.String())
	}
	select {
	case <-quit:
	case <-time.After(time.Second):
		t.Fatalf("quit did not request shutdown")
	}
}
