package health

import (
	"context"
	"testing"
	"time"

	"github.com/ticlink-project/ticlink/internal/config"
	"github.com/ticlink-project/ticlink/internal/events"
	"github.com/ticlink-project/ticlink/internal/netgame"
	"github.com/ticlink-project/ticlink/internal/util"
)

func newManager(t *testing.T, snap *netgame.StatusSnapshot) (*Manager, *events.EventBus, chan events.HealthPayload) {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	alerts := make(chan events.HealthPayload, 8)
	bus.Subscribe(events.EventHealthAlert, "test", func(_ context.Context, ev events.Event) error {
		alerts <- ev.Payload.(events.HealthPayload)
		return nil
	})
	cfg := config.DefaultConfig().ApplicationData.Health
	m := NewManager(cfg, t.TempDir(), bus, func() netgame.StatusSnapshot { return *snap })
	return m, bus, alerts
}

func expect(t *testing.T, alerts chan events.HealthPayload, check, level string) {
	t.Helper()
	select {
	case a := <-alerts:
		if a.Check != check || a.Level != level {
			t.Fatalf("alert = %+v, want %s/%s", a, check, level)
		}
	case <-time.After(time.Second):
		t.Fatalf("no %s alert", check)
	}
}

func TestStalledLoopAlertsOnce(t *testing.T) {
	snap := &netgame.StatusSnapshot{UpdatedAt: time.Now().Add(-time.Minute)}
	m, _, alerts := newManager(t, snap)
	ctx := context.Background()

	m.checkGameLoop(ctx)
	m.checkGameLoop(ctx)
	expect(t, alerts, "game_loop", "error")
	if !m.Failing("game_loop") {
		t.Fatalf("check not marked failing")
	}

	snap.UpdatedAt = time.Now()
	m.checkGameLoop(ctx)
	expect(t, alerts, "game_loop", "info")
	select {
	case a := <-alerts:
		t.Fatalf("unexpected extra alert %+v", a)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestResourceThresholds(t *testing.T) {
	m, _, alerts := newManager(t, &netgame.StatusSnapshot{UpdatedAt: time.Now()})
	m.usage = func() (*util.ProcessUsage, error) {
		return &util.ProcessUsage{SystemCPU: 97, SystemMemUsed: 40}, nil
	}
	m.checkResources(context.Background())
	expect(t, alerts, "cpu", "warning")
	if m.Failing("memory") {
		t.Fatalf("memory flagged at 40%%")
	}
}

func TestDiskLevels(t *testing.T) {
	m, _, alerts := newManager(t, &netgame.StatusSnapshot{UpdatedAt: time.Now()})
	m.disk = func(string) (*util.DiskUsage, error) {
		return &util.DiskUsage{Total: 100, Free: 3, UsedPercent: 97}, nil
	}
	m.checkDisk(context.Background())
	expect(t, alerts, "disk", "critical")
}

func TestHeartbeat(t *testing.T) {
	snap := &netgame.StatusSnapshot{Role: "server", GameTic: 42, UpdatedAt: time.Now()}
	m, bus, _ := newManager(t, snap)
	beats := make(chan events.HeartbeatPayload, 1)
	bus.Subscribe(events.EventHeartbeat, "test", func(_ context.Context, ev events.Event) error {
		beats <- ev.Payload.(events.HeartbeatPayload)
		return nil
	})

	m.heartbeat(context.Background())
	select {
	case b := <-beats:
		if b.Role != "server" || b.GameTic != 42 {
			t.Fatalf("heartbeat = %+v", b)
		}
	case <-time.After(time.Second):
		t.Fatalf("no heartbeat")
	}
}
