package events

import (
	"context"
	"sync"
	"testing"
)

func TestEmitSyncReachesSpecificAndWildcardHandlers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var mu sync.Mutex
	var got []string
	record := func(name string) HandlerFunc {
		return func(ctx context.Context, e Event) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, name+":"+string(e.Type))
			return nil
		}
	}
	bus.Subscribe(EventPlayerKicked, "kick", record("kick"))
	bus.Subscribe(EventAll, "all", record("all"))

	if err := bus.EmitSync(context.Background(), New(EventPlayerKicked, "test", nil)); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := bus.EmitSync(context.Background(), New(EventChat, "test", nil)); err != nil {
		t.Fatalf("emit: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("handler calls = %v", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()
	bus.Subscribe(EventDesync, "a", func(context.Context, Event) error { return nil })
	bus.Subscribe(EventDesync, "b", func(context.Context, Event) error { return nil })
	bus.Unsubscribe(EventDesync, "a")
	if n := bus.HandlerCount(EventDesync); n != 1 {
		t.Fatalf("handler count = %d", n)
	}
}
