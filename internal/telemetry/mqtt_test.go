package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/ticlink-project/ticlink/internal/config"
	"github.com/ticlink-project/ticlink/internal/events"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type message struct {
	topic string
	data  []byte
}

type fakeBroker struct {
	mu        sync.Mutex
	connected bool
	sent      []message
}

func (b *fakeBroker) IsConnected() bool { return b.connected }

func (b *fakeBroker) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, message{topic: topic, data: payload.([]byte)})
	return doneToken{}
}

func newTestHandler(b *fakeBroker) *MQTTHandler {
	return &MQTTHandler{
		cfg:      config.MQTTConfig{TopicPrefix: "ticlink"},
		pub:      b,
		logger:   zerolog.Nop(),
		metadata: map[string]interface{}{"server_name": "test"},
	}
}

func TestEventsAreRoutedByType(t *testing.T) {
	b := &fakeBroker{connected: true}
	h := newTestHandler(b)
	ctx := context.Background()

	h.onEvent(ctx, events.New(events.EventDesync, "netgame", events.DesyncPayload{Node: 2, Tic: 40}))
	h.onEvent(ctx, events.New(events.EventNodeConnected, "session", nil))
	h.onEvent(ctx, events.New(events.EventChat, "netgame", nil))

	if len(b.sent) != 2 {
		t.Fatalf("published %d messages, want 2", len(b.sent))
	}
	if b.sent[0].topic != "ticlink/server/net" || b.sent[1].topic != "ticlink/server/chat" {
		t.Fatalf("topics %q, %q", b.sent[0].topic, b.sent[1].topic)
	}

	var msg struct {
		ServerName string `json:"server_name"`
		Payload    struct {
			Event   string `json:"event"`
			Payload struct {
				Node int    `json:"node"`
				Tic  uint32 `json:"tic"`
			} `json:"payload"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(b.sent[0].data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ServerName != "test" || msg.Payload.Event != "desync" || msg.Payload.Payload.Node != 2 {
		t.Fatalf("message %+v", msg)
	}
}

func TestNothingIsSentWhileDisconnected(t *testing.T) {
	b := &fakeBroker{}
	h := newTestHandler(b)
	h.onEvent(context.Background(), events.New(events.EventPlayerJoined, "session", nil))
	h.PublishShutdown()
	if len(b.sent) != 0 {
		t.Fatalf("published %d messages while disconnected", len(b.sent))
	}
}

func TestDisabledHandlerIsRefused(t *testing.T) {
	if _, err := NewMQTTHandler(config.MQTTConfig{}, "x", events.NewEventBus()); err == nil {
		t.Fatalf("disabled config accepted")
	}
}
