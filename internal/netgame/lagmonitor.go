package netgame

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ticlink-project/ticlink/internal/events"
)

// historyLimit bounds the samples kept per player.
const historyLimit = 1000

// LagMonitor keeps a ping history per player slot and counts desyncs
// and dropped tics per node, for the API and threshold alerts.
type LagMonitor struct {
	mu sync.RWMutex

	players map[int]*PlayerLag
	nodes   map[int]*NodeTrouble

	// warnPing is the average ping, in milliseconds, that raises an alert.
	warnPing uint32
	// warnDesyncs is the number of desyncs per hour that raises an alert.
	warnDesyncs int
}

// PlayerLag is the ping history of one player slot.
type PlayerLag struct {
	Player  int          `json:"player"`
	Samples int          `json:"samples"`
	Last    uint32       `json:"last_ms"`
	Max     uint32       `json:"max_ms"`
	Avg     float64      `json:"avg_ms"`
	History []PingSample `json:"history"`
}

// PingSample is one second's average ping.
type PingSample struct {
	Timestamp time.Time `json:"timestamp"`
	Ping      uint32    `json:"ping_ms"`
}

// NodeTrouble counts synchronization problems of one node.
type NodeTrouble struct {
	Node        int       `json:"node"`
	Desyncs     int       `json:"desyncs"`
	DesyncsHour int       `json:"desyncs_this_hour"`
	TicsDropped int       `json:"tics_dropped"`
	LastEvent   time.Time `json:"last_event"`
	desyncTimes []time.Time
}

// LagAlert is a threshold crossing.
type LagAlert struct {
	Level   string `json:"level"`
	Player  int    `json:"player,omitempty"`
	Node    int    `json:"node,omitempty"`
	Message string `json:"message"`
}

// NewLagMonitor subscribes a monitor to bus.
func NewLagMonitor(bus *events.EventBus, warnPing uint32) *LagMonitor {
	lm := &LagMonitor{
		players:     make(map[int]*PlayerLag),
		nodes:       make(map[int]*NodeTrouble),
		warnPing:    warnPing,
		warnDesyncs: 5,
	}
	bus.Subscribe(events.EventPingUpdate, "lag_monitor", lm.handlePing)
	bus.Subscribe(events.EventDesync, "lag_monitor", lm.handleDesync)
	bus.Subscribe(events.EventTicsDropped, "lag_monitor", lm.handleDrop)
	bus.Subscribe(events.EventPlayerLeft, "lag_monitor", lm.handleLeave)
	return lm
}

func (lm *LagMonitor) handlePing(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.PingPayload)
	if !ok {
		return nil
	}
	lm.record(event.Time, payload)
	return nil
}

func (lm *LagMonitor) record(at time.Time, payload events.PingPayload) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for player, ping := range payload.Pings {
		data, ok := lm.players[player]
		if !ok {
			data = &PlayerLag{Player: player, History: make([]PingSample, 0, 64)}
			lm.players[player] = data
		}
		data.History = append(data.History, PingSample{Timestamp: at, Ping: ping})
		if len(data.History) > historyLimit {
			data.History = data.History[len(data.History)-historyLimit:]
		}
		data.Samples++
		data.Last = ping
		data.Max = max(data.Max, ping)

		var total uint64
		for _, s := range data.History {
			total += uint64(s.Ping)
		}
		data.Avg = float64(total) / float64(len(data.History))
	}
}

func (lm *LagMonitor) trouble(node int) *NodeTrouble {
	data, ok := lm.nodes[node]
	if !ok {
		data = &NodeTrouble{Node: node}
		lm.nodes[node] = data
	}
	return data
}

func (lm *LagMonitor) handleDesync(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.DesyncPayload)
	if !ok {
		return nil
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()

	data := lm.trouble(payload.Node)
	data.Desyncs++
	data.LastEvent = event.Time
	data.desyncTimes = append(data.desyncTimes, event.Time)

	hourAgo := event.Time.Add(-time.Hour)
	kept := data.desyncTimes[:0]
	for _, t := range data.desyncTimes {
		if t.After(hourAgo) {
			kept = append(kept, t)
		}
	}
	data.desyncTimes = kept
	data.DesyncsHour = len(kept)
	return nil
}

func (lm *LagMonitor) handleDrop(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.DropPayload)
	if !ok {
		return nil
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	data := lm.trouble(payload.Node)
	data.TicsDropped++
	data.LastEvent = event.Time
	return nil
}

func (lm *LagMonitor) handleLeave(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.PlayerPayload)
	if !ok {
		return nil
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	delete(lm.players, payload.Player)
	return nil
}

// Player returns a copy of the history of one slot.
func (lm *LagMonitor) Player(player int) (*PlayerLag, bool) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	data, ok := lm.players[player]
	if !ok {
		return nil, false
	}
	cp := *data
	cp.History = append([]PingSample(nil), data.History...)
	return &cp, true
}

// Players returns a summary of every slot, without history.
func (lm *LagMonitor) Players() map[int]PlayerLag {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	out := make(map[int]PlayerLag, len(lm.players))
	for k, v := range lm.players {
		cp := *v
		cp.History = nil
		out[k] = cp
	}
	return out
}

// Nodes returns the trouble counters of every node.
func (lm *LagMonitor) Nodes() map[int]NodeTrouble {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	out := make(map[int]NodeTrouble, len(lm.nodes))
	for k, v := range lm.nodes {
		cp := *v
		cp.desyncTimes = nil
		out[k] = cp
	}
	return out
}

// CheckThresholds lists players and nodes over the alert limits.
func (lm *LagMonitor) CheckThresholds() []LagAlert {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	var alerts []LagAlert
	for player, data := range lm.players {
		if lm.warnPing > 0 && data.Avg >= float64(lm.warnPing) {
			alerts = append(alerts, LagAlert{
				Level:   "warning",
				Player:  player,
				Message: fmt.Sprintf("player %d averages %.0fms", player, data.Avg),
			})
		}
	}
	for node, data := range lm.nodes {
		if data.DesyncsHour >= lm.warnDesyncs {
			alerts = append(alerts, LagAlert{
				Level:   "critical",
				Node:    node,
				Message: fmt.Sprintf("node %d desynced %d times in the last hour", node, data.DesyncsHour),
			})
		}
	}
	return alerts
}

// Start checks thresholds every interval until ctx ends.
func (lm *LagMonitor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, alert := range lm.CheckThresholds() {
				log.Warn().
					Str("level", alert.Level).
					Int("player", alert.Player).
					Int("node", alert.Node).
					Msg(alert.Message)
			}
		}
	}
}
