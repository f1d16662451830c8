// Package events carries notable netgame happenings (joins, kicks,
// desyncs, ping reports) from the game loop to observers such as
// telemetry, the API event stream and the lag monitor.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session events
	EventNodeConnected EventType = "node_connected"
	EventJoinRefused   EventType = "join_refused"
	EventPlayerJoined  EventType = "player_joined"
	EventPlayerLeft    EventType = "player_left"
	EventPlayerKicked  EventType = "player_kicked"
	EventPlayerBanned  EventType = "player_banned"
	EventNodeTimeout   EventType = "node_timeout"
	EventAdminLogin    EventType = "admin_login"
	EventChat          EventType = "chat"

	// Synchronization events
	EventDesync        EventType = "desync"
	EventResyncDone    EventType = "resync_done"
	EventPingUpdate    EventType = "ping_update"
	EventTicsDropped   EventType = "tics_dropped"
	EventTextCmdDrop   EventType = "textcmd_dropped"
	EventSpoofedPacket EventType = "spoofed_packet"

	// Client connection events
	EventConnState EventType = "connection_state"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
	EventHealthAlert   EventType = "health_alert"
	EventHeartbeat     EventType = "heartbeat"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

// New stamps an event with the current time.
func New(t EventType, source string, payload interface{}) Event {
	return Event{Type: t, Source: source, Time: time.Now(), Payload: payload}
}

// PlayerPayload identifies a player and the node carrying it.
type PlayerPayload struct {
	Player  int    `json:"player"`
	Node    int    `json:"node"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Rejoin  bool   `json:"rejoin,omitempty"`
}

// KickPayload describes a kick as applied.
type KickPayload struct {
	Player   int    `json:"player"`
	Name     string `json:"name"`
	Issuer   int    `json:"issuer"`
	Reason   string `json:"reason"`
	Custom   string `json:"custom,omitempty"`
	KeepBody bool   `json:"keep_body"`
	Forged   bool   `json:"forged"`
}

// RefusePayload describes a refused join.
type RefusePayload struct {
	Node    int    `json:"node"`
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

// DesyncPayload reports a consistency mismatch.
type DesyncPayload struct {
	Node   int    `json:"node"`
	Tic    uint32 `json:"tic"`
	Local  uint16 `json:"local"`
	Remote uint16 `json:"remote"`
	Score  int    `json:"score"`
}

// PingPayload is one second of latency averages, in milliseconds.
type PingPayload struct {
	Pings   map[int]uint32 `json:"pings"`
	MaxPing uint32         `json:"max_ping"`
}

// DropPayload reports work the game loop had to drop.
type DropPayload struct {
	Node   int    `json:"node"`
	Player int    `json:"player"`
	Tic    uint32 `json:"tic"`
	Bytes  int    `json:"bytes"`
	Reason string `json:"reason"`
}

// ChatPayload is one chat line.
type ChatPayload struct {
	Player  int    `json:"player"`
	Name    string `json:"name"`
	Target  int    `json:"target"`
	Message string `json:"message"`
}

// ConnStatePayload is a client connection state change.
type ConnStatePayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string      `json:"section"`
	Key     string      `json:"key"`
	Value   interface{} `json:"value"`
}

// HealthPayload is a failed or recovered health check.
type HealthPayload struct {
	Check   string `json:"check"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// HeartbeatPayload is the periodic liveness summary.
type HeartbeatPayload struct {
	Role      string `json:"role"`
	State     string `json:"state"`
	Players   int    `json:"players"`
	Nodes     int    `json:"nodes"`
	GameTic   uint32 `json:"gametic"`
	Timestamp int64  `json:"timestamp"`
}
