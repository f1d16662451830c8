// Package session owns the node and player tables: who is connected,
// which slots they drive, and how they join, leave, lag out or get kicked.
package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ticlink-project/ticlink/internal/events"
	"github.com/ticlink-project/ticlink/internal/protocol"
	"github.com/ticlink-project/ticlink/internal/util"
)

// Config holds the session policy.
type Config struct {
	MaxPlayers int
	AllowJoins bool
	// JoinDelay is the per-join throttle in seconds; 0 disables it.
	JoinDelay int
	// MaxPing is the latency limit in milliseconds; 0 disables it.
	MaxPing uint32
	// PingTimeout is how many consecutive seconds over MaxPing get a player kicked.
	PingTimeout int
	// PingFaultFraction is the share of remote players that may lag at
	// once before the server blames itself and kicks no one.
	PingFaultFraction float64
	ConnectionTimeout protocol.Tic
	RejoinTimeout     protocol.Tic

	// Dedicated servers have no local player; slot 0 stays reserved for
	// commands the server issues.
	Dedicated bool

	Application       string
	Version           byte
	Subversion        byte
	ServerName        string
	AdminPasswordHash string
}

// DefaultConfig returns the stock session policy.
func DefaultConfig() Config {
	return Config{
		MaxPlayers:        8,
		AllowJoins:        true,
		JoinDelay:         10,
		MaxPing:           800,
		PingTimeout:       10,
		PingFaultFraction: 1.0,
		ConnectionTimeout: 10 * protocol.TicRate,
		RejoinTimeout:     120 * protocol.TicRate,
		Application:       "TICLINK",
		Version:           1,
		Subversion:        0,
		ServerName:        "ticlink server",
	}
}

// Node is one transport endpoint.
type Node struct {
	InGame bool
	Addr   string
	// Tic is the next tic the node still needs.
	Tic protocol.Tic
	// SupposedTic is where the node asked tics to be resent from.
	SupposedTic protocol.Tic
	Deadline    protocol.Tic
	TimedOut    bool
	Players     [2]int
	PlayerCount int
	Waiting     int
	Names       [2]string
	Challenge   [util.ChallengeSize]byte
}

func (n *Node) reset() {
	*n = Node{Players: [2]int{-1, -1}}
}

// Player is one slot of the game.
type Player struct {
	InGame   bool
	Node     int
	Name     string
	Admin    bool
	Address  string
	JoinTic  protocol.Tic
	QuitTic  protocol.Tic
	Second   bool
	pingSum  uint32
	AvgPing  uint32
	pingOver int
}

// Detached reports whether the player kept its body after its node left.
func (p *Player) Detached() bool {
	return p.InGame && p.Node == int(protocol.NodeNone)
}

// World is the part of the simulation sessions act on.
type World interface {
	GameState() byte
	GameType() byte
	MapName() string
	LevelTime() protocol.Tic
	Globals() protocol.ResynchEnd

	SpawnPlayer(player int, name string)
	DespawnPlayer(player int)
	Rename(player int, name string)

	SpecialStage() bool
	Collectibles(player int) (spheres, rings int)
	SetCollectibles(player int, spheres, rings int)
	TeamFlags() bool
	TossFlag(player int)
}

// Outbox carries the effects of session decisions to the game loop.
type Outbox interface {
	Send(node int, p protocol.Packet) bool
	CloseNode(node int)
	SendSavegame(node int)
	// QueueCommand schedules an extra command issued by the server player.
	QueueCommand(data []byte)
	// Loopback delivers a packet to the local host as if received.
	Loopback(p protocol.Packet)
	// Disconnected tells the local client it has been removed.
	Disconnected(message string)
	// Shutdown stops a server on an admin's request.
	Shutdown(reason string)
}

// Clock reports the current game tic.
type Clock interface {
	GameTic() protocol.Tic
}

// Manager owns the node and player tables.
type Manager struct {
	cfg    Config
	server bool

	nodes   [protocol.MaxNetNodes]Node
	players [protocol.MaxPlayers]Player

	ServerPlayer  int
	ConsolePlayer int
	SecondPlayer  int
	DisplayPlayer int
	MyNode        int
	NumSlots      int

	joinDelay protocol.Tic
	pingCount uint32

	onRemove RemoveHook

	world  World
	out    Outbox
	clock  Clock
	bans   BanStore
	bus    events.Emitter
	logger zerolog.Logger
}

// NewManager creates the tables for a server (server=true) or client.
func NewManager(cfg Config, server bool, world World, out Outbox, clock Clock, bans BanStore, bus events.Emitter) *Manager {
	m := &Manager{
		cfg:           cfg,
		server:        server,
		ServerPlayer:  0,
		ConsolePlayer: 0,
		SecondPlayer:  -1,
		DisplayPlayer: 0,
		NumSlots:      1,
		pingCount:     0,
		world:         world,
		out:           out,
		clock:         clock,
		bans:          bans,
		bus:           bus,
		logger:        util.ComponentLogger("session"),
	}
	if bans == nil {
		m.bans = NewMemoryBans()
	}
	for i := range m.nodes {
		m.nodes[i].reset()
	}
	for i := range m.players {
		m.players[i] = Player{Node: int(protocol.NodeNone), Name: defaultName(i)}
	}
	return m
}

func defaultName(player int) string {
	return fmt.Sprintf("Player %d", player+1)
}

// Server reports whether this manager arbitrates the game.
func (m *Manager) Server() bool {
	return m.server
}

// Config returns the session policy.
func (m *Manager) Config() Config {
	return m.cfg
}

// SetConfig replaces the session policy.
func (m *Manager) SetConfig(cfg Config) {
	m.cfg = cfg
}

// Bans returns the ban list.
func (m *Manager) Bans() BanStore {
	return m.bans
}

func (m *Manager) validNode(node int) bool {
	return node >= 0 && node < protocol.MaxNetNodes
}

func (m *Manager) validPlayer(p int) bool {
	return p >= 0 && p < protocol.MaxPlayers
}

// Node returns the node table entry, or nil for an invalid id.
func (m *Manager) Node(node int) *Node {
	if !m.validNode(node) {
		return nil
	}
	return &m.nodes[node]
}

// Player returns the player slot, or nil for an invalid index.
func (m *Manager) Player(p int) *Player {
	if !m.validPlayer(p) {
		return nil
	}
	return &m.players[p]
}

// InGame reports whether player p occupies its slot.
func (m *Manager) InGame(p int) bool {
	return m.validPlayer(p) && m.players[p].InGame
}

// PlayerNode returns the node driving player p, or NodeNone.
func (m *Manager) PlayerNode(p int) int {
	if !m.validPlayer(p) {
		return int(protocol.NodeNone)
	}
	return m.players[p].Node
}

// NumPlayers counts occupied slots.
func (m *Manager) NumPlayers() int {
	n := 0
	for i := range m.players {
		if m.players[i].InGame {
			n++
		}
	}
	return n
}

// NodeInGame reports whether node is an admitted peer.
func (m *Manager) NodeInGame(node int) bool {
	return m.validNode(node) && m.nodes[node].InGame
}

// IsAdmin reports whether player p may run admin commands.
func (m *Manager) IsAdmin(p int) bool {
	return m.validPlayer(p) && m.players[p].Admin
}

// Lag returns how many tics node is behind gametic.
func (m *Manager) Lag(node int) protocol.Tic {
	gt := m.clock.GameTic()
	if !m.validNode(node) || m.nodes[node].Tic >= gt {
		return 0
	}
	return gt - m.nodes[node].Tic
}

// AddNode admits node as a peer starting at tic.
func (m *Manager) AddNode(node int, addr string, tic protocol.Tic) {
	n := &m.nodes[node]
	n.reset()
	n.InGame = true
	n.Addr = addr
	n.Tic = tic
	n.SupposedTic = tic
	n.Deadline = tic + m.cfg.ConnectionTimeout
}

// ResetNode forgets node.
func (m *Manager) ResetNode(node int) {
	if m.validNode(node) {
		m.nodes[node].reset()
	}
}

// Reset clears every table, for a client leaving a game.
func (m *Manager) Reset() {
	for i := range m.nodes {
		m.nodes[i].reset()
	}
	for i := range m.players {
		m.players[i] = Player{Node: int(protocol.NodeNone), Name: defaultName(i)}
	}
	m.NumSlots = 1
	m.joinDelay = 0
	m.pingCount = 0
	m.ConsolePlayer, m.DisplayPlayer, m.SecondPlayer = 0, 0, -1
}

func (m *Manager) emit(t events.EventType, payload interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(context.Background(), events.New(t, "session", payload))
}

func (m *Manager) shrinkSlots() {
	for m.NumSlots > 1 && !m.players[m.NumSlots-1].InGame {
		m.NumSlots--
	}
}
