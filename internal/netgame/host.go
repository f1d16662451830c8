// Package netgame runs the lockstep game loop: it dispatches packets,
// makes and distributes tics on the server, follows the server on a
// client and feeds tics to the simulation in order.
package netgame

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticlink-project/ticlink/internal/consistency"
	"github.com/ticlink-project/ticlink/internal/events"
	"github.com/ticlink-project/ticlink/internal/network"
	"github.com/ticlink-project/ticlink/internal/protocol"
	"github.com/ticlink-project/ticlink/internal/resync"
	"github.com/ticlink-project/ticlink/internal/savegame"
	"github.com/ticlink-project/ticlink/internal/session"
	"github.com/ticlink-project/ticlink/internal/sim"
	"github.com/ticlink-project/ticlink/internal/ticbuf"
	"github.com/ticlink-project/ticlink/internal/util"
	"github.com/ticlink-project/ticlink/internal/xcmd"
)

// savegameFileID names the savegame in FileFragment and FileAck.
const savegameFileID = 0

// ErrStopped is returned by Do once the host no longer runs frames.
var ErrStopped = errors.New("host stopped")

// Config holds the loop parameters on top of the session policy.
type Config struct {
	Session session.Config
	// PacketLength is the size ServerTics batches aim for.
	PacketLength int
	// MaxCatchUp bounds how many tics one frame may simulate.
	MaxCatchUp int
	// ResyncAttempts scales the resync kick threshold; 0 never kicks.
	ResyncAttempts int
	// SavegameRate caps savegame upload per node in bytes per second.
	SavegameRate int
	// PlayerNames are the local players' names; a second name asks for
	// a splitscreen player.
	PlayerNames []string
	// Seed drives the resync send stagger.
	Seed int64
}

// DefaultConfig returns the stock loop parameters.
func DefaultConfig() Config {
	return Config{
		Session:        session.DefaultConfig(),
		PacketLength:   protocol.DefaultPacketLength,
		MaxCatchUp:     2 * protocol.TicRate,
		ResyncAttempts: 5,
		SavegameRate:   64 * 1024,
		PlayerNames:    []string{"Sonic"},
		Seed:           1,
	}
}

// Input samples local controls once per frame.
type Input interface {
	Sample(second bool) protocol.TicCmd
}

// NoInput never moves.
type NoInput struct{}

func (NoInput) Sample(bool) protocol.TicCmd { return protocol.TicCmd{} }

// Host is one participant of a netgame, server or client. Every method
// except Do, Post and Status must be called from the goroutine running
// Frame.
type Host struct {
	cfg    Config
	server bool

	transport network.Transport
	parser    *protocol.Parser
	world     sim.Simulation
	sess      *session.Manager
	buf       *ticbuf.Buffer
	ledger    consistency.Ledger
	resync    *resync.Engine
	registry  *xcmd.Registry
	input     Input
	bus       events.Emitter
	logger    zerolog.Logger

	gametic         protocol.Tic
	maketic         protocol.Tic
	neededtic       protocol.Tic
	firstticstosend protocol.Tic
	tictoclear      protocol.Tic
	realTic         protocol.Tic
	lastPingTic     protocol.Tic

	localCmd  [2]protocol.TicCmd
	localText [2][]byte

	// Server side.
	senders  map[int]*upload
	stopping bool

	// Client side.
	serverNode     int
	machine        Machine
	resynchLocal   bool
	missed         bool
	challenge      [util.ChallengeSize]byte
	serverDeadline protocol.Tic
	receiver       *savegame.Receiver
	lastMessage    string

	commands chan func(*Host)
	status   *StatusBoard
}

func newHost(cfg Config, server bool, transport network.Transport, world sim.Simulation, bans session.BanStore, bus events.Emitter) *Host {
	if cfg.PacketLength <= protocol.ServerTicsHeaderSize || cfg.PacketLength > protocol.MaxPacketLength {
		cfg.PacketLength = protocol.DefaultPacketLength
	}
	if cfg.MaxCatchUp <= 0 {
		cfg.MaxCatchUp = 1
	}
	if len(cfg.PlayerNames) == 0 {
		cfg.PlayerNames = []string{"Player"}
	}
	h := &Host{
		cfg:        cfg,
		server:     server,
		transport:  transport,
		parser:     protocol.NewParser(),
		world:      world,
		buf:        ticbuf.New(),
		registry:   xcmd.NewRegistry(),
		input:      NoInput{},
		bus:        bus,
		senders:    make(map[int]*upload),
		serverNode: int(protocol.NodeNone),
		commands:   make(chan func(*Host), 64),
		status:     NewStatusBoard(),
	}
	role := "client"
	if server {
		role = "server"
	}
	h.logger = util.ComponentLogger("netgame").With().Str("role", role).Logger()
	h.sess = session.NewManager(cfg.Session, server, world, h, h, bans, bus)
	h.resync = resync.NewEngine(resync.DefaultPolicy(cfg.ResyncAttempts), world, h, rand.New(rand.NewSource(cfg.Seed)))
	h.sess.SetRemoveHook(h.resync.Forget)
	h.registerCommands()
	h.ledger.Record(0, consistency.Compute(world.ConsistencyInputs()))
	return h
}

// NewServer creates a host that arbitrates the game. A non-dedicated
// server joins itself through the loopback node.
func NewServer(cfg Config, transport network.Transport, world sim.Simulation, bans session.BanStore, bus events.Emitter) *Host {
	h := newHost(cfg, true, transport, world, bans, bus)
	h.serverNode = network.LocalNode
	if cfg.Session.Dedicated {
		h.sess.AddNode(network.LocalNode, "local", 0)
		return h
	}
	h.sess.HandleJoinRequest(network.LocalNode, "local", h.joinRequest())
	return h
}

// NewClient creates a host that follows a server. Call Connect to start
// joining.
func NewClient(cfg Config, transport network.Transport, world sim.Simulation, bus events.Emitter) *Host {
	h := newHost(cfg, false, transport, world, nil, bus)
	h.machine = Machine{State: StateIdle}
	return h
}

// SetInput replaces the local control source.
func (h *Host) SetInput(in Input) {
	h.input = in
}

// Connect dials addr and starts the join handshake.
func (h *Host) Connect(addr string) error {
	if h.server {
		return errors.New("server cannot connect to another server")
	}
	node, err := h.transport.Dial(addr)
	if err != nil {
		return err
	}
	h.serverNode = node
	h.resetClient()
	h.setMachine(NewMachine(h.cfg.Session.Application, h.cfg.Session.Version, h.cfg.Session.Subversion, h.cfg.Session.ConnectionTimeout), "")
	h.logger.Info().Str("address", addr).Int("node", node).Msg("connecting")
	return nil
}

// Disconnect leaves the game, telling the server first.
func (h *Host) Disconnect() {
	if h.server || h.machine.State.Terminal() {
		return
	}
	h.Send(h.serverNode, &protocol.Empty{Kind: protocol.PktClientQuit})
	h.feed(ConnEvent{Kind: EvCancel})
}

func (h *Host) resetClient() {
	h.discardGame()
	h.lastMessage = ""
}

// discardGame drops everything a client learned from its server: player
// slots, tics, consistency values and any partial savegame.
func (h *Host) discardGame() {
	h.sess.Reset()
	h.ledger.Reset()
	h.buf.Reset()
	h.gametic, h.maketic, h.neededtic = 0, 0, 0
	h.firstticstosend, h.tictoclear = 0, 0
	h.resynchLocal = false
	h.missed = false
	h.receiver = nil
	h.localCmd = [2]protocol.TicCmd{}
	h.localText = [2][]byte{}
}

func (h *Host) joinRequest() *protocol.ClientJoin {
	s := h.cfg.Session
	j := &protocol.ClientJoin{
		PacketVersion: protocol.PacketVersion,
		Application:   s.Application,
		Version:       s.Version,
		Subversion:    s.Subversion,
		LocalPlayers:  byte(min(len(h.cfg.PlayerNames), 2)),
	}
	copy(j.Names[:], h.cfg.PlayerNames)
	return j
}

// Server reports whether the host arbitrates the game.
func (h *Host) Server() bool { return h.server }

// Session exposes the node and player tables.
func (h *Host) Session() *session.Manager { return h.sess }

// Registry exposes the extra command handlers.
func (h *Host) Registry() *xcmd.Registry { return h.registry }

// Resync exposes the resynchronization engine.
func (h *Host) Resync() *resync.Engine { return h.resync }

// Buffer exposes the tic ring.
func (h *Host) Buffer() *ticbuf.Buffer { return h.buf }

// GameTic is the next tic to simulate.
func (h *Host) GameTic() protocol.Tic { return h.gametic }

// MakeTic is the next tic the server will make.
func (h *Host) MakeTic() protocol.Tic { return h.maketic }

// NeededTic is the first tic not yet received.
func (h *Host) NeededTic() protocol.Tic { return h.neededtic }

// State returns the client connection state.
func (h *Host) State() ConnState {
	if h.server {
		return StateConnected
	}
	return h.machine.State
}

// LastMessage is why the client last left a game.
func (h *Host) LastMessage() string { return h.lastMessage }

// Stopping reports whether the server was asked to shut down.
func (h *Host) Stopping() bool { return h.stopping }

// Status returns the board refreshed after every frame.
func (h *Host) Status() *StatusBoard { return h.status }

// Post queues fn to run inside the next frame.
func (h *Host) Post(fn func(*Host)) bool {
	select {
	case h.commands <- fn:
		return true
	default:
		return false
	}
}

// Do runs fn inside a frame and waits for its result.
func (h *Host) Do(ctx context.Context, fn func(*Host) error) error {
	done := make(chan error, 1)
	select {
	case h.commands <- func(h *Host) { done <- fn(h) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Host) runCommands() {
	for {
		select {
		case fn := <-h.commands:
			fn(h)
		default:
			return
		}
	}
}

func (h *Host) emit(t events.EventType, payload interface{}) {
	if h.bus == nil {
		return
	}
	h.bus.Emit(context.Background(), events.New(t, "netgame", payload))
}

// Send encodes p and hands it to the transport. On a server, only
// client packets travel through the loopback node.
func (h *Host) Send(node int, p protocol.Packet) bool {
	if node < 0 || node == int(protocol.NodeNone) {
		return false
	}
	if h.server && node == network.LocalNode && !loopbackKind(p.Type()) {
		return true
	}
	data, err := protocol.Marshal(p, protocol.MaxPacketLength)
	if err != nil {
		h.logger.Error().Err(err).Stringer("type", p.Type()).Int("node", node).Msg("failed to encode packet")
		return false
	}
	return h.transport.Send(node, p.Type().Reliable(), data)
}

func loopbackKind(t protocol.PacketType) bool {
	switch t {
	case protocol.PktClientCmd, protocol.PktClientMis, protocol.PktClient2Cmd, protocol.PktClient2Mis,
		protocol.PktNodeKeepAlive, protocol.PktNodeKeepAliveMis,
		protocol.PktTextCmd, protocol.PktTextCmd2, protocol.PktClientJoin,
		protocol.PktLogin, protocol.PktResynchGet, protocol.PktClientQuit, protocol.PktNodeTimeout:
		return true
	}
	return false
}

// CloseNode drops a remote node and everything pending for it.
func (h *Host) CloseNode(node int) {
	if node == network.LocalNode {
		return
	}
	h.transport.Close(node)
	h.resync.Reset(node)
	delete(h.senders, node)
}

// SendSavegame starts streaming the current world to node.
func (h *Host) SendSavegame(node int) {
	if node == network.LocalNode {
		return
	}
	state, err := h.world.Save()
	if err != nil {
		h.logger.Error().Err(err).Int("node", node).Msg("failed to save world")
		return
	}
	blob, err := savegame.Pack(h.gametic, h.sess.SaveRoster(), state)
	if err != nil {
		h.logger.Error().Err(err).Int("node", node).Msg("failed to frame savegame")
		return
	}
	h.senders[node] = &upload{
		Sender: savegame.NewSender(savegameFileID, blob, h.cfg.PacketLength, h.cfg.SavegameRate),
		since:  h.realTic,
	}
	h.logger.Debug().Int("node", node).Int("bytes", len(blob)).Uint32("tic", uint32(h.gametic)).Msg("savegame queued")
}

// QueueCommand adds an extra command for the first local player.
func (h *Host) QueueCommand(data []byte) {
	h.queueText(0, data)
}

// QueueCommand2 adds an extra command for the splitscreen player.
func (h *Host) QueueCommand2(data []byte) {
	h.queueText(1, data)
}

func (h *Host) queueText(slot int, data []byte) {
	if len(h.localText[slot])+len(data) > protocol.MaxTextCmd {
		h.logger.Warn().Int("bytes", len(data)).Int("pending", len(h.localText[slot])).Msg("local text command buffer full")
		h.emit(events.EventTextCmdDrop, events.DropPayload{Node: h.sess.MyNode, Player: -1, Bytes: len(data), Reason: "local buffer full"})
		return
	}
	h.localText[slot] = append(h.localText[slot], data...)
}

// Loopback delivers p to this host as if it arrived from the local node.
func (h *Host) Loopback(p protocol.Packet) {
	data, err := protocol.Marshal(p, protocol.MaxPacketLength)
	if err != nil {
		h.logger.Error().Err(err).Stringer("type", p.Type()).Msg("failed to encode loopback packet")
		return
	}
	h.transport.Send(network.LocalNode, false, data)
}

// Disconnected ends the game for a client removed by the server.
func (h *Host) Disconnected(message string) {
	if h.server {
		return
	}
	h.feed(ConnEvent{Kind: EvServerRefuse, Reason: message})
}

// Shutdown stops the server, telling every node.
func (h *Host) Shutdown(reason string) {
	if !h.server || h.stopping {
		return
	}
	for node := 1; node < protocol.MaxNetNodes; node++ {
		if h.sess.NodeInGame(node) {
			h.Send(node, &protocol.Empty{Kind: protocol.PktServerShutdown})
		}
	}
	h.stopping = true
	h.logger.Warn().Str("reason", reason).Msg("server shutting down")
	h.emit(events.EventShutdown, map[string]string{"reason": reason})
}

// Stop shuts the server down and closes the transport.
func (h *Host) Stop(reason string) error {
	if h.server {
		h.Shutdown(reason)
	} else {
		h.Disconnect()
	}
	return h.transport.Shutdown()
}

// now is the wall clock used for rate limits.
func (h *Host) now() time.Time {
	return time.Now()
}
