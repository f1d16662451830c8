package netgame

import (
	"errors"

	"github.com/ticlink-project/ticlink/internal/events"
	"github.com/ticlink-project/ticlink/internal/network"
	"github.com/ticlink-project/ticlink/internal/protocol"
	"github.com/ticlink-project/ticlink/internal/xcmd"
)

// serverOnly lists packets only the server may send. A client accepts
// them from its server node alone.
func serverOnly(t protocol.PacketType) bool {
	switch t {
	case protocol.PktServerTics, protocol.PktResynching, protocol.PktResynchEnd, protocol.PktPing,
		protocol.PktServerConfig, protocol.PktServerRefuse, protocol.PktServerShutdown, protocol.PktFileFragment:
		return true
	}
	return false
}

// drainInbound parses and dispatches every received datagram.
func (h *Host) drainInbound() {
	for {
		d, ok := h.transport.Poll()
		if !ok {
			return
		}
		p, err := h.parser.Parse(d.Data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownPacket) || errors.Is(err, protocol.ErrTruncated) {
				h.logger.Warn().Err(err).Int("node", d.Node).Int("bytes", len(d.Data)).Msg("dropping malformed packet")
			}
			continue
		}
		h.Dispatch(d.Node, p)
	}
}

// Dispatch routes one packet received from node.
func (h *Host) Dispatch(node int, p protocol.Packet) {
	kind := p.Type()

	if serverOnly(kind) && (h.server || node != h.serverNode) {
		h.logger.Warn().Stringer("type", kind).Int("node", node).Msg("server packet from non-server node")
		h.emit(events.EventSpoofedPacket, events.DropPayload{Node: node, Player: -1, Reason: kind.String()})
		if h.server && h.sess.NodeInGame(node) && node != network.LocalNode {
			h.sess.HandleNodeLeave(node, xcmd.KickConFail)
		} else if node != network.LocalNode {
			h.transport.Close(node)
		}
		return
	}
	if kind == protocol.PktNodeTimeout && node != network.LocalNode {
		h.logger.Warn().Int("node", node).Msg("node timeout from remote node")
		return
	}

	if h.server {
		h.serverPacket(node, p)
	} else {
		h.clientPacket(node, p)
	}
}

func (h *Host) nodeAddr(node int) string {
	if node == network.LocalNode {
		return "local"
	}
	return h.transport.Addr(node)
}

// awayPacket handles traffic from a node that has not joined.
func (h *Host) awayPacket(node int, p protocol.Packet) {
	switch v := p.(type) {
	case *protocol.AskInfo:
		h.sendInfo(node, v)
		h.transport.Close(node)
	case *protocol.ClientJoin:
		if h.sess.HandleJoinRequest(node, h.nodeAddr(node), v) {
			h.resync.Reset(node)
			h.sess.RefreshNode(node, h.realTic)
			return
		}
		h.transport.Close(node)
	default:
		h.logger.Debug().Stringer("type", p.Type()).Int("node", node).Msg("packet from away node")
		h.transport.Close(node)
	}
}

func (h *Host) sendInfo(node int, ask *protocol.AskInfo) {
	h.Send(node, h.sess.ServerInfo(ask))
	h.Send(node, h.sess.PlayerInfo())
}

func (h *Host) serverPacket(node int, p protocol.Packet) {
	if !h.sess.NodeInGame(node) {
		if node == network.LocalNode {
			if t, ok := p.(*protocol.NodeTimeout); ok {
				h.nodeTimedOut(int(t.Node))
			}
			return
		}
		h.awayPacket(node, p)
		return
	}

	switch v := p.(type) {
	case *protocol.ClientCmd:
		h.handleClientCmd(node, v)
	case *protocol.TextCmd:
		h.handleTextCmd(node, v)
	case *protocol.ClientJoin:
		h.sess.HandleJoinRequest(node, h.nodeAddr(node), v)
	case *protocol.AskInfo:
		h.sendInfo(node, v)
	case *protocol.ResynchGet:
		h.resync.Acknowledge(node, int(v.Player))
		h.sess.RefreshNode(node, h.realTic)
	case *protocol.Login:
		h.sess.HandleLogin(node, v)
	case *protocol.FileAck:
		if s, ok := h.senders[node]; ok {
			s.Ack(v)
		}
	case *protocol.RequestFile:
		if s, ok := h.senders[node]; ok && v.FileID == savegameFileID {
			s.Restart()
		}
	case *protocol.NodeTimeout:
		h.nodeTimedOut(int(v.Node))
	case *protocol.Empty:
		if v.Kind == protocol.PktClientQuit && node != network.LocalNode {
			h.logger.Info().Int("node", node).Msg("node quit")
			h.sess.HandleNodeLeave(node, xcmd.KickPlayerQuit)
		}
	default:
		h.logger.Debug().Stringer("type", p.Type()).Int("node", node).Msg("unexpected packet on server")
	}
}

func (h *Host) nodeTimedOut(node int) {
	if node == network.LocalNode || !h.sess.NodeInGame(node) {
		return
	}
	h.logger.Warn().Int("node", node).Msg("node timed out")
	h.sess.HandleNodeLeave(node, xcmd.KickTimeout)
}

func (h *Host) clientPacket(node int, p protocol.Packet) {
	if node == h.serverNode {
		h.serverDeadline = h.realTic + h.cfg.Session.ConnectionTimeout
	}

	switch v := p.(type) {
	case *protocol.ServerInfo:
		if node == h.serverNode {
			h.feed(ConnEvent{Kind: EvServerInfo, Info: v})
		}
	case *protocol.PlayerInfo:
	case *protocol.ServerConfig:
		h.feed(ConnEvent{Kind: EvServerConfig, Config: v})
	case *protocol.ServerRefuse:
		h.feed(ConnEvent{Kind: EvServerRefuse, Reason: v.Reason})
	case *protocol.ServerTics:
		if h.machine.State == StateConnected {
			h.handleServerTics(v)
		}
	case *protocol.Resynching:
		if int(v.Player) >= protocol.MaxPlayers {
			return
		}
		h.world.Restore(int(v.Player), v.Snapshot)
		h.resynchLocal = true
		h.Send(h.serverNode, &protocol.ResynchGet{Player: v.Player})
		h.logger.Debug().Int("player", int(v.Player)).Msg("resynch snapshot applied")
	case *protocol.ResynchEnd:
		if !h.resynchLocal {
			h.logger.Debug().Msg("repeated resynch end")
			return
		}
		h.world.RestoreGlobals(*v)
		h.resynchLocal = false
		h.logger.Info().Msg("resynch complete")
	case *protocol.Ping:
		h.sess.ApplyPing(v)
	case *protocol.FileFragment:
		h.handleFragment(v)
	case *protocol.NodeTimeout:
		if int(v.Node) == h.serverNode {
			h.feed(ConnEvent{Kind: EvServerLost})
		}
	case *protocol.Empty:
		if v.Kind == protocol.PktServerShutdown {
			h.feed(ConnEvent{Kind: EvShutdown})
		}
	default:
		h.logger.Debug().Stringer("type", p.Type()).Int("node", node).Msg("unexpected packet on client")
	}
}

func (h *Host) handleFragment(f *protocol.FileFragment) {
	if h.receiver == nil || h.machine.State != StateDownloadingSaveGame {
		return
	}
	ack, err := h.receiver.Add(f)
	if err != nil {
		h.feed(ConnEvent{Kind: EvSavegameFailed, Reason: err.Error()})
		return
	}
	if ack == nil {
		return
	}
	h.Send(h.serverNode, ack)
	if !h.receiver.Complete() {
		return
	}
	if err := h.loadSavegame(h.receiver.Bytes()); err != nil {
		h.logger.Error().Err(err).Msg("failed to load savegame")
		h.feed(ConnEvent{Kind: EvSavegameFailed, Reason: err.Error()})
		return
	}
	h.receiver = nil
	h.feed(ConnEvent{Kind: EvSavegameLoaded})
}
