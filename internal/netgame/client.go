package netgame

import (
	"fmt"

	"github.com/ticlink-project/ticlink/internal/consistency"
	"github.com/ticlink-project/ticlink/internal/events"
	"github.com/ticlink-project/ticlink/internal/protocol"
	"github.com/ticlink-project/ticlink/internal/savegame"
	"github.com/ticlink-project/ticlink/internal/util"
)

// feed runs ev through the connection machine and carries out the
// resulting effects.
func (h *Host) feed(ev ConnEvent) {
	if h.server {
		return
	}
	next, effects := Transition(h.machine, ev)
	for _, e := range effects {
		h.apply(e)
	}
	h.setMachine(next, next.Reason)
}

func (h *Host) setMachine(m Machine, reason string) {
	from := h.machine.State
	h.machine = m
	if from == m.State {
		return
	}
	h.logger.Info().Stringer("from", from).Stringer("to", m.State).Msg("connection state changed")
	h.emit(events.EventConnState, events.ConnStatePayload{From: from.String(), To: m.State.String(), Reason: reason})
}

func (h *Host) apply(e Effect) {
	switch e.Kind {
	case EffSendAskInfo:
		h.Send(h.serverNode, &protocol.AskInfo{
			Version: protocol.PacketVersion,
			Time:    uint32(h.now().UnixMilli()),
		})
	case EffSendJoin:
		h.Send(h.serverNode, h.joinRequest())
	case EffApplyConfig:
		h.applyConfig(e.Config)
	case EffAwaitSavegame:
		h.receiver = savegame.NewReceiver(savegameFileID)
	case EffStartGame:
		h.serverDeadline = h.realTic + h.cfg.Session.ConnectionTimeout
		if _, ok := h.ledger.Value(h.gametic); !ok {
			h.ledger.Record(h.gametic, consistency.Compute(h.world.ConsistencyInputs()))
		}
		h.logger.Info().Uint32("tic", uint32(h.gametic)).Int("node", h.sess.MyNode).Msg("joined game")
	case EffAbort:
		h.lastMessage = e.Message
		h.discardGame()
		h.logger.Warn().Str("reason", e.Message).Msg("left game")
		if h.serverNode != int(protocol.NodeNone) {
			h.transport.Close(h.serverNode)
		}
	}
}

func (h *Host) applyConfig(cfg *protocol.ServerConfig) {
	h.sess.MyNode = int(cfg.ClientNode)
	h.sess.ServerPlayer = int(cfg.ServerPlayer)
	h.sess.NumSlots = int(cfg.NumSlots)
	h.sess.SetAdmins(cfg.Admins)
	h.gametic = protocol.Tic(cfg.GameTic)
	h.neededtic = h.gametic
	h.challenge = cfg.Challenge
	h.logger.Info().
		Int("node", h.sess.MyNode).
		Uint32("tic", cfg.GameTic).
		Int("slots", int(cfg.NumSlots)).
		Msg("server accepted join")
}

// loadSavegame replaces the world with the one the server sent.
func (h *Host) loadSavegame(blob []byte) error {
	tic, roster, state, err := savegame.Unpack(blob)
	if err != nil {
		return err
	}
	if err := h.sess.LoadRoster(roster); err != nil {
		return err
	}
	if err := h.world.Load(state); err != nil {
		return fmt.Errorf("failed to load world: %w", err)
	}
	h.gametic = tic
	h.neededtic = tic
	h.ledger.Reset()
	h.ledger.Record(tic, consistency.Compute(h.world.ConsistencyInputs()))
	h.logger.Info().Uint32("tic", uint32(tic)).Int("bytes", len(blob)).Msg("savegame loaded")
	return nil
}

// tickMachine advances the connection machine by realtics.
func (h *Host) tickMachine(realtics int) {
	for i := 0; i < realtics; i++ {
		if h.machine.State.Terminal() || h.machine.State == StateConnected {
			return
		}
		h.feed(ConnEvent{Kind: EvTick})
	}
}

// handleServerTics stores a batch of tics from the server. Nothing is
// taken while a resynch is applied; the batch is asked for again.
func (h *Host) handleServerTics(p *protocol.ServerTics) {
	if h.resynchLocal {
		h.missed = true
		return
	}
	start := protocol.ExpandTic(h.neededtic, p.StartTic)
	end := start + protocol.Tic(p.NumTics())
	if limit := h.gametic + protocol.BackupTics; end > limit {
		end = limit
	}
	h.missed = start > h.neededtic

	if start > h.neededtic || h.neededtic >= end {
		return
	}
	slots := int(p.NumSlots)
	for i, tic := 0, start; tic < end; i, tic = i+1, tic+1 {
		h.buf.Clear(tic)
		h.buf.SetSlot(tic, p.Cmds[i*slots:(i+1)*slots])
		if tic < h.gametic {
			continue
		}
		for _, rec := range p.Texts[i] {
			h.buf.SetExtra(tic, int(rec.Player), rec.Data)
		}
	}
	h.neededtic = end
}

// Login sends an admin login for the local player.
func (h *Host) Login(password string) error {
	if h.server {
		return fmt.Errorf("server player is always admin")
	}
	if h.machine.State != StateConnected {
		return fmt.Errorf("not connected")
	}
	digest, err := util.LoginDigest(h.challenge, util.HashPassword(password))
	if err != nil {
		return err
	}
	h.Send(h.serverNode, &protocol.Login{Digest: digest})
	return nil
}
