package netgame

import (
	"github.com/ticlink-project/ticlink/internal/consistency"
	"github.com/ticlink-project/ticlink/internal/events"
	"github.com/ticlink-project/ticlink/internal/network"
	"github.com/ticlink-project/ticlink/internal/protocol"
	"github.com/ticlink-project/ticlink/internal/savegame"
	"github.com/ticlink-project/ticlink/internal/xcmd"
)

const (
	// clientBackupTics bounds how far ahead of a node's acknowledged tic
	// the server streams.
	clientBackupTics = 32
	// maxMove is the largest movement a legitimate client sends.
	maxMove = 50
	// fragmentsPerFrame caps savegame fragments per node and frame.
	fragmentsPerFrame = 8
)

// upload is a savegame on its way to one node.
type upload struct {
	*savegame.Sender
	acked int
	since protocol.Tic
}

// Frame runs one real-time frame: NetUpdate, then every tic that became
// available. The status board is refreshed last.
func (h *Host) Frame(realtics int) int {
	h.NetUpdate(realtics)
	ran := h.TryRunTics(realtics)
	h.refreshStatus()
	return ran
}

// NetUpdate exchanges packets and, on a server, makes and distributes
// new tics. realtics is how many tic periods elapsed since the last call.
func (h *Host) NetUpdate(realtics int) {
	realtics = max(realtics, 0)
	h.realTic += protocol.Tic(realtics)

	if h.server {
		h.serverUpdate(realtics)
	} else {
		h.clientUpdate(realtics)
	}
}

func (h *Host) serverUpdate(realtics int) {
	if h.realTic >= h.lastPingTic+protocol.TicRate {
		h.lastPingTic = h.realTic
		h.sess.FlushPing()
	}
	h.sess.AccumulatePing()

	if !h.cfg.Session.Dedicated {
		h.BuildLocalTic()
		h.sendClientCmd(network.LocalNode)
	}
	h.sendLocalText(network.LocalNode)

	h.drainInbound()
	h.runCommands()
	for i := 0; i < realtics; i++ {
		h.sess.DecayJoinDelay()
	}

	h.firstticstosend = h.gametic
	for node := 0; node < protocol.MaxNetNodes; node++ {
		if !h.sess.NodeInGame(node) || (node == network.LocalNode && h.cfg.Session.Dedicated) {
			continue
		}
		n := h.sess.Node(node)
		h.firstticstosend = min(h.firstticstosend, n.Tic)
		if node != network.LocalNode && !n.TimedOut && h.maketic+1 >= n.Tic+protocol.BackupTics {
			n.TimedOut = true
			h.logger.Warn().Int("node", node).Uint32("tic", uint32(n.Tic)).Msg("node fell out of the tic window")
			h.Loopback(&protocol.NodeTimeout{Node: byte(node)})
		}
	}

	counts := protocol.Tic(realtics)
	if h.maketic+counts >= h.firstticstosend+protocol.BackupTics {
		counts = h.firstticstosend + protocol.BackupTics - h.maketic - 1
	}
	for i := protocol.Tic(0); i < counts; i++ {
		h.makeTic()
	}
	for ; h.tictoclear < h.firstticstosend; h.tictoclear++ {
		h.buf.Clear(h.tictoclear)
	}

	for node := 1; node < protocol.MaxNetNodes; node++ {
		if !h.resync.Active(node) {
			continue
		}
		if h.resync.Tick(node) {
			h.kickNode(node, xcmd.KickConFail)
		}
	}
	h.SendTics()
	h.neededtic = h.maketic

	h.sess.ExpireQuitters()
	h.pumpSavegames()
	h.sess.CheckTimeouts(h.realTic)
}

func (h *Host) clientUpdate(realtics int) {
	h.tickMachine(realtics)

	if h.machine.State == StateConnected {
		h.BuildLocalTic()
		if !h.resynchLocal {
			h.sendClientCmd(h.serverNode)
		}
		h.sendLocalText(h.serverNode)
	}

	h.drainInbound()
	h.runCommands()

	if h.machine.State == StateConnected && h.realTic > h.serverDeadline {
		h.serverDeadline = h.realTic + h.cfg.Session.ConnectionTimeout
		h.logger.Warn().Int("node", h.serverNode).Msg("server stopped responding")
		h.Loopback(&protocol.NodeTimeout{Node: byte(h.serverNode)})
	}
}

// kickNode kicks every player of node.
func (h *Host) kickNode(node int, msg xcmd.KickMsg) {
	n := h.sess.Node(node)
	for i := 0; i < n.PlayerCount; i++ {
		h.sess.SendKick(n.Players[i], msg, "")
	}
}

// BuildLocalTic samples local input for this frame.
func (h *Host) BuildLocalTic() {
	h.localCmd[0] = h.input.Sample(false)
	if h.sess.SecondPlayer >= 0 {
		h.localCmd[1] = h.input.Sample(true)
	}
}

// sendClientCmd reports the local command, the tic it was made at and
// the consistency of that tic.
func (h *Host) sendClientCmd(to int) {
	p := &protocol.ClientCmd{
		Kind:       protocol.PktClientCmd,
		ClientTic:  protocol.CompactTic(h.gametic),
		ResendFrom: protocol.CompactTic(h.neededtic),
	}
	if h.missed {
		p.Kind++
		h.missed = false
	}

	added := h.sess.InGame(h.sess.ConsolePlayer) && h.sess.PlayerNode(h.sess.ConsolePlayer) == h.sess.MyNode
	if !added || h.world.GameState() == protocol.GameStateWaitingPlayers {
		p.Kind = protocol.PktNodeKeepAlive + (p.Kind - protocol.PktClientCmd)
	} else {
		p.Consistency, _ = h.ledger.Value(h.gametic)
		p.Cmd = h.localCmd[0]
		if h.sess.SecondPlayer >= 0 {
			p.Kind += 2
			p.Cmd2 = h.localCmd[1]
		}
	}
	h.Send(to, p)
}

func (h *Host) sendLocalText(to int) {
	for slot := range h.localText {
		if len(h.localText[slot]) == 0 {
			continue
		}
		if h.Send(to, &protocol.TextCmd{Second: slot == 1, Data: h.localText[slot]}) {
			h.localText[slot] = nil
		}
	}
}

func (h *Host) handleClientCmd(node int, p *protocol.ClientCmd) {
	n := h.sess.Node(node)
	realstart := protocol.ExpandTic(n.Tic, p.ClientTic)
	realend := protocol.ExpandTic(n.Tic, p.ResendFrom)

	if p.Missed() || n.SupposedTic < realend {
		n.SupposedTic = realend
	}
	if n.Tic > realend {
		h.logger.Debug().Int("node", node).Uint32("tic", uint32(realend)).Msg("out of order client command")
		return
	}
	n.Tic = realend
	h.sess.RefreshNode(node, h.realTic)
	if h.resync.Resumed(node) {
		h.emit(events.EventResyncDone, events.DesyncPayload{Node: node, Tic: uint32(h.gametic), Score: h.resync.Score(node)})
	}

	if p.KeepAlive() {
		return
	}
	player := n.Players[0]
	if !h.sess.InGame(player) {
		return
	}

	if abs8(p.Cmd.Forward) > maxMove || abs8(p.Cmd.Side) > maxMove {
		h.logger.Warn().Int("node", node).Int("player", player).Msg("illegal movement value")
		h.sess.SendKick(player, xcmd.KickConFail, "")
		return
	}
	h.buf.Put(h.maketic, player, p.Cmd)
	if p.Splitscreen() && n.PlayerCount == 2 {
		h.buf.Put(h.maketic, n.Players[1], p.Cmd2)
	}

	if node == network.LocalNode || h.world.GameState() != protocol.GameStateLevel {
		return
	}
	if h.resync.Active(node) || h.resync.Grace(node) {
		return
	}
	switch h.ledger.Compare(realstart, p.Consistency, h.gametic) {
	case consistency.Match:
		h.resync.Credit(node)
	case consistency.Mismatch:
		local, _ := h.ledger.Value(realstart)
		kick := h.resync.ReportMismatch(node, h.sess)
		h.logger.Warn().
			Int("node", node).
			Uint32("tic", uint32(realstart)).
			Uint16("local", local).
			Uint16("remote", p.Consistency).
			Int("score", h.resync.Score(node)).
			Msg("consistency mismatch")
		h.emit(events.EventDesync, events.DesyncPayload{
			Node: node, Tic: uint32(realstart), Local: local, Remote: p.Consistency, Score: h.resync.Score(node),
		})
		if kick {
			h.kickNode(node, xcmd.KickConFail)
		}
	}
}

func abs8(v int8) int {
	if v < 0 {
		return -int(v)
	}
	return int(v)
}

// handleTextCmd places extra commands from node into the earliest tic
// whose ServerTics encoding still has room for them.
func (h *Host) handleTextCmd(node int, p *protocol.TextCmd) {
	if len(p.Data) == 0 || len(p.Data) > protocol.MaxTextCmd {
		return
	}
	player := h.textCmdPlayer(node, p.Second)
	if player < 0 {
		return
	}

	room := h.cfg.PacketLength - (len(p.Data) + 2 + protocol.ServerTicsHeaderSize + (h.sess.NumSlots+1)*protocol.TicCmdSize)
	for tic := h.maketic; tic < h.firstticstosend+protocol.BackupTics; tic++ {
		if h.buf.TotalExtraPerTic(tic, h.sess.InGame) > room {
			continue
		}
		if len(h.buf.Extra(tic, player))+len(p.Data) > protocol.MaxTextCmd {
			continue
		}
		if err := h.buf.AppendExtra(tic, player, p.Data); err == nil {
			return
		}
	}
	h.logger.Warn().Int("node", node).Int("player", player).Int("bytes", len(p.Data)).Msg("no room for text command")
	h.emit(events.EventTextCmdDrop, events.DropPayload{Node: node, Player: player, Tic: uint32(h.maketic), Bytes: len(p.Data), Reason: "no room"})
}

func (h *Host) textCmdPlayer(node int, second bool) int {
	if node == network.LocalNode {
		if second {
			return h.sess.SecondPlayer
		}
		return h.sess.ServerPlayer
	}
	n := h.sess.Node(node)
	idx := 0
	if second {
		idx = 1
	}
	if n.PlayerCount <= idx || !h.sess.InGame(n.Players[idx]) {
		return -1
	}
	return n.Players[idx]
}

// makeTic closes maketic, inventing commands for players that sent none.
func (h *Host) makeTic() {
	prev := h.maketic
	if prev > 0 {
		prev--
	}
	for p := 0; p < protocol.MaxPlayers; p++ {
		if h.sess.InGame(p) && !h.buf.Get(h.maketic, p).Received {
			h.buf.Synthesize(h.maketic, prev, p)
		}
	}
	h.maketic++
}

// SendTics sends every admitted node the tics it has not acknowledged,
// as many per packet as fit the negotiated length.
func (h *Host) SendTics() {
	slots := h.sess.NumSlots
	for node := 1; node < protocol.MaxNetNodes; node++ {
		if !h.sess.NodeInGame(node) || h.resync.Active(node) {
			continue
		}
		n := h.sess.Node(node)
		first := n.SupposedTic
		last := min(h.maketic, n.Tic+clientBackupTics)
		if first >= last {
			first = n.Tic
			if first >= last || (int(h.realTic)+node)&3 != 0 {
				continue
			}
		}
		first = max(first, h.firstticstosend)
		if first >= last {
			continue
		}

		size := protocol.ServerTicsHeaderSize
		for tic := first; tic < last; tic++ {
			size += protocol.TicSize(slots, h.buf.Records(tic, h.sess.InGame))
			if size <= h.cfg.PacketLength {
				continue
			}
			last = tic
			if last == first {
				if size > protocol.MaxPacketLength {
					h.logger.Error().Int("node", node).Uint32("tic", uint32(tic)).Int("bytes", size).Msg("tic too large to send")
					h.emit(events.EventTicsDropped, events.DropPayload{Node: node, Player: -1, Tic: uint32(tic), Bytes: size, Reason: "tic exceeds packet"})
					last = first
				} else {
					last++
				}
			}
			break
		}
		if first >= last {
			continue
		}

		p := &protocol.ServerTics{StartTic: protocol.CompactTic(first), NumSlots: byte(slots)}
		for tic := first; tic < last; tic++ {
			p.Cmds = append(p.Cmds, h.buf.Slot(tic, slots)...)
			p.Texts = append(p.Texts, h.buf.Records(tic, h.sess.InGame))
		}
		h.Send(node, p)
		n.SupposedTic = max(last, n.Tic)
	}
}

// TryRunTics simulates every received tic in order, at most MaxCatchUp
// per call. Nothing runs while a join or a resynch is in progress.
func (h *Host) TryRunTics(realtics int) int {
	if realtics <= 0 || h.resynchLocal {
		return 0
	}
	if !h.server && h.machine.State != StateConnected {
		return 0
	}
	ran := 0
	for h.neededtic > h.gametic && ran < h.cfg.MaxCatchUp && h.State() == StateConnected {
		h.runTic()
		ran++
	}
	return ran
}

func (h *Host) runTic() {
	tic := h.gametic
	h.world.ApplyTic(tic, h.buf.Slot(tic, protocol.MaxPlayers), true)
	h.runExtras(tic)
	if h.State() != StateConnected {
		return
	}
	h.gametic++
	h.ledger.Record(h.gametic, consistency.Compute(h.world.ConsistencyInputs()))
	if !h.server {
		h.buf.FreeExtras(tic)
	}
}

// runExtras executes the extra commands attached to tic.
func (h *Host) runExtras(tic protocol.Tic) {
	for p := 0; p < protocol.MaxPlayers; p++ {
		data := h.buf.Extra(tic, p)
		if len(data) == 0 || (p != 0 && !h.sess.InGame(p)) {
			continue
		}
		if err := h.registry.Execute(data, p); err != nil {
			h.logger.Warn().Err(err).Int("player", p).Uint32("tic", uint32(tic)).Msg("bad extra command")
			if h.server && p != h.sess.ServerPlayer {
				h.sess.SendKick(p, xcmd.KickConFail|xcmd.KickKeepBody, "")
			}
		}
	}
}

// pumpSavegames streams pending savegames and rewinds stalled ones.
func (h *Host) pumpSavegames() {
	now := h.now()
	for node, up := range h.senders {
		if !h.sess.NodeInGame(node) || up.Done() {
			delete(h.senders, node)
			continue
		}
		if acked, _ := up.Progress(); acked != up.acked {
			up.acked, up.since = acked, h.realTic
		} else if h.realTic >= up.since+protocol.TicRate {
			up.since = h.realTic
			up.Resend()
		}
		for i := 0; i < fragmentsPerFrame; i++ {
			f := up.Next(now)
			if f == nil {
				break
			}
			h.Send(node, f)
		}
	}
}
