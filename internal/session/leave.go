package session

import (
	"strings"

	"github.com/ticlink-project/ticlink/internal/events"
	"github.com/ticlink-project/ticlink/internal/protocol"
	"github.com/ticlink-project/ticlink/internal/xcmd"
)

// SendKick issues a Kick command from the local player. It takes effect
// on every peer when the tic carrying it runs.
func (m *Manager) SendKick(player int, msg xcmd.KickMsg, custom string) {
	if !m.validPlayer(player) {
		return
	}
	m.out.QueueCommand(xcmd.EncodeKick(xcmd.KickPayload{Target: byte(player), Msg: msg, Custom: custom}))
}

// kickAuthorized reports whether issuer may kick target: the server
// player, an admin, or a node dropping its own second player.
func (m *Manager) kickAuthorized(issuer, target int) bool {
	if issuer == m.ServerPlayer || m.IsAdmin(issuer) {
		return true
	}
	node := m.PlayerNode(issuer)
	if !m.validNode(node) {
		return false
	}
	n := &m.nodes[node]
	if m.server {
		return n.PlayerCount == 2 && n.Players[1] == target
	}
	return m.players[target].Second && m.players[target].Node == node
}

// ApplyKick runs a Kick command issued by issuer. A kick the issuer is
// not entitled to make is turned against the issuer as a synch failure.
func (m *Manager) ApplyKick(issuer int, k xcmd.KickPayload) {
	target := int(k.Target)
	msg := k.Msg
	custom := k.Custom
	if !m.validPlayer(target) {
		return
	}

	if target == m.ServerPlayer && m.IsAdmin(issuer) {
		m.logger.Warn().Int("issuer", issuer).Msg("server shut down remotely")
		if m.server {
			m.out.Shutdown("shut down by remote admin")
		}
		return
	}

	forged := false
	if !m.kickAuthorized(issuer, target) {
		m.logger.Warn().
			Int("issuer", issuer).
			Str("issuer_name", m.nameOf(issuer)).
			Int("target", target).
			Msg("illegal kick command")
		target = issuer
		msg = xcmd.KickConFail | xcmd.KickKeepBody
		custom = ""
		forged = true
		if !m.validPlayer(target) {
			return
		}
	}

	if !m.players[target].InGame {
		return
	}
	pl := &m.players[target]
	reason := msg.Reason()

	if m.server && (reason == xcmd.KickBanned || reason == xcmd.KickCustomBan) {
		m.ban(target, custom)
	}

	text := msg.Message(pl.Name, custom)
	m.logger.Warn().
		Int("player", target).
		Str("name", pl.Name).
		Str("reason", reason.String()).
		Bool("keep_body", msg.KeepBody()).
		Msg(strings.ToLower(text))
	m.emit(events.EventPlayerKicked, events.KickPayload{
		Player: target, Name: pl.Name, Issuer: issuer, Reason: reason.String(),
		Custom: custom, KeepBody: msg.KeepBody(), Forged: forged,
	})

	if target == m.ConsolePlayer && !m.server {
		m.out.Disconnected(msg.LocalMessage(custom))
		return
	}
	if msg.KeepBody() {
		m.Detach(target)
		return
	}
	m.RemovePlayer(target, reason)
}

func (m *Manager) nameOf(p int) string {
	if !m.validPlayer(p) {
		return ""
	}
	return m.players[p].Name
}

func (m *Manager) ban(player int, reason string) {
	pl := &m.players[player]
	if pl.Address == "" {
		m.logger.Warn().Int("player", player).Msg("cannot ban player without address")
		return
	}
	if reason == "" {
		reason = "No reason given"
	}
	if err := m.bans.AddBan(Ban{Address: pl.Address, Name: pl.Name, Reason: reason}); err != nil {
		m.logger.Error().Err(err).Str("address", pl.Address).Msg("failed to record ban")
		return
	}
	m.emit(events.EventPlayerBanned, events.PlayerPayload{Player: player, Node: pl.Node, Name: pl.Name, Address: pl.Address})
}

// releaseNode drops player from its node, closing the node once it
// carries no player.
func (m *Manager) releaseNode(player int) {
	pl := &m.players[player]
	node := pl.Node
	if !m.server || !m.validNode(node) || !m.nodes[node].InGame {
		return
	}
	n := &m.nodes[node]
	n.PlayerCount--
	for i := range n.Players {
		if n.Players[i] == player {
			n.Players[i] = -1
		}
	}
	if n.Players[0] < 0 && n.Players[1] >= 0 {
		n.Players[0], n.Players[1] = n.Players[1], -1
	}
	if n.PlayerCount <= 0 {
		m.out.CloseNode(node)
		m.ResetNode(node)
	}
}

// Detach separates player from its node while its body stays in game,
// so the same address can rejoin into it.
func (m *Manager) Detach(player int) {
	if !m.InGame(player) {
		return
	}
	m.releaseNode(player)
	pl := &m.players[player]
	pl.Node = int(protocol.NodeNone)
	pl.QuitTic = m.clock.GameTic()
	if pl.QuitTic == 0 {
		pl.QuitTic = 1
	}
	if player == m.SecondPlayer {
		m.SecondPlayer = -1
	}
}

// RemoveHook is told about every removed player.
type RemoveHook func(player int)

// SetRemoveHook registers fn to run after every RemovePlayer.
func (m *Manager) SetRemoveHook(fn RemoveHook) {
	m.onRemove = fn
}

// RemovePlayer takes player out of the game. Removing a player that is
// not in game does nothing.
func (m *Manager) RemovePlayer(player int, reason xcmd.KickMsg) {
	if !m.InGame(player) {
		return
	}
	pl := &m.players[player]
	m.releaseNode(player)

	if m.world.TeamFlags() {
		m.world.TossFlag(player)
	}
	if m.world.SpecialStage() {
		m.redistribute(player)
	}
	m.world.DespawnPlayer(player)

	name, node := pl.Name, pl.Node
	m.players[player] = Player{Node: int(protocol.NodeNone), Name: defaultName(player)}
	m.shrinkSlots()

	if player == m.DisplayPlayer {
		m.DisplayPlayer = m.ConsolePlayer
	}
	if player == m.SecondPlayer {
		m.SecondPlayer = -1
	}
	if m.onRemove != nil {
		m.onRemove(player)
	}

	m.logger.Info().Int("player", player).Str("name", name).Str("reason", reason.String()).Msg("player removed")
	m.emit(events.EventPlayerLeft, events.PlayerPayload{Player: player, Node: node, Name: name})
}

// redistribute shares a departing player's spheres and rings among the
// players that remain; the last share absorbs the remainder.
func (m *Manager) redistribute(player int) {
	count := m.NumPlayers() - 1
	spheres, rings := m.world.Collectibles(player)
	sinc, rinc := spheres, rings
	if count > 0 {
		sinc /= count
		rinc /= count
	}
	for i := range m.players {
		if i == player || !m.players[i].InGame {
			continue
		}
		s, r := m.world.Collectibles(i)
		if spheres < 2*sinc {
			s += spheres
			spheres = 0
		} else {
			s += sinc
			spheres -= sinc
		}
		if rings < 2*rinc {
			r += rings
			rings = 0
		} else {
			r += rinc
			rings -= rinc
		}
		m.world.SetCollectibles(i, s, r)
	}
}

// HandleNodeLeave turns a departed node (quit or timeout) into kicks of
// its players that keep their bodies, and closes the node.
func (m *Manager) HandleNodeLeave(node int, reason xcmd.KickMsg) {
	if !m.server || node == 0 || !m.NodeInGame(node) {
		return
	}
	n := &m.nodes[node]
	for _, p := range n.Players {
		if !m.validPlayer(p) {
			continue
		}
		m.SendKick(p, reason|xcmd.KickKeepBody, "")
		if m.players[p].Node == node {
			m.players[p].Node = int(protocol.NodeNone)
			m.players[p].QuitTic = max(m.clock.GameTic(), 1)
		}
	}
	addr := n.Addr
	m.out.CloseNode(node)
	m.ResetNode(node)

	m.logger.Info().Int("node", node).Str("address", addr).Str("reason", reason.String()).Msg("node left")
	if reason.Reason() == xcmd.KickTimeout {
		m.emit(events.EventNodeTimeout, events.PlayerPayload{Node: node, Player: -1, Address: addr})
	}
}

// ExpireQuitters removes bodies left behind longer than the rejoin
// window, checking once per second.
func (m *Manager) ExpireQuitters() {
	if !m.server || m.cfg.RejoinTimeout == 0 {
		return
	}
	now := m.clock.GameTic()
	for p := range m.players {
		pl := &m.players[p]
		if !pl.Detached() || pl.QuitTic == 0 || now < pl.QuitTic {
			continue
		}
		away := now - pl.QuitTic
		if away >= m.cfg.RejoinTimeout && away%protocol.TicRate == 0 {
			m.SendKick(p, xcmd.KickPlayerQuit, "")
		}
	}
}
