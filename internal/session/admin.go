package session

import (
	"github.com/ticlink-project/ticlink/internal/events"
	"github.com/ticlink-project/ticlink/internal/protocol"
	"github.com/ticlink-project/ticlink/internal/util"
	"github.com/ticlink-project/ticlink/internal/xcmd"
)

// HandleLogin checks an admin login digest from node against the
// challenge it was given, and grants its first player admin on success.
func (m *Manager) HandleLogin(node int, login *protocol.Login) {
	if !m.server || !m.NodeInGame(node) {
		return
	}
	n := &m.nodes[node]
	player := n.Players[0]
	if !m.InGame(player) {
		return
	}
	if m.cfg.AdminPasswordHash == "" {
		m.logger.Info().Int("node", node).Msg("login attempt with no admin password set")
		return
	}
	if !util.VerifyLogin(n.Challenge, m.cfg.AdminPasswordHash, login.Digest) {
		m.logger.Warn().Int("node", node).Int("player", player).Str("address", n.Addr).Msg("failed admin login")
		return
	}
	if next, err := util.NewChallenge(); err == nil {
		n.Challenge = next
	}
	m.Promote(player)
}

// Promote grants player admin rights on every peer.
func (m *Manager) Promote(player int) {
	if m.InGame(player) {
		m.out.QueueCommand(xcmd.EncodeVerified(byte(player), true))
	}
}

// Demote revokes player's admin rights on every peer.
func (m *Manager) Demote(player int) {
	if m.InGame(player) {
		m.out.QueueCommand(xcmd.EncodeVerified(byte(player), false))
	}
}

// ApplyVerified runs a Verified or Demoted command. Only the server
// player may change admin rights.
func (m *Manager) ApplyVerified(issuer, player int, granted bool) {
	if issuer != m.ServerPlayer {
		m.logger.Warn().Int("issuer", issuer).Msg("illegal admin command")
		if m.server {
			m.SendKick(issuer, xcmd.KickConFail, "")
		}
		return
	}
	if !m.InGame(player) {
		return
	}
	pl := &m.players[player]
	pl.Admin = granted
	m.logger.Info().Int("player", player).Str("name", pl.Name).Bool("admin", granted).Msg("admin rights changed")
	if granted {
		m.emit(events.EventAdminLogin, events.PlayerPayload{Player: player, Node: pl.Node, Name: pl.Name, Address: pl.Address})
	}
}

// SetAdmins applies the admin list a ServerConfig carries.
func (m *Manager) SetAdmins(admins [4]int8) {
	for p := range m.players {
		m.players[p].Admin = false
	}
	for _, a := range admins {
		if m.validPlayer(int(a)) {
			m.players[a].Admin = true
		}
	}
}
