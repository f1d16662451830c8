package session

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ticlink-project/ticlink/internal/events"
	"github.com/ticlink-project/ticlink/internal/protocol"
	"github.com/ticlink-project/ticlink/internal/util"
	"github.com/ticlink-project/ticlink/internal/xcmd"
)

type joinRequest struct {
	node    int
	addr    string
	join    *protocol.ClientJoin
	newNode bool
}

// joinChecks are evaluated in order; the first refusal wins.
var joinChecks = []struct {
	name  string
	check func(m *Manager, r *joinRequest) string
}{
	{"ban", (*Manager).checkBan},
	{"packet_format", (*Manager).checkPacketFormat},
	{"application", (*Manager).checkApplication},
	{"version", (*Manager).checkVersion},
	{"joins_disabled", (*Manager).checkAllowJoins},
	{"capacity", (*Manager).checkCapacity},
	{"too_many_local", (*Manager).checkTooManyLocal},
	{"no_local", (*Manager).checkNoLocal},
	{"throttle", (*Manager).checkThrottle},
	{"name", (*Manager).checkNames},
}

func (m *Manager) checkBan(r *joinRequest) string {
	banned, err := m.bans.IsBanned(util.StripPort(r.addr))
	if err != nil {
		m.logger.Error().Err(err).Str("address", r.addr).Msg("failed to check ban list")
		return ""
	}
	if banned {
		return "You have been banned\nfrom the server."
	}
	return ""
}

func (m *Manager) checkPacketFormat(r *joinRequest) string {
	if r.join.PacketVersion != protocol.PacketVersion {
		return "Incompatible packet formats."
	}
	return ""
}

func (m *Manager) checkApplication(r *joinRequest) string {
	if r.join.Application != m.cfg.Application {
		return "Different game modifications\nare not compatible."
	}
	return ""
}

func (m *Manager) checkVersion(r *joinRequest) string {
	if r.join.Version != m.cfg.Version || r.join.Subversion != m.cfg.Subversion {
		return fmt.Sprintf("Different versions cannot\nplay a netgame!\n(server version %d.%d)",
			m.cfg.Version, m.cfg.Subversion)
	}
	return ""
}

func (m *Manager) checkAllowJoins(r *joinRequest) string {
	if !m.cfg.AllowJoins && r.node != 0 {
		return "The server is not accepting\njoins for the moment."
	}
	return ""
}

func (m *Manager) checkCapacity(r *joinRequest) string {
	if r.newNode && m.NumPlayers()+int(r.join.LocalPlayers) > m.cfg.MaxPlayers {
		return fmt.Sprintf("Maximum players reached: %d", m.cfg.MaxPlayers)
	}
	return ""
}

func (m *Manager) checkTooManyLocal(r *joinRequest) string {
	if r.join.LocalPlayers > 2 {
		return "Too many players from\nthis node."
	}
	return ""
}

func (m *Manager) checkNoLocal(r *joinRequest) string {
	if r.join.LocalPlayers == 0 {
		return "No players from\nthis node."
	}
	return ""
}

func (m *Manager) checkThrottle(r *joinRequest) string {
	limit := protocol.Tic(2 * m.cfg.JoinDelay * protocol.TicRate)
	if m.cfg.JoinDelay > 0 && r.node != 0 && m.joinDelay > limit {
		wait := (m.joinDelay - limit + protocol.TicRate - 1) / protocol.TicRate
		return fmt.Sprintf("Too many people are connecting.\nPlease wait %d seconds and then\ntry again.", wait)
	}
	return ""
}

func (m *Manager) checkNames(r *joinRequest) string {
	for i := 0; i < int(r.join.LocalPlayers) && i < len(r.join.Names); i++ {
		if !ValidName(r.join.Names[i]) {
			return "Bad player name"
		}
	}
	return ""
}

// ValidName reports whether name may be shown to other players.
func ValidName(name string) bool {
	if strings.TrimSpace(name) == "" || len(name) > protocol.MaxPlayerName {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] > 0x7E {
			return false
		}
	}
	return true
}

// RefusalReason returns the reason a join would be refused, or "".
func (m *Manager) RefusalReason(node int, addr string, join *protocol.ClientJoin) string {
	r := &joinRequest{node: node, addr: addr, join: join, newNode: !m.NodeInGame(node)}
	for _, c := range joinChecks {
		if reason := c.check(m, r); reason != "" {
			return reason
		}
	}
	return ""
}

// HandleJoinRequest admits or refuses a ClientJoin. A refusal sends
// ServerRefuse and leaves every table untouched.
func (m *Manager) HandleJoinRequest(node int, addr string, join *protocol.ClientJoin) bool {
	if !m.server || !m.validNode(node) {
		return false
	}

	if reason := m.RefusalReason(node, addr, join); reason != "" {
		m.out.Send(node, &protocol.ServerRefuse{Reason: reason})
		m.logger.Info().
			Int("node", node).
			Str("address", addr).
			Str("reason", strings.ReplaceAll(reason, "\n", " ")).
			Msg("join refused")
		m.emit(events.EventJoinRefused, events.RefusePayload{Node: node, Address: addr, Reason: reason})
		return false
	}

	n := &m.nodes[node]
	if !n.InGame {
		m.AddNode(node, addr, m.clock.GameTic())
		if challenge, err := util.NewChallenge(); err == nil {
			n.Challenge = challenge
		} else {
			m.logger.Error().Err(err).Int("node", node).Msg("admin logins disabled for node")
		}
		if !m.out.Send(node, m.serverConfig(node)) {
			m.ResetNode(node)
			m.out.Send(node, &protocol.ServerRefuse{Reason: "Server couldn't send info, please try again"})
			return false
		}
		if m.world.GameState() == protocol.GameStateLevel {
			m.out.SendSavegame(node)
		}
		m.logger.Info().Int("node", node).Str("address", addr).Msg("node joined")
		m.emit(events.EventNodeConnected, events.PlayerPayload{Node: node, Address: addr, Player: -1})
	}

	n.Names = join.Names
	n.Waiting = int(join.LocalPlayers) - n.PlayerCount
	if n.Waiting > 0 && node != 0 {
		m.joinDelay += protocol.Tic(m.cfg.JoinDelay * protocol.TicRate)
	}
	m.AddWaitingPlayers()
	return true
}

// DecayJoinDelay lowers the join throttle by one tic.
func (m *Manager) DecayJoinDelay() {
	if m.joinDelay > 0 {
		m.joinDelay--
	}
}

// JoinDelay returns the current join throttle in tics.
func (m *Manager) JoinDelay() protocol.Tic {
	return m.joinDelay
}

func (m *Manager) serverConfig(node int) *protocol.ServerConfig {
	cfg := &protocol.ServerConfig{
		PacketVersion: protocol.PacketVersion,
		Application:   m.cfg.Application,
		Version:       m.cfg.Version,
		Subversion:    m.cfg.Subversion,
		ServerPlayer:  int8(m.ServerPlayer),
		NumSlots:      byte(m.NumSlots),
		GameTic:       uint32(m.clock.GameTic()),
		ClientNode:    byte(node),
		GameState:     m.world.GameState(),
		GameType:      m.world.GameType(),
		Admins:        [4]int8{-1, -1, -1, -1},
		Challenge:     m.nodes[node].Challenge,
	}
	i := 0
	for p := range m.players {
		if m.players[p].Admin && i < len(cfg.Admins) {
			cfg.Admins[i] = int8(p)
			i++
		}
	}
	return cfg
}

// FindRejoiner returns a player slot whose body was kept after its node
// left from the same address as node, or -1.
func (m *Manager) FindRejoiner(node int) int {
	addr := util.StripPort(m.nodes[node].Addr)
	if addr == "" {
		return -1
	}
	for p := range m.players {
		pl := &m.players[p]
		if pl.Detached() && pl.Address == addr {
			return p
		}
	}
	return -1
}

func (m *Manager) freeSlot() int {
	for p := range m.players {
		if p == 0 && m.cfg.Dedicated {
			continue
		}
		if !m.players[p].InGame && m.players[p].Node == int(protocol.NodeNone) {
			return p
		}
	}
	return -1
}

// AddWaitingPlayers assigns slots to every admitted node still waiting
// for players and announces them with AddPlayer commands.
func (m *Manager) AddWaitingPlayers() {
	for node := range m.nodes {
		n := &m.nodes[node]
		for n.InGame && n.Waiting > 0 {
			p := m.FindRejoiner(node)
			if p < 0 {
				p = m.freeSlot()
			}
			if p < 0 {
				m.logger.Error().Int("node", node).Msg("no free player slot for admitted node")
				n.Waiting = 0
				break
			}

			idx := 0
			if n.PlayerCount >= 1 {
				idx = 1
			}
			n.Players[idx] = p
			n.PlayerCount++
			n.Waiting--
			m.players[p].Node = node

			m.out.QueueCommand(xcmd.EncodeAddPlayer(xcmd.AddPlayerPayload{
				Node:        byte(node),
				Player:      byte(p),
				Splitscreen: idx == 1,
				Name:        n.Names[idx],
			}))
			m.logger.Debug().Int("node", node).Int("player", p).Msg("player slot assigned")
		}
	}
}

// ApplyAddPlayer runs an AddPlayer command issued by issuer.
func (m *Manager) ApplyAddPlayer(issuer int, a xcmd.AddPlayerPayload) {
	if issuer != m.ServerPlayer && !m.IsAdmin(issuer) {
		m.logger.Warn().Int("issuer", issuer).Msg("illegal addplayer command")
		if m.server {
			m.SendKick(issuer, xcmd.KickConFail, "")
		}
		return
	}
	if !m.validPlayer(int(a.Player)) {
		return
	}

	p := int(a.Player)
	pl := &m.players[p]
	rejoin := pl.InGame
	pl.Node = int(a.Node)
	pl.Second = a.Splitscreen
	if rejoin {
		pl.QuitTic = 0
	} else {
		name := a.Name
		if !ValidName(name) {
			name = defaultName(p)
		}
		pl.InGame = true
		pl.Admin = false
		pl.Name = m.uniqueName(name, p)
		pl.JoinTic = m.clock.GameTic()
		pl.pingSum, pl.AvgPing, pl.pingOver = 0, 0, 0
		m.world.SpawnPlayer(p, pl.Name)
	}
	if m.server && m.validNode(pl.Node) {
		pl.Address = util.StripPort(m.nodes[pl.Node].Addr)
	}
	if p+1 > m.NumSlots {
		m.NumSlots = p + 1
	}
	if int(a.Node) == m.MyNode {
		if a.Splitscreen {
			m.SecondPlayer = p
		} else {
			m.ConsolePlayer = p
			m.DisplayPlayer = p
		}
	}

	m.logger.Info().
		Int("player", p).
		Int("node", pl.Node).
		Str("name", pl.Name).
		Bool("rejoin", rejoin).
		Msg("player joined")
	m.emit(events.EventPlayerJoined, events.PlayerPayload{
		Player: p, Node: pl.Node, Name: pl.Name, Address: pl.Address, Rejoin: rejoin,
	})
}

func (m *Manager) nameTaken(name string, except int) bool {
	for p := range m.players {
		if p != except && m.players[p].InGame && strings.EqualFold(m.players[p].Name, name) {
			return true
		}
	}
	return false
}

func (m *Manager) uniqueName(name string, player int) string {
	if !m.nameTaken(name, player) {
		return name
	}
	for i := 2; ; i++ {
		suffix := strconv.Itoa(i)
		base := name
		if len(base)+len(suffix) > protocol.MaxPlayerName {
			base = base[:protocol.MaxPlayerName-len(suffix)]
		}
		if candidate := base + suffix; !m.nameTaken(candidate, player) {
			return candidate
		}
	}
}

// ApplyNameChange runs a NameChange command.
func (m *Manager) ApplyNameChange(player int, name string) {
	if !m.InGame(player) || !ValidName(name) {
		return
	}
	pl := &m.players[player]
	old := pl.Name
	pl.Name = m.uniqueName(name, player)
	m.world.Rename(player, pl.Name)
	m.logger.Info().Int("player", player).Str("from", old).Str("to", pl.Name).Msg("player renamed")
}
