package session

import (
	"net"

	"github.com/samber/lo"

	"github.com/ticlink-project/ticlink/internal/protocol"
)

// PlayerView is a read-only copy of one occupied slot.
type PlayerView struct {
	Slot     int    `json:"slot"`
	Name     string `json:"name"`
	Node     int    `json:"node"`
	Address  string `json:"address,omitempty"`
	Admin    bool   `json:"admin"`
	Ping     uint32 `json:"ping"`
	Detached bool   `json:"detached"`
	Seconds  uint32 `json:"seconds"`
}

// NodeView is a read-only copy of one admitted node.
type NodeView struct {
	Node    int    `json:"node"`
	Address string `json:"address"`
	Tic     uint32 `json:"tic"`
	Lag     uint32 `json:"lag"`
	Players []int  `json:"players"`
}

// Roster lists the occupied slots.
func (m *Manager) Roster() []PlayerView {
	now := m.clock.GameTic()
	slots := lo.Range(protocol.MaxPlayers)
	return lo.FilterMap(slots, func(p int, _ int) (PlayerView, bool) {
		pl := &m.players[p]
		if !pl.InGame {
			return PlayerView{}, false
		}
		return PlayerView{
			Slot:     p,
			Name:     pl.Name,
			Node:     pl.Node,
			Address:  pl.Address,
			Admin:    pl.Admin,
			Ping:     pl.AvgPing,
			Detached: pl.Detached(),
			Seconds:  uint32((now - min(pl.JoinTic, now)) / protocol.TicRate),
		}, true
	})
}

// Nodes lists the admitted nodes.
func (m *Manager) Nodes() []NodeView {
	ids := lo.Filter(lo.Range(protocol.MaxNetNodes), func(node int, _ int) bool {
		return m.nodes[node].InGame
	})
	return lo.Map(ids, func(node int, _ int) NodeView {
		n := &m.nodes[node]
		return NodeView{
			Node:    node,
			Address: n.Addr,
			Tic:     uint32(n.Tic),
			Lag:     uint32(m.Lag(node)),
			Players: lo.Filter(n.Players[:], func(p int, _ int) bool { return p >= 0 }),
		}
	})
}

// ServerInfo answers an AskInfo.
func (m *Manager) ServerInfo(ask *protocol.AskInfo) *protocol.ServerInfo {
	numPlayers := lo.CountBy(m.players[:], func(p Player) bool { return p.InGame })
	return &protocol.ServerInfo{
		PacketVersion: protocol.PacketVersion,
		Application:   m.cfg.Application,
		Version:       m.cfg.Version,
		Subversion:    m.cfg.Subversion,
		NumPlayers:    byte(numPlayers),
		MaxPlayers:    byte(m.cfg.MaxPlayers),
		GameType:      m.world.GameType(),
		Time:          ask.Time,
		LevelTime:     uint32(m.world.LevelTime()),
		ServerName:    m.cfg.ServerName,
		MapName:       m.world.MapName(),
		MapTitle:      m.world.MapName(),
	}
}

// PlayerInfo lists every slot for an AskInfo.
func (m *Manager) PlayerInfo() *protocol.PlayerInfo {
	info := &protocol.PlayerInfo{}
	globals := m.world.Globals()
	now := m.clock.GameTic()
	for p := range m.players {
		pl := &m.players[p]
		e := &info.Players[p]
		if !pl.InGame {
			e.Node = protocol.NodeNone
			continue
		}
		e.Node = byte(pl.Node)
		e.Name = pl.Name
		if ip := net.ParseIP(pl.Address).To4(); ip != nil {
			copy(e.Address[:], ip)
		}
		e.Team = byte(globals.Players[p].Team)
		e.Score = globals.Players[p].Score
		e.TimeInServer = uint16(min((now-min(pl.JoinTic, now))/protocol.TicRate, 0xFFFF))
	}
	return info
}
