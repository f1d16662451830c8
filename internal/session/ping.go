package session

import (
	"github.com/ticlink-project/ticlink/internal/events"
	"github.com/ticlink-project/ticlink/internal/protocol"
	"github.com/ticlink-project/ticlink/internal/xcmd"
)

// minLaggerAge is how long a player must have been in game before its
// ping can get it kicked.
const minLaggerAge = 30 * protocol.TicRate

// TicsToMillis converts a tic count to milliseconds.
func TicsToMillis(t protocol.Tic) uint32 {
	return uint32(t) * 1000 / protocol.TicRate
}

// AccumulatePing adds every remote player's current lag to its running
// sum. Called once per network update.
func (m *Manager) AccumulatePing() {
	if !m.server {
		return
	}
	for p := range m.players {
		pl := &m.players[p]
		if !pl.InGame || !m.NodeInGame(pl.Node) {
			continue
		}
		pl.pingSum += TicsToMillis(m.Lag(pl.Node))
	}
	m.pingCount++
}

// FlushPing turns the accumulated lag into per-player averages, kicks
// players that stayed over the limit too long, and broadcasts the
// averages. Called once per second.
func (m *Manager) FlushPing() {
	if !m.server {
		return
	}
	var pkt protocol.Ping
	pkt.MaxPing = m.cfg.MaxPing

	count := m.pingCount
	if count == 0 {
		count = 1
	}
	laggers := make([]bool, protocol.MaxPlayers)
	numLaggers := 0
	for p := range m.players {
		pl := &m.players[p]
		if !pl.InGame {
			continue
		}
		pl.AvgPing = pl.pingSum / count
		pkt.Pings[p] = pl.AvgPing
		if m.cfg.MaxPing == 0 || pl.Detached() {
			continue
		}
		if pl.AvgPing > m.cfg.MaxPing {
			if m.clock.GameTic()-min(pl.JoinTic, m.clock.GameTic()) > minLaggerAge {
				laggers[p] = true
			}
			numLaggers++
		} else if pl.pingOver > 0 {
			pl.pingOver--
		}
	}

	if m.cfg.MaxPing > 0 && !m.serverAtFault(numLaggers) {
		for p := range m.players {
			if !laggers[p] {
				continue
			}
			pl := &m.players[p]
			pl.pingOver++
			if pl.pingOver > m.cfg.PingTimeout {
				pl.pingOver = 0
				m.logger.Warn().Int("player", p).Uint32("ping", pl.AvgPing).Msg("kicking lagging player")
				m.SendKick(p, xcmd.KickPingHigh|xcmd.KickKeepBody, "")
			}
		}
	}

	for node := 1; node < protocol.MaxNetNodes; node++ {
		if m.nodes[node].InGame {
			m.out.Send(node, &pkt)
		}
	}

	pings := make(map[int]uint32)
	for p := range m.players {
		m.players[p].pingSum = 0
		if m.players[p].InGame {
			pings[p] = pkt.Pings[p]
		}
	}
	m.pingCount = 0
	m.emit(events.EventPingUpdate, events.PingPayload{Pings: pings, MaxPing: pkt.MaxPing})
}

// serverAtFault reports whether enough remote players lag at once that
// the server itself is the likely cause.
func (m *Manager) serverAtFault(numLaggers int) bool {
	if numLaggers == 0 {
		return false
	}
	return float64(numLaggers) >= float64(m.NumPlayers()-1)*m.cfg.PingFaultFraction
}

// ApplyPing stores the averages a server broadcast.
func (m *Manager) ApplyPing(p *protocol.Ping) {
	for i := range m.players {
		if m.players[i].InGame {
			m.players[i].AvgPing = p.Pings[i]
		}
	}
	m.cfg.MaxPing = p.MaxPing
}
