package session

import "github.com/ticlink-project/ticlink/internal/protocol"

// RefreshNode pushes back node's timeout after hearing from it. now is
// measured in real tics, not game tics.
func (m *Manager) RefreshNode(node int, now protocol.Tic) {
	if !m.NodeInGame(node) {
		return
	}
	m.nodes[node].Deadline = now + m.cfg.ConnectionTimeout
	m.nodes[node].TimedOut = false
}

// CheckTimeouts delivers a NodeTimeout, once, for every peer silent
// past its deadline.
func (m *Manager) CheckTimeouts(now protocol.Tic) {
	for node := range m.nodes {
		n := &m.nodes[node]
		if !n.InGame || node == m.MyNode || n.TimedOut || now <= n.Deadline {
			continue
		}
		n.TimedOut = true
		m.logger.Warn().Int("node", node).Str("address", n.Addr).Msg("node timed out")
		m.out.Loopback(&protocol.NodeTimeout{Node: byte(node)})
	}
}
