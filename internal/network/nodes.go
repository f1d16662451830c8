package network

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type nodeEntry struct {
	addr         string
	lastActivity time.Time
}

// NodeTable maps remote addresses to node ids.
type NodeTable struct {
	mu     sync.RWMutex
	byAddr map[string]int
	nodes  []*nodeEntry
}

// NewNodeTable creates a table with room for size nodes, node 0 included.
func NewNodeTable(size int) *NodeTable {
	return &NodeTable{
		byAddr: make(map[string]int),
		nodes:  make([]*nodeEntry, size),
	}
}

// Lookup returns the node bound to addr.
func (t *NodeTable) Lookup(addr string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.byAddr[addr]
	return node, ok
}

// Register returns the node bound to addr, binding the lowest free id
// if there is none yet.
func (t *NodeTable) Register(addr string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if node, ok := t.byAddr[addr]; ok {
		t.nodes[node].lastActivity = time.Now()
		return node, nil
	}
	for node := 1; node < len(t.nodes); node++ {
		if t.nodes[node] == nil {
			t.nodes[node] = &nodeEntry{addr: addr, lastActivity: time.Now()}
			t.byAddr[addr] = node
			log.Debug().Int("node", node).Str("address", addr).Msg("node registered")
			return node, nil
		}
	}
	return 0, ErrNoFreeNode
}

// Touch records activity on node.
func (t *NodeTable) Touch(node int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if node > 0 && node < len(t.nodes) && t.nodes[node] != nil {
		t.nodes[node].lastActivity = time.Now()
	}
}

// Unregister frees node.
func (t *NodeTable) Unregister(node int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if node <= 0 || node >= len(t.nodes) || t.nodes[node] == nil {
		return
	}
	delete(t.byAddr, t.nodes[node].addr)
	log.Debug().Int("node", node).Str("address", t.nodes[node].addr).Msg("node unregistered")
	t.nodes[node] = nil
}

// Addr returns the address bound to node.
func (t *NodeTable) Addr(node int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if node <= 0 || node >= len(t.nodes) || t.nodes[node] == nil {
		return ""
	}
	return t.nodes[node].addr
}

// Count returns the number of bound nodes.
func (t *NodeTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byAddr)
}

// CleanStale frees nodes silent for longer than timeout and returns them.
func (t *NodeTable) CleanStale(timeout time.Duration) []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cleaned []int
	cutoff := time.Now().Add(-timeout)
	for node, e := range t.nodes {
		if e == nil || !e.lastActivity.Before(cutoff) {
			continue
		}
		delete(t.byAddr, e.addr)
		t.nodes[node] = nil
		cleaned = append(cleaned, node)
		log.Warn().
			Int("node", node).
			Str("address", e.addr).
			Time("last_activity", e.lastActivity).
			Msg("cleaned stale node")
	}
	return cleaned
}
