package network

import (
	"sync"
	"time"

	"github.com/ticlink-project/ticlink/internal/protocol"
)

// MemoryHub connects MemoryTransports in process. Delivery is immediate
// and ordered, which keeps multi-host tests deterministic. Reliable
// datagrams always arrive; unreliable ones pass through Drop.
type MemoryHub struct {
	mu        sync.Mutex
	endpoints map[string]*MemoryTransport
	// Drop, when set, decides which unreliable datagrams are lost.
	Drop func(from, to string, data []byte) bool
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{endpoints: make(map[string]*MemoryTransport)}
}

// Endpoint returns the transport listening on addr, creating it.
func (h *MemoryHub) Endpoint(addr string) *MemoryTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.endpoints[addr]; ok {
		return t
	}
	t := &MemoryTransport{hub: h, addr: addr, nodes: NewNodeTable(protocol.MaxNetNodes)}
	h.endpoints[addr] = t
	return t
}

func (h *MemoryHub) deliver(from, to string, reliable bool, data []byte) {
	h.mu.Lock()
	peer := h.endpoints[to]
	drop := h.Drop
	h.mu.Unlock()

	if peer == nil || (!reliable && drop != nil && drop(from, to, data)) {
		return
	}
	peer.receive(from, data)
}

// MemoryTransport is one endpoint of a MemoryHub.
type MemoryTransport struct {
	hub   *MemoryHub
	addr  string
	nodes *NodeTable

	mu     sync.Mutex
	inbox  []Datagram
	closed bool
}

func (t *MemoryTransport) receive(from string, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	node, err := t.nodes.Register(from)
	if err != nil {
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	t.inbox = append(t.inbox, Datagram{Node: node, Data: buf, At: time.Now()})
}

// Send delivers data to node through the hub.
func (t *MemoryTransport) Send(node int, reliable bool, data []byte) bool {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return false
	}
	if node == LocalNode {
		buf := make([]byte, len(data))
		copy(buf, data)
		t.mu.Lock()
		t.inbox = append(t.inbox, Datagram{Node: LocalNode, Data: buf, At: time.Now()})
		t.mu.Unlock()
		return true
	}
	to := t.nodes.Addr(node)
	if to == "" {
		return false
	}
	t.hub.deliver(t.addr, to, reliable, data)
	return true
}

// Poll returns the next received datagram.
func (t *MemoryTransport) Poll() (Datagram, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.inbox) == 0 {
		return Datagram{}, false
	}
	d := t.inbox[0]
	t.inbox = t.inbox[1:]
	return d, true
}

// Pending returns how many datagrams wait in the inbox.
func (t *MemoryTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inbox)
}

// Dial binds a node to another endpoint of the hub.
func (t *MemoryTransport) Dial(addr string) (int, error) {
	return t.nodes.Register(addr)
}

// Close forgets node.
func (t *MemoryTransport) Close(node int) {
	t.nodes.Unregister(node)
}

// Addr returns the endpoint bound to node.
func (t *MemoryTransport) Addr(node int) string {
	return t.nodes.Addr(node)
}

// Shutdown stops delivery to this endpoint.
func (t *MemoryTransport) Shutdown() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.inbox = nil
	return nil
}
