// Package network moves datagrams between numbered nodes. Node 0 is
// always the local host; every remote address is given the lowest free
// node id the first time it is heard from or dialed.
package network

import (
	"errors"
	"time"
)

var (
	// ErrNoFreeNode is returned when every node id is taken.
	ErrNoFreeNode = errors.New("no free node")
	// ErrClosed is returned by a transport that has been shut down.
	ErrClosed = errors.New("transport closed")
)

// LocalNode is the node id of the host itself.
const LocalNode = 0

// Datagram is one received packet and the node it came from.
type Datagram struct {
	Node int
	Data []byte
	At   time.Time
}

// Transport is the datagram layer the game loop runs on. Implementations
// are safe to call from the game loop while receiving in the background.
type Transport interface {
	// Send delivers data to node. Sending to LocalNode loops back.
	// reliable is a hint: the game loop repeats anything it cannot lose
	// until a packet from the peer acknowledges it.
	Send(node int, reliable bool, data []byte) bool
	// Poll returns the next received datagram without blocking.
	Poll() (Datagram, bool)
	// Dial assigns a node to a remote address.
	Dial(addr string) (int, error)
	// Close forgets node; later traffic from its address gets a new id.
	Close(node int)
	// Addr returns the remote address of node, or "".
	Addr(node int) string
	// Shutdown stops the transport.
	Shutdown() error
}
