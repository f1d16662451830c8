package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticlink-project/ticlink/internal/protocol"
	"github.com/ticlink-project/ticlink/internal/util"
)

// UDPConfig configures a UDPTransport.
type UDPConfig struct {
	// Port to bind; 0 picks a free one.
	Port int
	// InboxSize is how many received datagrams may wait for the game loop.
	InboxSize int
	// MaxPacketsPerSec caps traffic per source IP; 0 disables the cap.
	MaxPacketsPerSec int
}

// UDPTransport is the Transport used on real networks.
type UDPTransport struct {
	conn   *net.UDPConn
	nodes  *NodeTable
	inbox  chan Datagram
	guard  *floodGuard
	closed atomic.Bool
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// ListenUDP binds a UDP socket and starts receiving in the background.
// The socket closes when ctx is cancelled or Shutdown is called.
func ListenUDP(ctx context.Context, cfg UDPConfig) (*UDPTransport, error) {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: cfg.Port}

	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", addr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on udp port %d: %w", cfg.Port, err)
	}

	t := &UDPTransport{
		conn:   pc.(*net.UDPConn),
		nodes:  NewNodeTable(protocol.MaxNetNodes),
		inbox:  make(chan Datagram, cfg.InboxSize),
		guard:  newFloodGuard(cfg.MaxPacketsPerSec),
		logger: util.ComponentLogger("udp"),
	}
	t.logger.Info().Str("address", t.conn.LocalAddr().String()).Msg("udp transport listening")

	go func() {
		<-ctx.Done()
		t.Shutdown()
	}()

	t.wg.Add(1)
	go t.readLoop()
	return t, nil
}

// LocalAddr returns the bound address.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *UDPTransport) readLoop() {
	defer t.wg.Done()

	buf := make([]byte, protocol.MaxPacketLength+1)
	for {
		n, remote, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if t.closed.Load() {
				return
			}
			t.logger.Error().Err(err).Msg("udp read error")
			continue
		}
		now := time.Now()
		if n == 0 || n > protocol.MaxPacketLength {
			continue
		}
		if !t.guard.allow(remote.IP.String(), now) {
			continue
		}

		node, err := t.nodes.Register(remote.String())
		if err != nil {
			t.logger.Warn().Str("remote", remote.String()).Msg("node table full, dropping datagram")
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		t.push(Datagram{Node: node, Data: data, At: now})
	}
}

func (t *UDPTransport) push(d Datagram) bool {
	select {
	case t.inbox <- d:
		return true
	default:
		t.logger.Warn().Int("node", d.Node).Msg("inbox full, dropping datagram")
		return false
	}
}

// reliableAttempts is how many writes a reliable datagram gets before
// Send gives up on it.
const reliableAttempts = 3

// Send writes data to node, or loops it back for LocalNode. A reliable
// datagram whose write fails, for example on a full socket buffer, is
// written again before Send reports failure.
func (t *UDPTransport) Send(node int, reliable bool, data []byte) bool {
	if t.closed.Load() {
		return false
	}
	if node == LocalNode {
		buf := make([]byte, len(data))
		copy(buf, data)
		return t.push(Datagram{Node: LocalNode, Data: buf, At: time.Now()})
	}
	addr := t.nodes.Addr(node)
	if addr == "" {
		return false
	}
	remote, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		t.logger.Warn().Err(err).Int("node", node).Msg("bad node address")
		return false
	}
	attempts := 1
	if reliable {
		attempts = reliableAttempts
	}
	for i := 0; i < attempts; i++ {
		if _, err = t.conn.WriteToUDP(data, remote); err == nil {
			t.nodes.Touch(node)
			return true
		}
	}
	t.logger.Warn().Err(err).Int("node", node).Str("remote", addr).Bool("reliable", reliable).Msg("failed to send datagram")
	return false
}

// Poll returns the next received datagram.
func (t *UDPTransport) Poll() (Datagram, bool) {
	select {
	case d := <-t.inbox:
		return d, true
	default:
		return Datagram{}, false
	}
}

// Dial binds a node to addr.
func (t *UDPTransport) Dial(addr string) (int, error) {
	remote, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	return t.nodes.Register(remote.String())
}

// Close forgets node.
func (t *UDPTransport) Close(node int) {
	t.nodes.Unregister(node)
}

// Addr returns the remote address of node.
func (t *UDPTransport) Addr(node int) string {
	return t.nodes.Addr(node)
}

// Shutdown closes the socket and waits for the receiver to stop.
func (t *UDPTransport) Shutdown() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := t.conn.Close()
	t.wg.Wait()
	t.logger.Info().Msg("udp transport stopped")
	return err
}

// Probe asks the server at addr for its ServerInfo, the way a server
// browser would, without joining.
func Probe(ctx context.Context, addr string, timeout time.Duration) (*protocol.ServerInfo, error) {
	remote, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp4", nil, remote)
	if err != nil {
		return nil, fmt.Errorf("probe dial failed: %w", err)
	}
	defer conn.Close()

	ask, err := protocol.Marshal(&protocol.AskInfo{
		Version: protocol.PacketVersion,
		Time:    uint32(time.Now().UnixMilli()),
	}, protocol.MaxPacketLength)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(ask); err != nil {
		return nil, fmt.Errorf("probe write failed: %w", err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	parser := protocol.NewParser()
	buf := make([]byte, protocol.MaxPacketLength)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("probe read failed: %w", err)
		}
		pkt, err := parser.Parse(buf[:n])
		if err != nil {
			continue
		}
		if info, ok := pkt.(*protocol.ServerInfo); ok {
			return info, nil
		}
	}
}
