package netgame

import (
	"strings"
	"testing"

	"github.com/ticlink-project/ticlink/internal/network"
	"github.com/ticlink-project/ticlink/internal/protocol"
	"github.com/ticlink-project/ticlink/internal/resync"
	"github.com/ticlink-project/ticlink/internal/sim"
	"github.com/ticlink-project/ticlink/internal/xcmd"
)

const serverAddr = "server:5029"

func testConfig(names ...string) Config {
	cfg := DefaultConfig()
	cfg.Session.JoinDelay = 0
	cfg.SavegameRate = 0
	cfg.PlayerNames = names
	return cfg
}

type pair struct {
	hub      *network.MemoryHub
	srv, cli *Host
	cliT     *network.MemoryTransport
	srvWorld *sim.Reference
	cliWorld *sim.Reference
}

func newPair(t *testing.T) *pair {
	t.Helper()
	p := &pair{
		hub:      network.NewMemoryHub(),
		srvWorld: sim.NewReference(sim.GameTypeCoop, "MAP01", 7),
		cliWorld: sim.NewReference(sim.GameTypeCoop, "MAP01", 0),
	}
	p.srv = NewServer(testConfig("Sonic"), p.hub.Endpoint(serverAddr), p.srvWorld, nil, nil)
	p.cliT = p.hub.Endpoint("client:5029")
	p.cli = NewClient(testConfig("Tails"), p.cliT, p.cliWorld, nil)
	if err := p.cli.Connect(serverAddr); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return p
}

func (p *pair) frames(n int) {
	for i := 0; i < n; i++ {
		p.srv.Frame(1)
		p.cli.Frame(1)
	}
}

func (p *pair) until(limit int, cond func() bool) bool {
	for i := 0; i < limit; i++ {
		if cond() {
			return true
		}
		p.frames(1)
	}
	return cond()
}

func joined(t *testing.T) *pair {
	t.Helper()
	p := newPair(t)
	ok := p.until(120, func() bool {
		return p.cli.State() == StateConnected && p.cli.Session().InGame(1) && p.cli.GameTic() > p.cli.Session().Player(1).JoinTic
	})
	if !ok {
		t.Fatalf("client never joined: state %v, message %q", p.cli.State(), p.cli.LastMessage())
	}
	return p
}

func TestCleanJoin(t *testing.T) {
	p := joined(t)
	p.frames(20)

	cs := p.cli.Session()
	if cs.ConsolePlayer != 1 {
		t.Fatalf("console player = %d, want 1", cs.ConsolePlayer)
	}
	if !cs.InGame(0) || cs.Player(0).Name != "Sonic" {
		t.Fatalf("client does not see the server player: %+v", cs.Player(0))
	}
	ss := p.srv.Session()
	if !ss.InGame(1) || ss.Player(1).Name != "Tails" {
		t.Fatalf("server does not see the client player: %+v", ss.Player(1))
	}

	tic := p.cli.GameTic()
	if tic == 0 || tic > p.srv.GameTic() {
		t.Fatalf("client gametic %d, server gametic %d", tic, p.srv.GameTic())
	}
	cv, ok := p.cli.ledger.Value(tic)
	if !ok {
		t.Fatalf("client has no consistency for tic %d", tic)
	}
	sv, ok := p.srv.ledger.Value(tic)
	if !ok {
		t.Fatalf("server has no consistency for tic %d", tic)
	}
	if cv != sv {
		t.Fatalf("consistency differs at tic %d: client %#04x server %#04x", tic, cv, sv)
	}
	if node := ss.PlayerNode(1); p.srv.Resync().State(node) != resync.Synced {
		t.Fatalf("node %d not synced", node)
	}
}

func TestDesyncIsRepaired(t *testing.T) {
	p := joined(t)
	node := p.srv.Session().PlayerNode(1)

	p.cliWorld.Players[1].Body.X += 5

	started := p.until(60, func() bool { return p.srv.Resync().State(node) != resync.Synced })
	if !started {
		t.Fatalf("server never noticed the desync")
	}
	done := p.until(400, func() bool {
		return p.srv.Resync().State(node) == resync.Synced && !p.cli.resynchLocal
	})
	if !done {
		t.Fatalf("resync never finished: %v", p.srv.Resync().State(node))
	}
	p.frames(40)

	if p.cli.State() != StateConnected {
		t.Fatalf("client dropped: %q", p.cli.LastMessage())
	}
	if got, want := p.cliWorld.Players[1].Body.X, p.srvWorld.Players[1].Body.X; got != want {
		t.Fatalf("client body X = %d, want %d", got, want)
	}
	tic := p.cli.GameTic()
	cv, _ := p.cli.ledger.Value(tic)
	sv, _ := p.srv.ledger.Value(tic)
	if cv != sv {
		t.Fatalf("consistency still differs at tic %d", tic)
	}
}

func TestLostResynchEndIsRepeated(t *testing.T) {
	p := joined(t)
	node := p.srv.Session().PlayerNode(1)

	dropped := 0
	p.hub.Drop = func(from, to string, data []byte) bool {
		if from == serverAddr && len(data) > 0 && protocol.PacketType(data[0]) == protocol.PktResynchEnd && dropped == 0 {
			dropped++
			return true
		}
		return false
	}
	p.cliWorld.Players[1].Body.X += 5

	if !p.until(60, func() bool { return p.srv.Resync().Active(node) }) {
		t.Fatalf("server never noticed the desync")
	}
	done := p.until(600, func() bool {
		return dropped == 1 && p.srv.Resync().State(node) == resync.Synced && !p.cli.resynchLocal
	})
	if !done {
		t.Fatalf("resync stuck: dropped %d, server %v, client resynching %v", dropped, p.srv.Resync().State(node), p.cli.resynchLocal)
	}
	p.frames(40)

	if p.cli.State() != StateConnected {
		t.Fatalf("client dropped: %q", p.cli.LastMessage())
	}
	if pl := p.srv.Session().Player(1); !p.srv.Session().InGame(1) || pl.Detached() {
		t.Fatalf("server lost the client player: %+v", pl)
	}
	if got, want := p.cliWorld.Players[1].Body.X, p.srvWorld.Players[1].Body.X; got != want {
		t.Fatalf("client body X = %d, want %d", got, want)
	}
}

func TestServerTicsHeldDuringResynch(t *testing.T) {
	p := joined(t)
	batch := func(start protocol.Tic) *protocol.ServerTics {
		return &protocol.ServerTics{
			StartTic: protocol.CompactTic(start),
			NumSlots: 2,
			Cmds:     make([]protocol.TicCmd, 2*5),
			Texts:    make([][]protocol.TextRecord, 5),
		}
	}

	p.cli.resynchLocal = true
	needed := p.cli.NeededTic()
	p.cli.handleServerTics(batch(needed))
	if got := p.cli.NeededTic(); got != needed {
		t.Fatalf("neededtic moved during resynch: %d -> %d", needed, got)
	}
	if !p.cli.missed {
		t.Fatal("held batch not asked for again")
	}

	p.cli.resynchLocal = false
	p.cli.handleServerTics(batch(needed))
	if got := p.cli.NeededTic(); got != needed+5 {
		t.Fatalf("neededtic = %d, want %d", got, needed+5)
	}
}

func TestAbortDiscardsSession(t *testing.T) {
	p := joined(t)
	p.cli.Disconnect()

	if p.cli.State() != StateAborted {
		t.Fatalf("client state %v", p.cli.State())
	}
	cs := p.cli.Session()
	for slot := 0; slot < protocol.MaxPlayers; slot++ {
		if cs.InGame(slot) {
			t.Fatalf("slot %d still in game after abort", slot)
		}
	}
	if cs.ConsolePlayer != 0 {
		t.Fatalf("console player = %d", cs.ConsolePlayer)
	}
	if p.cli.GameTic() != 0 || p.cli.NeededTic() != 0 {
		t.Fatalf("tics survived abort: gametic %d neededtic %d", p.cli.GameTic(), p.cli.NeededTic())
	}
	if _, ok := p.cli.ledger.Value(1); ok {
		t.Fatal("consistency values survived abort")
	}
	if p.cli.receiver != nil || p.cli.resynchLocal {
		t.Fatal("partial transfer state survived abort")
	}
}

func TestUnauthorizedKickHitsIssuer(t *testing.T) {
	p := joined(t)

	if err := p.cli.Kick(0, xcmd.KickGoAway, ""); err != nil {
		t.Fatalf("kick: %v", err)
	}
	p.frames(20)

	ss := p.srv.Session()
	if !ss.InGame(0) || ss.Player(0).Detached() {
		t.Fatalf("server player was kicked")
	}
	if !ss.Player(1).Detached() {
		t.Fatalf("issuer still attached: %+v", ss.Player(1))
	}
	if p.cli.State() != StateAborted {
		t.Fatalf("client state = %v", p.cli.State())
	}
	if !strings.Contains(p.cli.LastMessage(), "Synch failure") {
		t.Fatalf("client message = %q", p.cli.LastMessage())
	}
}

func TestSpoofedServerPacketIsDropped(t *testing.T) {
	p := joined(t)

	evil := p.hub.Endpoint("evil:1")
	to, err := evil.Dial("client:5029")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	needed := p.cli.NeededTic()
	data, err := protocol.Marshal(&protocol.ServerTics{
		StartTic: protocol.CompactTic(needed),
		NumSlots: 2,
		Cmds:     make([]protocol.TicCmd, 2*10),
		Texts:    make([][]protocol.TextRecord, 10),
	}, protocol.MaxPacketLength)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	evil.Send(to, false, data)
	p.cli.drainInbound()

	if p.cli.NeededTic() != needed {
		t.Fatalf("spoofed tics accepted: neededtic %d -> %d", needed, p.cli.NeededTic())
	}
	if p.cli.State() != StateConnected {
		t.Fatalf("client dropped by spoofed packet")
	}
	for node := 1; node < protocol.MaxNetNodes; node++ {
		if p.cliT.Addr(node) == "evil:1" {
			t.Fatalf("spoofing node %d left open", node)
		}
	}
}

func TestShutdownReachesClient(t *testing.T) {
	p := joined(t)

	p.srv.Shutdown("maintenance")
	p.cli.Frame(1)

	if !p.srv.Stopping() {
		t.Fatalf("server not stopping")
	}
	if p.cli.State() != StateAborted || p.cli.LastMessage() != "Server has shut down" {
		t.Fatalf("client state %v, message %q", p.cli.State(), p.cli.LastMessage())
	}
}

func TestVanishedClientIsDetached(t *testing.T) {
	p := joined(t)

	for i := 0; i < int(p.srv.cfg.Session.ConnectionTimeout)+60; i++ {
		p.srv.Frame(1)
	}
	pl := p.srv.Session().Player(1)
	if !pl.Detached() {
		t.Fatalf("silent client still attached: %+v", pl)
	}
}

func TestTextCommandsSpreadOverTics(t *testing.T) {
	cfg := testConfig("Sonic")
	cfg.PacketLength = 512
	srv := NewServer(cfg, network.NewMemoryHub().Endpoint(serverAddr), sim.NewReference(sim.GameTypeCoop, "MAP01", 1), nil, nil)

	say := xcmd.EncodeSay(xcmd.SayPayload{Target: -1, Message: strings.Repeat("x", 200)})
	start := srv.maketic
	for i := 0; i < 3; i++ {
		srv.handleTextCmd(network.LocalNode, &protocol.TextCmd{Data: say})
	}
	for i := 0; i < 3; i++ {
		if got := len(srv.buf.Extra(start+protocol.Tic(i), 0)); got != len(say) {
			t.Fatalf("tic %d carries %d bytes, want %d", i, got, len(say))
		}
	}

	srv.handleTextCmd(network.LocalNode, &protocol.TextCmd{Data: make([]byte, protocol.MaxTextCmd+1)})
	if got := len(srv.buf.Extra(start+3, 0)); got != 0 {
		t.Fatalf("oversized command placed (%d bytes)", got)
	}
}

func TestServerTicsStayWithinPacketLength(t *testing.T) {
	hub := network.NewMemoryHub()
	cfg := testConfig()
	cfg.PacketLength = 512
	cfg.Session.Dedicated = true
	srv := NewServer(cfg, hub.Endpoint(serverAddr), sim.NewReference(sim.GameTypeCoop, "MAP01", 1), nil, nil)

	peer := hub.Endpoint("peer:5029")
	to, _ := peer.Dial(serverAddr)
	join, err := protocol.Marshal(&protocol.ClientJoin{
		PacketVersion: protocol.PacketVersion,
		Application:   cfg.Session.Application,
		Version:       cfg.Session.Version,
		Subversion:    cfg.Session.Subversion,
		LocalPlayers:  1,
		Names:         [2]string{"Knuckles"},
	}, protocol.MaxPacketLength)
	if err != nil {
		t.Fatalf("marshal join: %v", err)
	}
	peer.Send(to, true, join)
	for i := 0; i < 4; i++ {
		srv.Frame(1)
	}
	if !srv.Session().InGame(1) {
		t.Fatalf("peer never joined")
	}

	say := xcmd.EncodeSay(xcmd.SayPayload{Target: -1, Message: strings.Repeat("y", 200)})
	base := srv.maketic
	for i := 0; i < 20; i++ {
		if err := srv.buf.AppendExtra(base+protocol.Tic(i), 0, say); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	for i := 0; i < 40; i++ {
		srv.Frame(1)
	}

	parser := protocol.NewParser()
	batches := 0
	for {
		d, ok := peer.Poll()
		if !ok {
			break
		}
		pkt, err := parser.Parse(d.Data)
		if err != nil {
			t.Fatalf("peer received a corrupt packet: %v", err)
		}
		st, ok := pkt.(*protocol.ServerTics)
		if !ok {
			continue
		}
		if len(d.Data) > cfg.PacketLength {
			t.Fatalf("batch of %d tics is %d bytes", st.NumTics(), len(d.Data))
		}
		for _, texts := range st.Texts {
			for _, rec := range texts {
				if rec.Player != 0 || len(rec.Data) == 0 || xcmd.ID(rec.Data[0]) != xcmd.Say {
					continue
				}
				if string(rec.Data) != string(say) {
					t.Fatalf("text record mangled: %d bytes", len(rec.Data))
				}
			}
		}
		batches++
	}
	if batches == 0 {
		t.Fatalf("no tics sent")
	}
}

func TestTruncatedKickDoesNotShutDown(t *testing.T) {
	srv := NewServer(testConfig("Sonic"), network.NewMemoryHub().Endpoint(serverAddr), sim.NewReference(sim.GameTypeCoop, "MAP01", 1), nil, nil)
	for i := 0; i < 10 && !srv.Session().InGame(0); i++ {
		srv.Frame(1)
	}
	if !srv.Session().InGame(0) {
		t.Fatal("server player never joined")
	}

	if err := srv.registry.Execute([]byte{byte(xcmd.Kick)}, srv.Session().ServerPlayer); err == nil {
		t.Fatal("truncated kick executed cleanly")
	}
	if srv.Stopping() {
		t.Fatal("truncated kick shut the server down")
	}
	if !srv.Session().InGame(0) {
		t.Fatal("truncated kick removed the server player")
	}
}

func TestStatusReflectsFinishedFrame(t *testing.T) {
	srv := NewServer(testConfig("Sonic"), network.NewMemoryHub().Endpoint(serverAddr), sim.NewReference(sim.GameTypeCoop, "MAP01", 1), nil, nil)
	for i := 0; i < 5; i++ {
		ran := srv.Frame(1)
		snap := srv.Status().Snapshot()
		if snap.GameTic != uint32(srv.GameTic()) {
			t.Fatalf("frame %d ran %d tics: board gametic %d, host gametic %d", i, ran, snap.GameTic, srv.GameTic())
		}
		if got, want := len(snap.Players), len(srv.Session().Roster()); got != want {
			t.Fatalf("frame %d: board has %d players, session %d", i, got, want)
		}
	}
	if srv.GameTic() == 0 {
		t.Fatal("server never ran a tic")
	}
}
