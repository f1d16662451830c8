package sim

import (
	"testing"

	"github.com/ticlink-project/ticlink/internal/consistency"
	"github.com/ticlink-project/ticlink/internal/protocol"
)

func script(tic int) []protocol.TicCmd {
	cmds := make([]protocol.TicCmd, protocol.MaxPlayers)
	cmds[0] = protocol.TicCmd{Forward: int8(tic % 50), AngleTurn: 300, Buttons: uint16(tic % 3)}
	cmds[1] = protocol.TicCmd{Side: -20, Buttons: buttonJump}
	return cmds
}

func run(w *Reference, from, to int) {
	for tic := from; tic < to; tic++ {
		w.ApplyTic(protocol.Tic(tic), script(tic), true)
	}
}

func TestReferenceIsDeterministic(t *testing.T) {
	a := NewReference(GameTypeMatch, "MAP01", 42)
	b := NewReference(GameTypeMatch, "MAP01", 42)
	for _, w := range []*Reference{a, b} {
		w.SpawnPlayer(0, "a")
		w.SpawnPlayer(1, "b")
	}
	run(a, 0, 500)
	run(b, 0, 500)
	if consistency.Compute(a.ConsistencyInputs()) != consistency.Compute(b.ConsistencyInputs()) {
		t.Fatal("identical histories diverged")
	}
}

func TestSaveLoadResumesIdentically(t *testing.T) {
	a := NewReference(GameTypeCTF, "MAP02", 9)
	a.SpawnPlayer(0, "a")
	a.SpawnPlayer(1, "b")
	run(a, 0, 100)

	data, err := a.Save()
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	b := &Reference{}
	if err := b.Load(data); err != nil {
		t.Fatalf("load: %v", err)
	}
	run(a, 100, 200)
	run(b, 100, 200)
	if consistency.Compute(a.ConsistencyInputs()) != consistency.Compute(b.ConsistencyInputs()) {
		t.Fatal("loaded world diverged")
	}
}

func TestSnapshotRestoreRepairsDivergence(t *testing.T) {
	server := NewReference(GameTypeMatch, "MAP01", 1)
	client := NewReference(GameTypeMatch, "MAP01", 1)
	for _, w := range []*Reference{server, client} {
		w.SpawnPlayer(0, "a")
		w.SpawnPlayer(1, "b")
	}
	run(server, 0, 50)
	run(client, 0, 50)
	client.Players[1].Body.X += 12345
	client.Seed ^= 0xFFFF

	for p := 0; p < 2; p++ {
		client.Restore(p, server.Snapshot(p))
	}
	client.RestoreGlobals(server.Globals())
	if consistency.Compute(server.ConsistencyInputs()) != consistency.Compute(client.ConsistencyInputs()) {
		t.Fatal("restore did not converge")
	}
}

func TestTossFlagClearsCarrier(t *testing.T) {
	w := NewReference(GameTypeCTF, "MAP03", 0)
	w.SpawnPlayer(2, "c")
	w.FlagState[1].Carrier = 2
	w.TossFlag(2)
	if w.FlagState[1].Carrier != -1 || w.FlagState[1].Loose == 0 {
		t.Fatalf("flag = %+v", w.FlagState[1])
	}
}

func TestParseGameType(t *testing.T) {
	if gt, ok := ParseGameType("CTF"); !ok || gt != GameTypeCTF {
		t.Fatalf("ParseGameType(CTF) = %d, %v", gt, ok)
	}
	if _, ok := ParseGameType("deathmatch"); ok {
		t.Fatalf("unknown game type accepted")
	}
}
