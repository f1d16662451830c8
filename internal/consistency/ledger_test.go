package consistency

import (
	"math/rand"
	"testing"

	"github.com/ticlink-project/ticlink/internal/protocol"
)

func randomInputs(rng *rand.Rand) Inputs {
	var in Inputs
	for i := range in.Players {
		p := &in.Players[i]
		p.InGame = rng.Intn(3) != 0
		p.HasBody = rng.Intn(4) != 0
		p.X = rng.Int31() - 1<<30
		p.Y = rng.Int31() - 1<<30
		p.Shield = uint16(rng.Intn(16))
	}
	in.Seed = rng.Uint32()
	in.Platform = rng.Intn(2) == 0
	return in
}

func TestIndependentLedgersAgree(t *testing.T) {
	feed := rand.New(rand.NewSource(7))
	var history []Inputs
	for i := 0; i < 300; i++ {
		history = append(history, randomInputs(feed))
	}

	var a, b Ledger
	for tic, in := range history {
		a.Record(protocol.Tic(tic), Compute(in))
	}
	for tic, in := range history {
		b.Record(protocol.Tic(tic), Compute(in))
	}
	for tic := range history {
		va, _ := a.Value(protocol.Tic(tic))
		vb, _ := b.Value(protocol.Tic(tic))
		if va != vb {
			t.Fatalf("tic %d: %04x != %04x", tic, va, vb)
		}
	}
}

func TestComputeAbsentPlayersOnly(t *testing.T) {
	var in Inputs
	in.Platform = true
	// 32 XORs of 0xCCCC cancel out.
	if got := Compute(in); got != 0 {
		t.Fatalf("got %04x", got)
	}
	in.Players[0] = PlayerInput{InGame: true}
	if got := Compute(in); got != 0xCCCC {
		t.Fatalf("got %04x, want cccc", got)
	}
}

func TestComputeSeedOnlyOutsidePlatform(t *testing.T) {
	in := Inputs{Seed: 0x1234, Platform: true}
	base := Compute(in)
	in.Platform = false
	if got := Compute(in); got != base+0x1234 {
		t.Fatalf("got %04x, want %04x", got, base+0x1234)
	}
}

func TestCompareWindow(t *testing.T) {
	var l Ledger
	l.Record(100, 0x1234)

	if got := l.Compare(100, 0x1234, 100); got != Match {
		t.Fatalf("same tic: %v", got)
	}
	if got := l.Compare(100, 0x5678, 150); got != Mismatch {
		t.Fatalf("mismatch: %v", got)
	}
	if got := l.Compare(100, 0x1234, 99); got != Stale {
		t.Fatalf("future tic: %v", got)
	}
	if got := l.Compare(100, 0x1234, 100+protocol.BackupTics-1); got != Stale {
		t.Fatalf("edge of window: %v", got)
	}
	if got := l.Compare(101, 0x1234, 150); got != Stale {
		t.Fatalf("unrecorded tic: %v", got)
	}
	l.Record(100+protocol.BackupTics, 1)
	if _, ok := l.Value(100); ok {
		t.Fatal("overwritten tic still readable")
	}
}
