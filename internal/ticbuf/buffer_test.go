package ticbuf

import (
	"errors"
	"testing"

	"github.com/ticlink-project/ticlink/internal/protocol"
)

func allInGame(int) bool { return true }

func TestClearZeroesEveryPlayer(t *testing.T) {
	b := New()
	for _, tic := range []protocol.Tic{0, 5, protocol.BackupTics - 1, protocol.BackupTics + 7} {
		for p := 0; p < protocol.MaxPlayers; p++ {
			b.Put(tic, p, protocol.TicCmd{Forward: 20, Buttons: 3})
		}
		if err := b.AppendExtra(tic, 1, []byte{1, 2, 3}); err != nil {
			t.Fatalf("append: %v", err)
		}
		b.Clear(tic)
		for p := 0; p < protocol.MaxPlayers; p++ {
			got := b.Get(tic, p)
			if !got.IsZero() || got.Received {
				t.Fatalf("tic %d player %d not cleared: %+v", tic, p, got)
			}
		}
		if b.Extra(tic, 1) != nil {
			t.Fatalf("tic %d extras survived clear", tic)
		}
	}
}

func TestResetEmptiesEverything(t *testing.T) {
	b := New()
	b.Put(3, 0, protocol.TicCmd{Forward: 9})
	if err := b.AppendExtra(3, 0, []byte{7}); err != nil {
		t.Fatalf("append: %v", err)
	}
	b.Reset()
	if got := b.Get(3, 0); !got.IsZero() || got.Received {
		t.Fatalf("command survived reset: %+v", got)
	}
	if b.Extra(3, 0) != nil {
		t.Fatal("extras survived reset")
	}
	b.Put(3+protocol.BackupTics, 0, protocol.TicCmd{Side: 1})
	if got := b.Get(3+protocol.BackupTics, 0); got.Side != 1 {
		t.Fatalf("slot unusable after reset: %+v", got)
	}
}

func TestPutMarksReceived(t *testing.T) {
	b := New()
	b.Put(10, 2, protocol.TicCmd{Side: 4})
	if got := b.Get(10, 2); !got.Received || got.Side != 4 {
		t.Fatalf("got %+v", got)
	}
	if got := b.Get(10+protocol.BackupTics, 2); !got.IsZero() {
		t.Fatalf("a later tic sharing the slot read %+v", got)
	}
}

func TestPutIgnoresInvalidPlayer(t *testing.T) {
	b := New()
	b.Put(1, -1, protocol.TicCmd{Forward: 1})
	b.Put(1, protocol.MaxPlayers, protocol.TicCmd{Forward: 1})
	for p := 0; p < protocol.MaxPlayers; p++ {
		if !b.Get(1, p).IsZero() {
			t.Fatalf("player %d written", p)
		}
	}
}

func TestSynthesizeCarriesTurnAndAim(t *testing.T) {
	b := New()
	b.Put(41, 3, protocol.TicCmd{Forward: 50, Side: -20, AngleTurn: 600, Aiming: -90, Buttons: 7})
	b.Synthesize(42, 41, 3)
	got := b.Get(42, 3)
	want := protocol.TicCmd{AngleTurn: 600, Aiming: -90}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestAppendExtraEnforcesLengthField(t *testing.T) {
	b := New()
	if err := b.AppendExtra(3, 0, make([]byte, 200)); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := b.AppendExtra(3, 0, make([]byte, 55)); err != nil {
		t.Fatalf("append to exactly 255: %v", err)
	}
	err := b.AppendExtra(3, 0, []byte{1})
	if !errors.Is(err, ErrTextCmdFull) {
		t.Fatalf("expected ErrTextCmdFull, got %v", err)
	}
	if len(b.Extra(3, 0)) != protocol.MaxTextCmd {
		t.Fatalf("failed append modified the buffer: %d bytes", len(b.Extra(3, 0)))
	}
}

func TestTotalExtraPerTicCountsServerAndInGamePlayers(t *testing.T) {
	b := New()
	b.SetExtra(9, 0, []byte{1, 2})
	b.SetExtra(9, 4, []byte{1, 2, 3})
	b.SetExtra(9, 5, []byte{1})

	inGame := func(p int) bool { return p == 4 }
	if got, want := b.TotalExtraPerTic(9, inGame), 1+(2+2)+(2+3); got != want {
		t.Fatalf("total = %d, want %d", got, want)
	}
	recs := b.Records(9, inGame)
	if len(recs) != 2 || recs[0].Player != 0 || recs[1].Player != 4 {
		t.Fatalf("records = %+v", recs)
	}
	if got := b.TotalExtraPerTic(9, allInGame); got != 1+4+5+3 {
		t.Fatalf("total with everyone = %d", got)
	}
}

func TestSlotRoundTrip(t *testing.T) {
	b := New()
	cmds := []protocol.TicCmd{{Forward: 1, Received: true}, {Side: 2}}
	b.SetSlot(77, cmds)
	got := b.Slot(77, 2)
	if got[0] != cmds[0] || got[1] != cmds[1] {
		t.Fatalf("slot = %+v", got)
	}
}
