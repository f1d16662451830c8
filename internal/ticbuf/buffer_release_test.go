//go:build !netdebug

package ticbuf

import (
	"testing"

	"github.com/ticlink-project/ticlink/internal/protocol"
)

func TestReuseWithoutClearRepairsSlot(t *testing.T) {
	b := New()
	b.SetExtra(5, 1, []byte{9, 9})
	b.Put(5+protocol.BackupTics, 1, protocol.TicCmd{Forward: 3})

	if b.Extra(5, 1) != nil {
		t.Fatal("stale extras survived slot reuse")
	}
	if got := b.Get(5+protocol.BackupTics, 1); got.Forward != 3 {
		t.Fatalf("new tic not stored: %+v", got)
	}
}
