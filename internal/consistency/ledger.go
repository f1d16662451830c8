// Package consistency folds authoritative game state into a 16-bit value
// per tic so peers can detect divergence. Changing the fold breaks the
// protocol between versions.
package consistency

import (
	"github.com/ticlink-project/ticlink/internal/protocol"
)

// PlayerInput is the part of one player's state covered by the fold.
type PlayerInput struct {
	InGame  bool
	HasBody bool
	X, Y    int32
	Shield  uint16
}

// Inputs is everything Compute reads for one tic.
type Inputs struct {
	Players [protocol.MaxPlayers]PlayerInput
	Seed    uint32
	// Platform gametypes leave the random seed out of the fold.
	Platform bool
}

// Compute folds in into a consistency value.
func Compute(in Inputs) uint16 {
	var ret uint32
	for i, p := range in.Players {
		if !p.InGame {
			ret ^= 0xCCCC
			continue
		}
		if !p.HasBody {
			continue
		}
		ret += uint32(p.X)
		ret -= uint32(p.Y)
		ret += uint32(p.Shield)
		ret *= uint32(i + 1)
	}
	if !in.Platform {
		ret += in.Seed
	}
	return uint16(ret & 0xFFFF)
}

// Result is the outcome of a comparison.
type Result int

const (
	Match Result = iota
	Mismatch
	// Stale means the tic is outside the trusted window or was never
	// simulated; the comparison says nothing.
	Stale
)

func (r Result) String() string {
	switch r {
	case Match:
		return "match"
	case Mismatch:
		return "mismatch"
	}
	return "stale"
}

// Ledger keeps one value per simulated tic for the last BackupTics tics.
type Ledger struct {
	values [protocol.BackupTics]uint16
	tics   [protocol.BackupTics]protocol.Tic
	set    [protocol.BackupTics]bool
}

// Record stores the value of tic, replacing whatever tic shared its slot.
func (l *Ledger) Record(tic protocol.Tic, v uint16) {
	i := tic % protocol.BackupTics
	l.values[i] = v
	l.tics[i] = tic
	l.set[i] = true
}

// Value returns the value recorded for tic.
func (l *Ledger) Value(tic protocol.Tic) (uint16, bool) {
	i := tic % protocol.BackupTics
	if !l.set[i] || l.tics[i] != tic {
		return 0, false
	}
	return l.values[i], true
}

// Compare checks remote against the value recorded for tic, where now is
// the local current tic. Only tics in (now-BackupTics+1, now] are trusted.
func (l *Ledger) Compare(tic protocol.Tic, remote uint16, now protocol.Tic) Result {
	if tic > now || tic+protocol.BackupTics-1 <= now {
		return Stale
	}
	v, ok := l.Value(tic)
	if !ok {
		return Stale
	}
	if v != remote {
		return Mismatch
	}
	return Match
}

// Reset forgets every recorded value.
func (l *Ledger) Reset() {
	*l = Ledger{}
}
