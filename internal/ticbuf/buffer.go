// Package ticbuf stores the last BackupTics tics of player commands plus
// the extra command buffers attached to them.
package ticbuf

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ticlink-project/ticlink/internal/protocol"
	"github.com/ticlink-project/ticlink/internal/util"
)

// ErrTextCmdFull is returned when an append would overflow the 8-bit
// length field of a text command.
var ErrTextCmdFull = errors.New("text command buffer full")

type key struct {
	tic    protocol.Tic
	player int
}

// Buffer is a ring of per-player commands indexed by tic mod BackupTics.
// A slot belongs to one tic at a time and must be cleared before a later
// tic can reuse it.
type Buffer struct {
	cmds   [protocol.BackupTics][protocol.MaxPlayers]protocol.TicCmd
	owner  [protocol.BackupTics]protocol.Tic
	used   [protocol.BackupTics]bool
	extras map[key][]byte

	logger zerolog.Logger
}

// New creates an empty buffer.
func New() *Buffer {
	return &Buffer{
		extras: make(map[key][]byte),
		logger: util.ComponentLogger("ticbuf"),
	}
}

func index(tic protocol.Tic) int {
	return int(tic % protocol.BackupTics)
}

func validPlayer(p int) bool {
	return p >= 0 && p < protocol.MaxPlayers
}

// claim binds the slot of tic to it before a write.
func (b *Buffer) claim(tic protocol.Tic) int {
	i := index(tic)
	if b.used[i] && b.owner[i] != tic {
		stale := b.owner[i]
		assertf("tic %d reuses slot %d still holding tic %d", tic, i, stale)
		b.logger.Error().
			Uint32("tic", uint32(tic)).
			Uint32("stale_tic", uint32(stale)).
			Msg("tic slot reused without clear")
		b.Clear(stale)
	}
	b.owner[i] = tic
	b.used[i] = true
	return i
}

func (b *Buffer) owns(tic protocol.Tic) bool {
	return b.owner[index(tic)] == tic
}

// Put stores cmd for player at tic and marks it received.
func (b *Buffer) Put(tic protocol.Tic, player int, cmd protocol.TicCmd) {
	if !validPlayer(player) {
		return
	}
	cmd.Received = true
	b.cmds[b.claim(tic)][player] = cmd
}

// Get returns the command of player at tic, or the zero command when the
// slot does not hold that tic.
func (b *Buffer) Get(tic protocol.Tic, player int) protocol.TicCmd {
	if !validPlayer(player) || !b.owns(tic) {
		return protocol.TicCmd{}
	}
	return b.cmds[index(tic)][player]
}

// Synthesize fills a command for a player that sent nothing for tic: the
// turn and aim of prev carry over, everything else is zero and the
// command stays unreceived.
func (b *Buffer) Synthesize(tic, prev protocol.Tic, player int) {
	if !validPlayer(player) {
		return
	}
	last := b.Get(prev, player)
	b.cmds[b.claim(tic)][player] = protocol.TicCmd{
		AngleTurn: last.AngleTurn,
		Aiming:    last.Aiming,
	}
}

// Slot returns a copy of the first n commands of tic.
func (b *Buffer) Slot(tic protocol.Tic, n int) []protocol.TicCmd {
	out := make([]protocol.TicCmd, n)
	if b.owns(tic) {
		copy(out, b.cmds[index(tic)][:n])
	}
	return out
}

// SetSlot overwrites the first len(cmds) commands of tic as received from
// the server.
func (b *Buffer) SetSlot(tic protocol.Tic, cmds []protocol.TicCmd) {
	i := b.claim(tic)
	copy(b.cmds[i][:], cmds)
}

// AppendExtra appends data to the extra command buffer of (tic, player).
func (b *Buffer) AppendExtra(tic protocol.Tic, player int, data []byte) error {
	if !validPlayer(player) {
		return fmt.Errorf("invalid player %d", player)
	}
	k := key{tic, player}
	cur := b.extras[k]
	if len(cur)+len(data) > protocol.MaxTextCmd {
		return fmt.Errorf("%w: %d+%d bytes for player %d at tic %d",
			ErrTextCmdFull, len(cur), len(data), player, tic)
	}
	b.claim(tic)
	b.extras[k] = append(cur, data...)
	return nil
}

// SetExtra replaces the extra command buffer of (tic, player).
func (b *Buffer) SetExtra(tic protocol.Tic, player int, data []byte) {
	if !validPlayer(player) {
		return
	}
	b.claim(tic)
	if len(data) == 0 {
		delete(b.extras, key{tic, player})
		return
	}
	b.extras[key{tic, player}] = append([]byte(nil), data...)
}

// Extra returns the extra command buffer of (tic, player), or nil.
func (b *Buffer) Extra(tic protocol.Tic, player int) []byte {
	return b.extras[key{tic, player}]
}

// FreeExtras drops every extra command of tic, keeping its commands.
func (b *Buffer) FreeExtras(tic protocol.Tic) {
	for p := 0; p < protocol.MaxPlayers; p++ {
		delete(b.extras, key{tic, p})
	}
}

// Clear zeroes every command of tic and frees its extras.
func (b *Buffer) Clear(tic protocol.Tic) {
	i := index(tic)
	b.FreeExtras(tic)
	if b.used[i] && b.owner[i] != tic {
		b.FreeExtras(b.owner[i])
	}
	b.cmds[i] = [protocol.MaxPlayers]protocol.TicCmd{}
	b.owner[i] = tic
	b.used[i] = false
}

// Reset empties every slot and extra buffer.
func (b *Buffer) Reset() {
	b.cmds = [protocol.BackupTics][protocol.MaxPlayers]protocol.TicCmd{}
	b.owner = [protocol.BackupTics]protocol.Tic{}
	b.used = [protocol.BackupTics]bool{}
	clear(b.extras)
}

// TotalExtraPerTic returns the encoded size of the text records of tic
// within a ServerTics packet: one count byte plus player, length and
// payload for every buffer. Player 0 always counts, others only while
// inGame reports them.
func (b *Buffer) TotalExtraPerTic(tic protocol.Tic, inGame func(player int) bool) int {
	total := 1
	for p := 0; p < protocol.MaxPlayers; p++ {
		if p != 0 && !inGame(p) {
			continue
		}
		if data := b.extras[key{tic, p}]; len(data) > 0 {
			total += 2 + len(data)
		}
	}
	return total
}

// Records returns the text records of tic in player order, filtered the
// same way as TotalExtraPerTic.
func (b *Buffer) Records(tic protocol.Tic, inGame func(player int) bool) []protocol.TextRecord {
	var out []protocol.TextRecord
	for p := 0; p < protocol.MaxPlayers; p++ {
		if p != 0 && !inGame(p) {
			continue
		}
		if data := b.extras[key{tic, p}]; len(data) > 0 {
			out = append(out, protocol.TextRecord{Player: byte(p), Data: data})
		}
	}
	return out
}
