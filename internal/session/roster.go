package session

import (
	"fmt"

	"github.com/ticlink-project/ticlink/internal/protocol"
)

// SaveRoster encodes the player table for a joining client.
func (m *Manager) SaveRoster() []byte {
	b := protocol.NewBuilder()
	b.WriteByte(byte(m.NumSlots)).WriteInt8(int8(m.ServerPlayer))
	for p := range m.players {
		pl := &m.players[p]
		b.WriteBool(pl.InGame)
		if !pl.InGame {
			continue
		}
		b.WriteByte(byte(pl.Node))
		b.WriteBool(pl.Admin).WriteBool(pl.Second)
		b.WriteUint32(uint32(pl.JoinTic)).WriteUint32(uint32(pl.QuitTic))
		b.WriteNullString(pl.Name)
	}
	return b.Build()
}

// LoadRoster replaces the player table with one saved by the server.
// The table is left untouched when data is truncated.
func (m *Manager) LoadRoster(data []byte) error {
	r := protocol.NewReader(data)
	numSlots := int(r.Byte())
	serverPlayer := int(r.Int8())

	var players [protocol.MaxPlayers]Player
	for p := range players {
		players[p] = Player{Node: int(protocol.NodeNone), Name: defaultName(p)}
		if !r.Bool() {
			continue
		}
		pl := &players[p]
		pl.InGame = true
		pl.Node = int(r.Byte())
		pl.Admin = r.Bool()
		pl.Second = r.Bool()
		pl.JoinTic = protocol.Tic(r.Uint32())
		pl.QuitTic = protocol.Tic(r.Uint32())
		pl.Name = r.NullString()
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("failed to read roster: %w", err)
	}
	if numSlots < 1 || numSlots > protocol.MaxPlayers || !m.validPlayer(serverPlayer) {
		return fmt.Errorf("roster has %d slots and server player %d", numSlots, serverPlayer)
	}

	m.players = players
	m.NumSlots = numSlots
	m.ServerPlayer = serverPlayer
	return nil
}
