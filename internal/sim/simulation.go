// Package sim defines the boundary between the netcode and the game
// simulation, and provides a small deterministic world that satisfies it.
package sim

import (
	"strings"

	"github.com/ticlink-project/ticlink/internal/consistency"
	"github.com/ticlink-project/ticlink/internal/protocol"
)

// Simulation is the game the netcode keeps in lockstep.
type Simulation interface {
	// ApplyTic advances the world by one tic using one command per player
	// slot. newTic is false when the tic only refreshes state without
	// advancing game time.
	ApplyTic(tic protocol.Tic, cmds []protocol.TicCmd, newTic bool)

	// ConsistencyInputs exposes what the consistency fold reads.
	ConsistencyInputs() consistency.Inputs

	Snapshot(player int) protocol.PlayerSnapshot
	Restore(player int, s protocol.PlayerSnapshot)
	Globals() protocol.ResynchEnd
	RestoreGlobals(g protocol.ResynchEnd)

	Save() ([]byte, error)
	Load(data []byte) error

	GameState() byte
	GameType() byte
	MapName() string
	LevelTime() protocol.Tic

	SpawnPlayer(player int, name string)
	DespawnPlayer(player int)
	Rename(player int, name string)

	// Departure hooks.
	SpecialStage() bool
	Collectibles(player int) (spheres, rings int)
	SetCollectibles(player int, spheres, rings int)
	TeamFlags() bool
	TossFlag(player int)
}

// Game types. Platform types leave the random seed out of the consistency fold.
const (
	GameTypeCoop byte = iota
	GameTypeCompetition
	GameTypeRace
	GameTypeMatch
	GameTypeTag
	GameTypeCTF
)

var gameTypeNames = map[string]byte{
	"coop":        GameTypeCoop,
	"competition": GameTypeCompetition,
	"race":        GameTypeRace,
	"match":       GameTypeMatch,
	"tag":         GameTypeTag,
	"ctf":         GameTypeCTF,
}

// ParseGameType maps a config name such as "ctf" to its game type.
func ParseGameType(name string) (byte, bool) {
	gt, ok := gameTypeNames[strings.ToLower(name)]
	return gt, ok
}

// IsPlatform reports whether gt is a platforming game type.
func IsPlatform(gt byte) bool {
	return gt == GameTypeCoop || gt == GameTypeCompetition || gt == GameTypeRace
}
