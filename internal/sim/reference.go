package sim

import (
	"encoding/json"
	"fmt"

	"github.com/ticlink-project/ticlink/internal/consistency"
	"github.com/ticlink-project/ticlink/internal/protocol"
)

const (
	fracBits  = 16
	unitScale = 1 << fracBits

	buttonJump  = 1 << 0
	buttonSpin  = 1 << 1
	startRings  = 0
	startHealth = 1
	startLives  = 3
)

// Body is the object a player steers.
type Body struct {
	X, Y, Z          int32
	MomX, MomY, MomZ int32
	Radius, Height   int32
	StateID          uint32
	Flags            uint32
	Scale            uint32
	Tics             int32
}

// Player is one slot of the reference world.
type Player struct {
	InGame    bool   `json:"in_game"`
	Spectator bool   `json:"spectator"`
	OutOfCoop bool   `json:"out_of_coop"`
	Name      string `json:"name"`
	Team      int8   `json:"team"`
	Body      *Body  `json:"body,omitempty"`

	State       byte                       `json:"state"`
	Flags       uint32                     `json:"flags"`
	Angle       uint32                     `json:"angle"`
	Aiming      int32                      `json:"aiming"`
	Health      int32                      `json:"health"`
	Lives       int8                       `json:"lives"`
	Score       uint32                     `json:"score"`
	Rings       int16                      `json:"rings"`
	Spheres     int16                      `json:"spheres"`
	Shield      uint16                     `json:"shield"`
	Powers      [protocol.NumPowers]uint16 `json:"powers"`
	Weapon      byte                       `json:"weapon"`
	RingWeapons uint16                     `json:"ring_weapons"`
	RealTime    uint32                     `json:"real_time"`
	Laps        byte                       `json:"laps"`
}

// Reference is a small deterministic world: bodies move by their
// commands and pick up rings driven by a shared random seed.
type Reference struct {
	Tic       protocol.Tic                `json:"tic"`
	Level     protocol.Tic                `json:"level_time"`
	Seed      uint32                      `json:"seed"`
	Type      byte                        `json:"game_type"`
	State     byte                        `json:"game_state"`
	Map       string                      `json:"map"`
	Special   bool                        `json:"special_stage"`
	Players   [protocol.MaxPlayers]Player `json:"players"`
	FlagState [2]protocol.FlagState       `json:"flags"`
}

// NewReference creates an empty level of the given game type.
func NewReference(gameType byte, mapName string, seed uint32) *Reference {
	r := &Reference{Seed: seed, Type: gameType, Map: mapName, State: protocol.GameStateLevel}
	for i := range r.FlagState {
		r.FlagState[i].Carrier = -1
	}
	return r
}

// random advances the shared seed and returns a byte of it.
func (r *Reference) random() byte {
	r.Seed = r.Seed*1103515245 + 12345
	return byte(r.Seed >> 16)
}

func (r *Reference) ApplyTic(tic protocol.Tic, cmds []protocol.TicCmd, newTic bool) {
	r.Tic = tic + 1
	if !newTic || r.State != protocol.GameStateLevel {
		return
	}
	r.Level++
	for i := range r.Players {
		p := &r.Players[i]
		if !p.InGame || i >= len(cmds) {
			continue
		}
		cmd := cmds[i]
		p.Angle += uint32(uint16(cmd.AngleTurn)) << 16
		p.Aiming = int32(cmd.Aiming) << 16
		p.RealTime++
		if p.Body == nil || p.Spectator {
			continue
		}
		b := p.Body
		b.MomX = int32(cmd.Forward) * (unitScale >> 4)
		b.MomY = int32(cmd.Side) * (unitScale >> 4)
		if cmd.Buttons&buttonJump != 0 && b.Z == 0 {
			b.MomZ = 8 * unitScale
		}
		b.X += b.MomX
		b.Y += b.MomY
		b.Z += b.MomZ
		if b.Z > 0 {
			b.MomZ -= unitScale / 2
		} else {
			b.Z, b.MomZ = 0, 0
		}
		if r.random() < 8 {
			p.Rings++
			if r.Special {
				p.Spheres++
			}
		}
		if cmd.Buttons&buttonSpin != 0 && p.Rings >= 10 && p.Shield == 0 {
			p.Rings -= 10
			p.Shield = 1
		}
	}
}

func (r *Reference) ConsistencyInputs() consistency.Inputs {
	in := consistency.Inputs{Seed: r.Seed, Platform: IsPlatform(r.Type)}
	for i, p := range r.Players {
		in.Players[i].InGame = p.InGame
		if p.Body != nil {
			in.Players[i].HasBody = true
			in.Players[i].X = p.Body.X
			in.Players[i].Y = p.Body.Y
		}
		in.Players[i].Shield = p.Shield
	}
	return in
}

func (r *Reference) Snapshot(player int) protocol.PlayerSnapshot {
	p := &r.Players[player]
	s := protocol.PlayerSnapshot{
		State: p.State, Flags: p.Flags, Angle: p.Angle, Aiming: p.Aiming,
		Health: p.Health, Lives: p.Lives, Score: p.Score,
		Rings: p.Rings, Spheres: p.Spheres, Shield: p.Shield,
		Powers: p.Powers, Weapon: p.Weapon, RingWeapons: p.RingWeapons,
	}
	if b := p.Body; b != nil {
		s.Body = &protocol.BodySnapshot{
			X: b.X, Y: b.Y, Z: b.Z, MomX: b.MomX, MomY: b.MomY, MomZ: b.MomZ,
			Radius: b.Radius, Height: b.Height, StateID: b.StateID,
			Flags: b.Flags, Scale: b.Scale, Tics: b.Tics,
		}
	}
	return s
}

func (r *Reference) Restore(player int, s protocol.PlayerSnapshot) {
	p := &r.Players[player]
	p.State, p.Flags, p.Angle, p.Aiming = s.State, s.Flags, s.Angle, s.Aiming
	p.Health, p.Lives, p.Score = s.Health, s.Lives, s.Score
	p.Rings, p.Spheres, p.Shield = s.Rings, s.Spheres, s.Shield
	p.Powers, p.Weapon, p.RingWeapons = s.Powers, s.Weapon, s.RingWeapons
	if s.Body == nil {
		p.Body = nil
		return
	}
	m := s.Body
	p.Body = &Body{
		X: m.X, Y: m.Y, Z: m.Z, MomX: m.MomX, MomY: m.MomY, MomZ: m.MomZ,
		Radius: m.Radius, Height: m.Height, StateID: m.StateID,
		Flags: m.Flags, Scale: m.Scale, Tics: m.Tics,
	}
}

func (r *Reference) Globals() protocol.ResynchEnd {
	g := protocol.ResynchEnd{Seed: r.Seed, Flags: r.FlagState}
	for i, p := range r.Players {
		if p.InGame {
			g.InGame |= 1 << i
		}
		if p.OutOfCoop {
			g.OutOfCoop |= 1 << i
		}
		if p.Spectator {
			g.Spectator |= 1 << i
		}
		g.Players[i] = protocol.PlayerTotals{
			Team: p.Team, Score: p.Score, Rings: p.Rings, RealTime: p.RealTime, Laps: p.Laps,
		}
	}
	return g
}

func (r *Reference) RestoreGlobals(g protocol.ResynchEnd) {
	r.Seed = g.Seed
	r.FlagState = g.Flags
	for i := range r.Players {
		p := &r.Players[i]
		p.InGame = g.InGame&(1<<i) != 0
		p.OutOfCoop = g.OutOfCoop&(1<<i) != 0
		p.Spectator = g.Spectator&(1<<i) != 0
		t := g.Players[i]
		p.Team, p.Score, p.Rings, p.RealTime, p.Laps = t.Team, t.Score, t.Rings, t.RealTime, t.Laps
	}
}

func (r *Reference) Save() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode world: %w", err)
	}
	return data, nil
}

func (r *Reference) Load(data []byte) error {
	var next Reference
	if err := json.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("failed to decode world: %w", err)
	}
	*r = next
	return nil
}

func (r *Reference) GameState() byte         { return r.State }
func (r *Reference) GameType() byte          { return r.Type }
func (r *Reference) MapName() string         { return r.Map }
func (r *Reference) LevelTime() protocol.Tic { return r.Level }
func (r *Reference) SpecialStage() bool      { return r.Special }
func (r *Reference) TeamFlags() bool         { return r.Type == GameTypeCTF }

func (r *Reference) SpawnPlayer(player int, name string) {
	p := &r.Players[player]
	*p = Player{
		InGame: true,
		Name:   name,
		Health: startHealth,
		Lives:  startLives,
		Rings:  startRings,
		Body: &Body{
			X:      int32(player) * 64 * unitScale,
			Radius: 16 * unitScale,
			Height: 48 * unitScale,
			Scale:  unitScale,
		},
	}
}

func (r *Reference) DespawnPlayer(player int) {
	r.Players[player] = Player{}
}

func (r *Reference) Rename(player int, name string) {
	r.Players[player].Name = name
}

func (r *Reference) Collectibles(player int) (int, int) {
	p := &r.Players[player]
	return int(p.Spheres), int(p.Rings)
}

func (r *Reference) SetCollectibles(player int, spheres, rings int) {
	p := &r.Players[player]
	p.Spheres, p.Rings = int16(spheres), int16(rings)
}

// TossFlag drops any flag player carries where it stands.
func (r *Reference) TossFlag(player int) {
	for i := range r.FlagState {
		f := &r.FlagState[i]
		if int(f.Carrier) != player {
			continue
		}
		f.Carrier = -1
		f.Loose = protocol.TicRate * 15
		if b := r.Players[player].Body; b != nil {
			f.X, f.Y, f.Z = b.X, b.Y, b.Z
		}
	}
}
