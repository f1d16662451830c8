package protocol

// NumPowers is the number of power timers carried in a snapshot.
const NumPowers = 8

// PlayerSnapshot is the physics-relevant state of one player used to
// correct a desynchronized client. Cosmetic fields are not carried.
type PlayerSnapshot struct {
	State       byte
	Flags       uint32
	Angle       uint32
	Aiming      int32
	Health      int32
	Lives       int8
	Score       uint32
	Rings       int16
	Spheres     int16
	Shield      uint16
	Powers      [NumPowers]uint16
	Weapon      byte
	RingWeapons uint16

	// Body is nil when the player has no object in the world.
	Body *BodySnapshot
}

// BodySnapshot is the state of the object a player controls.
type BodySnapshot struct {
	X, Y, Z          int32
	MomX, MomY, MomZ int32
	Radius, Height   int32
	StateID          uint32
	Flags            uint32
	Scale            uint32
	Tics             int32
}

func (b *PacketBuilder) WriteSnapshot(s PlayerSnapshot) *PacketBuilder {
	b.WriteByte(s.State)
	b.WriteUint32(s.Flags)
	b.WriteUint32(s.Angle)
	b.WriteInt32(s.Aiming)
	b.WriteInt32(s.Health)
	b.WriteInt8(s.Lives)
	b.WriteUint32(s.Score)
	b.WriteInt16(s.Rings)
	b.WriteInt16(s.Spheres)
	b.WriteUint16(s.Shield)
	for _, p := range s.Powers {
		b.WriteUint16(p)
	}
	b.WriteByte(s.Weapon)
	b.WriteUint16(s.RingWeapons)

	b.WriteBool(s.Body != nil)
	if s.Body == nil {
		return b
	}
	m := s.Body
	b.WriteInt32(m.X).WriteInt32(m.Y).WriteInt32(m.Z)
	b.WriteInt32(m.MomX).WriteInt32(m.MomY).WriteInt32(m.MomZ)
	b.WriteInt32(m.Radius).WriteInt32(m.Height)
	b.WriteUint32(m.StateID)
	b.WriteUint32(m.Flags)
	b.WriteUint32(m.Scale)
	b.WriteInt32(m.Tics)
	return b
}

func (r *Reader) Snapshot() PlayerSnapshot {
	var s PlayerSnapshot
	s.State = r.Byte()
	s.Flags = r.Uint32()
	s.Angle = r.Uint32()
	s.Aiming = r.Int32()
	s.Health = r.Int32()
	s.Lives = r.Int8()
	s.Score = r.Uint32()
	s.Rings = r.Int16()
	s.Spheres = r.Int16()
	s.Shield = r.Uint16()
	for i := range s.Powers {
		s.Powers[i] = r.Uint16()
	}
	s.Weapon = r.Byte()
	s.RingWeapons = r.Uint16()

	if !r.Bool() {
		return s
	}
	m := &BodySnapshot{}
	m.X, m.Y, m.Z = r.Int32(), r.Int32(), r.Int32()
	m.MomX, m.MomY, m.MomZ = r.Int32(), r.Int32(), r.Int32()
	m.Radius, m.Height = r.Int32(), r.Int32()
	m.StateID = r.Uint32()
	m.Flags = r.Uint32()
	m.Scale = r.Uint32()
	m.Tics = r.Int32()
	s.Body = m
	return s
}
