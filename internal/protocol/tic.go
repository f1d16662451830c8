package protocol

// Tic is a simulation frame number.
type Tic uint32

// CompactTic returns the low byte of a tic as carried on the wire.
func CompactTic(t Tic) byte {
	return byte(t)
}

// ExpandTic rebuilds a full tic from its low byte, choosing the value
// within 64 tics of last. Peers whose clocks drift further apart than that
// window will misinterpret each other.
func ExpandTic(last Tic, low byte) Tic {
	delta := int(low) - int(last&0xFF)
	switch {
	case delta >= -64 && delta <= 64:
		return (last &^ 0xFF) + Tic(low)
	case delta > 64:
		return (last &^ 0xFF) - 256 + Tic(low)
	default:
		return (last &^ 0xFF) + 256 + Tic(low)
	}
}

// ticcmdReceived is the marker bit folded into AngleTurn on the wire.
const ticcmdReceived = 1

// TicCmdSize is the encoded size of one TicCmd.
const TicCmdSize = 9

// TicCmd is one player's input for one tic.
type TicCmd struct {
	Forward   int8
	Side      int8
	AngleTurn int16
	Aiming    int16
	Buttons   uint16
	Latency   uint8

	// Received is set once the command came from its owner rather than
	// being synthesized by the server.
	Received bool
}

// IsZero reports whether the command is the cleared value.
func (c TicCmd) IsZero() bool {
	return c == TicCmd{}
}

func (b *PacketBuilder) WriteTicCmd(c TicCmd) *PacketBuilder {
	turn := c.AngleTurn &^ ticcmdReceived
	if c.Received {
		turn |= ticcmdReceived
	}
	b.WriteInt8(c.Forward)
	b.WriteInt8(c.Side)
	b.WriteInt16(turn)
	b.WriteInt16(c.Aiming)
	b.WriteUint16(c.Buttons)
	b.WriteByte(c.Latency)
	return b
}

func (r *Reader) TicCmd() TicCmd {
	var c TicCmd
	c.Forward = r.Int8()
	c.Side = r.Int8()
	turn := r.Int16()
	c.AngleTurn = turn &^ ticcmdReceived
	c.Received = turn&ticcmdReceived != 0
	c.Aiming = r.Int16()
	c.Buttons = r.Uint16()
	c.Latency = r.Byte()
	return c
}
