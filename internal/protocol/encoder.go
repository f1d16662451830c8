package protocol

import (
	"errors"
	"fmt"
)

// ErrTooLarge is returned when an encoded packet exceeds the length limit.
var ErrTooLarge = errors.New("packet exceeds maximum length")

// ServerTicsHeaderSize is the encoded size of a ServerTics before its
// first command: type, starttic, numtics, numslots.
const ServerTicsHeaderSize = 4

// Marshal encodes p. It never truncates: a packet longer than maxLen is
// reported with ErrTooLarge and must be split by the caller.
func Marshal(p Packet, maxLen int) ([]byte, error) {
	b := NewPacketBuilder(p.Type())

	switch v := p.(type) {
	case *Empty:
	case *AskInfo:
		b.WriteByte(v.Version).WriteUint32(v.Time)
	case *ServerInfo:
		writeServerInfo(b, v)
	case *PlayerInfo:
		for _, e := range v.Players {
			b.WriteByte(e.Node)
			b.WriteFixedString(e.Name, MaxPlayerName+1)
			b.WriteBytes(e.Address[:])
			b.WriteByte(e.Team).WriteByte(e.Skin).WriteByte(e.Data)
			b.WriteUint32(e.Score)
			b.WriteUint16(e.TimeInServer)
		}
	case *ServerRefuse:
		reason := v.Reason
		if len(reason) > MaxTextCmd {
			reason = reason[:MaxTextCmd]
		}
		b.WriteNullString(reason)
	case *ClientJoin:
		b.WriteByte(HandshakeSentinel).WriteByte(v.PacketVersion)
		b.WriteFixedString(v.Application, MaxApplication)
		b.WriteByte(v.Version).WriteByte(v.Subversion)
		b.WriteByte(v.LocalPlayers).WriteByte(v.Mode)
		for _, name := range v.Names {
			b.WriteFixedString(name, MaxPlayerName+1)
		}
	case *ServerConfig:
		b.WriteByte(HandshakeSentinel).WriteByte(v.PacketVersion)
		b.WriteFixedString(v.Application, MaxApplication)
		b.WriteByte(v.Version).WriteByte(v.Subversion)
		b.WriteInt8(v.ServerPlayer)
		b.WriteByte(v.NumSlots)
		b.WriteUint32(v.GameTic)
		b.WriteByte(v.ClientNode)
		b.WriteByte(v.GameState).WriteByte(v.GameType)
		b.WriteBool(v.Modified)
		for _, a := range v.Admins {
			b.WriteInt8(a)
		}
		b.WriteBytes(v.Challenge[:])
	case *ClientCmd:
		b.WriteByte(v.ClientTic).WriteByte(v.ResendFrom)
		if !v.KeepAlive() {
			b.WriteUint16(v.Consistency)
			b.WriteTicCmd(v.Cmd)
			if v.Splitscreen() {
				b.WriteTicCmd(v.Cmd2)
			}
		}
	case *TextCmd:
		if len(v.Data) == 0 || len(v.Data) > MaxTextCmd {
			return nil, fmt.Errorf("invalid text command length %d", len(v.Data))
		}
		b.WriteByte(byte(len(v.Data))).WriteBytes(v.Data)
	case *ServerTics:
		if err := writeServerTics(b, v); err != nil {
			return nil, err
		}
	case *Resynching:
		b.WriteByte(v.Player).WriteSnapshot(v.Snapshot)
	case *ResynchGet:
		b.WriteByte(v.Player)
	case *ResynchEnd:
		writeResynchEnd(b, v)
	case *Ping:
		for _, ms := range v.Pings {
			b.WriteUint32(ms)
		}
		b.WriteUint32(v.MaxPing)
	case *NodeTimeout:
		b.WriteByte(v.Node)
	case *Login:
		b.WriteBytes(v.Digest[:])
	case *FileFragment:
		if len(v.Data) > 0xFFFF {
			return nil, ErrTooLarge
		}
		b.WriteByte(v.FileID).WriteUint32(v.Position).WriteUint32(v.Total)
		b.WriteUint16(uint16(len(v.Data))).WriteBytes(v.Data)
	case *FileAck:
		b.WriteByte(v.FileID).WriteUint32(v.Received)
	case *RequestFile:
		b.WriteByte(v.FileID)
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrUnknownPacket, p)
	}

	if maxLen > 0 && b.Len() > maxLen {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrTooLarge, p.Type(), b.Len(), maxLen)
	}
	return b.Build(), nil
}

func writeServerInfo(b *PacketBuilder, v *ServerInfo) {
	b.WriteByte(HandshakeSentinel).WriteByte(v.PacketVersion)
	b.WriteFixedString(v.Application, MaxApplication)
	b.WriteByte(v.Version).WriteByte(v.Subversion)
	b.WriteByte(v.NumPlayers).WriteByte(v.MaxPlayers)
	b.WriteByte(v.GameType)
	b.WriteBool(v.Modified).WriteBool(v.Cheats)
	b.WriteByte(v.Flags)
	b.WriteUint32(v.Time).WriteUint32(v.LevelTime)
	b.WriteFixedString(v.ServerName, MaxServerName)
	b.WriteFixedString(v.MapName, 8)
	b.WriteFixedString(v.MapTitle, 33)
	b.WriteByte(v.ActNum)
	b.WriteBool(v.IsZone)
}

func writeServerTics(b *PacketBuilder, v *ServerTics) error {
	numTics := len(v.Texts)
	if numTics > 0xFF {
		return fmt.Errorf("%w: %d tics in one batch", ErrTooLarge, numTics)
	}
	if len(v.Cmds) != numTics*int(v.NumSlots) {
		return fmt.Errorf("server tics carries %d commands for %d tics of %d slots",
			len(v.Cmds), numTics, v.NumSlots)
	}

	b.WriteByte(v.StartTic).WriteByte(byte(numTics)).WriteByte(v.NumSlots)
	for _, c := range v.Cmds {
		b.WriteTicCmd(c)
	}
	for _, records := range v.Texts {
		if len(records) > 0xFF {
			return fmt.Errorf("%w: %d text records in one tic", ErrTooLarge, len(records))
		}
		b.WriteByte(byte(len(records)))
		for _, rec := range records {
			if len(rec.Data) > MaxTextCmd {
				return fmt.Errorf("%w: text command of %d bytes", ErrTooLarge, len(rec.Data))
			}
			b.WriteByte(rec.Player).WriteByte(byte(len(rec.Data))).WriteBytes(rec.Data)
		}
	}
	return nil
}

func writeResynchEnd(b *PacketBuilder, v *ResynchEnd) {
	b.WriteUint32(v.Seed)
	for _, f := range v.Flags {
		b.WriteInt8(f.Carrier)
		b.WriteInt32(f.Loose)
		b.WriteInt32(f.X).WriteInt32(f.Y).WriteInt32(f.Z)
	}
	b.WriteUint32(v.InGame).WriteUint32(v.OutOfCoop).WriteUint32(v.Spectator)
	for _, p := range v.Players {
		b.WriteInt8(p.Team)
		b.WriteUint32(p.Score)
		b.WriteInt16(p.Rings)
		b.WriteUint32(p.RealTime)
		b.WriteByte(p.Laps)
	}
}

// TicSize returns the encoded size of one tic inside a ServerTics batch.
func TicSize(numSlots int, records []TextRecord) int {
	n := numSlots*TicCmdSize + 1
	for _, rec := range records {
		n += 2 + len(rec.Data)
	}
	return n
}
