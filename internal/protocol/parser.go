package protocol

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrUnknownPacket is returned for a packet type this protocol does not define.
var ErrUnknownPacket = errors.New("unknown packet")

// Parser decodes datagrams into packets.
type Parser struct {
	logger zerolog.Logger
}

// NewParser creates a new parser.
func NewParser() *Parser {
	return &Parser{
		logger: log.With().Str("component", "parser").Logger(),
	}
}

// Parse decodes one datagram. Malformed input is reported as an error
// wrapping ErrUnknownPacket or ErrTruncated; it never panics.
func (p *Parser) Parse(data []byte) (Packet, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty datagram", ErrTruncated)
	}

	kind := PacketType(data[0])
	r := NewReader(data[1:])

	var pkt Packet
	switch kind {
	case PktNothing, PktClientQuit, PktServerShutdown:
		pkt = &Empty{Kind: kind}
	case PktAskInfo:
		pkt = &AskInfo{Version: r.Byte(), Time: r.Uint32()}
	case PktServerInfo:
		pkt = parseServerInfo(r)
	case PktPlayerInfo:
		pkt = parsePlayerInfo(r)
	case PktServerRefuse:
		pkt = &ServerRefuse{Reason: r.NullString()}
	case PktClientJoin:
		pkt = parseClientJoin(r)
	case PktServerConfig:
		pkt = parseServerConfig(r)
	case PktClientCmd, PktClientMis, PktClient2Cmd, PktClient2Mis, PktNodeKeepAlive, PktNodeKeepAliveMis:
		pkt = parseClientCmd(kind, r)
	case PktTextCmd, PktTextCmd2:
		n := int(r.Byte())
		if r.Err() == nil && n == 0 {
			return nil, fmt.Errorf("%w: empty text command", ErrTruncated)
		}
		pkt = &TextCmd{Second: kind == PktTextCmd2, Data: r.Bytes(n)}
	case PktServerTics:
		pkt = parseServerTics(r)
	case PktResynching:
		pkt = &Resynching{Player: r.Byte(), Snapshot: r.Snapshot()}
	case PktResynchGet:
		pkt = &ResynchGet{Player: r.Byte()}
	case PktResynchEnd:
		pkt = parseResynchEnd(r)
	case PktPing:
		v := &Ping{}
		for i := range v.Pings {
			v.Pings[i] = r.Uint32()
		}
		v.MaxPing = r.Uint32()
		pkt = v
	case PktNodeTimeout:
		pkt = &NodeTimeout{Node: r.Byte()}
	case PktLogin:
		v := &Login{}
		copy(v.Digest[:], r.Bytes(len(v.Digest)))
		pkt = v
	case PktFileFragment:
		v := &FileFragment{FileID: r.Byte(), Position: r.Uint32(), Total: r.Uint32()}
		v.Data = r.Bytes(int(r.Uint16()))
		pkt = v
	case PktFileAck:
		pkt = &FileAck{FileID: r.Byte(), Received: r.Uint32()}
	case PktRequestFile:
		pkt = &RequestFile{FileID: r.Byte()}
	default:
		p.logger.Warn().
			Uint8("type", byte(kind)).
			Int("payload_len", len(data)-1).
			Msg("unknown packet type")
		return nil, fmt.Errorf("%w: type 0x%02X", ErrUnknownPacket, byte(kind))
	}

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("failed to decode %s (%d bytes): %w", kind, len(data), err)
	}
	return pkt, nil
}

func parseServerInfo(r *Reader) *ServerInfo {
	if r.Byte() != HandshakeSentinel {
		return &ServerInfo{}
	}
	v := &ServerInfo{}
	v.PacketVersion = r.Byte()
	v.Application = r.FixedString(MaxApplication)
	v.Version, v.Subversion = r.Byte(), r.Byte()
	v.NumPlayers, v.MaxPlayers = r.Byte(), r.Byte()
	v.GameType = r.Byte()
	v.Modified, v.Cheats = r.Bool(), r.Bool()
	v.Flags = r.Byte()
	v.Time, v.LevelTime = r.Uint32(), r.Uint32()
	v.ServerName = r.FixedString(MaxServerName)
	v.MapName = r.FixedString(8)
	v.MapTitle = r.FixedString(33)
	v.ActNum = r.Byte()
	v.IsZone = r.Bool()
	return v
}

func parsePlayerInfo(r *Reader) *PlayerInfo {
	v := &PlayerInfo{}
	for i := range v.Players {
		e := &v.Players[i]
		e.Node = r.Byte()
		e.Name = r.FixedString(MaxPlayerName + 1)
		copy(e.Address[:], r.Bytes(4))
		e.Team, e.Skin, e.Data = r.Byte(), r.Byte(), r.Byte()
		e.Score = r.Uint32()
		e.TimeInServer = r.Uint16()
	}
	return v
}

// parseClientJoin leaves PacketVersion zero when the sentinel is missing,
// so the join is refused as an incompatible packet format.
func parseClientJoin(r *Reader) *ClientJoin {
	v := &ClientJoin{}
	if r.Byte() != HandshakeSentinel {
		return v
	}
	v.PacketVersion = r.Byte()
	v.Application = r.FixedString(MaxApplication)
	v.Version, v.Subversion = r.Byte(), r.Byte()
	v.LocalPlayers, v.Mode = r.Byte(), r.Byte()
	for i := range v.Names {
		v.Names[i] = r.FixedString(MaxPlayerName + 1)
	}
	return v
}

func parseServerConfig(r *Reader) *ServerConfig {
	v := &ServerConfig{}
	if r.Byte() != HandshakeSentinel {
		return v
	}
	v.PacketVersion = r.Byte()
	v.Application = r.FixedString(MaxApplication)
	v.Version, v.Subversion = r.Byte(), r.Byte()
	v.ServerPlayer = r.Int8()
	v.NumSlots = r.Byte()
	v.GameTic = r.Uint32()
	v.ClientNode = r.Byte()
	v.GameState, v.GameType = r.Byte(), r.Byte()
	v.Modified = r.Bool()
	for i := range v.Admins {
		v.Admins[i] = r.Int8()
	}
	copy(v.Challenge[:], r.Bytes(len(v.Challenge)))
	return v
}

func parseClientCmd(kind PacketType, r *Reader) *ClientCmd {
	v := &ClientCmd{Kind: kind, ClientTic: r.Byte(), ResendFrom: r.Byte()}
	if v.KeepAlive() {
		return v
	}
	v.Consistency = r.Uint16()
	v.Cmd = r.TicCmd()
	if v.Splitscreen() {
		v.Cmd2 = r.TicCmd()
	}
	return v
}

func parseServerTics(r *Reader) *ServerTics {
	v := &ServerTics{StartTic: r.Byte()}
	numTics := int(r.Byte())
	v.NumSlots = r.Byte()

	total := numTics * int(v.NumSlots)
	if r.Remaining() < total*TicCmdSize {
		r.take(total * TicCmdSize)
		return v
	}
	v.Cmds = make([]TicCmd, total)
	for i := range v.Cmds {
		v.Cmds[i] = r.TicCmd()
	}

	v.Texts = make([][]TextRecord, numTics)
	for i := 0; i < numTics && r.Err() == nil; i++ {
		count := int(r.Byte())
		for j := 0; j < count && r.Err() == nil; j++ {
			player := r.Byte()
			data := r.Bytes(int(r.Byte()))
			v.Texts[i] = append(v.Texts[i], TextRecord{Player: player, Data: data})
		}
	}
	return v
}

func parseResynchEnd(r *Reader) *ResynchEnd {
	v := &ResynchEnd{Seed: r.Uint32()}
	for i := range v.Flags {
		f := &v.Flags[i]
		f.Carrier = r.Int8()
		f.Loose = r.Int32()
		f.X, f.Y, f.Z = r.Int32(), r.Int32(), r.Int32()
	}
	v.InGame, v.OutOfCoop, v.Spectator = r.Uint32(), r.Uint32(), r.Uint32()
	for i := range v.Players {
		p := &v.Players[i]
		p.Team = r.Int8()
		p.Score = r.Uint32()
		p.Rings = r.Int16()
		p.RealTime = r.Uint32()
		p.Laps = r.Byte()
	}
	return v
}
