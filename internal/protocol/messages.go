package protocol

// Packet is one decoded wire message.
type Packet interface {
	Type() PacketType
}

// Empty is a packet with no payload (Nothing, ClientQuit, ServerShutdown).
type Empty struct {
	Kind PacketType
}

func (p *Empty) Type() PacketType { return p.Kind }

// AskInfo requests ServerInfo and PlayerInfo. Time is echoed back for ping.
type AskInfo struct {
	Version byte
	Time    uint32
}

func (*AskInfo) Type() PacketType { return PktAskInfo }

// ServerInfo describes a server to someone who has not joined.
type ServerInfo struct {
	PacketVersion byte
	Application   string
	Version       byte
	Subversion    byte
	NumPlayers    byte
	MaxPlayers    byte
	GameType      byte
	Modified      bool
	Cheats        bool
	Flags         byte
	Time          uint32
	LevelTime     uint32
	ServerName    string
	MapName       string
	MapTitle      string
	ActNum        byte
	IsZone        bool
}

func (*ServerInfo) Type() PacketType { return PktServerInfo }

// PlayerInfoEntry is the public view of one player slot. Node is NodeNone
// for an empty slot.
type PlayerInfoEntry struct {
	Node         byte
	Name         string
	Address      [4]byte
	Team         byte
	Skin         byte
	Data         byte
	Score        uint32
	TimeInServer uint16
}

// PlayerInfo lists every player slot.
type PlayerInfo struct {
	Players [MaxPlayers]PlayerInfoEntry
}

func (*PlayerInfo) Type() PacketType { return PktPlayerInfo }

// ServerRefuse rejects a join with a human readable reason.
type ServerRefuse struct {
	Reason string
}

func (*ServerRefuse) Type() PacketType { return PktServerRefuse }

// ClientJoin asks the server for one or two player slots.
type ClientJoin struct {
	PacketVersion byte
	Application   string
	Version       byte
	Subversion    byte
	LocalPlayers  byte
	Mode          byte
	Names         [2]string
}

func (*ClientJoin) Type() PacketType { return PktClientJoin }

// ServerConfig accepts a join and carries the state a client needs to
// start following the server's tics.
type ServerConfig struct {
	PacketVersion byte
	Application   string
	Version       byte
	Subversion    byte
	ServerPlayer  int8
	NumSlots      byte
	GameTic       uint32
	ClientNode    byte
	GameState     byte
	GameType      byte
	Modified      bool
	Admins        [4]int8
	// Challenge binds this node's admin logins.
	Challenge [16]byte
}

func (*ServerConfig) Type() PacketType { return PktServerConfig }

// ClientCmd carries a client's input for one tic. Kind selects the plain,
// retransmission-request ("missed"), splitscreen and keepalive flavours.
// Keepalives carry neither consistency nor commands.
type ClientCmd struct {
	Kind        PacketType
	ClientTic   byte
	ResendFrom  byte
	Consistency uint16
	Cmd         TicCmd
	Cmd2        TicCmd
}

func (p *ClientCmd) Type() PacketType { return p.Kind }

// KeepAlive reports whether the packet carries no tic command.
func (p *ClientCmd) KeepAlive() bool {
	return p.Kind == PktNodeKeepAlive || p.Kind == PktNodeKeepAliveMis
}

// Missed reports whether the sender asks for tics from ResendFrom.
func (p *ClientCmd) Missed() bool {
	return p.Kind == PktClientMis || p.Kind == PktClient2Mis || p.Kind == PktNodeKeepAliveMis
}

// Splitscreen reports whether Cmd2 is present.
func (p *ClientCmd) Splitscreen() bool {
	return p.Kind == PktClient2Cmd || p.Kind == PktClient2Mis
}

// TextCmd carries encoded extra commands for the sender's first or second
// local player.
type TextCmd struct {
	Second bool
	Data   []byte
}

func (p *TextCmd) Type() PacketType {
	if p.Second {
		return PktTextCmd2
	}
	return PktTextCmd
}

// TextRecord is one player's extra commands within a tic.
type TextRecord struct {
	Player byte
	Data   []byte
}

// ServerTics is a batch of consecutive tics. Cmds holds NumTics×NumSlots
// commands in tic-major order; Texts holds one record list per tic.
type ServerTics struct {
	StartTic byte
	NumSlots byte
	Cmds     []TicCmd
	Texts    [][]TextRecord
}

func (*ServerTics) Type() PacketType { return PktServerTics }

// NumTics returns the number of tics in the batch.
func (p *ServerTics) NumTics() int {
	return len(p.Texts)
}

// Resynching carries an authoritative snapshot of one player.
type Resynching struct {
	Player   byte
	Snapshot PlayerSnapshot
}

func (*Resynching) Type() PacketType { return PktResynching }

// ResynchGet acknowledges a Resynching packet.
type ResynchGet struct {
	Player byte
}

func (*ResynchGet) Type() PacketType { return PktResynchGet }

// ResynchEnd closes a resynchronization with the global state not covered
// by player snapshots.
type ResynchEnd struct {
	Seed      uint32
	Flags     [2]FlagState
	InGame    uint32
	OutOfCoop uint32
	Spectator uint32
	Players   [MaxPlayers]PlayerTotals
}

func (*ResynchEnd) Type() PacketType { return PktResynchEnd }

// FlagState is the position and carrier of one team flag.
type FlagState struct {
	Carrier int8
	Loose   int32
	X, Y, Z int32
}

// PlayerTotals are the per-player counters sent with ResynchEnd.
type PlayerTotals struct {
	Team     int8
	Score    uint32
	Rings    int16
	RealTime uint32
	Laps     byte
}

// Ping carries every player's average latency and the server's limit.
type Ping struct {
	Pings   [MaxPlayers]uint32
	MaxPing uint32
}

func (*Ping) Type() PacketType { return PktPing }

// NodeTimeout is queued by the transport to the local host when a node
// stops responding.
type NodeTimeout struct {
	Node byte
}

func (*NodeTimeout) Type() PacketType { return PktNodeTimeout }

// Login carries an admin password digest bound to the server's challenge.
type Login struct {
	Digest [32]byte
}

func (*Login) Type() PacketType { return PktLogin }

// FileFragment is a slice of a file being sent, for example a savegame.
type FileFragment struct {
	FileID   byte
	Position uint32
	Total    uint32
	Data     []byte
}

func (*FileFragment) Type() PacketType { return PktFileFragment }

// FileAck acknowledges every byte below Received.
type FileAck struct {
	FileID   byte
	Received uint32
}

func (*FileAck) Type() PacketType { return PktFileAck }

// RequestFile asks the server to (re)send a file from the beginning.
type RequestFile struct {
	FileID byte
}

func (*RequestFile) Type() PacketType { return PktRequestFile }
