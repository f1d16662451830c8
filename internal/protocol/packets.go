// Package protocol implements the wire format spoken between ticlink
// servers and clients. Every datagram is a one-byte packet type followed by
// a type-specific little-endian payload.
package protocol

import "fmt"

// PacketType is the leading tag byte of every datagram.
type PacketType byte

// Packet types. Types below PktCanFail are sent unreliably and may be
// dropped by the transport; types at or above it are reliable.
const (
	PktNothing PacketType = iota
	PktServerConfig
	PktClientCmd
	PktClientMis
	PktClient2Cmd
	PktClient2Mis
	PktNodeKeepAlive
	PktNodeKeepAliveMis
	PktServerTics
	PktServerRefuse
	PktServerShutdown
	PktClientQuit
	PktAskInfo
	PktServerInfo
	PktPlayerInfo
	PktRequestFile
	PktAskInfoViaMS
	PktResynchEnd
	PktResynchGet

	PktCanFail

	PktFileFragment = PktCanFail
)

const (
	PktTextCmd PacketType = iota + PktFileFragment + 1
	PktTextCmd2
	PktClientJoin
	PktNodeTimeout
	PktResynching
	PktLogin
	PktFileAck
	PktPing

	numPacketTypes
)

var packetNames = map[PacketType]string{
	PktNothing:          "NOTHING",
	PktServerConfig:     "SERVERCFG",
	PktClientCmd:        "CLIENTCMD",
	PktClientMis:        "CLIENTMIS",
	PktClient2Cmd:       "CLIENT2CMD",
	PktClient2Mis:       "CLIENT2MIS",
	PktNodeKeepAlive:    "NODEKEEPALIVE",
	PktNodeKeepAliveMis: "NODEKEEPALIVEMIS",
	PktServerTics:       "SERVERTICS",
	PktServerRefuse:     "SERVERREFUSE",
	PktServerShutdown:   "SERVERSHUTDOWN",
	PktClientQuit:       "CLIENTQUIT",
	PktAskInfo:          "ASKINFO",
	PktServerInfo:       "SERVERINFO",
	PktPlayerInfo:       "PLAYERINFO",
	PktRequestFile:      "REQUESTFILE",
	PktAskInfoViaMS:     "ASKINFOVIAMS",
	PktResynchEnd:       "RESYNCHEND",
	PktResynchGet:       "RESYNCHGET",
	PktFileFragment:     "FILEFRAGMENT",
	PktTextCmd:          "TEXTCMD",
	PktTextCmd2:         "TEXTCMD2",
	PktClientJoin:       "CLIENTJOIN",
	PktNodeTimeout:      "NODETIMEOUT",
	PktResynching:       "RESYNCHING",
	PktLogin:            "LOGIN",
	PktFileAck:          "FILEACK",
	PktPing:             "PING",
}

func (t PacketType) String() string {
	if s, ok := packetNames[t]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(t))
}

// Reliable reports whether the transport should retransmit packets of this type.
func (t PacketType) Reliable() bool {
	return t >= PktCanFail
}

// Protocol constants shared by server and client.
const (
	// TicRate is the number of simulation tics per second.
	TicRate = 35

	// BackupTics is the depth of the tic ring and consistency history.
	BackupTics = 1024

	MaxPlayers  = 32
	MaxNetNodes = 127

	// MaxPacketLength is the hard upper bound of one datagram.
	MaxPacketLength = 1450
	// DefaultPacketLength is the negotiated size ServerTics batches aim for.
	DefaultPacketLength = 1024

	// MaxTextCmd is the limit of the 8-bit text command length field.
	MaxTextCmd = 255

	MaxApplication = 16
	MaxPlayerName  = 21
	MaxServerName  = 32

	// HandshakeSentinel opens every handshake payload.
	HandshakeSentinel byte = 0xFF

	PacketVersion byte = 4

	// NodeNone marks a player with no owning node (left with body kept).
	NodeNone byte = 255
)

// Game states carried by ServerConfig.
const (
	GameStateLevel byte = iota
	GameStateIntermission
	GameStateContinuing
	GameStateTitleScreen
	GameStateWaitingPlayers
)
