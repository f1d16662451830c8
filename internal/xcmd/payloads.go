package xcmd

import (
	"github.com/ticlink-project/ticlink/internal/protocol"
)

// KickMsg is the reason code of a kick. KeepBody may be or'ed in to
// detach the player from its node without removing it from the game.
type KickMsg byte

const (
	KickGoAway KickMsg = iota + 1
	KickConFail
	KickPingHigh
	KickTimeout
	KickBanned
	KickPlayerQuit
	KickCustomKick
	KickCustomBan

	KickKeepBody KickMsg = 0x80
)

// Reason strips the KeepBody flag.
func (m KickMsg) Reason() KickMsg {
	return m &^ KickKeepBody
}

// KeepBody reports whether the flag is set.
func (m KickMsg) KeepBody() bool {
	return m&KickKeepBody != 0
}

// Custom reports whether a reason string follows the code on the wire.
func (m KickMsg) Custom() bool {
	r := m.Reason()
	return r == KickCustomKick || r == KickCustomBan
}

var kickNames = map[KickMsg]string{
	KickGoAway:     "go_away",
	KickConFail:    "consistency_failure",
	KickPingHigh:   "ping_high",
	KickTimeout:    "timeout",
	KickBanned:     "banned",
	KickPlayerQuit: "player_quit",
	KickCustomKick: "custom_kick",
	KickCustomBan:  "custom_ban",
}

func (m KickMsg) String() string {
	if s, ok := kickNames[m.Reason()]; ok {
		return s
	}
	return "unknown"
}

// Message returns the text shown to everyone when a player leaves this way.
func (m KickMsg) Message(name, custom string) string {
	switch m.Reason() {
	case KickGoAway:
		return name + " has been kicked (No reason given)"
	case KickConFail:
		return name + " left the game (Synch failure)"
	case KickPingHigh:
		return name + " left the game (Broke ping limit)"
	case KickTimeout:
		return name + " left the game (Connection timeout)"
	case KickBanned:
		return name + " has been banned (No reason given)"
	case KickPlayerQuit:
		return name + " left the game"
	case KickCustomKick:
		return name + " has been kicked (" + custom + ")"
	case KickCustomBan:
		return name + " has been banned (" + custom + ")"
	}
	return name + " left the game"
}

// LocalMessage returns the text shown to the kicked player.
func (m KickMsg) LocalMessage(custom string) string {
	switch m.Reason() {
	case KickConFail:
		return "Server closed connection\n(Synch failure)"
	case KickPingHigh:
		return "Server closed connection\n(Broke ping limit)"
	case KickTimeout:
		return "Server closed connection\n(Connection timeout)"
	case KickBanned:
		return "You have been banned by the server"
	case KickCustomKick:
		return "You have been kicked\n(" + custom + ")"
	case KickCustomBan:
		return "You have been banned\n(" + custom + ")"
	}
	return "You have been kicked by the server"
}

// record starts a buffer whose first byte is id.
func record(id ID) *protocol.PacketBuilder {
	return protocol.NewPacketBuilder(protocol.PacketType(id))
}

// KickPayload is the decoded form of a Kick command.
type KickPayload struct {
	Target byte
	Msg    KickMsg
	Custom string
}

// EncodeKick builds a Kick record.
func EncodeKick(k KickPayload) []byte {
	b := record(Kick).WriteByte(k.Target).WriteByte(byte(k.Msg))
	if k.Msg.Custom() {
		b.WriteNullString(k.Custom)
	}
	return b.Build()
}

// ReadKick decodes Kick arguments.
func ReadKick(r *protocol.Reader) KickPayload {
	k := KickPayload{Target: r.Byte(), Msg: KickMsg(r.Byte())}
	if k.Msg.Custom() {
		k.Custom = r.NullString()
	}
	return k
}

// AddPlayerPayload admits a player into a slot on behalf of a node.
type AddPlayerPayload struct {
	Node        byte
	Player      byte
	Splitscreen bool
	Name        string
}

func EncodeAddPlayer(a AddPlayerPayload) []byte {
	p := a.Player
	if a.Splitscreen {
		p |= 0x80
	}
	return record(AddPlayer).WriteByte(a.Node).WriteByte(p).WriteNullString(a.Name).Build()
}

func ReadAddPlayer(r *protocol.Reader) AddPlayerPayload {
	a := AddPlayerPayload{Node: r.Byte()}
	p := r.Byte()
	a.Player = p &^ 0x80
	a.Splitscreen = p&0x80 != 0
	a.Name = r.NullString()
	return a
}

// SayPayload is a chat line. Target is -1 for everyone.
type SayPayload struct {
	Target  int8
	Flags   byte
	Message string
}

func EncodeSay(s SayPayload) []byte {
	return record(Say).WriteInt8(s.Target).WriteByte(s.Flags).WriteNullString(s.Message).Build()
}

func ReadSay(r *protocol.Reader) SayPayload {
	return SayPayload{Target: r.Int8(), Flags: r.Byte(), Message: r.NullString()}
}

func EncodeNameChange(name string) []byte {
	return record(NameChange).WriteNullString(name).Build()
}

func ReadNameChange(r *protocol.Reader) string {
	return r.NullString()
}

// EncodeVerified grants or revokes admin rights for player.
func EncodeVerified(player byte, granted bool) []byte {
	id := Verified
	if !granted {
		id = Demoted
	}
	return record(id).WriteByte(player).Build()
}

func ReadPlayer(r *protocol.Reader) byte {
	return r.Byte()
}
