package netgame

import (
	"fmt"
	"strings"

	"github.com/ticlink-project/ticlink/internal/events"
	"github.com/ticlink-project/ticlink/internal/protocol"
	"github.com/ticlink-project/ticlink/internal/session"
	"github.com/ticlink-project/ticlink/internal/xcmd"
)

// maxSay keeps a chat record inside one text command.
const maxSay = protocol.MaxTextCmd - 4

func (h *Host) registerCommands() {
	handlers := []struct {
		id      xcmd.ID
		name    string
		handler xcmd.Handler
	}{
		{xcmd.AddPlayer, "addplayer", xcmd.Decode(xcmd.ReadAddPlayer, h.sess.ApplyAddPlayer)},
		{xcmd.Kick, "kick", xcmd.Decode(xcmd.ReadKick, h.sess.ApplyKick)},
		{xcmd.Say, "say", h.applySay},
		{xcmd.NameChange, "name", xcmd.Decode(xcmd.ReadNameChange, h.sess.ApplyNameChange)},
		{xcmd.Verified, "verified", xcmd.Decode(xcmd.ReadPlayer, func(p int, target byte) {
			h.sess.ApplyVerified(p, int(target), true)
		})},
		{xcmd.Demoted, "demoted", xcmd.Decode(xcmd.ReadPlayer, func(p int, target byte) {
			h.sess.ApplyVerified(p, int(target), false)
		})},
	}
	for _, c := range handlers {
		if err := h.registry.Register(c.id, c.name, c.handler); err != nil {
			panic(err)
		}
	}
}

func (h *Host) applySay(r *protocol.Reader, player int) {
	s := xcmd.ReadSay(r)
	if r.Err() != nil || (!h.sess.InGame(player) && player != h.sess.ServerPlayer) {
		return
	}
	name := h.sess.Player(player).Name
	h.logger.Info().Int("player", player).Str("name", name).Int("target", int(s.Target)).Str("message", s.Message).Msg("chat")
	h.emit(events.EventChat, events.ChatPayload{Player: player, Name: name, Target: int(s.Target), Message: s.Message})
}

// Say sends a chat line to everyone.
func (h *Host) Say(message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return fmt.Errorf("empty message")
	}
	if len(message) > maxSay {
		message = message[:maxSay]
	}
	h.QueueCommand(xcmd.EncodeSay(xcmd.SayPayload{Target: -1, Message: message}))
	return nil
}

// Rename changes the first local player's name.
func (h *Host) Rename(name string) error {
	if !session.ValidName(name) {
		return fmt.Errorf("invalid name %q", name)
	}
	h.QueueCommand(xcmd.EncodeNameChange(name))
	return nil
}

// Kick removes player. Peers reject kicks from players without rights.
func (h *Host) Kick(player int, msg xcmd.KickMsg, custom string) error {
	if !h.sess.InGame(player) {
		return fmt.Errorf("player %d is not in game", player)
	}
	if custom == "" {
		switch msg.Reason() {
		case xcmd.KickCustomKick:
			msg = xcmd.KickGoAway
		case xcmd.KickCustomBan:
			msg = xcmd.KickBanned
		}
	}
	h.sess.SendKick(player, msg, custom)
	return nil
}

// Ban kicks player and bans its address.
func (h *Host) Ban(player int, reason string) error {
	if reason == "" {
		return h.Kick(player, xcmd.KickBanned, "")
	}
	return h.Kick(player, xcmd.KickCustomBan, reason)
}

// Unban lifts the ban on addr.
func (h *Host) Unban(addr string) (bool, error) {
	if !h.server {
		return false, fmt.Errorf("only the server keeps a ban list")
	}
	return h.sess.Bans().RemoveBan(addr)
}

// SetAdmin grants or revokes admin rights.
func (h *Host) SetAdmin(player int, granted bool) error {
	if !h.server {
		return fmt.Errorf("only the server grants admin rights")
	}
	if !h.sess.InGame(player) {
		return fmt.Errorf("player %d is not in game", player)
	}
	if granted {
		h.sess.Promote(player)
	} else {
		h.sess.Demote(player)
	}
	return nil
}
