package xcmd

import (
	"errors"
	"testing"

	"github.com/ticlink-project/ticlink/internal/protocol"
)

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	noop := func(r *protocol.Reader, player int) {}
	if err := reg.Register(Say, "say", noop); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register(Say, "say_again", noop); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestExecuteRunsRecordsInOrder(t *testing.T) {
	reg := NewRegistry()
	var said []string
	var kicked []KickPayload
	reg.Register(Say, "say", func(r *protocol.Reader, player int) {
		said = append(said, ReadSay(r).Message)
	})
	reg.Register(Kick, "kick", func(r *protocol.Reader, player int) {
		kicked = append(kicked, ReadKick(r))
	})

	var buf []byte
	buf = append(buf, EncodeSay(SayPayload{Target: -1, Message: "hello"})...)
	buf = append(buf, EncodeKick(KickPayload{Target: 4, Msg: KickCustomBan | KickKeepBody, Custom: "griefing"})...)
	buf = append(buf, EncodeSay(SayPayload{Target: -1, Message: "bye"})...)

	if err := reg.Execute(buf, 2); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(said) != 2 || said[0] != "hello" || said[1] != "bye" {
		t.Fatalf("said = %v", said)
	}
	if len(kicked) != 1 {
		t.Fatalf("kicked = %v", kicked)
	}
	k := kicked[0]
	if k.Target != 4 || k.Msg.Reason() != KickCustomBan || !k.Msg.KeepBody() || k.Custom != "griefing" {
		t.Fatalf("kick = %+v", k)
	}
}

func TestExecuteStopsOnUnknownID(t *testing.T) {
	reg := NewRegistry()
	err := reg.Execute([]byte{0xF0, 1, 2}, 0)
	if !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
}

func TestExecuteReportsTruncatedArguments(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Kick, "kick", func(r *protocol.Reader, player int) { ReadKick(r) })
	err := reg.Execute([]byte{byte(Kick), 3}, 0)
	if !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestAddPlayerSplitscreenFlag(t *testing.T) {
	buf := EncodeAddPlayer(AddPlayerPayload{Node: 3, Player: 5, Splitscreen: true, Name: "Knuckles"})
	r := protocol.NewReader(buf[1:])
	a := ReadAddPlayer(r)
	if a.Node != 3 || a.Player != 5 || !a.Splitscreen || a.Name != "Knuckles" {
		t.Fatalf("decoded %+v", a)
	}
}

func TestDecodeSkipsTruncatedArguments(t *testing.T) {
	reg := NewRegistry()
	var kicked []KickPayload
	reg.Register(Kick, "kick", Decode(ReadKick, func(player int, k KickPayload) {
		kicked = append(kicked, k)
	}))

	full := EncodeKick(KickPayload{Target: 3, Msg: KickGoAway})
	if err := reg.Execute(full, 1); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(kicked) != 1 || kicked[0].Target != 3 {
		t.Fatalf("kicked %+v", kicked)
	}

	if err := reg.Execute([]byte{byte(Kick)}, 1); err == nil {
		t.Fatal("truncated kick accepted")
	}
	if len(kicked) != 1 {
		t.Fatalf("truncated kick applied: %+v", kicked[1:])
	}
}
