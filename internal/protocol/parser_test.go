package protocol

import (
	"errors"
	"testing"
)

func TestParseRejectsUnknownType(t *testing.T) {
	_, err := NewParser().Parse([]byte{0xEE, 1, 2, 3})
	if !errors.Is(err, ErrUnknownPacket) {
		t.Fatalf("expected ErrUnknownPacket, got %v", err)
	}
}

func TestParseRejectsTruncatedPayload(t *testing.T) {
	data, err := Marshal(&ClientCmd{Kind: PktClient2Cmd, ClientTic: 4, Cmd: TicCmd{Forward: 1}}, MaxPacketLength)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	_, err = NewParser().Parse(data[:len(data)-3])
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestClientJoinRoundTrip(t *testing.T) {
	in := &ClientJoin{
		PacketVersion: PacketVersion,
		Application:   "TICLINK",
		Version:       1,
		Subversion:    2,
		LocalPlayers:  2,
		Names:         [2]string{"sonic", "tails"},
	}
	data, err := Marshal(in, MaxPacketLength)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if data[1] != HandshakeSentinel {
		t.Fatalf("expected sentinel after type byte, got 0x%02X", data[1])
	}
	out, err := NewParser().Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, ok := out.(*ClientJoin)
	if !ok {
		t.Fatalf("parsed %T", out)
	}
	if *got != *in {
		t.Fatalf("got %+v, want %+v", got, in)
	}
}

func TestClientJoinWithoutSentinelHasNoVersion(t *testing.T) {
	out, err := NewParser().Parse([]byte{byte(PktClientJoin), 0x00, PacketVersion})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.(*ClientJoin).PacketVersion != 0 {
		t.Fatal("expected zero packet version for a join without sentinel")
	}
}

func TestServerTicsRoundTrip(t *testing.T) {
	in := &ServerTics{
		StartTic: 250,
		NumSlots: 2,
		Cmds: []TicCmd{
			{Forward: 10, Received: true}, {Side: -3},
			{Forward: 11, Received: true}, {Side: -4, Received: true},
		},
		Texts: [][]TextRecord{
			nil,
			{{Player: 1, Data: []byte{7, 'h', 'i'}}, {Player: 0, Data: []byte{9}}},
		},
	}
	data, err := Marshal(in, MaxPacketLength)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := ServerTicsHeaderSize + TicSize(2, in.Texts[0]) + TicSize(2, in.Texts[1])
	if len(data) != want {
		t.Fatalf("encoded %d bytes, want %d", len(data), want)
	}

	out, err := NewParser().Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := out.(*ServerTics)
	if got.NumTics() != 2 || got.StartTic != 250 || len(got.Cmds) != 4 {
		t.Fatalf("unexpected header %+v", got)
	}
	if got.Cmds[3] != in.Cmds[3] {
		t.Fatalf("cmd 3 = %+v, want %+v", got.Cmds[3], in.Cmds[3])
	}
	if len(got.Texts[0]) != 0 || len(got.Texts[1]) != 2 || string(got.Texts[1][0].Data) != string(in.Texts[1][0].Data) {
		t.Fatalf("unexpected texts %+v", got.Texts)
	}
}

func TestMarshalReportsOversizedPacket(t *testing.T) {
	big := make([]byte, 200)
	in := &ServerTics{NumSlots: 1}
	for i := 0; i < 10; i++ {
		in.Cmds = append(in.Cmds, TicCmd{})
		in.Texts = append(in.Texts, []TextRecord{{Player: 0, Data: big}})
	}
	if _, err := Marshal(in, 1024); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestResynchingRoundTrip(t *testing.T) {
	in := &Resynching{
		Player: 3,
		Snapshot: PlayerSnapshot{
			State: 1, Flags: 0x40, Rings: 25, Shield: 2,
			Body: &BodySnapshot{X: -1000, Y: 2000, Z: 30, MomX: 5, Scale: 1 << 16, StateID: 77},
		},
	}
	data, err := Marshal(in, MaxPacketLength)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := NewParser().Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := out.(*Resynching)
	if got.Player != 3 || got.Snapshot.Rings != 25 || got.Snapshot.Body == nil || *got.Snapshot.Body != *in.Snapshot.Body {
		t.Fatalf("got %+v", got)
	}
}
