package savegame

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/ticlink-project/ticlink/internal/protocol"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := map[string][]byte{
		"empty":        {},
		"compressible": bytes.Repeat([]byte("ring"), 2000),
		"short":        []byte{1, 2, 3},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			frame, err := Frame(data)
			if err != nil {
				t.Fatal(err)
			}
			got, err := Unframe(frame)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("round trip changed %d bytes into %d", len(data), len(got))
			}
		})
	}
}

func TestFrameCompresses(t *testing.T) {
	data := bytes.Repeat([]byte{0}, 10000)
	frame, err := Frame(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(frame) >= len(data) {
		t.Fatalf("frame is %d bytes for %d zero bytes", len(frame), len(data))
	}
}

func TestUnframeRejectsGarbage(t *testing.T) {
	if _, err := Unframe([]byte{1, 2}); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("short frame: %v", err)
	}
	frame, err := Frame(bytes.Repeat([]byte("abc"), 500))
	if err != nil {
		t.Fatal(err)
	}
	frame[0]++
	if _, err := Unframe(frame); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("wrong length: %v", err)
	}
}

func TestTransferReassembles(t *testing.T) {
	data := make([]byte, 5000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	s := NewSender(3, data, 1024, 0)
	r := NewReceiver(3)
	now := time.Now()

	for f := s.Next(now); f != nil; f = s.Next(now) {
		if len(f.Data) > ChunkSize(1024) {
			t.Fatalf("fragment of %d bytes", len(f.Data))
		}
		ack, err := r.Add(f)
		if err != nil {
			t.Fatal(err)
		}
		s.Ack(ack)
	}
	if !r.Complete() || !s.Done() {
		t.Fatalf("complete=%v done=%v", r.Complete(), s.Done())
	}
	if !bytes.Equal(r.Bytes(), data) {
		t.Fatal("reassembled file differs")
	}
}

func TestLostFragmentIsResent(t *testing.T) {
	data := bytes.Repeat([]byte{9}, 3000)
	s := NewSender(1, data, 1024, 0)
	r := NewReceiver(1)
	now := time.Now()

	s.Next(now) // lost
	second := s.Next(now)
	ack, err := r.Add(second)
	if err != nil {
		t.Fatal(err)
	}
	if ack.Received != 0 {
		t.Fatalf("ack = %d for out of order fragment", ack.Received)
	}
	s.Ack(ack)

	for f := s.Next(now); f != nil; f = s.Next(now) {
		ack, err := r.Add(f)
		if err != nil {
			t.Fatal(err)
		}
		s.Ack(ack)
	}
	if !bytes.Equal(r.Bytes(), data) {
		t.Fatal("file not recovered after loss")
	}
}

func TestReceiverRejectsMismatchedTotal(t *testing.T) {
	r := NewReceiver(1)
	if _, err := r.Add(&protocol.FileFragment{FileID: 1, Total: 10, Data: []byte{1}}); err != nil {
		t.Fatal(err)
	}
	_, err := r.Add(&protocol.FileFragment{FileID: 1, Position: 1, Total: 20, Data: []byte{2}})
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v", err)
	}
}

func TestSenderRateLimit(t *testing.T) {
	s := NewSender(1, make([]byte, 4000), 1024, 1014)
	now := time.Now()
	if s.Next(now) == nil {
		t.Fatal("first fragment withheld")
	}
	if s.Next(now) != nil {
		t.Fatal("second fragment sent within the same instant")
	}
	if s.Next(now.Add(time.Second)) == nil {
		t.Fatal("fragment withheld after a second")
	}
}

func TestPackCarriesTic(t *testing.T) {
	blob, err := Pack(4242, []byte("roster"), bytes.Repeat([]byte("state"), 50))
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	tic, roster, state, err := Unpack(blob)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if tic != 4242 || string(roster) != "roster" || !bytes.Equal(state, bytes.Repeat([]byte("state"), 50)) {
		t.Fatalf("got tic %d, roster %q, %d bytes", tic, roster, len(state))
	}
}

func TestResendRewindsToAck(t *testing.T) {
	data := bytes.Repeat([]byte{7}, 3000)
	s := NewSender(1, data, 1024, 0)
	now := time.Now()
	for s.Next(now) != nil {
	}
	s.Ack(&protocol.FileAck{FileID: 1, Received: 1014})
	s.Resend()
	f := s.Next(now)
	if f == nil || f.Position != 1014 {
		t.Fatalf("resend started at %+v", f)
	}
}
