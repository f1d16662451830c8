package savegame

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ticlink-project/ticlink/internal/protocol"
)

// fragmentOverhead is the type, file id, position and total of a FileFragment.
const fragmentOverhead = 1 + 1 + 4 + 4

// ChunkSize returns the payload that fits one fragment of a packet of
// at most packetLen bytes.
func ChunkSize(packetLen int) int {
	return packetLen - fragmentOverhead
}

// Sender streams one file to one node.
type Sender struct {
	FileID  byte
	data    []byte
	chunk   int
	next    int
	acked   int
	sent    bool
	limiter *rate.Limiter
}

// NewSender prepares data for transfer in chunks that fit packetLen.
// bytesPerSecond caps the stream; zero means unlimited.
func NewSender(fileID byte, data []byte, packetLen int, bytesPerSecond int) *Sender {
	s := &Sender{FileID: fileID, data: data, chunk: ChunkSize(packetLen)}
	if bytesPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), max(bytesPerSecond, s.chunk))
	}
	return s
}

// Next returns the next fragment to send, or nil when every byte has
// been sent or the rate limit is exhausted for now.
func (s *Sender) Next(now time.Time) *protocol.FileFragment {
	if s.sent {
		return nil
	}
	end := min(s.next+s.chunk, len(s.data))
	if s.limiter != nil && !s.limiter.AllowN(now, end-s.next) {
		return nil
	}
	f := &protocol.FileFragment{
		FileID:   s.FileID,
		Position: uint32(s.next),
		Total:    uint32(len(s.data)),
		Data:     s.data[s.next:end],
	}
	s.next = end
	s.sent = s.next >= len(s.data)
	return f
}

// Ack records how much the receiver holds. An ack behind what was sent
// rewinds the stream so the gap is sent again.
func (s *Sender) Ack(a *protocol.FileAck) {
	if a.FileID != s.FileID {
		return
	}
	got := min(int(a.Received), len(s.data))
	s.acked = max(s.acked, got)
	if got < s.next {
		s.next = got
		s.sent = false
	}
}

// Restart sends the file again from the first byte.
func (s *Sender) Restart() {
	s.next, s.acked, s.sent = 0, 0, false
}

// Resend rewinds to the last acknowledged byte, for fragments lost
// without the receiver noticing.
func (s *Sender) Resend() {
	if s.acked < len(s.data) {
		s.next = s.acked
		s.sent = false
	}
}

// Progress returns acknowledged and total bytes.
func (s *Sender) Progress() (acked, total int) {
	return s.acked, len(s.data)
}

// Done reports whether the receiver acknowledged the whole file.
func (s *Sender) Done() bool {
	return s.sent && s.acked >= len(s.data)
}

// Receiver reassembles one file from in-order fragments.
type Receiver struct {
	FileID   byte
	total    int
	buf      []byte
	received int
	started  bool
}

// NewReceiver waits for fileID.
func NewReceiver(fileID byte) *Receiver {
	return &Receiver{FileID: fileID}
}

// Add stores a fragment and returns the ack to send back. Fragments that
// arrive out of order are dropped; the ack makes the sender rewind.
func (r *Receiver) Add(f *protocol.FileFragment) (*protocol.FileAck, error) {
	if f.FileID != r.FileID {
		return nil, nil
	}
	if !r.started {
		r.started = true
		r.total = int(f.Total)
		r.buf = make([]byte, 0, r.total)
	}
	if int(f.Total) != r.total {
		return nil, fmt.Errorf("%w: fragment total %d, expected %d", ErrCorrupt, f.Total, r.total)
	}
	if int(f.Position) == r.received {
		if r.received+len(f.Data) > r.total {
			return nil, fmt.Errorf("%w: fragment overruns %d byte file", ErrCorrupt, r.total)
		}
		r.buf = append(r.buf, f.Data...)
		r.received += len(f.Data)
	}
	return &protocol.FileAck{FileID: r.FileID, Received: uint32(r.received)}, nil
}

// Complete reports whether every byte arrived.
func (r *Receiver) Complete() bool {
	return r.started && r.received == r.total
}

// Bytes returns the reassembled file once Complete.
func (r *Receiver) Bytes() []byte {
	if !r.Complete() {
		return nil
	}
	return r.buf
}
