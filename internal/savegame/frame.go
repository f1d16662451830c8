// Package savegame frames the world snapshot a joining client needs and
// moves it across the network in fragments.
package savegame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/ticlink-project/ticlink/internal/protocol"
)

// ErrCorrupt is returned for a frame or fragment stream that cannot be
// decoded.
var ErrCorrupt = errors.New("corrupt savegame")

// HeaderSize is the length prefix of a frame.
const HeaderSize = 4

// Frame prefixes data with its length and compresses it. A zero length
// prefix marks a body stored as is, used when compression does not pay.
func Frame(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(make([]byte, HeaderSize))

	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress savegame: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress savegame: %w", err)
	}

	out := buf.Bytes()
	if len(out)-HeaderSize >= len(data) {
		out = make([]byte, HeaderSize+len(data))
		copy(out[HeaderSize:], data)
		return out, nil
	}
	binary.LittleEndian.PutUint32(out[:HeaderSize], uint32(len(data)))
	return out, nil
}

// Unframe reverses Frame.
func Unframe(frame []byte) ([]byte, error) {
	if len(frame) < HeaderSize {
		return nil, fmt.Errorf("%w: %d byte frame", ErrCorrupt, len(frame))
	}
	size := binary.LittleEndian.Uint32(frame[:HeaderSize])
	body := frame[HeaderSize:]
	if size == 0 {
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	}

	var buf bytes.Buffer
	zr := lz4.NewReader(bytes.NewReader(body))
	if _, err := io.Copy(&buf, io.LimitReader(zr, int64(size)+1)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if uint32(buf.Len()) != size {
		return nil, fmt.Errorf("%w: got %d bytes, header says %d", ErrCorrupt, buf.Len(), size)
	}
	return buf.Bytes(), nil
}

// Pack frames the state a joining client loads: the tic it was saved
// at, the player roster and the world.
func Pack(tic protocol.Tic, roster, world []byte) ([]byte, error) {
	b := protocol.NewBuilder()
	b.WriteUint32(uint32(tic))
	b.WriteUint32(uint32(len(roster))).WriteBytes(roster)
	b.WriteBytes(world)
	return Frame(b.Build())
}

// Unpack reverses Pack.
func Unpack(blob []byte) (tic protocol.Tic, roster, world []byte, err error) {
	data, err := Unframe(blob)
	if err != nil {
		return 0, nil, nil, err
	}
	r := protocol.NewReader(data)
	tic = protocol.Tic(r.Uint32())
	roster = r.Bytes(int(r.Uint32()))
	world = r.Rest()
	if err := r.Err(); err != nil {
		return 0, nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return tic, roster, world, nil
}
