// Package xcmd implements extra commands: small side-channel actions
// (chat, kicks, joins) that ride inside tics as text command buffers.
// A buffer is a sequence of [id][arguments] records.
package xcmd

import (
	"errors"
	"fmt"

	"github.com/ticlink-project/ticlink/internal/protocol"
)

// ID identifies an extra command.
type ID byte

const (
	NameChange ID = iota + 1
	WeaponPref
	Kick
	NetVar
	Say
	Map
	ExitLevel
	AddSwitch
	Pause
	AddPlayer
	TeamChange
	ClearScores
	Login
	Verified
	RandomSeed
	Suicide
	Demoted
)

var (
	// ErrDuplicate is returned when an id is registered twice.
	ErrDuplicate = errors.New("extra command already registered")
	// ErrUnknown is returned when a buffer names an unregistered id.
	ErrUnknown = errors.New("unknown extra command")
)

// Handler applies one command issued by player, consuming its arguments
// from r. Short arguments surface through r.Err and must not be acted
// on; Decode takes care of that.
type Handler func(r *protocol.Reader, player int)

// Decode builds a Handler that reads its arguments with read and passes
// them to apply. Nothing is applied when the arguments are truncated.
func Decode[T any](read func(r *protocol.Reader) T, apply func(player int, v T)) Handler {
	return func(r *protocol.Reader, player int) {
		v := read(r)
		if r.Err() != nil {
			return
		}
		apply(player, v)
	}
}

type entry struct {
	name    string
	handler Handler
}

// Registry maps ids to handlers.
type Registry struct {
	handlers map[ID]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[ID]entry)}
}

// Register binds a handler to id.
func (reg *Registry) Register(id ID, name string, h Handler) error {
	if id == 0 {
		return fmt.Errorf("extra command %q: id 0 is reserved", name)
	}
	if prev, ok := reg.handlers[id]; ok {
		return fmt.Errorf("%w: %d (%s, already %s)", ErrDuplicate, id, name, prev.name)
	}
	reg.handlers[id] = entry{name: name, handler: h}
	return nil
}

// Name returns the registered name of id.
func (reg *Registry) Name(id ID) string {
	if e, ok := reg.handlers[id]; ok {
		return e.name
	}
	return fmt.Sprintf("xcmd(%d)", id)
}

// Execute applies every command in buf on behalf of player. It stops at
// the first unknown id or truncated argument list.
func (reg *Registry) Execute(buf []byte, player int) error {
	r := protocol.NewReader(buf)
	for r.Remaining() > 0 {
		id := ID(r.Byte())
		e, ok := reg.handlers[id]
		if !ok {
			return fmt.Errorf("%w: %d from player %d", ErrUnknown, id, player)
		}
		e.handler(r, player)
		if err := r.Err(); err != nil {
			return fmt.Errorf("failed to execute %s from player %d: %w", e.name, player, err)
		}
	}
	return nil
}
