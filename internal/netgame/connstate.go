package netgame

import (
	"fmt"

	"github.com/ticlink-project/ticlink/internal/protocol"
)

// ConnState is a client's progress towards joining a server.
type ConnState int

const (
	StateIdle ConnState = iota
	StateSearching
	StateDownloadingFiles
	StateAskJoin
	StateWaitJoinResponse
	StateDownloadingSaveGame
	StateConnected
	StateAborted
)

var connStateNames = [...]string{
	StateIdle:                "idle",
	StateSearching:           "searching",
	StateDownloadingFiles:    "downloading_files",
	StateAskJoin:             "ask_join",
	StateWaitJoinResponse:    "wait_join_response",
	StateDownloadingSaveGame: "downloading_savegame",
	StateConnected:           "connected",
	StateAborted:             "aborted",
}

func (s ConnState) String() string {
	if s >= 0 && int(s) < len(connStateNames) {
		return connStateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no event moves the machine any more.
func (s ConnState) Terminal() bool {
	return s == StateIdle || s == StateAborted
}

// EventKind is what happened to a connecting client.
type EventKind int

const (
	EvTick EventKind = iota
	EvServerInfo
	EvServerConfig
	EvServerRefuse
	EvShutdown
	EvSavegameLoaded
	EvSavegameFailed
	EvCancel
	EvServerLost
)

// ConnEvent feeds the connection machine.
type ConnEvent struct {
	Kind   EventKind
	Info   *protocol.ServerInfo
	Config *protocol.ServerConfig
	Reason string
}

// EffectKind is something the host must do after a transition.
type EffectKind int

const (
	EffSendAskInfo EffectKind = iota
	EffSendJoin
	EffApplyConfig
	EffAwaitSavegame
	EffStartGame
	EffAbort
)

// Effect is returned by Transition for the caller to carry out.
type Effect struct {
	Kind    EffectKind
	Config  *protocol.ServerConfig
	Message string
}

// Machine is the client connection state plus what it needs to judge
// server responses.
type Machine struct {
	State ConnState
	// Waited counts tics spent in State.
	Waited protocol.Tic
	// Reason is why the machine aborted.
	Reason string

	Application string
	Version     byte
	Subversion  byte
	// Retry is how often requests are repeated while waiting.
	Retry protocol.Tic
	// Timeout aborts a state that waited this long.
	Timeout protocol.Tic
	// SavegameTimeout bounds the savegame download.
	SavegameTimeout protocol.Tic
}

// NewMachine returns a machine that starts searching for a server.
func NewMachine(application string, version, subversion byte, timeout protocol.Tic) Machine {
	return Machine{
		State:           StateSearching,
		Application:     application,
		Version:         version,
		Subversion:      subversion,
		Retry:           protocol.TicRate,
		Timeout:         timeout,
		SavegameTimeout: 6 * timeout,
	}
}

func (m Machine) enter(s ConnState) Machine {
	m.State = s
	m.Waited = 0
	return m
}

func (m Machine) abort(msg string) (Machine, []Effect) {
	m = m.enter(StateAborted)
	m.Reason = msg
	return m, []Effect{{Kind: EffAbort, Message: msg}}
}

// compatible checks a ServerInfo against the local build.
func (m Machine) compatible(info *protocol.ServerInfo) string {
	switch {
	case info.PacketVersion != protocol.PacketVersion:
		return "Incompatible packet formats."
	case info.Application != m.Application:
		return fmt.Sprintf("Different game modifications\nare not compatible.\n(server runs %s)", info.Application)
	case info.Version != m.Version || info.Subversion != m.Subversion:
		return fmt.Sprintf("Different versions cannot\nplay a netgame!\n(server version %d.%d)", info.Version, info.Subversion)
	}
	return ""
}

// Transition advances m by ev and lists the effects the caller must
// carry out, in order.
func Transition(m Machine, ev ConnEvent) (Machine, []Effect) {
	if m.State.Terminal() {
		return m, nil
	}

	switch ev.Kind {
	case EvCancel:
		return m.abort("Connection cancelled")
	case EvShutdown:
		return m.abort("Server has shut down")
	case EvServerLost:
		return m.abort("Server Timeout")
	}

	switch m.State {
	case StateSearching:
		switch ev.Kind {
		case EvTick:
			m.Waited++
			if m.Waited > m.Timeout {
				return m.abort("No response from server")
			}
			if m.Waited%m.Retry == 1 {
				return m, []Effect{{Kind: EffSendAskInfo}}
			}
		case EvServerInfo:
			if reason := m.compatible(ev.Info); reason != "" {
				return m.abort(reason)
			}
			return m.enter(StateDownloadingFiles), nil
		}

	case StateDownloadingFiles:
		if ev.Kind == EvTick {
			return m.enter(StateAskJoin), nil
		}

	case StateAskJoin:
		if ev.Kind == EvTick {
			return m.enter(StateWaitJoinResponse), []Effect{{Kind: EffSendJoin}}
		}

	case StateWaitJoinResponse:
		switch ev.Kind {
		case EvTick:
			m.Waited++
			if m.Waited > m.Timeout {
				return m.abort("No response from server")
			}
			if m.Waited%m.Retry == 0 {
				return m, []Effect{{Kind: EffSendJoin}}
			}
		case EvServerRefuse:
			return m.abort("The server refused the connection because:\n" + ev.Reason)
		case EvServerConfig:
			effects := []Effect{{Kind: EffApplyConfig, Config: ev.Config}}
			if ev.Config.GameState == protocol.GameStateLevel {
				return m.enter(StateDownloadingSaveGame), append(effects, Effect{Kind: EffAwaitSavegame})
			}
			return m.enter(StateConnected), append(effects, Effect{Kind: EffStartGame})
		}

	case StateDownloadingSaveGame:
		switch ev.Kind {
		case EvTick:
			m.Waited++
			if m.Waited > m.SavegameTimeout {
				return m.abort("Savegame download timed out")
			}
		case EvSavegameLoaded:
			return m.enter(StateConnected), []Effect{{Kind: EffStartGame}}
		case EvSavegameFailed:
			return m.abort("Can't load the level!\n" + ev.Reason)
		}

	case StateConnected:
		if ev.Kind == EvServerRefuse {
			return m.abort(ev.Reason)
		}
	}
	return m, nil
}
