package netgame

import (
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/ticlink-project/ticlink/internal/session"
)

// NodeStatus is one admitted node as seen by the server.
type NodeStatus struct {
	session.NodeView
	Resync      string `json:"resync"`
	ResyncScore int    `json:"resync_score"`
	// SavegameSent and SavegameSize track a pending savegame upload.
	SavegameSent int `json:"savegame_sent,omitempty"`
	SavegameSize int `json:"savegame_size,omitempty"`
}

// StatusSnapshot is an immutable copy of the board.
type StatusSnapshot struct {
	Role        string               `json:"role"`
	State       string               `json:"state"`
	GameTic     uint32               `json:"gametic"`
	MakeTic     uint32               `json:"maketic"`
	NeededTic   uint32               `json:"neededtic"`
	RealTic     uint32               `json:"realtic"`
	MapName     string               `json:"map_name"`
	GameType    byte                 `json:"game_type"`
	GameState   byte                 `json:"game_state"`
	Resynching  bool                 `json:"resynching"`
	Stopping    bool                 `json:"stopping"`
	LastMessage string               `json:"last_message,omitempty"`
	Players     []session.PlayerView `json:"players"`
	Nodes       []NodeStatus         `json:"nodes"`
	StartedAt   time.Time            `json:"started_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// StatusBoard publishes the loop's state to other goroutines. The loop
// writes it once per frame; readers get copies.
type StatusBoard struct {
	mu        sync.RWMutex
	snap      StatusSnapshot
	startedAt time.Time
}

// NewStatusBoard creates an empty board.
func NewStatusBoard() *StatusBoard {
	now := time.Now()
	return &StatusBoard{startedAt: now, snap: StatusSnapshot{StartedAt: now, UpdatedAt: now}}
}

// Set replaces the board contents.
func (b *StatusBoard) Set(s StatusSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s.StartedAt = b.startedAt
	s.UpdatedAt = time.Now()
	b.snap = s
}

// Snapshot returns a copy of the board.
func (b *StatusBoard) Snapshot() StatusSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.snap
	s.Players = append([]session.PlayerView(nil), b.snap.Players...)
	s.Nodes = append([]NodeStatus(nil), b.snap.Nodes...)
	return s
}

// Player returns one slot from the board.
func (b *StatusBoard) Player(slot int) (session.PlayerView, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return lo.Find(b.snap.Players, func(p session.PlayerView) bool { return p.Slot == slot })
}

func (h *Host) refreshStatus() {
	role := "client"
	if h.server {
		role = "server"
	}
	nodes := lo.Map(h.sess.Nodes(), func(v session.NodeView, _ int) NodeStatus {
		ns := NodeStatus{
			NodeView:    v,
			Resync:      h.resync.State(v.Node).String(),
			ResyncScore: h.resync.Score(v.Node),
		}
		if up, ok := h.senders[v.Node]; ok {
			ns.SavegameSent, ns.SavegameSize = up.Progress()
		}
		return ns
	})
	h.status.Set(StatusSnapshot{
		Role:        role,
		State:       h.State().String(),
		GameTic:     uint32(h.gametic),
		MakeTic:     uint32(h.maketic),
		NeededTic:   uint32(h.neededtic),
		RealTic:     uint32(h.realTic),
		MapName:     h.world.MapName(),
		GameType:    h.world.GameType(),
		GameState:   h.world.GameState(),
		Resynching:  h.resynchLocal,
		Stopping:    h.stopping,
		LastMessage: h.lastMessage,
		Players:     h.sess.Roster(),
		Nodes:       nodes,
	})
}
