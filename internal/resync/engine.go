// Package resync corrects clients whose simulation diverged from the
// server by streaming authoritative player snapshots until each one is
// acknowledged.
package resync

import (
	"math/bits"
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/ticlink-project/ticlink/internal/protocol"
	"github.com/ticlink-project/ticlink/internal/util"
)

// State is where a node stands in the resynchronization cycle.
type State int

const (
	Synced State = iota
	Required
	InProgress
	Kicked
)

func (s State) String() string {
	switch s {
	case Synced:
		return "synced"
	case Required:
		return "required"
	case InProgress:
		return "in_progress"
	case Kicked:
		return "kicked"
	}
	return "unknown"
}

// Policy holds the penalty and pacing constants.
type Policy struct {
	GraceDelay      int
	RequirePenalty  int
	SendPenalty     int
	AckCredit       int
	HostilePenalty  int
	Cooldown        int
	MaxSendsPerTick int
	// Attempts scales the kick threshold; 0 never kicks.
	Attempts int
}

// DefaultPolicy returns the standard pacing with the given attempt budget.
func DefaultPolicy(attempts int) Policy {
	return Policy{
		GraceDelay:      10,
		RequirePenalty:  200,
		SendPenalty:     2,
		AckCredit:       1,
		HostilePenalty:  16384,
		Cooldown:        protocol.TicRate,
		MaxSendsPerTick: 3,
		Attempts:        attempts,
	}
}

// Threshold is the score above which a node is kicked.
func (p Policy) Threshold() int {
	return p.Attempts * 250
}

// Roster answers who is playing and where.
type Roster interface {
	InGame(player int) bool
	PlayerNode(player int) int
	NumPlayers() int
}

// Source provides the authoritative state to send.
type Source interface {
	Snapshot(player int) protocol.PlayerSnapshot
	Globals() protocol.ResynchEnd
}

// Sender delivers packets to a node.
type Sender interface {
	Send(node int, p protocol.Packet) bool
}

type nodeState struct {
	state     State
	delay     int
	score     int
	unsynced  uint32
	countdown [protocol.MaxPlayers]int
	// ending is set once every snapshot is acknowledged; ResynchEnd is
	// repeated every endWait tics until the node resumes.
	ending  bool
	endWait int
}

// Engine tracks every node's resynchronization.
type Engine struct {
	policy Policy
	nodes  [protocol.MaxNetNodes]nodeState
	rng    *rand.Rand
	source Source
	sender Sender
	logger zerolog.Logger
}

// NewEngine creates an engine. rng staggers snapshot sends.
func NewEngine(policy Policy, source Source, sender Sender, rng *rand.Rand) *Engine {
	return &Engine{
		policy: policy,
		rng:    rng,
		source: source,
		sender: sender,
		logger: util.ComponentLogger("resync"),
	}
}

func (e *Engine) valid(node int) bool {
	return node >= 0 && node < protocol.MaxNetNodes
}

// State returns the state of node.
func (e *Engine) State(node int) State {
	if !e.valid(node) {
		return Synced
	}
	return e.nodes[node].state
}

// Active reports whether node is waiting for snapshots.
func (e *Engine) Active(node int) bool {
	s := e.State(node)
	return s == Required || s == InProgress
}

// Score returns the penalty score of node.
func (e *Engine) Score(node int) int {
	if !e.valid(node) {
		return 0
	}
	return e.nodes[node].score
}

// Unsynced returns the bitmask of players node still needs.
func (e *Engine) Unsynced(node int) uint32 {
	if !e.valid(node) {
		return 0
	}
	return e.nodes[node].unsynced
}

// Reset forgets everything about node, for joins and departures.
func (e *Engine) Reset(node int) {
	if e.valid(node) {
		e.nodes[node] = nodeState{}
	}
}

// Require starts a resynchronization of node. Players local to node are
// sent on the next tick; the rest are staggered over the following ones.
func (e *Engine) Require(node int, roster Roster) {
	if !e.valid(node) {
		return
	}
	n := &e.nodes[node]
	n.delay = e.policy.GraceDelay
	n.score += e.policy.RequirePenalty
	n.state = Required
	n.unsynced = 0
	n.countdown = [protocol.MaxPlayers]int{}
	n.ending = false
	n.endWait = 0

	spread := roster.NumPlayers() >> 1
	if spread < 1 {
		spread = 1
	}
	for p := 0; p < protocol.MaxPlayers; p++ {
		if !roster.InGame(p) {
			continue
		}
		n.unsynced |= 1 << p
		if roster.PlayerNode(p) != node {
			n.countdown[p] = e.rng.Intn(spread) + 1
		}
	}

	e.logger.Info().
		Int("node", node).
		Int("score", n.score).
		Int("players", bits.OnesCount32(n.unsynced)).
		Msg("resynch required")
}

// ReportMismatch handles a consistency mismatch from node and reports
// whether its score now calls for a kick.
func (e *Engine) ReportMismatch(node int, roster Roster) bool {
	e.Require(node, roster)
	return e.overThreshold(node)
}

// Grace consumes one tic of the post-resync grace delay and reports
// whether it was still running, in which case consistency is not checked.
func (e *Engine) Grace(node int) bool {
	if !e.valid(node) || e.nodes[node].delay == 0 {
		return false
	}
	e.nodes[node].delay--
	return true
}

// Credit rewards a consistent tic by lowering the penalty score.
func (e *Engine) Credit(node int) {
	if e.valid(node) && e.nodes[node].score > 0 {
		e.nodes[node].score--
	}
}

func (e *Engine) overThreshold(node int) bool {
	return e.policy.Attempts > 0 && e.nodes[node].score > e.policy.Threshold()
}

// Tick sends due snapshots to node, or ResynchEnd once every player is
// acknowledged. ResynchEnd travels unreliably, so it is repeated every
// Cooldown tics until Resumed confirms the node is running again. Tick
// reports whether node crossed the kick threshold.
func (e *Engine) Tick(node int) bool {
	if !e.Active(node) {
		return false
	}
	n := &e.nodes[node]
	n.state = InProgress

	if n.unsynced == 0 {
		if n.endWait > 0 {
			n.endWait--
			return false
		}
		end := e.source.Globals()
		e.sender.Send(node, &end)
		n.endWait = e.policy.Cooldown
		if n.ending {
			e.logger.Debug().Int("node", node).Msg("resending resynch end")
		} else {
			n.ending = true
			e.logger.Debug().Int("node", node).Msg("all snapshots acknowledged")
		}
		return false
	}

	sent := 0
	for p := 0; p < protocol.MaxPlayers; p++ {
		if n.unsynced&(1<<p) == 0 {
			continue
		}
		if n.countdown[p] > 0 {
			n.countdown[p]--
			continue
		}
		e.sender.Send(node, &protocol.Resynching{Player: byte(p), Snapshot: e.source.Snapshot(p)})
		n.countdown[p] = e.policy.Cooldown
		n.score += e.policy.SendPenalty
		sent++
		if sent > e.policy.MaxSendsPerTick {
			break
		}
	}

	if e.overThreshold(node) {
		e.logger.Warn().Int("node", node).Int("score", n.score).Msg("resynch penalty exceeded")
		n.state = Kicked
		n.score = 0
		return true
	}
	return false
}

// Ending reports whether node has every snapshot and is being sent
// ResynchEnd.
func (e *Engine) Ending(node int) bool {
	return e.valid(node) && e.Active(node) && e.nodes[node].ending
}

// Resumed is called when node sends game commands again. If node was
// waiting on ResynchEnd, that proves it arrived: node is synced and
// Resumed reports true.
func (e *Engine) Resumed(node int) bool {
	if !e.Ending(node) {
		return false
	}
	n := &e.nodes[node]
	n.state = Synced
	n.ending = false
	n.endWait = 0
	e.logger.Info().Int("node", node).Int("score", n.score).Msg("resynch complete")
	return true
}

// Acknowledge records that node applied the snapshot of player. An out
// of range player is treated as hostile.
func (e *Engine) Acknowledge(node int, player int) {
	if !e.valid(node) {
		return
	}
	n := &e.nodes[node]
	if player < 0 || player >= protocol.MaxPlayers {
		n.score += e.policy.HostilePenalty
		e.logger.Warn().Int("node", node).Int("player", player).Msg("resynch ack for invalid player")
		return
	}
	n.unsynced &^= 1 << player
	n.score = max(n.score-e.policy.AckCredit, 0)
}

// Forget drops player from every pending resynchronization, for players
// leaving the game.
func (e *Engine) Forget(player int) {
	if player < 0 || player >= protocol.MaxPlayers {
		return
	}
	for i := range e.nodes {
		e.nodes[i].unsynced &^= 1 << player
	}
}
