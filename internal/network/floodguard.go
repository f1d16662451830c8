package network

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxPacketsPerSec caps datagrams accepted from one source IP.
const DefaultMaxPacketsPerSec = 300

const floodGuardIdle = time.Minute

// floodGuard drops datagrams from source IPs sending faster than the cap.
type floodGuard struct {
	mu       sync.Mutex
	limiters map[string]*guardEntry
	perSec   int
	lastGC   time.Time
}

type guardEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newFloodGuard(perSec int) *floodGuard {
	return &floodGuard{limiters: make(map[string]*guardEntry), perSec: perSec, lastGC: time.Now()}
}

func (g *floodGuard) allow(ip string, now time.Time) bool {
	if g.perSec <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if now.Sub(g.lastGC) > floodGuardIdle {
		for k, e := range g.limiters {
			if now.Sub(e.seen) > floodGuardIdle {
				delete(g.limiters, k)
			}
		}
		g.lastGC = now
	}

	e, ok := g.limiters[ip]
	if !ok {
		e = &guardEntry{limiter: rate.NewLimiter(rate.Limit(g.perSec), g.perSec)}
		g.limiters[ip] = e
	}
	e.seen = now
	return e.limiter.AllowN(now, 1)
}
