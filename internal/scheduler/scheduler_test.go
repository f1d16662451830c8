package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ticlink-project/ticlink/internal/config"
)

func TestClockStepCountsWholeTics(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewClock(35, start, nil)

	steps := []struct {
		at   time.Duration
		want int
	}{
		{10 * time.Millisecond, 0},
		{29 * time.Millisecond, 1},
		{100 * time.Millisecond, 2},
		{time.Second, 32},
		{time.Second, 0},
		{3 * time.Second, 70},
	}
	for _, s := range steps {
		if got := c.Step(start.Add(s.at)); got != s.want {
			t.Fatalf("Step(+%v) = %d, want %d", s.at, got, s.want)
		}
	}
}

func TestClockRunsFrames(t *testing.T) {
	var mu sync.Mutex
	total := 0
	c := NewClock(200, time.Now(), func(n int) {
		mu.Lock()
		total += n
		mu.Unlock()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if total == 0 {
		t.Fatalf("no frames ran")
	}
}

func TestNextDaily(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 1, 10, 30, 0, 0, loc)

	if got := nextDaily("12:15", now); !got.Equal(time.Date(2026, 3, 1, 12, 15, 0, 0, loc)) {
		t.Fatalf("later today: %v", got)
	}
	if got := nextDaily("04:00", now); !got.Equal(time.Date(2026, 3, 2, 4, 0, 0, 0, loc)) {
		t.Fatalf("tomorrow: %v", got)
	}
	if got := nextDaily("garbage", now); !got.Equal(time.Date(2026, 3, 2, 4, 0, 0, 0, loc)) {
		t.Fatalf("default time: %v", got)
	}
}

type countingCleaner struct{ days int }

func (c *countingCleaner) CleanOldIncidents(days int) (int64, error) {
	c.days = days
	return 3, nil
}

func TestCleanIncidentsUsesRetention(t *testing.T) {
	cfg := config.DefaultConfig()
	cl := &countingCleaner{}
	s := NewScheduler(cfg, cl, nil)
	s.cleanIncidents()
	if cl.days != cfg.GetApplicationData().Database.RetentionDays {
		t.Fatalf("cleaned with %d days", cl.days)
	}
}
