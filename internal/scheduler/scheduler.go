// Package scheduler drives the game clock and the slow background tasks
// around it: incident cleanup and periodic statistics.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ticlink-project/ticlink/internal/config"
)

// IncidentCleaner drops incidents older than a number of days.
type IncidentCleaner interface {
	CleanOldIncidents(days int) (int64, error)
}

// Stats is a periodic summary of the running game.
type Stats struct {
	Players   int
	Nodes     int
	GameTic   uint32
	Resyncing int
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     *config.Config
	cleaner IncidentCleaner
	stats   func() Stats
}

// NewScheduler creates a task scheduler. cleaner and stats may be nil.
func NewScheduler(cfg *config.Config, cleaner IncidentCleaner, stats func() Stats) *Scheduler {
	return &Scheduler{cfg: cfg, cleaner: cleaner, stats: stats}
}

// Start runs the tasks until ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	if s.cleaner != nil && s.cfg.GetApplicationData().Database.RetentionDays > 0 {
		go s.runCleanerLoop(ctx)
	}
	if s.stats != nil {
		go s.runStatsLoop(ctx, time.Hour)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runCleanerLoop(ctx context.Context) {
	for {
		nextRun := nextDaily(s.cfg.GetApplicationData().Database.CleanupTime, time.Now())
		sleep := time.Until(nextRun)
		if sleep <= 0 {
			sleep = 24 * time.Hour
		}
		log.Info().Time("next_run", nextRun).Dur("sleep", sleep).Msg("incident cleanup scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
			s.cleanIncidents()
		}
	}
}

func (s *Scheduler) cleanIncidents() {
	days := s.cfg.GetApplicationData().Database.RetentionDays
	n, err := s.cleaner.CleanOldIncidents(days)
	if err != nil {
		log.Warn().Err(err).Msg("incident cleanup failed")
		return
	}
	log.Info().Int64("deleted", n).Int("retention_days", days).Msg("incident cleanup completed")
}

func (s *Scheduler) runStatsLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.stats()
			log.Info().
				Int("players", st.Players).
				Int("nodes", st.Nodes).
				Uint32("gametic", st.GameTic).
				Int("resyncing", st.Resyncing).
				Msg("hourly stats")
		}
	}
}

// nextDaily returns the next time after now at the "HH:MM" clock time.
func nextDaily(clock string, now time.Time) time.Time {
	hour, minute := 4, 0
	if parts := strings.Split(clock, ":"); len(parts) >= 2 {
		fmt.Sscanf(parts[0], "%d", &hour)
		fmt.Sscanf(parts[1], "%d", &minute)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
