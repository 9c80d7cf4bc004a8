// Package scheduler runs periodic housekeeping for the bot.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/bot"
	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/metrics"
)

// Scheduler manages the maintenance cron job
type Scheduler struct {
	cron     *cron.Cron
	state    *bot.State
	cooldown time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// NewScheduler creates a scheduler running maintenance on schedule (standard
// cron syntax or descriptors such as "@every 10m").
func NewScheduler(schedule string, state *bot.State, cooldown time.Duration, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(),
		state:    state,
		cooldown: cooldown,
		logger:   logger,
		now:      time.Now,
	}
	if _, err := s.cron.AddFunc(schedule, s.Maintain); err != nil {
		return nil, fmt.Errorf("schedule maintenance %q: %w", schedule, err)
	}
	return s, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Run starts the scheduler and stops it when ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	s.Stop()
	return nil
}

// Maintain prunes expired cooldown entries, refreshes the state gauges and
// logs a heartbeat. Pruning never changes who may ask: an expired entry
// already allows the next question.
func (s *Scheduler) Maintain() {
	pruned := s.state.Cooldowns.Prune(s.now(), s.cooldown)
	tracked := s.state.Cooldowns.Len()
	locks := s.state.Locks.Len()

	metrics.TrackedCooldowns.Set(float64(tracked))
	metrics.GuildLocks.Set(float64(locks))

	s.logger.Info().
		Int("guilds", s.state.Quota.Guilds()).
		Int("guild_locks", locks).
		Int("tracked_cooldowns", tracked).
		Int("pruned_cooldowns", pruned).
		Msg("maintenance heartbeat")
}
