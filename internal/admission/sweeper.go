package admission

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the eviction sweep at the top of every hour.
const DefaultSweepSchedule = "0 * * * *"

// Sweeper evicts stale state on a cron schedule: window buckets past the
// retention horizon and expired tenant cache entries. It backs up the
// stores' own opportunistic sweeps so memory stays bounded even when a
// tenant goes quiet and never triggers an inline sweep again.
type Sweeper struct {
	counters *WindowCounterStore
	cache    *TenantCache
	schedule string
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper creates a sweeper over the shared store and cache. An empty
// schedule falls back to hourly.
func NewSweeper(counters *WindowCounterStore, cache *TenantCache, schedule string, logger *slog.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{
		counters: counters,
		cache:    cache,
		schedule: schedule,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Start begins scheduled sweeping. Returns an error if the cron expression
// does not parse.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, s.runSweep); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("admission sweeper started", "schedule", s.schedule)
	return nil
}

func (s *Sweeper) runSweep() {
	now := time.Now()
	buckets := s.counters.Sweep(now)
	entries := s.cache.Sweep(now)
	if buckets > 0 || entries > 0 {
		s.logger.Info("admission sweep completed",
			"window_buckets_dropped", buckets,
			"cache_entries_dropped", entries,
		)
	} else {
		s.logger.Debug("admission sweep completed, nothing to drop")
	}
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("admission sweeper stopped")
}
