package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically removes expired counters and cache entries.
type Janitor struct {
	store    Store
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewJanitor creates a Janitor running store.Cleanup on a cron schedule
// such as "@every 1m" or "*/5 * * * *".
func NewJanitor(store Store, schedule string, logger *slog.Logger) *Janitor {
	return &Janitor{
		store:    store,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With("component", "store.janitor"),
	}
}

// Start schedules the cleanup job. An empty schedule disables it.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.schedule == "" {
		j.logger.Info("cleanup schedule not configured, skipping janitor")
		return nil
	}
	if _, err := cron.ParseStandard(j.schedule); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", j.schedule, err)
	}
	if _, err := j.cron.AddFunc(j.schedule, j.RunOnce); err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}

	j.cron.Start()
	j.running = true
	j.logger.Info("store janitor started", "schedule", j.schedule)
	return nil
}

// RunOnce performs a single cleanup pass.
func (j *Janitor) RunOnce() {
	removed, err := j.store.Cleanup(context.Background(), time.Now())
	if err != nil {
		j.logger.Error("store cleanup failed", "err", err)
		return
	}
	if removed > 0 {
		j.logger.Debug("store cleanup completed", "removed", removed)
	}
}

// Stop halts the schedule and waits for a running job to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}
	<-j.cron.Stop().Done()
	j.running = false
	j.logger.Info("store janitor stopped")
}
