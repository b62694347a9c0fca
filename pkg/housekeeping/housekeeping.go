// Package housekeeping runs the periodic GC sweep of the task engine's dedup
// cache and in-progress table (C11 of SPEC_FULL.md).
package housekeeping

import (
	"context"
	"time"

	"github.com/orra-dev/orra-sdk-go/pkg/orralog"
)

const (
	// CleanupInterval matches the Python original's hourly sweep.
	CleanupInterval = time.Hour
	// MaxProcessedTasksAge is the dedup cache TTL.
	MaxProcessedTasksAge = 24 * time.Hour
	// MaxInProgressAge is the in-progress table TTL, covering a handler that
	// crashed or hung without ever completing.
	MaxInProgressAge = 30 * time.Minute
)

// Collectible is the GC surface a task.Engine exposes.
type Collectible interface {
	GC(now time.Time, cacheTTL, progressTTL time.Duration) (evictedCache, evictedProgress int)
}

// Runner drives one ticker-based GC loop for a single task engine.
type Runner struct {
	engine Collectible
	log    *orralog.Logger
}

// New builds a Runner for engine.
func New(engine Collectible, log *orralog.Logger) *Runner {
	return &Runner{engine: engine, log: log}
}

// Run blocks, ticking every CleanupInterval until ctx is cancelled. A panic
// during one sweep is recovered and logged so the loop continues, matching
// spec.md's "Housekeeping exceptions are logged and the loop continues."
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Runner) tick() {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("housekeeping: sweep panicked, continuing: %v", rec)
		}
	}()
	evictedCache, evictedProgress := r.engine.GC(time.Now(), MaxProcessedTasksAge, MaxInProgressAge)
	r.log.Infof("housekeeping: evicted %d cache entries, %d stale in-progress entries", evictedCache, evictedProgress)
}
