package pipeline

import (
	"context"
	"time"
)

// DefaultRetention is how long a terminal job's working area is kept
// before the reaper removes it.
const DefaultRetention = 2 * time.Hour

// DefaultSweepInterval is how often the reaper looks for candidates.
const DefaultSweepInterval = 10 * time.Minute

// Reaper removes working areas of terminal jobs older than the retention
// threshold. It never touches a job that is still in flight.
type Reaper struct {
	orch      *Orchestrator
	retention time.Duration
	interval  time.Duration
}

// NewReaper builds a reaper over the orchestrator. Non-positive
// durations fall back to the defaults.
func NewReaper(orch *Orchestrator, retention, interval time.Duration) *Reaper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Reaper{orch: orch, retention: retention, interval: interval}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep runs one pass and returns how many working areas were removed.
func (r *Reaper) Sweep() int {
	cutoff := time.Now().Add(-r.retention)
	removed := 0

	// In-memory jobs first.
	r.orch.mu.RLock()
	var candidates []string
	for id, tracked := range r.orch.jobs {
		if tracked.job.State.Terminal() && !tracked.cleaned &&
			tracked.area != nil && tracked.job.UpdatedAt.Before(cutoff) {
			candidates = append(candidates, id)
		}
	}
	r.orch.mu.RUnlock()

	for _, id := range candidates {
		if err := r.orch.Cleanup(id); err == nil {
			removed++
		}
	}

	// Jobs persisted by earlier runs of the process.
	if store := r.orch.opts.Store; store != nil {
		stale, err := store.TerminalBefore(cutoff)
		if err != nil {
			r.orch.opts.Logger.Warn("reaper: failed to list stale jobs: %v", err)
			return removed
		}
		for _, job := range stale {
			r.orch.mu.RLock()
			_, inMemory := r.orch.jobs[job.ID]
			r.orch.mu.RUnlock()
			if inMemory {
				continue // already handled above
			}
			if err := r.orch.Cleanup(job.ID); err == nil {
				removed++
			}
		}
	}
	return removed
}
