package dispatch

import (
	"context"
	"time"

	"vetdispatch/core/logger"
)

// Reaper expires overdue pending requests on a fixed interval. It keeps no
// state of its own: every sweep goes through the store's conditional
// update, so any number of reapers can run against the same store.
type Reaper struct {
	engine   *Engine
	interval time.Duration
	log      logger.Logger
}

// NewReaper creates a Reaper. A non-positive interval defaults to one
// minute.
func NewReaper(engine *Engine, interval time.Duration, log logger.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Reaper{engine: engine, interval: interval, log: log}
}

// Run sweeps until the context is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs a single expiry pass.
func (r *Reaper) Sweep(ctx context.Context) {
	n, err := r.engine.ExpireDue(ctx)
	if err != nil {
		r.log.Errorf("expiry sweep failed: %v", err)
		return
	}
	if n > 0 {
		r.log.Infof("expired %d overdue requests", n)
	}
}
