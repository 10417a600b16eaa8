package room

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reaper periodically removes rooms that were created but never joined.
// It satisfies the lifecycle Service contract: Start blocks until Stop.
type Reaper struct {
	registry *Registry
	interval time.Duration
	grace    time.Duration
	logger   *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewReaper creates a Reaper.
//
// Precondition: registry and logger must be non-nil; interval must be positive.
func NewReaper(registry *Registry, interval, grace time.Duration, logger *zap.Logger) *Reaper {
	return &Reaper{
		registry: registry,
		interval: interval,
		grace:    grace,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start runs the reap loop until Stop is called.
func (r *Reaper) Start() error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return nil
		case <-ticker.C:
			r.RunOnce()
		}
	}
}

// RunOnce performs a single reap pass.
//
// Postcondition: Returns the number of rooms removed.
func (r *Reaper) RunOnce() int {
	reaped := r.registry.Reap(r.registry.now(), r.grace)
	for _, id := range reaped {
		r.logger.Info("room removed", zap.String("room_id", id), zap.String("reason", "abandoned"))
	}
	return len(reaped)
}

// Stop ends the reap loop. Safe to call more than once.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}
