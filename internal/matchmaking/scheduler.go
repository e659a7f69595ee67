package matchmaking

import (
	"context"
	"log"
	"time"
)

// Scheduler drives the periodic expiry sweep. It is the single background
// reaper; proposal TTLs are only opportunistically enforced on the request
// path, so the sweep bounds how long a stale proposal can linger.
type Scheduler struct {
	queue    *QueueManager
	interval time.Duration
}

func NewScheduler(queue *QueueManager, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Scheduler{queue: queue, interval: interval}
}

func (s *Scheduler) Start(ctx context.Context) {
	go s.runSweep(ctx)
}

func (s *Scheduler) runSweep(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			reaped, err := s.queue.ExpireStale(ctx)
			if err != nil {
				log.Printf("Expiry sweep failed: %v", err)
				continue
			}
			if reaped > 0 {
				log.Printf("Expiry sweep reaped %d proposals", reaped)
			}
		case <-ctx.Done():
			return
		}
	}
}
