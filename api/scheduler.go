/*
scheduler.go - Automated overdue sweep scheduler

PURPOSE:
  Periodically runs the overdue sweep so that contracts whose platform fee
  lapsed past the payment deadline are force-cancelled and penalized
  without manual intervention.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each tick sweeps as of today's UTC date
  - The sweep itself is idempotent: a contract already cancelled by an
    earlier tick (or by a concurrent manual trigger) is skipped
  - Each run is recorded for audit and UI display

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewOverdueScheduler(engine)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunSweep endpoint (manual trigger)
  - lifecycle/sweep.go: The sweep itself
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pharmabridge/engagement-engine/lifecycle"
)

// OverdueScheduler runs the overdue sweep on a timer.
type OverdueScheduler struct {
	Engine        *lifecycle.Engine
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewOverdueScheduler creates a new scheduler.
func NewOverdueScheduler(engine *lifecycle.Engine) *OverdueScheduler {
	return &OverdueScheduler{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (os *OverdueScheduler) Start() {
	os.mu.Lock()
	defer os.mu.Unlock()

	if !os.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	os.ticker = time.NewTicker(os.CheckInterval)
	os.wg.Add(1)

	go os.run()

	log.Printf("[Scheduler] Started with check interval: %v", os.CheckInterval)
}

// Stop stops the scheduler.
func (os *OverdueScheduler) Stop() {
	os.mu.Lock()
	defer os.mu.Unlock()

	if os.ticker != nil {
		os.ticker.Stop()
		close(os.stop)
		os.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (os *OverdueScheduler) run() {
	defer os.wg.Done()

	// Run immediately on start
	os.sweep()

	for {
		select {
		case <-os.ticker.C:
			os.sweep()
		case <-os.stop:
			return
		}
	}
}

func (os *OverdueScheduler) sweep() {
	ctx := context.Background()
	asOf := lifecycle.TodayUTC()

	results, err := os.Engine.RunOverdueSweep(ctx, asOf)
	if err != nil {
		log.Printf("[Scheduler] Sweep failed as of %s: %v", asOf, err)
		return
	}
	if len(results) > 0 {
		log.Printf("[Scheduler] Sweep as of %s cancelled %d contracts", asOf, len(results))
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (os *OverdueScheduler) RunNow() {
	os.sweep()
}

// GetNextRunTime returns when the next scheduled sweep will occur.
func (os *OverdueScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(os.CheckInterval)
}
