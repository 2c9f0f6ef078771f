package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/taskcore/internal/domain"
)

// spawnSlots starts one supervised goroutine per configured slot
func (p *Pool) spawnSlots(ctx context.Context) {
	p.logger.Info("Spawning worker slots",
		slog.Int("concurrency", p.concurrency),
	)

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.superviseSlot(ctx, i)
	}
}

// superviseSlot restarts a slot whose handler panicked
func (p *Pool) superviseSlot(ctx context.Context, slotNum int) {
	defer p.wg.Done()

	slotID := fmt.Sprintf("%s-%d", p.workerID, slotNum)
	for generation := 0; ; generation++ {
		if !p.slotLoop(ctx, slotID, generation) {
			return
		}

		p.respawns.Add(1)
		p.logger.Warn("Respawning worker slot after handler panic",
			slog.String("slot", slotID),
			slog.Int("generation", generation+1),
		)
	}
}

// slotLoop claims and runs jobs until ctx is done. It returns true when the
// slot must be replaced because its handler panicked.
func (p *Pool) slotLoop(ctx context.Context, slotID string, generation int) bool {
	logger := p.logger.With(
		slog.String("slot", slotID),
		slog.Int("generation", generation),
	)
	logger.Debug("Worker slot started")

	var backoff time.Duration
	for {
		if ctx.Err() != nil {
			logger.Debug("Worker slot stopping - context canceled")
			return false
		}

		job, err := p.store.Claim(ctx, slotID)
		switch {
		case err == nil:
			backoff = 0
			if p.execute(ctx, logger, slotID, job) {
				return true
			}

		case errors.Is(err, domain.ErrNoJobAvailable):
			backoff = 0
			p.idle(ctx)

		case ctx.Err() != nil:
			return false

		default:
			// Store or broker unavailable: pause claiming until it comes back
			backoff = nextBackoff(backoff, p.pollInterval, p.maxBackoff)
			logger.Warn("Failed to claim job, backing off",
				slog.Duration("retry_after", backoff),
				slog.String("error", err.Error()),
			)
			sleep(ctx, backoff)
		}
	}
}

// idle waits for a dispatch nudge or the next poll tick
func (p *Pool) idle(ctx context.Context) {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-p.wake:
	case <-timer.C:
	}
}

func nextBackoff(current, base, ceiling time.Duration) time.Duration {
	if current <= 0 {
		return base
	}
	next := current * 2
	if next > ceiling {
		return ceiling
	}
	return next
}
