package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/taskcore/internal/domain"
	"github.com/cuongbtq/taskcore/internal/jobstore"
)

// errJobLeftRunning cancels a handler whose job was cancelled or removed under the abort policy
var errJobLeftRunning = errors.New("job is no longer running")

// execute runs the handler for a claimed job and records the outcome.
// It returns true when the handler panicked.
func (p *Pool) execute(ctx context.Context, logger *slog.Logger, slotID string, job *domain.Job) (panicked bool) {
	p.busy.Add(1)
	defer p.busy.Add(-1)

	logger = logger.With(slog.String("job_id", job.ID))
	logger.Info("Processing job",
		slog.String("product", job.Payload.ProductID),
		slog.Int("priority", job.Priority),
	)

	// Shutdown does not interrupt a handler; Stop waits for it instead
	runCtx, abort := context.WithCancelCause(context.WithoutCancel(ctx))
	defer abort(nil)

	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(runCtx, p.jobTimeout, domain.ErrHandlerTimeout)
		defer cancel()
	}

	heartbeatDone := make(chan struct{})
	heartbeatExited := make(chan struct{})
	go p.sendJobHeartbeat(runCtx, logger, job.ID, abort, heartbeatDone, heartbeatExited)

	started := time.Now()
	result, err := p.invoke(runCtx, logger, job)
	close(heartbeatDone)
	<-heartbeatExited

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	cause := context.Cause(runCtx)
	switch {
	case err != nil && errors.Is(cause, errJobLeftRunning):
		logger.Info("Handler aborted after job left running state",
			slog.Duration("duration", time.Since(started)),
		)
		return false

	case err != nil:
		panicked = errors.Is(err, domain.ErrHandlerPanic)
		detail := err.Error()
		if errors.Is(cause, domain.ErrHandlerTimeout) {
			detail = fmt.Sprintf("%s after %s", domain.ErrHandlerTimeout, p.jobTimeout)
		}

		logger.Error("Job execution failed",
			slog.Duration("duration", time.Since(started)),
			slog.String("error", detail),
		)
		p.record(logger, "failed", p.store.Fail(writeCtx, job.ID, slotID, detail))

	default:
		logger.Info("Job completed successfully",
			slog.Duration("duration", time.Since(started)),
		)
		p.record(logger, "completed", p.store.Complete(writeCtx, job.ID, slotID, result))
	}

	return panicked
}

// invoke calls the handler and turns a panic into an error
func (p *Pool) invoke(ctx context.Context, logger *slog.Logger, job *domain.Job) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job handler panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result = nil
			err = fmt.Errorf("%w: %v", domain.ErrHandlerPanic, r)
		}
	}()

	return p.handler.Handle(ctx, job.Clone())
}

// record logs the result of a status write. Writes refused because the job
// was removed or cancelled meanwhile are expected and only logged.
func (p *Pool) record(logger *slog.Logger, state string, err error) {
	switch {
	case err == nil:
	case jobstore.IsDroppedWrite(err):
		logger.Info("Dropped status write for job that left running state",
			slog.String("state", state),
			slog.String("reason", err.Error()),
		)
	default:
		logger.Error("Failed to update job status",
			slog.String("state", state),
			slog.String("error", err.Error()),
		)
	}
}

// sendJobHeartbeat periodically refreshes the job's heartbeat and watches
// for the job leaving the running state
func (p *Pool) sendJobHeartbeat(ctx context.Context, logger *slog.Logger, jobID string, abort context.CancelCauseFunc, done <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			beatCtx, cancel := context.WithTimeout(ctx, p.heartbeatInterval)
			state, err := p.store.Heartbeat(beatCtx, jobID)
			cancel()

			switch {
			case errors.Is(err, domain.ErrJobNotFound):
				state = domain.StateRemoved
			case err != nil:
				logger.Warn("Failed to update job heartbeat",
					slog.String("error", err.Error()),
				)
				continue
			}

			if state == domain.StateRunning {
				continue
			}

			if p.cancelPolicy == CancelAbort {
				logger.Info("Aborting handler",
					slog.String("state", state.String()),
				)
				abort(errJobLeftRunning)
			} else {
				logger.Info("Job left running state, handler continues",
					slog.String("state", state.String()),
				)
			}
			return
		}
	}
}
