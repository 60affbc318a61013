package domain

import (
	"context"
	"errors"
	"sync"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/livecaptions/internal/apperr"
	"github.com/Vovarama1992/livecaptions/internal/models"
	"github.com/Vovarama1992/livecaptions/internal/ports"
	"golang.org/x/sync/semaphore"
)

var ErrDispatcherClosed = errors.New("dispatcher is shut down")

type PipelineRunner interface {
	Run(ctx context.Context, job models.PipelineJob) *models.PipelineRun
}

// Dispatcher runs pipeline jobs in the background, at most max at a time.
// Submit never blocks the caller; queued jobs wait on the semaphore.
type Dispatcher struct {
	runner PipelineRunner
	sem    *semaphore.Weighted
	log    *logger.ZapLogger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	running map[string]*activeRun
}

type activeRun struct {
	cancel context.CancelFunc
}

var _ ports.RunDispatcher = (*Dispatcher)(nil)

func NewDispatcher(runner PipelineRunner, max int, log *logger.ZapLogger) *Dispatcher {
	if max <= 0 {
		max = 1
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner:  runner,
		sem:     semaphore.NewWeighted(int64(max)),
		log:     log,
		base:    base,
		cancel:  cancel,
		running: make(map[string]*activeRun),
	}
}

// Submit starts job unless a run for the same session is already queued or
// running.
func (d *Dispatcher) Submit(job models.PipelineJob) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	if _, busy := d.running[job.SessionID]; busy {
		d.mu.Unlock()
		return apperr.Newf(apperr.KindConflict, "submit", "session %s already has a run in progress", job.SessionID)
	}
	ctx, cancel := context.WithCancel(d.base)
	ar := &activeRun{cancel: cancel}
	d.running[job.SessionID] = ar
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(ctx, ar, job)
	return nil
}

func (d *Dispatcher) run(ctx context.Context, ar *activeRun, job models.PipelineJob) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		if d.running[job.SessionID] == ar {
			delete(d.running, job.SessionID)
		}
		d.mu.Unlock()
		ar.cancel()
	}()

	// A failed Acquire means the run was cancelled while queued. The runner
	// still gets the job so its input is cleaned up.
	if err := d.sem.Acquire(ctx, 1); err == nil {
		defer d.sem.Release(1)
	}

	run := d.runner.Run(ctx, job)
	if run != nil && run.Stage == models.StageErrored {
		d.log.Log(logger.LogEntry{
			Level:   "warn",
			Message: "[DISPATCH] run failed",
			Fields:  map[string]any{"session": job.SessionID, "error": run.Error},
		})
	}
}

// Cancel stops the session's run if there is one.
func (d *Dispatcher) Cancel(sessionID string) bool {
	d.mu.Lock()
	ar, ok := d.running[sessionID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	ar.cancel()
	d.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[DISPATCH] run cancelled",
		Fields:  map[string]any{"session": sessionID},
	})
	return true
}

func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running)
}

// Shutdown rejects new jobs, cancels the running ones and waits for them to
// clean up or for ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
