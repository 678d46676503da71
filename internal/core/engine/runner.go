package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/catalogsync/catalogsync/internal/core"
)

// ErrSyncInProgress is returned when a run is requested while another run is
// still active.
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrRunnerStopped is returned by Trigger once the Loop context is done.
var ErrRunnerStopped = errors.New("sync runner is stopping")

// RunnerStatus is the serve-mode view of the runner.
type RunnerStatus struct {
	Running   bool          `json:"running"`
	LastRun   *core.SyncRun `json:"last_run,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	RunCount  int           `json:"run_count"`
}

// Runner serializes sync runs for long-lived processes: at most one run is in
// flight, runs can be triggered on demand, and Loop drives periodic runs.
type Runner struct {
	orch *Orchestrator

	// OnRun is called after every finished run, outside the runner lock.
	OnRun func(run *core.SyncRun, err error)

	mu       sync.Mutex
	running  bool
	last     *core.SyncRun
	lastErr  error
	runCount int
	base     context.Context
	stopping bool
	wg       sync.WaitGroup
}

// NewRunner wraps an orchestrator.
func NewRunner(orch *Orchestrator) *Runner {
	return &Runner{orch: orch}
}

// RunOnce executes a run synchronously.
func (r *Runner) RunOnce(ctx context.Context) (*Result, error) {
	if !r.begin() {
		return nil, ErrSyncInProgress
	}
	return r.execute(ctx)
}

// Trigger starts a run in the background and returns immediately. The run is
// bound to the Loop context when one is active, so shutdown cancels it. Once
// that context is done Trigger returns ErrRunnerStopped.
func (r *Runner) Trigger(ctx context.Context) error {
	r.mu.Lock()
	if r.stopping || (r.base != nil && r.base.Err() != nil) {
		r.mu.Unlock()
		return ErrRunnerStopped
	}
	if r.running {
		r.mu.Unlock()
		return ErrSyncInProgress
	}
	r.running = true
	runCtx := r.base
	// Add happens under mu so it can never race the Wait in Loop's shutdown.
	r.wg.Add(1)
	r.mu.Unlock()

	if runCtx == nil {
		runCtx = context.WithoutCancel(ctx)
	}
	go func() {
		defer r.wg.Done()
		_, _ = r.execute(runCtx)
	}()
	return nil
}

// Loop runs a sync every interval until ctx is cancelled. With runNow set the
// first run starts immediately. A tick that lands while a run is active is
// skipped. Loop returns after in-flight runs finish.
func (r *Runner) Loop(ctx context.Context, interval time.Duration, runNow bool) {
	r.mu.Lock()
	r.base = ctx
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.stopping = true
		r.mu.Unlock()

		r.wg.Wait()

		r.mu.Lock()
		r.base = nil
		r.stopping = false
		r.mu.Unlock()
	}()

	if runNow {
		r.tick(ctx)
	}
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// Wait blocks until background runs started by Trigger have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Status reports whether a run is active and the last finished run.
func (r *Runner) Status() RunnerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := RunnerStatus{
		Running:  r.running,
		LastRun:  r.last,
		RunCount: r.runCount,
	}
	if r.lastErr != nil {
		status.LastError = r.lastErr.Error()
	}
	return status
}

// Orchestrator exposes the wrapped orchestrator.
func (r *Runner) Orchestrator() *Orchestrator {
	return r.orch
}

func (r *Runner) tick(ctx context.Context) {
	if err := r.Trigger(ctx); errors.Is(err, ErrSyncInProgress) {
		r.orch.log().Info("Skipping scheduled sync; previous run still active")
	}
}

func (r *Runner) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *Runner) execute(ctx context.Context) (*Result, error) {
	result, err := r.orch.Sync(ctx)

	var run *core.SyncRun
	if result != nil {
		run = result.Run
	}

	r.mu.Lock()
	r.running = false
	r.runCount++
	r.lastErr = err
	if run != nil {
		r.last = run
	}
	r.mu.Unlock()

	if err != nil {
		r.orch.log().Error("Sync run rejected", zap.Error(err))
	}
	if r.OnRun != nil {
		r.OnRun(run, err)
	}
	return result, err
}
