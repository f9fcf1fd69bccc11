package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/depotjobs/internal/datastore"
	"github.com/seantiz/depotjobs/internal/model"
	"github.com/seantiz/depotjobs/internal/runner"
)

const (
	// DefaultJobTTL is how long a terminal job and its data are retained.
	DefaultJobTTL = 2 * time.Hour

	// DefaultOrphanDataTTL is how long supplied data may sit unattached to any job.
	DefaultOrphanDataTTL = 2 * time.Hour

	DefaultWorkers       = 1
	DefaultQueueCapacity = 256
	DefaultSweepInterval = time.Minute
)

var (
	// ErrNoRunner is returned by Submit and Immediate for an unregistered kind.
	ErrNoRunner = runner.ErrNoRunner

	ErrDuplicateGUID  = errors.New("a job with this guid already exists")
	ErrQueueFull      = errors.New("job queue is full")
	ErrDataNotFound   = errors.New("supplied data not found")
	ErrJobNotFound    = errors.New("job not found")
	ErrJobRunning     = errors.New("job is still running")
	ErrJobNotStarted  = errors.New("job is not started")
	ErrNotRunning     = errors.New("job engine is stopped")
	ErrAlreadyRunning = errors.New("job engine already started")
)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	Workers       int
	QueueCapacity int
	JobTTL        time.Duration
	OrphanDataTTL time.Duration
	// SweepInterval controls the background retention sweep. A negative
	// value disables it.
	SweepInterval time.Duration
	// Now overrides the clock, mainly for retention tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.JobTTL <= 0 {
		o.JobTTL = DefaultJobTTL
	}
	if o.OrphanDataTTL <= 0 {
		o.OrphanDataTTL = DefaultOrphanDataTTL
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

type engineState int

const (
	stateNew engineState = iota
	stateRunning
	stateStopped
)

// Engine orchestrates job submission and execution. One Engine owns its
// job table; there is no process-wide state.
type Engine struct {
	registry *runner.Registry
	data     *datastore.Store
	logger   *slog.Logger
	opts     Options
	broker   *StatusBroker

	mu    sync.Mutex
	state engineState
	jobs  map[string]*job
	queue []*job

	wake   chan struct{}
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewEngine creates a job engine. Call Start to launch the workers.
func NewEngine(reg *runner.Registry, data *datastore.Store, logger *slog.Logger, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		registry: reg,
		data:     data,
		logger:   logger,
		opts:     opts,
		broker:   NewStatusBroker(),
		jobs:     make(map[string]*job),
		wake:     make(chan struct{}, opts.Workers),
	}
}

// Broker returns the engine's status broker.
func (e *Engine) Broker() *StatusBroker {
	return e.broker
}

// Data returns the job data store.
func (e *Engine) Data() *datastore.Store {
	return e.data
}

// Start launches the worker pool and the retention sweeper. Jobs submitted
// before Start stay QUEUED until then.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateRunning:
		return ErrAlreadyRunning
	case stateStopped:
		return ErrNotRunning
	}

	// Blob metadata is not persisted, so anything a durable backend still
	// holds from an earlier process can never be resolved or swept.
	if len(e.data.List()) == 0 {
		e.clearData(ctx)
	} else {
		e.logger.Warn("job data stored before start; storage not cleared")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	for i := range e.opts.Workers {
		g.Go(func() error {
			return e.work(gctx, i)
		})
	}
	if e.opts.SweepInterval > 0 {
		g.Go(func() error {
			return e.sweepLoop(gctx)
		})
	}

	e.state = stateRunning
	e.cancel = cancel
	e.group = g

	e.logger.Info("job engine started",
		"workers", e.opts.Workers,
		"queue_capacity", e.opts.QueueCapacity,
		"job_ttl", e.opts.JobTTL.String(),
	)

	// Wake workers for anything queued before Start.
	for range min(len(e.queue), e.opts.Workers) {
		e.signal()
	}
	return nil
}

// Stop stops accepting work, cancels jobs that are still QUEUED and waits
// for running jobs to return. If ctx expires first, running jobs are asked
// to cancel and Stop keeps waiting for them; runners are never preempted.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state == stateStopped {
		e.mu.Unlock()
		return nil
	}
	wasRunning := e.state == stateRunning
	e.state = stateStopped

	for _, j := range e.queue {
		if err := e.transition(j, model.StatusCancelled); err != nil {
			e.logger.Error("failed to cancel queued job", "job_guid", j.snap.GUID, "error", err)
			continue
		}
		e.logJob(j, "cancelled on shutdown")
	}
	e.queue = nil

	cancel, g := e.cancel, e.group
	e.mu.Unlock()

	if !wasRunning {
		e.clearData(ctx)
		return nil
	}

	e.logger.Info("job engine stopping")
	cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		e.logger.Warn("job engine shutdown timed out, requesting cancellation of running jobs")
		e.cancelStarted()
		err = <-done
	}

	e.clearData(context.WithoutCancel(ctx))
	e.logger.Info("job engine stopped")
	return err
}

// clearData empties the data store. Failure is logged, not returned.
func (e *Engine) clearData(ctx context.Context) {
	if err := e.data.Clear(ctx); err != nil {
		e.logger.Warn("was not able to clear job data storage", "error", err)
		return
	}
	e.logger.Info("did clear job data storage")
}

func (e *Engine) cancelStarted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, j := range e.jobs {
		if j.snap.Status == model.StatusStarted {
			e.requestCancel(j)
		}
	}
}

// signal wakes one idle worker without blocking.
func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// logJob logs a lifecycle event at Info, or Debug for jobs submitted with
// logging suppressed.
func (e *Engine) logJob(j *job, msg string, args ...any) {
	level := slog.LevelInfo
	if j.quiet {
		level = slog.LevelDebug
	}
	attrs := append([]any{"job_guid", j.snap.GUID, "kind", j.snap.Kind}, args...)
	e.logger.Log(context.Background(), level, msg, attrs...)
}
