package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/seantiz/depotjobs/internal/datastore"
	"github.com/seantiz/depotjobs/internal/model"
	"github.com/seantiz/depotjobs/internal/runner"
)

// work is one worker's loop: sleep until signalled, then drain the queue.
func (e *Engine) work(ctx context.Context, id int) error {
	e.logger.Debug("job worker started", "worker", id)
	defer e.logger.Debug("job worker stopped", "worker", id)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.wake:
		}
		for ctx.Err() == nil {
			j, jctx, ok := e.dequeue(ctx)
			if !ok {
				break
			}
			e.execute(jctx, j)
		}
	}
}

// dequeue claims the oldest QUEUED job and moves it to STARTED. The job
// context survives worker shutdown; only Cancel or a timed-out Stop ends it.
func (e *Engine) dequeue(ctx context.Context) (*job, context.Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for e.state == stateRunning && len(e.queue) > 0 {
		j := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]

		jctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		j.cancel = cancel
		if err := e.transition(j, model.StatusStarted); err != nil {
			cancel()
			e.logger.Error("failed to start job", "job_guid", j.snap.GUID, "error", err)
			continue
		}
		return j, jctx, true
	}
	return nil, nil, false
}

// execute runs a STARTED job to completion on the calling goroutine.
func (e *Engine) execute(ctx context.Context, j *job) {
	e.logJob(j, "job started")
	err := e.invoke(ctx, j)
	e.abortWriters(j)
	e.complete(j, err)
}

// invoke calls the job's runner, turning a panic into an error.
func (e *Engine) invoke(ctx context.Context, j *job) (err error) {
	r, err := e.registry.Resolve(j.snap.Kind)
	if err != nil {
		return err
	}

	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("job runner panicked",
				"job_guid", j.snap.GUID,
				"kind", j.snap.Kind,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	h := &handle{
		e:      e,
		j:      j,
		logger: e.logger.With("job_guid", j.snap.GUID, "kind", j.snap.Kind),
	}
	return r.Run(ctx, h, j.spec)
}

// complete records the runner outcome as the job's terminal status.
func (e *Engine) complete(j *job, runErr error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	to := model.StatusFinished
	switch {
	case runErr == nil:
	case j.cancelled.Load() && (errors.Is(runErr, runner.ErrCancelled) || errors.Is(runErr, context.Canceled)):
		to = model.StatusCancelled
	default:
		to = model.StatusFailed
		msg := runErr.Error()
		if msg == "" {
			msg = fmt.Sprintf("%T", runErr)
		}
		j.snap.FailureMessage = msg
	}

	if err := e.transition(j, to); err != nil {
		e.logger.Error("failed to complete job", "job_guid", j.snap.GUID, "error", err)
		return
	}

	switch to {
	case model.StatusFinished:
		e.logJob(j, "job finished", "status", to)
	case model.StatusCancelled:
		e.logJob(j, "job cancelled", "status", to)
	default:
		e.logger.Warn("job failed",
			"job_guid", j.snap.GUID,
			"kind", j.snap.Kind,
			"status", to,
			"error", j.snap.FailureMessage,
		)
	}
}

// abortWriters discards generated data the runner left unclosed.
func (e *Engine) abortWriters(j *job) {
	e.mu.Lock()
	open := make([]*datastore.Writer, 0, len(j.writers))
	for w := range j.writers {
		open = append(open, w)
	}
	clear(j.writers)
	e.mu.Unlock()

	for _, w := range open {
		if err := w.Abort(); err != nil {
			e.logger.Warn("failed to abort generated data", "job_guid", j.snap.GUID, "data_guid", w.GUID(), "error", err)
			continue
		}
		e.logger.Debug("aborted unclosed generated data", "job_guid", j.snap.GUID, "data_guid", w.GUID())
	}
}

// handle is the runner's view of the job it is executing.
type handle struct {
	e      *Engine
	j      *job
	logger *slog.Logger
}

var _ runner.Job = (*handle)(nil)

func (h *handle) GUID() string {
	return h.j.snap.GUID
}

func (h *handle) Cancelled() bool {
	return h.j.cancelled.Load()
}

func (h *handle) SetProgress(percent int) error {
	return h.e.SetProgress(h.j.snap.GUID, percent)
}

func (h *handle) StoreGeneratedData(ctx context.Context, name, mediaType string, enc model.Encoding) (*datastore.Writer, error) {
	return h.e.StoreGeneratedData(ctx, h.j.snap.GUID, name, mediaType, enc)
}

func (h *handle) ObtainData(ctx context.Context, guid string) (*datastore.Object, bool, error) {
	return h.e.TryObtainData(ctx, guid)
}

func (h *handle) Logger() *slog.Logger {
	return h.logger
}
