package engine

import (
	"time"

	"github.com/seantiz/depotjobs/internal/model"
)

// awaitAllPollInterval is how often AwaitAllFinished rechecks the job table.
const awaitAllPollInterval = 50 * time.Millisecond

// AwaitFinished blocks until the job is terminal or timeout elapses and
// reports whether the job is no longer running. An unknown job counts as
// not running and returns at once. The wait takes no context and cannot be
// interrupted; a timed-out wait does not affect the job.
func (e *Engine) AwaitFinished(guid string, timeout time.Duration) bool {
	e.mu.Lock()
	j, ok := e.jobs[guid]
	if !ok || j.snap.Status.Terminal() {
		e.mu.Unlock()
		return true
	}
	// Subscribing under e.mu means the terminal close cannot be missed.
	updates, unsubscribe := e.broker.Subscribe(guid)
	e.mu.Unlock()
	defer unsubscribe()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case _, open := <-updates:
			if !open {
				return true
			}
		case <-timer.C:
			return !e.running(guid)
		}
	}
}

// AwaitAllFinished blocks until no job is QUEUED or STARTED, or timeout
// elapses, and reports whether the engine became idle.
func (e *Engine) AwaitAllFinished(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if e.idle() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		time.Sleep(min(remaining, awaitAllPollInterval))
	}
}

// Watch returns the job's current snapshot and a channel of subsequent
// updates. The channel is closed once the job is terminal or removed; call
// the returned function to stop watching early.
func (e *Engine) Watch(guid string) (model.Snapshot, <-chan model.Snapshot, func(), bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[guid]
	if !ok {
		return model.Snapshot{}, nil, func() {}, false
	}
	updates, unsubscribe := e.broker.Subscribe(guid)
	return j.snap.Clone(), updates, unsubscribe, true
}

func (e *Engine) running(guid string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[guid]
	return ok && j.snap.Status.Running()
}

func (e *Engine) idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, j := range e.jobs {
		if j.snap.Status.Running() {
			return false
		}
	}
	return true
}
