package engine

import (
	"fmt"
	"slices"

	"github.com/seantiz/depotjobs/internal/model"
)

// Cancel cancels a job. A QUEUED job becomes CANCELLED at once. A STARTED
// job has its cancellation flag raised and its context cancelled; it
// becomes CANCELLED only if the runner then stops with runner.ErrCancelled
// or context.Canceled. Cancelling a terminal job fails with
// model.ErrInvalidTransition.
func (e *Engine) Cancel(guid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	j, ok := e.jobs[guid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, guid)
	}

	switch j.snap.Status {
	case model.StatusQueued:
		if i := slices.Index(e.queue, j); i >= 0 {
			e.queue = slices.Delete(e.queue, i, i+1)
		}
		if err := e.transition(j, model.StatusCancelled); err != nil {
			return err
		}
		e.logJob(j, "job cancelled while queued")
	case model.StatusStarted:
		if !j.cancelled.Load() {
			e.requestCancel(j)
			e.logJob(j, "job cancellation requested")
		}
	default:
		return fmt.Errorf("cancel job %s: %w: %s is terminal", guid, model.ErrInvalidTransition, j.snap.Status)
	}
	return nil
}

// SetProgress records percent (0-100) against a STARTED job. Values not
// above the current progress are ignored so progress never goes backwards.
func (e *Engine) SetProgress(guid string, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("progress %d is outside 0-100", percent)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	j, ok := e.jobs[guid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, guid)
	}
	if j.snap.Status != model.StatusStarted {
		return fmt.Errorf("%w: %s is %s", ErrJobNotStarted, guid, j.snap.Status)
	}
	if cur := j.snap.ProgressPercent; cur != nil && percent <= *cur {
		return nil
	}

	j.snap.ProgressPercent = &percent
	e.publish(j)
	e.logJob(j, "job progress", "progress_percent", percent)
	return nil
}
