package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/depotjobs/internal/model"
)

// Submit queues spec for execution and returns its job GUID. When coalesce
// is non-empty and an equivalent job with a status in coalesce exists, that
// job's GUID is returned instead and nothing new is queued. A missing spec
// GUID is assigned here.
func (e *Engine) Submit(ctx context.Context, spec model.Specification, coalesce model.StatusSet) (string, error) {
	if err := e.ClearExpiredJobs(ctx); err != nil {
		e.logger.Warn("failed to clear expired jobs before submit", "error", err)
	}

	if err := e.validate(spec); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateStopped {
		return "", ErrNotRunning
	}

	if existing := e.findCoalescable(spec, coalesce); existing != nil {
		jobsCoalesced.WithLabelValues(existing.snap.Kind).Inc()
		e.logJob(existing, "coalesced equivalent submission", "status", existing.snap.Status)
		return existing.snap.GUID, nil
	}

	if len(e.queue) >= e.opts.QueueCapacity {
		return "", fmt.Errorf("%w: %d jobs queued", ErrQueueFull, len(e.queue))
	}

	j, err := e.newJob(spec, false)
	if err != nil {
		return "", err
	}
	e.queue = append(e.queue, j)
	e.logJob(j, "job queued")

	if e.state == stateRunning {
		e.signal()
	}
	return j.snap.GUID, nil
}

// Immediate runs spec on the calling goroutine, bypassing the queue, and
// returns once the job is terminal. A failing runner is reported through
// the job's snapshot, not the returned error. With suppressLogging the
// job's lifecycle is logged at Debug.
func (e *Engine) Immediate(ctx context.Context, spec model.Specification, suppressLogging bool) (string, error) {
	if err := e.validate(spec); err != nil {
		return "", err
	}

	e.mu.Lock()
	if e.state == stateStopped {
		e.mu.Unlock()
		return "", ErrNotRunning
	}
	j, err := e.newJob(spec, suppressLogging)
	if err != nil {
		e.mu.Unlock()
		return "", err
	}
	jctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j.cancel = cancel
	if err := e.transition(j, model.StatusStarted); err != nil {
		e.mu.Unlock()
		cancel()
		return "", err
	}
	e.mu.Unlock()

	e.execute(jctx, j)
	return j.snap.GUID, nil
}

// validate rejects a specification before anything is queued.
func (e *Engine) validate(spec model.Specification) error {
	if spec == nil {
		return errors.New("job specification is nil")
	}
	if spec.Kind() == "" {
		return errors.New("job specification has no kind")
	}
	if _, err := e.registry.Resolve(spec.Kind()); err != nil {
		return err
	}
	if guid := spec.GUID(); guid != "" && !model.ValidID(guid) {
		return fmt.Errorf("invalid job guid %q", guid)
	}
	for _, guid := range spec.SuppliedDataGUIDs() {
		if _, ok := e.data.Lookup(guid); !ok {
			return fmt.Errorf("%w: %s", ErrDataNotFound, guid)
		}
	}
	return nil
}

// coalesceRank orders candidate statuses; lower is preferred.
func coalesceRank(s model.Status) int {
	switch s {
	case model.StatusFinished:
		return 0
	case model.StatusStarted:
		return 1
	default:
		return 2
	}
}

// findCoalescable returns the preferred equivalent job whose status is in
// statuses: FINISHED before STARTED before QUEUED, then the most recent.
// The caller holds e.mu.
func (e *Engine) findCoalescable(spec model.Specification, statuses model.StatusSet) *job {
	if len(statuses) == 0 {
		return nil
	}

	var best *job
	for _, j := range e.jobs {
		if !statuses.Contains(j.snap.Status) || !j.spec.Equivalent(spec) {
			continue
		}
		if best == nil || preferCoalesce(j, best) {
			best = j
		}
	}
	return best
}

// preferCoalesce reports whether a beats b. Within a status the latest
// finished, then started, then queued job wins; it is also the one that
// expires last.
func preferCoalesce(a, b *job) bool {
	ra, rb := coalesceRank(a.snap.Status), coalesceRank(b.snap.Status)
	if ra != rb {
		return ra < rb
	}
	if c := compareTimes(a.snap.FinishedAt, b.snap.FinishedAt); c != 0 {
		return c > 0
	}
	if c := compareTimes(a.snap.StartedAt, b.snap.StartedAt); c != 0 {
		return c > 0
	}
	if c := a.snap.QueuedAt.Compare(b.snap.QueuedAt); c != 0 {
		return c > 0
	}
	return a.snap.GUID < b.snap.GUID
}

// compareTimes orders unset before any time.
func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}
