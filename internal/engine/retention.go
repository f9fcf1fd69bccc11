package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ClearExpiredJobs removes terminal jobs whose retention window has passed,
// evicting their supplied and generated data, then evicts supplied data
// that no job references and that is older than the orphan TTL. It also
// runs on the sweep interval and before every Submit.
func (e *Engine) ClearExpiredJobs(ctx context.Context) error {
	now := e.opts.Now()

	e.mu.Lock()
	var (
		expired []*job
		doomed  []string
	)
	for guid, j := range e.jobs {
		if !j.snap.Status.Terminal() || j.snap.FinishedAt == nil {
			continue
		}
		if now.Sub(*j.snap.FinishedAt) < j.ttl {
			continue
		}
		delete(e.jobs, guid)
		e.broker.Forget(guid)
		expired = append(expired, j)
	}
	for _, j := range expired {
		doomed = append(doomed, e.detachJobData(j)...)
	}
	orphans := e.data.Orphans(e.opts.OrphanDataTTL, func(guid string) bool {
		return e.ownerOf(guid) != nil
	})
	for _, d := range orphans {
		e.data.Detach(d.GUID)
	}
	e.mu.Unlock()

	for _, j := range expired {
		e.logJob(j, "did remove expired job", "status", j.snap.Status)
	}

	var errs []error
	if err := e.evictData(ctx, doomed); err != nil {
		errs = append(errs, err)
	}

	orphanGUIDs := make([]string, 0, len(orphans))
	for _, d := range orphans {
		orphanGUIDs = append(orphanGUIDs, d.GUID)
	}
	if err := e.evictData(ctx, orphanGUIDs); err != nil {
		errs = append(errs, err)
	}
	if len(orphans) > 0 {
		e.logger.Info("did evict orphaned job data", "count", len(orphans))
	}
	return errors.Join(errs...)
}

// RemoveJob removes a terminal job and evicts its data.
func (e *Engine) RemoveJob(ctx context.Context, guid string) error {
	e.mu.Lock()
	j, ok := e.jobs[guid]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, guid)
	}
	if j.snap.Status.Running() {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrJobRunning, guid, j.snap.Status)
	}
	delete(e.jobs, guid)
	e.broker.Forget(guid)
	doomed := e.detachJobData(j)
	e.mu.Unlock()

	e.logJob(j, "did remove job")
	return e.evictData(ctx, doomed)
}

// detachJobData unregisters the data of a job already removed from the
// table, except supplied data that another job still references, and
// returns the GUIDs whose bytes must be evicted. Once detached a GUID no
// longer resolves, so a concurrent Submit cannot pick it up. The caller
// holds e.mu.
func (e *Engine) detachJobData(j *job) []string {
	var doomed []string
	for _, guid := range j.snap.SuppliedDataGUIDs {
		if e.ownerOf(guid) != nil {
			continue
		}
		e.data.Detach(guid)
		doomed = append(doomed, guid)
	}
	for _, guid := range j.snap.GeneratedDataGUIDs {
		e.data.Detach(guid)
		doomed = append(doomed, guid)
	}
	return doomed
}

// evictData removes the stored bytes of detached data.
func (e *Engine) evictData(ctx context.Context, guids []string) error {
	var errs []error
	for _, guid := range guids {
		if err := e.data.Evict(ctx, guid); err != nil {
			e.logger.Error("was not able to evict job data; data will remain in situ", "data_guid", guid, "error", err)
			errs = append(errs, err)
			continue
		}
		e.logger.Debug("did evict job data", "data_guid", guid)
	}
	return errors.Join(errs...)
}

func (e *Engine) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.ClearExpiredJobs(ctx); err != nil {
				e.logger.Warn("retention sweep incomplete", "error", err)
			}
		}
	}
}
