package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/seantiz/depotjobs/internal/datastore"
	"github.com/seantiz/depotjobs/internal/model"
)

// job is the engine's private record for one submission. Every field other
// than cancelled is guarded by Engine.mu.
type job struct {
	spec  model.Specification
	snap  model.Snapshot
	ttl   time.Duration
	quiet bool

	cancelled atomic.Bool
	cancel    context.CancelFunc
	writers   map[*datastore.Writer]struct{}
}

// newJob registers a QUEUED job for spec. The caller holds e.mu.
func (e *Engine) newJob(spec model.Specification, quiet bool) (*job, error) {
	guid := spec.GUID()
	if guid == "" {
		guid = model.NewID()
	} else if _, exists := e.jobs[guid]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateGUID, guid)
	}
	// Supplied data may have been evicted since validate; checked again
	// under the lock so no job is queued against missing input.
	for _, dataGUID := range spec.SuppliedDataGUIDs() {
		if _, ok := e.data.Lookup(dataGUID); !ok {
			return nil, fmt.Errorf("%w: %s", ErrDataNotFound, dataGUID)
		}
	}
	spec.SetGUID(guid)

	ttl := spec.TimeToLive()
	if ttl <= 0 {
		ttl = e.opts.JobTTL
	}

	j := &job{
		spec:  spec,
		ttl:   ttl,
		quiet: quiet,
		snap: model.Snapshot{
			GUID:               guid,
			Kind:               spec.Kind(),
			Status:             model.StatusQueued,
			OwnerNickname:      spec.OwnerNickname(),
			QueuedAt:           e.opts.Now(),
			SuppliedDataGUIDs:  append([]string(nil), spec.SuppliedDataGUIDs()...),
			GeneratedDataGUIDs: []string{},
		},
		writers: make(map[*datastore.Writer]struct{}),
	}
	e.jobs[guid] = j

	jobsSubmitted.WithLabelValues(j.snap.Kind).Inc()
	jobsQueued.Inc()
	e.publish(j)
	return j, nil
}

// transition moves j to status, stamping times and updating metrics and
// subscribers. The caller holds e.mu.
func (e *Engine) transition(j *job, to model.Status) error {
	from := j.snap.Status
	if err := model.CheckTransition(from, to); err != nil {
		return fmt.Errorf("job %s: %w", j.snap.GUID, err)
	}
	now := e.opts.Now()
	j.snap.Status = to

	switch from {
	case model.StatusQueued:
		jobsQueued.Dec()
	case model.StatusStarted:
		jobsStarted.Dec()
	}

	if to == model.StatusStarted {
		j.snap.StartedAt = &now
		jobsStarted.Inc()
	}
	if to.Terminal() {
		j.snap.FinishedAt = &now
		jobsCompleted.WithLabelValues(j.snap.Kind, string(to)).Inc()
		if j.snap.StartedAt != nil {
			jobDuration.WithLabelValues(j.snap.Kind).Observe(now.Sub(*j.snap.StartedAt).Seconds())
		}
		if j.cancel != nil {
			j.cancel()
		}
	}

	e.publish(j)
	if to.Terminal() {
		e.broker.Close(j.snap.GUID)
	}
	return nil
}

// requestCancel raises the cooperative cancellation flag on a STARTED job.
// The caller holds e.mu.
func (e *Engine) requestCancel(j *job) {
	if j.cancelled.Swap(true) {
		return
	}
	j.snap.CancelRequested = true
	if j.cancel != nil {
		j.cancel()
	}
	e.publish(j)
}

func (e *Engine) publish(j *job) {
	e.broker.Publish(j.snap.GUID, j.snap.Clone())
}
