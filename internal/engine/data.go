package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/seantiz/depotjobs/internal/datastore"
	"github.com/seantiz/depotjobs/internal/model"
)

// StoreSuppliedData persists input bytes ahead of a submission so that a
// specification can reference them by GUID.
func (e *Engine) StoreSuppliedData(ctx context.Context, name, mediaType string, enc model.Encoding, src io.Reader) (model.JobData, error) {
	d, err := e.data.Put(ctx, name, mediaType, enc, model.DataSupplied, src)
	if err != nil {
		return model.JobData{}, fmt.Errorf("store supplied data: %w", err)
	}
	e.logger.Info("did store supplied data", "data_guid", d.GUID, "name", d.Name, "size", d.Size)
	return d, nil
}

// StoreGeneratedData opens a writer for an output blob of a STARTED job.
// Closing the writer publishes the blob and adds its GUID to the job's
// generated data in one step; if the job is no longer STARTED by then the
// blob is discarded and Close fails.
func (e *Engine) StoreGeneratedData(ctx context.Context, jobGUID, name, mediaType string, enc model.Encoding) (*datastore.Writer, error) {
	j, err := e.startedJob(jobGUID)
	if err != nil {
		return nil, err
	}

	var w *datastore.Writer
	w, err = e.data.Create(ctx, name, mediaType, enc, model.DataGenerated, func(d model.JobData) error {
		return e.attachGenerated(j, w, d)
	})
	if err != nil {
		return nil, fmt.Errorf("store generated data: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.jobs[jobGUID] != j || j.snap.Status != model.StatusStarted {
		if err := w.Abort(); err != nil {
			e.logger.Warn("failed to abort generated data", "job_guid", jobGUID, "data_guid", w.GUID(), "error", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrJobNotStarted, jobGUID)
	}
	j.writers[w] = struct{}{}
	return w, nil
}

// TryObtainData opens any stored blob, supplied or generated. An unknown
// GUID yields (nil, false, nil).
func (e *Engine) TryObtainData(ctx context.Context, guid string) (*datastore.Object, bool, error) {
	return e.data.Get(ctx, guid)
}

func (e *Engine) startedJob(guid string) (*job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[guid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, guid)
	}
	if j.snap.Status != model.StatusStarted {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobNotStarted, guid, j.snap.Status)
	}
	return j, nil
}

// attachGenerated runs when a generated blob is published.
func (e *Engine) attachGenerated(j *job, w *datastore.Writer, d model.JobData) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(j.writers, w)
	if e.jobs[j.snap.GUID] != j || j.snap.Status != model.StatusStarted {
		return fmt.Errorf("%w: %s is %s", ErrJobNotStarted, j.snap.GUID, j.snap.Status)
	}
	j.snap.GeneratedDataGUIDs = append(j.snap.GeneratedDataGUIDs, d.GUID)
	e.publish(j)
	e.logJob(j, "did store generated data", "data_guid", d.GUID, "name", d.Name, "size", d.Size)
	return nil
}
