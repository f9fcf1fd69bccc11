package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/seantiz/depotjobs/internal/datastore"
	"github.com/seantiz/depotjobs/internal/model"
)

// ErrCancelled is returned by runners that stop early because cancellation
// was requested. The engine records such jobs as CANCELLED rather than FAILED.
var ErrCancelled = errors.New("job cancelled")

// Runner performs the work for exactly one specification kind. Returning
// nil finishes the job; returning an error fails it with err.Error() as the
// failure message. Runners may block on I/O freely.
type Runner interface {
	Kind() string
	Run(ctx context.Context, job Job, spec model.Specification) error
}

// Job is the runner's handle on the job it is executing.
type Job interface {
	GUID() string

	// Cancelled reports whether cancellation has been requested. Runners
	// should poll it at safe points; ctx is cancelled at the same time.
	Cancelled() bool

	// SetProgress records completion in percent (0-100). Values lower
	// than the current progress are ignored.
	SetProgress(percent int) error

	// StoreGeneratedData opens a writer for an output blob. When the
	// writer is closed successfully its GUID is added to the job's
	// generated data. Writers left open when Run returns are aborted.
	StoreGeneratedData(ctx context.Context, name, mediaType string, enc model.Encoding) (*datastore.Writer, error)

	// ObtainData opens any stored blob by GUID.
	ObtainData(ctx context.Context, guid string) (*datastore.Object, bool, error)

	// Logger is pre-populated with the job's GUID and kind.
	Logger() *slog.Logger
}

// CheckCancelled returns ErrCancelled when cancellation has been requested.
func CheckCancelled(job Job) error {
	if job.Cancelled() {
		return ErrCancelled
	}
	return nil
}

type typedRunner[S model.Specification] struct {
	kind string
	run  func(ctx context.Context, job Job, spec S) error
}

// Typed adapts a function taking a concrete specification type to a Runner.
func Typed[S model.Specification](kind string, run func(ctx context.Context, job Job, spec S) error) Runner {
	return &typedRunner[S]{kind: kind, run: run}
}

func (r *typedRunner[S]) Kind() string { return r.kind }

func (r *typedRunner[S]) Run(ctx context.Context, job Job, spec model.Specification) error {
	typed, ok := spec.(S)
	if !ok {
		return fmt.Errorf("runner %s cannot run specification of type %T", r.kind, spec)
	}
	return r.run(ctx, job, typed)
}
