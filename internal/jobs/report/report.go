// Package report provides the job status report: a CSV export of the
// engine's job snapshots, stored as the job's generated data.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/seantiz/depotjobs/internal/engine"
	"github.com/seantiz/depotjobs/internal/model"
	"github.com/seantiz/depotjobs/internal/runner"
)

// Kind identifies job status report specifications.
const Kind = "jobstatusreport"

// OutputName is the logical name of the generated CSV.
const OutputName = "download"

// progressEvery is how many rows are written between progress updates.
const progressEvery = 50

var header = []string{
	"guid",
	"kind",
	"status",
	"owner_user_nickname",
	"queued_at",
	"started_at",
	"finished_at",
	"progress_percent",
	"supplied_data_count",
	"generated_data_count",
	"failure_message",
}

// Specification requests a report of jobs in Statuses (all when empty),
// restricted to the owner's jobs when Owner is set.
type Specification struct {
	model.BaseSpecification
	Statuses []model.Status `json:"statuses,omitempty"`
	Gzip     bool           `json:"gzip,omitempty"`
}

func (s *Specification) Kind() string { return Kind }

// Equivalent reports whether other asks for the same report.
func (s *Specification) Equivalent(other model.Specification) bool {
	o, ok := other.(*Specification)
	if !ok || !model.SameBase(s, o) || s.Gzip != o.Gzip {
		return false
	}
	a, b := model.NewStatusSet(s.Statuses...), model.NewStatusSet(o.Statuses...)
	if len(a) != len(b) {
		return false
	}
	for st := range a {
		if !b.Contains(st) {
			return false
		}
	}
	return true
}

// Searcher is the part of the engine the report reads from.
type Searcher interface {
	SearchJobs(q engine.JobQuery) ([]model.Snapshot, int)
}

// NewRunner returns the report runner over src.
func NewRunner(src Searcher) runner.Runner {
	return runner.Typed(Kind, func(ctx context.Context, job runner.Job, spec *Specification) error {
		return run(ctx, job, spec, src)
	})
}

func run(ctx context.Context, job runner.Job, spec *Specification, src Searcher) error {
	snaps, _ := src.SearchJobs(engine.JobQuery{
		Statuses:      spec.Statuses,
		OwnerNickname: spec.OwnerNickname(),
	})
	// The report's own row would always read STARTED.
	snaps = slices.DeleteFunc(snaps, func(s model.Snapshot) bool { return s.GUID == job.GUID() })

	enc := model.EncodingNone
	if spec.Gzip {
		enc = model.EncodingGzip
	}
	w, err := job.StoreGeneratedData(ctx, OutputName, model.MediaTypeCSV, enc)
	if err != nil {
		return err
	}

	if err := write(job, w, snaps, spec.Gzip); err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			job.Logger().Warn("failed to abort report data", "data_guid", w.GUID(), "error", abortErr)
		}
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	job.Logger().Info("did produce job status report", "rows", len(snaps), "data_guid", w.GUID())
	return job.SetProgress(100)
}

func write(job runner.Job, dst io.Writer, snaps []model.Snapshot, compress bool) error {
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(dst)
		dst = gz
	}

	cw := csv.NewWriter(dst)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}
	for i, s := range snaps {
		if err := runner.CheckCancelled(job); err != nil {
			return err
		}
		if err := cw.Write(row(s)); err != nil {
			return fmt.Errorf("write report row: %w", err)
		}
		if (i+1)%progressEvery == 0 {
			if err := job.SetProgress((i + 1) * 99 / len(snaps)); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("compress report: %w", err)
		}
	}
	return nil
}

func row(s model.Snapshot) []string {
	progress := ""
	if s.ProgressPercent != nil {
		progress = strconv.Itoa(*s.ProgressPercent)
	}
	return []string{
		s.GUID,
		s.Kind,
		string(s.Status),
		s.OwnerNickname,
		formatTime(&s.QueuedAt),
		formatTime(s.StartedAt),
		formatTime(s.FinishedAt),
		progress,
		strconv.Itoa(len(s.SuppliedDataGUIDs)),
		strconv.Itoa(len(s.GeneratedDataGUIDs)),
		s.FailureMessage,
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
