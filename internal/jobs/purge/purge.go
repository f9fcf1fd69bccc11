// Package purge runs the engine's retention sweep as a job so that it can
// be queued on demand and observed like any other work.
package purge

import (
	"context"
	"fmt"

	"github.com/seantiz/depotjobs/internal/model"
	"github.com/seantiz/depotjobs/internal/runner"
)

// Kind identifies expired job purge specifications.
const Kind = "expiredjobpurge"

// Specification requests one retention sweep. All purges are equivalent.
type Specification struct {
	model.BaseSpecification
}

func (s *Specification) Kind() string { return Kind }

func (s *Specification) Equivalent(other model.Specification) bool {
	_, ok := other.(*Specification)
	return ok
}

// Sweeper removes expired jobs and orphaned data.
type Sweeper interface {
	ClearExpiredJobs(ctx context.Context) error
}

// NewRunner returns the purge runner over s.
func NewRunner(s Sweeper) runner.Runner {
	return runner.Typed(Kind, func(ctx context.Context, job runner.Job, _ *Specification) error {
		if err := s.ClearExpiredJobs(ctx); err != nil {
			return fmt.Errorf("purge expired jobs: %w", err)
		}
		job.Logger().Debug("did purge expired jobs")
		return nil
	})
}
