package purge_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/depotjobs/internal/datastore"
	"github.com/seantiz/depotjobs/internal/engine"
	"github.com/seantiz/depotjobs/internal/jobs/purge"
	"github.com/seantiz/depotjobs/internal/model"
	"github.com/seantiz/depotjobs/internal/runner"
	"github.com/seantiz/depotjobs/internal/storage"
)

type fakeSweeper struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSweeper) ClearExpiredJobs(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func newEngine(t *testing.T, r runner.Runner) *engine.Engine {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	reg := runner.NewRegistry()
	reg.MustRegister(r)
	eng := engine.NewEngine(reg, datastore.New(storage.NewMemory(), logger), logger, engine.Options{SweepInterval: -1})
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })
	return eng
}

func TestPurgeRunsSweep(t *testing.T) {
	sweeper := &fakeSweeper{}
	eng := newEngine(t, purge.NewRunner(sweeper))

	guid, err := eng.Immediate(context.Background(), &purge.Specification{}, true)
	require.NoError(t, err)

	snap, ok := eng.TryGetJob(guid)
	require.True(t, ok)
	assert.Equal(t, model.StatusFinished, snap.Status)
	assert.Equal(t, 1, sweeper.calls)
}

func TestPurgeSweepErrorFailsJob(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("disk on fire")}
	eng := newEngine(t, purge.NewRunner(sweeper))

	guid, err := eng.Submit(context.Background(), &purge.Specification{}, model.CoalesceInFlight)
	require.NoError(t, err)
	require.True(t, eng.AwaitFinished(guid, 5*time.Second))

	snap, _ := eng.TryGetJob(guid)
	assert.Equal(t, model.StatusFailed, snap.Status)
	assert.Contains(t, snap.FailureMessage, "disk on fire")
}

func TestPurgeAgainstEngineRemovesExpiredJobs(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	reg := runner.NewRegistry()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	eng := engine.NewEngine(reg, datastore.New(storage.NewMemory(), logger), logger, engine.Options{Now: clock, SweepInterval: -1})
	reg.MustRegister(purge.NewRunner(eng))
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })

	first, err := eng.Immediate(context.Background(), &purge.Specification{}, true)
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(engine.DefaultJobTTL + time.Minute)
	mu.Unlock()

	second, err := eng.Immediate(context.Background(), &purge.Specification{}, true)
	require.NoError(t, err)

	_, ok := eng.TryGetJob(first)
	assert.False(t, ok, "the expired purge job should have been removed by the second purge")
	snap, ok := eng.TryGetJob(second)
	require.True(t, ok)
	assert.Equal(t, model.StatusFinished, snap.Status)
}

func TestPurgeSpecificationsAreEquivalent(t *testing.T) {
	a := &purge.Specification{}
	b := &purge.Specification{BaseSpecification: model.BaseSpecification{Owner: "root"}}
	assert.True(t, a.Equivalent(b))
}
