package jobs_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalsreport/internal/cachestore"
	"vitalsreport/internal/jobs"
	"vitalsreport/internal/metrics"
	"vitalsreport/internal/report"
	"vitalsreport/internal/testsupport"
)

func seed(t *testing.T, store cachestore.Store, days ...string) {
	t.Helper()
	var entries []cachestore.Entry
	for _, d := range days {
		entries = append(entries, cachestore.Entry{
			Segment: "-15",
			Day:     testsupport.Day(t, d),
			Rows:    []report.Row{{Dimensions: []string{"-15", d, "LCP"}, Value: 1200}},
		})
	}
	require.NoError(t, store.Put(context.Background(), "12345", "shape", entries))
}

func TestCleanupJob(t *testing.T) {
	store := testsupport.SetupSQLStore(t)
	seed(t, store, "2023-01-01", "2023-04-27", "2023-04-28", "2024-05-30")

	job := jobs.NewCleanupJob(store, testsupport.GetLogger(), metrics.New(), testsupport.TestClock(), 400)
	require.NoError(t, job.Run(context.Background()))

	keys, err := store.Keys(context.Background(), "12345", []string{"-15"}, "shape", testsupport.Range(t, "2023-01-01", "2024-06-01"))
	require.NoError(t, err)
	require.Len(t, keys, 2)
	days := []string{keys[0].Day.Format("2006-01-02"), keys[1].Day.Format("2006-01-02")}
	assert.ElementsMatch(t, []string{"2023-04-28", "2024-05-30"}, days)

	t.Run("disabled retention keeps everything", func(t *testing.T) {
		badger := testsupport.SetupBadgerStore(t)
		seed(t, badger, "2001-01-01")

		job := jobs.NewCleanupJob(badger, testsupport.GetLogger(), nil, testsupport.TestClock(), 0)
		require.NoError(t, job.Run(context.Background()))

		keys, err := badger.Keys(context.Background(), "12345", []string{"-15"}, "shape", testsupport.Range(t, "2001-01-01", "2001-01-01"))
		require.NoError(t, err)
		assert.Len(t, keys, 1)
	})
}

type fakeCheckpointer struct {
	modes []string
	err   error
}

func (f *fakeCheckpointer) CheckpointWAL(mode string) error {
	f.modes = append(f.modes, mode)
	return f.err
}

func TestMaintenanceJob(t *testing.T) {
	t.Run("collects badger garbage and checkpoints", func(t *testing.T) {
		db := &fakeCheckpointer{}
		job := jobs.NewMaintenanceJob(testsupport.SetupBadgerStore(t), db, testsupport.GetLogger())

		require.NoError(t, job.Run(context.Background()))
		assert.Equal(t, []string{"PASSIVE"}, db.modes)
	})

	t.Run("reports checkpoint failures", func(t *testing.T) {
		db := &fakeCheckpointer{err: errors.New("database is locked")}
		job := jobs.NewMaintenanceJob(testsupport.SetupSQLStore(t), db, testsupport.GetLogger())

		assert.EqualError(t, job.Run(context.Background()), "database is locked")
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		job := jobs.NewMaintenanceJob(nil, nil, testsupport.GetLogger())
		assert.ErrorIs(t, job.Run(ctx), context.Canceled)
	})
}

type countingJob struct {
	runs  atomic.Int32
	panic bool
	once  sync.Once
}

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.panic {
		j.once.Do(func() { panic("boom") })
	}
	return nil
}

func TestScheduler(t *testing.T) {
	job := &countingJob{panic: true}
	s := jobs.NewScheduler(jobs.SchedulerOptions{
		Cleanup:         job,
		CleanupInterval: 10 * time.Millisecond,
		Logger:          testsupport.GetLogger(),
	})

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return job.runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond,
		"job keeps running after a panic")

	s.Stop()
	assert.False(t, s.IsRunning())

	runs := job.runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, runs, job.runs.Load(), "no runs after Stop")

	require.NoError(t, s.RunCleanup(context.Background()))
	assert.Equal(t, runs+1, job.runs.Load())
}
