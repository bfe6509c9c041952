package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
	"github.com/angelmondragon/packfinderz-stock/pkg/metrics"
)

type fakeLock struct {
	held      bool
	extends   int
	extendErr error
	releases  int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Extend(context.Context) error {
	f.extends++
	return f.extendErr
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type testJob struct {
	name     string
	err      error
	every    time.Duration
	runs     int
	deadline bool
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(ctx context.Context) error {
	t.runs++
	_, t.deadline = ctx.Deadline()
	return t.err
}

type cadencedJob struct {
	testJob
}

func (c *cadencedJob) Every() time.Duration { return c.every }

type panicJob struct{}

func (panicJob) Name() string              { return "panics" }
func (panicJob) Run(context.Context) error { panic("sweep exploded") }

func newTestService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	return svc
}

func TestRunCycleRunsEveryJobDespiteFailures(t *testing.T) {
	ok := &testJob{name: "ok"}
	failing := &testJob{name: "fail", err: errors.New("boom")}
	after := &testJob{name: "after"}
	lock := &fakeLock{}
	svc := newTestService(t, lock, ok, failing, panicJob{}, after)

	require.NoError(t, svc.runCycle(context.Background()))
	assert.Equal(t, 1, ok.runs)
	assert.Equal(t, 1, failing.runs)
	assert.Equal(t, 1, after.runs, "job after a panic still runs")
	assert.Equal(t, 3, lock.extends, "lock extended before every job but the first")
	assert.Equal(t, 1, lock.releases)
	assert.False(t, lock.held)
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "sweep"}
	svc := newTestService(t, &fakeLock{held: true}, job)

	require.NoError(t, svc.runCycle(context.Background()))
	assert.Zero(t, job.runs)
}

func TestRunCycleStopsWhenLockLost(t *testing.T) {
	first := &testJob{name: "first"}
	second := &testJob{name: "second"}
	lock := &fakeLock{extendErr: ErrLockLost}
	svc := newTestService(t, lock, first, second)

	err := svc.runCycle(context.Background())
	assert.ErrorIs(t, err, ErrLockLost)
	assert.Equal(t, 1, first.runs)
	assert.Zero(t, second.runs)
	assert.Equal(t, 1, lock.releases)
}

func TestCadencedJobWaitsForItsInterval(t *testing.T) {
	hourly := &cadencedJob{testJob{name: "hourly", every: time.Hour}}
	sweep := &testJob{name: "sweep"}
	svc := newTestService(t, &fakeLock{}, sweep, hourly)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, svc.runCycle(ctx))
	now = now.Add(time.Minute)
	require.NoError(t, svc.runCycle(ctx))
	assert.Equal(t, 2, sweep.runs)
	assert.Equal(t, 1, hourly.runs)

	now = now.Add(time.Hour)
	require.NoError(t, svc.runCycle(ctx))
	assert.Equal(t, 2, hourly.runs)
}

func TestFailedCadencedJobRetriesNextCycle(t *testing.T) {
	hourly := &cadencedJob{testJob{name: "hourly", every: time.Hour, err: errors.New("db down")}}
	svc := newTestService(t, &fakeLock{}, hourly)

	require.NoError(t, svc.runCycle(context.Background()))
	require.NoError(t, svc.runCycle(context.Background()))
	assert.Equal(t, 2, hourly.runs)
}

func TestJobTimeoutSetsDeadline(t *testing.T) {
	job := &testJob{name: "sweep"}
	svc := newTestService(t, &fakeLock{}, job)
	require.NoError(t, svc.runCycle(context.Background()))
	assert.False(t, job.deadline)

	svc.jobTimeout = time.Second
	require.NoError(t, svc.runCycle(context.Background()))
	assert.True(t, job.deadline)
}

func TestRunHonorsInitialDelayAndCancel(t *testing.T) {
	job := &testJob{name: "sweep"}
	svc, err := NewService(ServiceParams{
		Logger:       logger.Nop(),
		Registry:     NewRegistry(job),
		Lock:         &fakeLock{},
		Interval:     time.Hour,
		InitialDelay: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Run(ctx), context.DeadlineExceeded)
	assert.Zero(t, job.runs)
}

func TestRunFirstCycleAfterDelay(t *testing.T) {
	job := &testJob{name: "sweep"}
	svc, err := NewService(ServiceParams{
		Logger:       logger.Nop(),
		Registry:     NewRegistry(job),
		Lock:         &fakeLock{},
		Interval:     time.Hour,
		InitialDelay: time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = svc.Run(ctx)
	assert.Equal(t, 1, job.runs)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(ServiceParams{Logger: logger.Nop()})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Lock: &fakeLock{}})
	assert.Error(t, err)

	svc, err := NewService(ServiceParams{Logger: logger.Nop(), Lock: &fakeLock{}, InitialDelay: -time.Second})
	require.NoError(t, err)
	assert.Equal(t, defaultInterval, svc.interval)
	assert.Zero(t, svc.initialDelay)
	assert.Empty(t, svc.registry.Jobs())
}
