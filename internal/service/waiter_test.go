package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raphaelgruber/gearflow/internal/metrics"
	"github.com/raphaelgruber/gearflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWaiter(fp *fakePlatform) (*JobWaiter, *fakeClock) {
	clock := newFakeClock()
	w := NewJobWaiter(fp, quietLogger(), nil)
	w.now = clock.Now
	w.sleep = clock.Sleep
	return w, clock
}

func pending(ids ...string) []models.JobHandle {
	handles := make([]models.JobHandle, 0, len(ids))
	for _, id := range ids {
		handles = append(handles, models.JobHandle{ID: id, Status: models.JobStatusPending})
	}
	return handles
}

func TestAwaitAllCompletesWithinTwoRounds(t *testing.T) {
	fp := newFakePlatform()
	fp.jobStates["j1"] = []models.JobStatus{models.JobStatusRunning, models.JobStatusComplete}
	fp.jobStates["j2"] = []models.JobStatus{models.JobStatusComplete}
	w, clock := newTestWaiter(fp)

	var rounds []WaitProgress
	opts := WaitOptions{
		Timeout:      5 * time.Second,
		PollInterval: time.Second,
		OnRound:      func(p WaitProgress) { rounds = append(rounds, p) },
	}
	res, err := w.AwaitAll(context.Background(), opts, pending("j1", "j2")...)
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.Empty(t, res.Outstanding)
	assert.Len(t, res.Finished, 2)
	assert.Equal(t, []string{"j1", "j2", "j1"}, fp.polls, "terminal handles are not re-polled")
	assert.Equal(t, []time.Duration{time.Second}, clock.sleeps)

	require.Len(t, rounds, 2)
	assert.Equal(t, WaitProgress{Round: 1, Done: 1, Total: 2, Finished: []models.JobHandle{{ID: "j2", Status: models.JobStatusComplete}}}, rounds[0])
	assert.Equal(t, 2, rounds[1].Done)
}

func TestAwaitAllTimesOut(t *testing.T) {
	fp := newFakePlatform()
	fp.jobStates["stuck"] = []models.JobStatus{models.JobStatusRunning}
	w, clock := newTestWaiter(fp)
	start := clock.Now()

	interval := 10 * time.Second
	res, err := w.AwaitAll(context.Background(), WaitOptions{Timeout: 2 * interval, PollInterval: interval}, pending("stuck")...)
	require.NoError(t, err)

	assert.False(t, res.Complete)
	require.Len(t, res.Outstanding, 1)
	assert.Equal(t, "stuck", res.Outstanding[0].ID)
	assert.Equal(t, models.JobStatusRunning, res.Outstanding[0].Status)
	assert.Equal(t, 2*interval, clock.Now().Sub(start), "gives up once the timeout has elapsed")
	assert.Len(t, fp.polls, 3)
}

func TestAwaitAllSleepNeverOvershootsDeadline(t *testing.T) {
	fp := newFakePlatform()
	fp.jobStates["stuck"] = []models.JobStatus{models.JobStatusPending}
	w, clock := newTestWaiter(fp)

	_, err := w.AwaitAll(context.Background(), WaitOptions{Timeout: 25 * time.Second, PollInterval: 10 * time.Second}, pending("stuck")...)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second, 5 * time.Second}, clock.sleeps)
}

func TestAwaitAllSingleHandle(t *testing.T) {
	fp := newFakePlatform()
	fp.jobStates["solo"] = []models.JobStatus{models.JobStatusFailed}
	w, _ := newTestWaiter(fp)

	res, err := w.AwaitAll(context.Background(), WaitOptions{Timeout: time.Minute, PollInterval: time.Second},
		models.JobHandle{ID: "solo", Status: models.JobStatusPending})
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, models.JobStatusFailed, res.Finished[0].Status)
}

func TestAwaitAllSkipsAlreadyTerminalAndDuplicates(t *testing.T) {
	fp := newFakePlatform()
	fp.jobStates["j1"] = []models.JobStatus{models.JobStatusComplete}
	w, _ := newTestWaiter(fp)

	handles := []models.JobHandle{
		{ID: "done", Status: models.JobStatusComplete},
		{ID: "j1", Status: models.JobStatusPending},
		{ID: "j1", Status: models.JobStatusPending},
	}
	res, err := w.AwaitAll(context.Background(), WaitOptions{Timeout: time.Minute, PollInterval: time.Second}, handles...)
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Len(t, res.Finished, 2)
	assert.Equal(t, []string{"j1"}, fp.polls)
}

func TestAwaitAllTransientPollErrorIsRetried(t *testing.T) {
	fp := newFakePlatform()
	fp.pollErrs["j1"] = []error{errors.New("502 bad gateway")}
	fp.jobStates["j1"] = []models.JobStatus{models.JobStatusComplete}
	w, _ := newTestWaiter(fp)
	m := metrics.NewCollector()
	w.metrics = m

	res, err := w.AwaitAll(context.Background(), WaitOptions{Timeout: time.Minute, PollInterval: time.Second}, pending("j1")...)
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, []string{"j1", "j1"}, fp.polls)

	op, ok := m.Snapshot().Op(metrics.OpJobPoll)
	require.True(t, ok)
	assert.Equal(t, int64(2), op.Count)
	assert.Equal(t, int64(1), op.Failures)
}

func TestAwaitAllUnknownStatusAborts(t *testing.T) {
	fp := newFakePlatform()
	fp.pollErrs["j1"] = []error{&models.UnknownStatusError{Raw: "exploded"}}
	w, _ := newTestWaiter(fp)

	res, err := w.AwaitAll(context.Background(), WaitOptions{Timeout: time.Minute, PollInterval: time.Second}, pending("j1", "j2")...)
	var unknown *models.UnknownStatusError
	require.ErrorAs(t, err, &unknown)
	assert.False(t, res.Complete)
	assert.Len(t, res.Outstanding, 2)
}

func TestAwaitAllContextCancelled(t *testing.T) {
	fp := newFakePlatform()
	fp.jobStates["j1"] = []models.JobStatus{models.JobStatusRunning}
	w, _ := newTestWaiter(fp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := w.AwaitAll(ctx, WaitOptions{Timeout: time.Minute, PollInterval: time.Second}, pending("j1")...)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Complete)
	assert.Len(t, res.Outstanding, 1)
}

func TestAwaitAllNoHandles(t *testing.T) {
	w, _ := newTestWaiter(newFakePlatform())
	res, err := w.AwaitAll(context.Background(), WaitOptions{})
	require.NoError(t, err)
	assert.True(t, res.Complete)
}
