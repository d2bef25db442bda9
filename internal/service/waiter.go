package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/raphaelgruber/gearflow/internal/metrics"
	"github.com/raphaelgruber/gearflow/internal/models"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultWaitTimeout  = 24 * time.Hour
)

// WaitOptions configures AwaitAll.
type WaitOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
	// OnRound is called after every polling round (optional).
	OnRound func(WaitProgress)
}

// WaitProgress is reported after each polling round.
type WaitProgress struct {
	Round    int
	Done     int
	Total    int
	Finished []models.JobHandle // handles observed terminal in this round
}

// WaitResult is the outcome of AwaitAll. Complete is false when the deadline
// passed with handles still outstanding; those handles are not cancelled.
type WaitResult struct {
	Complete    bool
	Finished    []models.JobHandle
	Outstanding []models.JobHandle
}

// JobWaiter polls job handles until they reach a terminal state.
type JobWaiter struct {
	poller  StatusPoller
	logger  *slog.Logger
	metrics *metrics.Collector

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewJobWaiter creates a waiter. m may be nil.
func NewJobWaiter(poller StatusPoller, logger *slog.Logger, m *metrics.Collector) *JobWaiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobWaiter{
		poller:  poller,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// AwaitAll polls the handles, in the given order, once per round until all
// are terminal or opts.Timeout elapses. A handle observed terminal is never
// polled again. Transient poll errors leave the handle outstanding; an
// unknown job state aborts the wait.
func (w *JobWaiter) AwaitAll(ctx context.Context, opts WaitOptions, handles ...models.JobHandle) (WaitResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	outstanding := uniqueHandles(handles)
	total := len(outstanding)
	result := WaitResult{}
	deadline := w.now().Add(timeout)

	w.logger.Info("waiting for jobs",
		"jobs", total,
		"timeout", timeout.String(),
		"poll_interval", interval.String())

	for round := 1; ; round++ {
		var finished []models.JobHandle
		remaining := outstanding[:0:0]

		for i, h := range outstanding {
			if !h.Status.Terminal() {
				status, err := w.poll(ctx, h.ID)
				if err != nil {
					var unknown *models.UnknownStatusError
					if errors.As(err, &unknown) {
						result.Finished = append(result.Finished, finished...)
						result.Outstanding = append(remaining, outstanding[i:]...)
						return result, err
					}
					w.logger.Warn("job poll failed, will retry next round", "job_id", h.ID, "error", err)
					remaining = append(remaining, h)
					continue
				}
				h.Status = status
			}

			if h.Status.Terminal() {
				w.logger.Info("job finished", "job_id", h.ID, "status", string(h.Status))
				finished = append(finished, h)
				continue
			}
			remaining = append(remaining, h)
		}

		outstanding = remaining
		result.Finished = append(result.Finished, finished...)
		if opts.OnRound != nil {
			opts.OnRound(WaitProgress{Round: round, Done: len(result.Finished), Total: total, Finished: finished})
		}

		if len(outstanding) == 0 {
			result.Complete = true
			return result, nil
		}

		left := deadline.Sub(w.now())
		if left <= 0 {
			result.Outstanding = outstanding
			for _, h := range outstanding {
				w.logger.Warn("timed out waiting for job",
					"job_id", h.ID,
					"status", string(h.Status),
					"timeout", timeout.String())
			}
			return result, nil
		}

		if err := w.sleep(ctx, min(interval, left)); err != nil {
			result.Outstanding = outstanding
			return result, err
		}
	}
}

func (w *JobWaiter) poll(ctx context.Context, jobID string) (models.JobStatus, error) {
	start := time.Now()
	status, err := w.poller.GetJobStatus(ctx, jobID)
	if w.metrics != nil {
		w.metrics.RecordTiming(metrics.OpJobPoll, time.Since(start))
		if err != nil {
			w.metrics.RecordFailure(metrics.OpJobPoll)
		}
	}
	return status, err
}

// uniqueHandles copies handles, dropping repeated ids but keeping order.
func uniqueHandles(handles []models.JobHandle) []models.JobHandle {
	seen := make(map[string]struct{}, len(handles))
	out := make([]models.JobHandle, 0, len(handles))
	for _, h := range handles {
		if _, ok := seen[h.ID]; ok {
			continue
		}
		seen[h.ID] = struct{}{}
		out = append(out, h)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
