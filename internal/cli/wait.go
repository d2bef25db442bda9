package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/gearflow/internal/models"
	"github.com/raphaelgruber/gearflow/internal/service"
	"github.com/spf13/cobra"
)

var (
	waitTimeout      time.Duration
	waitPollInterval time.Duration
	waitNoProgress   bool
)

var waitCmd = &cobra.Command{
	Use:   "wait <job-id>...",
	Short: "Wait for jobs to finish",
	Long: `Poll one or more jobs until every one has reached a terminal state
(complete, failed or cancelled) or the timeout passes.

Jobs still running at the timeout are left alone and reported as
outstanding; the command then exits with an error.

Examples:
  gearflow wait 6401f2a9c1d2e3f4a5b6c7d8
  gearflow wait --timeout 2h --poll-interval 1m <job-id> <job-id>`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWait,
}

func init() {
	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", 0, "give up after this long (default GEARFLOW_WAIT_TIMEOUT)")
	waitCmd.Flags().DurationVar(&waitPollInterval, "poll-interval", 0, "time between polling rounds (default GEARFLOW_POLL_INTERVAL)")
	waitCmd.Flags().BoolVar(&waitNoProgress, "no-progress", false, "print plain log lines instead of the live display")
}

func runWait(cmd *cobra.Command, args []string) error {
	handles := make([]models.JobHandle, 0, len(args))
	for _, id := range args {
		handles = append(handles, models.JobHandle{ID: id, Status: models.JobStatusPending})
	}

	opts := waitOptions(waitTimeout, waitPollInterval)
	res, err := awaitHandles(cmd, opts, handles)
	if err != nil {
		return fmt.Errorf("wait: %w", err)
	}
	return reportWait(res)
}

// waitOptions fills unset durations from the configuration.
func waitOptions(timeout, interval time.Duration) service.WaitOptions {
	if timeout <= 0 {
		timeout = cfg.WaitTimeout
	}
	if interval <= 0 {
		interval = cfg.PollInterval
	}
	return service.WaitOptions{Timeout: timeout, PollInterval: interval}
}

// awaitHandles waits with the live display on a terminal, or prints each job
// as it finishes otherwise.
func awaitHandles(cmd *cobra.Command, opts service.WaitOptions, handles []models.JobHandle) (service.WaitResult, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if progressEnabled(cmd) {
		return runWaitProgress(ctx, opts, handles)
	}

	fmt.Printf("Waiting for %d job(s), polling every %s (timeout %s)\n",
		len(handles), opts.PollInterval, opts.Timeout)
	opts.OnRound = func(p service.WaitProgress) {
		for _, h := range p.Finished {
			fmt.Printf("  %-26s %s (%d/%d)\n", h.ID, h.Status, p.Done, p.Total)
		}
	}
	return orchestrator.WaitForJobs(ctx, opts, handles...)
}

// reportWait prints the final states and fails when jobs are outstanding.
func reportWait(res service.WaitResult) error {
	failed := 0
	for _, h := range res.Finished {
		if h.Status != models.JobStatusComplete {
			failed++
		}
	}
	fmt.Printf("\n%d finished (%d not complete), %d outstanding\n", len(res.Finished), failed, len(res.Outstanding))
	for _, h := range res.Outstanding {
		fmt.Printf("  still %s: %s\n", h.Status, h.ID)
	}

	if !res.Complete {
		return fmt.Errorf("timed out with %d job(s) outstanding", len(res.Outstanding))
	}
	return nil
}
