package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/raphaelgruber/gearflow/internal/manifest"
	"github.com/raphaelgruber/gearflow/internal/models"
	"github.com/raphaelgruber/gearflow/internal/service"
	"github.com/spf13/cobra"
)

var (
	runFile       string
	runNoWait     bool
	runNoFetch    bool
	runNoProgress bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ensure, wait for and fetch a batch of gear jobs",
	Long: `Process a YAML job manifest: ensure every job, wait for the jobs that
were submitted or are still running, then download the results of the
finished analyses when fetching is enabled.

Results land in <fetch.dest>/<destination id>/<analysis id>.

Example manifest:
  dedupe:
    statuses: [complete, running, pending]
    mode: any
  wait:
    timeout: 12h
    poll_interval: 1m
  fetch:
    enabled: true
    dest: ./results
  jobs:
    - gear: mriqc
      destination: session/6401f2a9c1d2e3f4a5b6c7d8
      require_acquisition: T1w

Examples:
  gearflow run -f jobs.yaml
  gearflow run -f jobs.yaml --no-fetch`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "job manifest (YAML)")
	runCmd.Flags().BoolVar(&runNoWait, "no-wait", false, "submit only; do not wait or fetch")
	runCmd.Flags().BoolVar(&runNoFetch, "no-fetch", false, "skip downloading results")
	runCmd.Flags().BoolVar(&runNoProgress, "no-progress", false, "print plain log lines instead of the live display")
	_ = runCmd.MarkFlagRequired("file")
}

// batchItem tracks one manifest job through the run.
type batchItem struct {
	spec      models.GearSpec
	container models.ContainerRef
	result    service.EnsureResult
	skipped   bool
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := manifest.Load(runFile)
	if err != nil {
		return err
	}
	policy, err := m.Policy()
	if err != nil {
		return err
	}

	items, failures := ensureAll(ctx, m, policy)

	var handles []models.JobHandle
	for _, it := range items {
		if it.result.Job != nil && !it.result.Job.Status.Terminal() {
			handles = append(handles, *it.result.Job)
		}
	}
	if runNoWait {
		return batchError(failures)
	}

	states := map[string]models.JobStatus{}
	if len(handles) > 0 {
		opts := waitOptions(m.Wait.Timeout, m.Wait.PollInterval)
		res, err := awaitHandles(cmd, opts, handles)
		if err != nil {
			return fmt.Errorf("wait: %w", err)
		}
		for _, h := range res.Finished {
			states[h.ID] = h.Status
		}
		if err := reportWait(res); err != nil {
			failures = append(failures, err)
		}
	}

	if m.Fetch.Enabled && !runNoFetch {
		failures = append(failures, fetchAll(ctx, m.Fetch.Dest, items, states)...)
	}
	return batchError(failures)
}

// ensureAll runs EnsureJob for every manifest job. Per-job failures are
// collected so one bad container does not stop the batch.
func ensureAll(ctx context.Context, m *manifest.Manifest, policy service.LookupPolicy) ([]*batchItem, []error) {
	var items []*batchItem
	var failures []error

	for i, job := range m.Jobs {
		spec, container, err := job.Resolve()
		if err != nil {
			failures = append(failures, fmt.Errorf("job %d: %w", i+1, err))
			continue
		}
		it := &batchItem{spec: spec, container: container}
		items = append(items, it)

		ok, err := checkAcquisition(ctx, container, job.RequireAcquisition)
		if err != nil {
			failures = append(failures, fmt.Errorf("job %d (%s): %w", i+1, container, err))
			it.skipped = true
			continue
		}
		if !ok {
			fmt.Printf("[%d/%d] %s %s: no acquisition matching %q, skipping\n",
				i+1, len(m.Jobs), container, spec.Ref(), job.RequireAcquisition)
			it.skipped = true
			continue
		}

		it.result, err = orchestrator.EnsureJob(ctx, container, spec, policy)
		if err != nil {
			failures = append(failures, fmt.Errorf("job %d (%s): %w", i+1, container, err))
			it.skipped = true
			continue
		}
		fmt.Printf("[%d/%d] %s %s: %s\n", i+1, len(m.Jobs), container, spec.Ref(), it.result.Describe())
	}
	return items, failures
}

// fetchAll downloads the results of every analysis whose job completed.
// states holds the terminal states observed while waiting.
func fetchAll(ctx context.Context, root string, items []*batchItem, states map[string]models.JobStatus) []error {
	var failures []error
	for _, it := range items {
		if it.skipped {
			continue
		}
		res := it.result
		if res.Job != nil {
			status := res.Job.Status
			if s, ok := states[res.Job.ID]; ok {
				status = s
			}
			if status != models.JobStatusComplete {
				continue
			}
		}

		analysis := res.Analysis
		if analysis == nil && res.Job != nil {
			var err error
			if analysis, err = orchestrator.ResolveAnalysis(ctx, it.spec.Destination, res.Job.ID); err != nil {
				failures = append(failures, fmt.Errorf("resolve analysis for job %s: %w", res.Job.ID, err))
				continue
			}
		}
		if analysis == nil {
			continue
		}

		destDir := filepath.Join(root, it.spec.Destination.ID, analysis.ID)
		if err := orchestrator.FetchResults(ctx, analysis.ID, destDir); err != nil {
			failures = append(failures, err)
			continue
		}
		fmt.Printf("Fetched %s into %s\n", analysis.ID, destDir)
	}
	return failures
}

func batchError(failures []error) error {
	if len(failures) == 0 {
		return nil
	}
	for _, err := range failures {
		fmt.Printf("  error: %v\n", err)
	}
	return fmt.Errorf("%d problem(s) in batch: %w", len(failures), errors.Join(failures...))
}
