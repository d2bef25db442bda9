package cli

import (
	"fmt"

	"github.com/raphaelgruber/gearflow/internal/models"
	"github.com/spf13/cobra"
)

var (
	ensureDest        string
	ensureLabel       string
	ensureConfig      string
	ensureInputs      []string
	ensureTags        []string
	ensureAcquisition string
	ensureWait        bool
	ensureNoProgress  bool
	ensurePolicy      policyFlags
)

var ensureCmd = &cobra.Command{
	Use:   "ensure <container> <gear[/version]>",
	Short: "Submit a gear job unless matching work already exists",
	Long: `Look for an analysis of the gear on the container and submit a new job
only when none matches the dedupe policy.

The version part of the gear reference is a regular expression matched
against available versions; the last matching gear version is used.

Examples:
  gearflow ensure session/6401f2a9c1d2e3f4a5b6c7d8 mriqc
  gearflow ensure session/6401f2a9c1d2e3f4a5b6c7d8 'fmriprep/20\.2' --config '{"anat-only":true}'
  gearflow ensure session/6401f2a9c1d2e3f4a5b6c7d8 bids-validator --input bids=session/6401f2a9c1d2e3f4a5b6c7d8/bids.zip
  gearflow ensure session/6401f2a9c1d2e3f4a5b6c7d8 mriqc --mode all --failure-threshold 2 --wait`,
	Args: cobra.ExactArgs(2),
	RunE: runEnsure,
}

func init() {
	ensureCmd.Flags().StringVar(&ensureDest, "dest", "", "container to attach the new analysis to (default: the searched container)")
	ensureCmd.Flags().StringVarP(&ensureLabel, "label", "l", "", "analysis label (default: gear name and timestamp)")
	ensureCmd.Flags().StringVarP(&ensureConfig, "config", "c", "", "gear configuration as a JSON object")
	ensureCmd.Flags().StringArrayVarP(&ensureInputs, "input", "i", nil, "gear input as name=type/id/file (repeatable)")
	ensureCmd.Flags().StringSliceVar(&ensureTags, "tag", nil, "job tags")
	ensureCmd.Flags().StringVar(&ensureAcquisition, "require-acquisition", "", "skip sessions without an acquisition whose label contains this text")
	ensureCmd.Flags().BoolVarP(&ensureWait, "wait", "w", false, "wait for the job to finish")
	ensureCmd.Flags().BoolVar(&ensureNoProgress, "no-progress", false, "print plain log lines instead of the live display")
	ensurePolicy.register(ensureCmd)
}

func runEnsure(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	container, spec, err := parseGearArgs(args)
	if err != nil {
		return err
	}
	policy, err := ensurePolicy.policy()
	if err != nil {
		return err
	}
	if spec.Config, err = parseJSONObject("config", ensureConfig); err != nil {
		return err
	}
	if spec.Inputs, err = parseInputs(ensureInputs); err != nil {
		return err
	}
	if ensureDest != "" {
		if spec.Destination, err = models.ParseContainerRef(ensureDest); err != nil {
			return fmt.Errorf("--dest: %w", err)
		}
	}
	spec.Label = ensureLabel
	spec.Tags = ensureTags

	ok, err := checkAcquisition(ctx, container, ensureAcquisition)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("%s: no acquisition matching %q, skipping\n", container, ensureAcquisition)
		return nil
	}

	res, err := orchestrator.EnsureJob(ctx, container, spec, policy)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s: %s\n", container, spec.Ref(), res.Describe())
	if res.Analysis != nil {
		fmt.Printf("  Analysis: %s (%s)\n", res.Analysis.ID, res.Analysis.Label)
	}

	if !ensureWait || res.Job == nil || res.Job.Status.Terminal() {
		return nil
	}
	waitRes, err := awaitHandles(cmd, waitOptions(0, 0), []models.JobHandle{*res.Job})
	if err != nil {
		return fmt.Errorf("wait: %w", err)
	}
	return reportWait(waitRes)
}
