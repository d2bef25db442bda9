package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var findPolicy policyFlags

var findCmd = &cobra.Command{
	Use:   "find <container> <gear[/version]>",
	Short: "Show the analysis that would satisfy an ensure",
	Long: `Apply the dedupe policy to the analyses on a container without
submitting anything.

Examples:
  gearflow find session/6401f2a9c1d2e3f4a5b6c7d8 mriqc
  gearflow find session/6401f2a9c1d2e3f4a5b6c7d8 'fmriprep/20\.2' --statuses complete --order created`,
	Args: cobra.ExactArgs(2),
	RunE: runFind,
}

func init() {
	findPolicy.register(findCmd)
}

func runFind(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	container, spec, err := parseGearArgs(args)
	if err != nil {
		return err
	}
	policy, err := findPolicy.policy()
	if err != nil {
		return err
	}

	exists, err := orchestrator.Locator.Exists(ctx, container, spec, policy)
	if err != nil {
		return fmt.Errorf("check existing: %w", err)
	}
	analysis, err := orchestrator.Locator.FindExisting(ctx, container, spec, policy)
	if err != nil {
		return fmt.Errorf("find existing: %w", err)
	}

	fmt.Printf("Container: %s\n", container)
	fmt.Printf("  Gear: %s\n", spec.Ref())
	fmt.Printf("  Policy: %s, statuses %s\n", policy.Mode, policy.Statuses)
	fmt.Printf("  Exists: %t\n", exists)

	if analysis == nil {
		fmt.Println("\nNo matching analysis")
		return nil
	}

	fmt.Printf("\nAnalysis: %s\n", analysis.ID)
	fmt.Printf("  Label: %s\n", analysis.Label)
	if analysis.Gear != nil {
		fmt.Printf("  Gear: %s %s\n", analysis.Gear.Name, analysis.Gear.Version)
	}
	if analysis.Job != nil {
		fmt.Printf("  Job: %s (%s)\n", analysis.Job.ID, analysis.Job.Status)
	} else {
		fmt.Println("  Job: none (uploaded)")
	}
	if !analysis.Created.IsZero() {
		fmt.Printf("  Created: %s\n", analysis.Created.Format(time.RFC3339))
	}
	if len(analysis.Files) > 0 {
		fmt.Printf("  Files (%d):\n", len(analysis.Files))
		for _, f := range analysis.Files {
			fmt.Printf("    - %s (%d bytes)\n", f.Name, f.Size)
		}
	}
	return nil
}
