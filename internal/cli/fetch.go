package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <analysis-id> <dest>",
	Short: "Download and unpack an analysis's outputs",
	Long: `Download every output file of an analysis into a local directory.

Zip archives are unpacked. Archives wrapped in a directory named after the
analysis are merged into <dest> directly; all other files end up under
<dest>/files.

Examples:
  gearflow fetch 6401f2a9c1d2e3f4a5b6c7d9 ./results/sub-01`,
	Args: cobra.ExactArgs(2),
	RunE: runFetch,
}

func runFetch(cmd *cobra.Command, args []string) error {
	analysisID, dest := args[0], args[1]
	if err := orchestrator.FetchResults(cmd.Context(), analysisID, dest); err != nil {
		return err
	}
	fmt.Printf("Fetched %s into %s\n", analysisID, dest)
	return nil
}
