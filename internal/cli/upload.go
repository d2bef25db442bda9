package cli

import (
	"fmt"

	"github.com/raphaelgruber/gearflow/internal/fsutil"
	"github.com/raphaelgruber/gearflow/internal/models"
	"github.com/raphaelgruber/gearflow/internal/service"
	"github.com/spf13/cobra"
)

var (
	uploadOverwrite bool
	uploadFirst     bool
	uploadInfo      string
	uploadFields    []string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <container> <pattern>",
	Short: "Upload local files to a container",
	Long: `Upload the files matching a glob pattern to a platform container.

Files already present on the container are skipped unless --overwrite is
given. After an upload the command waits until the file is listed, then
applies --info and --set.

Examples:
  gearflow upload session/6401f2a9c1d2e3f4a5b6c7d8 './derivatives/*.nii.gz'
  gearflow upload acquisition/6401f2a9c1d2e3f4a5b6c7da report.html --overwrite --set type=html
  gearflow upload session/6401f2a9c1d2e3f4a5b6c7d8 'qc/*.json' --first --info '{"qc":"pass"}'`,
	Args: cobra.ExactArgs(2),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadOverwrite, "overwrite", false, "replace files that already exist")
	uploadCmd.Flags().BoolVar(&uploadFirst, "first", false, "only upload the first match")
	uploadCmd.Flags().StringVar(&uploadInfo, "info", "", "replace the file's info with this JSON object")
	uploadCmd.Flags().StringArrayVar(&uploadFields, "set", nil, "set a file attribute as key=value (repeatable)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	container, err := models.ParseContainerRef(args[0])
	if err != nil {
		return err
	}
	opts := service.UploadOptions{Overwrite: uploadOverwrite}
	if opts.ReplaceInfo, err = parseJSONObject("info", uploadInfo); err != nil {
		return err
	}
	if opts.Fields, err = parseKeyValues(uploadFields); err != nil {
		return err
	}

	files, err := fsutil.SearchFiles(args[1], uploadFirst)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files match %q", args[1])
	}

	var uploaded, skipped int
	for _, path := range files {
		ok, err := orchestrator.Uploader.Upload(ctx, container, path, opts)
		if err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
		if ok {
			uploaded++
			fmt.Printf("  uploaded %s\n", path)
		} else {
			skipped++
			fmt.Printf("  exists   %s\n", path)
		}
	}

	fmt.Printf("\n%d uploaded, %d skipped\n", uploaded, skipped)
	return nil
}
