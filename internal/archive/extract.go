// Package archive unpacks downloaded result archives and merges them into a
// destination tree.
package archive

import (
	"context"
	"time"

	"github.com/raphaelgruber/gearflow/internal/metrics"
	"github.com/raphaelgruber/gearflow/internal/shell"
)

// Extractor unpacks an archive into a directory.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) error
}

// UnzipExtractor shells out to unzip so symbolic links inside archives are
// recreated verbatim. Existing entries are overwritten quietly.
type UnzipExtractor struct {
	Runner  shell.Runner
	Binary  string
	Metrics *metrics.Collector
}

// NewUnzipExtractor returns an extractor using the given unzip binary.
func NewUnzipExtractor(runner shell.Runner, binary string, m *metrics.Collector) *UnzipExtractor {
	if runner == nil {
		runner = shell.ExecRunner{Metrics: m}
	}
	if binary == "" {
		binary = "unzip"
	}
	return &UnzipExtractor{Runner: runner, Binary: binary, Metrics: m}
}

// Extract runs "unzip -qq -o <archive> -d <dest>" once.
func (u *UnzipExtractor) Extract(ctx context.Context, archivePath, destDir string) error {
	start := time.Now()
	_, err := u.Runner.Run(ctx, shell.Command{
		Name: u.Binary,
		Args: []string{"-qq", "-o", archivePath, "-d", destDir},
	})
	if u.Metrics != nil {
		if err != nil {
			u.Metrics.RecordFailure(metrics.OpExtract)
		} else {
			u.Metrics.RecordTiming(metrics.OpExtract, time.Since(start))
		}
	}
	return err
}
