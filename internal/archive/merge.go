package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/raphaelgruber/gearflow/internal/fsutil"
	"github.com/raphaelgruber/gearflow/internal/models"
	"github.com/raphaelgruber/gearflow/internal/shell"
)

// FilesDir is the subdirectory of a destination that receives loose files
// and flat archives.
const FilesDir = "files"

// Unpacker extracts archives and normalizes their layout into a destination.
type Unpacker struct {
	extractor Extractor
	cleanup   *shell.Retrier
	logger    *slog.Logger

	// Rename is used for the fast move path; os.Rename unless overridden.
	Rename fsutil.RenameFunc
}

// NewUnpacker creates an unpacker. cleanup is the retry policy applied to
// removing the emptied run-identifier directory.
func NewUnpacker(extractor Extractor, cleanup *shell.Retrier, logger *slog.Logger) *Unpacker {
	if logger == nil {
		logger = slog.Default()
	}
	if cleanup == nil {
		cleanup = shell.NewRetrier(nil, shell.DefaultAttempts, shell.DefaultDelay, logger)
	}
	return &Unpacker{
		extractor: extractor,
		cleanup:   cleanup,
		logger:    logger,
		Rename:    os.Rename,
	}
}

// ExtractAndMerge unpacks archivePath, which must live inside scratchDir, and
// merges its contents into dest according to the layout implied by members.
//
// Wrapped archives are extracted into scratchDir and the contents of the
// run-identifier directory are moved (or, if moving fails, copied) into dest.
// Flat archives are extracted into dest/files and the archive is deleted.
// The caller owns scratchDir and removes it.
func (u *Unpacker) ExtractAndMerge(ctx context.Context, scratchDir, archivePath string, members []string, dest string) (models.ArchiveLayout, error) {
	layout, runID := models.DetectLayout(members)
	u.logger.Debug("archive layout detected",
		"archive", filepath.Base(archivePath),
		"layout", layout.String(),
		"run_id", runID)

	switch layout {
	case models.LayoutWrappedByRunID:
		return layout, u.mergeWrapped(ctx, scratchDir, archivePath, runID, dest)
	default:
		return layout, u.mergeFlat(ctx, archivePath, dest)
	}
}

func (u *Unpacker) mergeWrapped(ctx context.Context, scratchDir, archivePath, runID, dest string) (err error) {
	u.logger.Info("unzipping file", "archive", filepath.Base(archivePath))
	if err := u.extractor.Extract(ctx, archivePath, scratchDir); err != nil {
		return fmt.Errorf("extract %s: %w", filepath.Base(archivePath), err)
	}
	u.logger.Info("done unzipping", "archive", filepath.Base(archivePath))

	wrapped := filepath.Join(scratchDir, runID)
	defer func() {
		rmErr := u.cleanup.Do(ctx, "remove "+wrapped, func() error {
			return os.RemoveAll(wrapped)
		})
		if err == nil && rmErr != nil {
			err = fmt.Errorf("cleanup %s: %w", runID, rmErr)
		}
	}()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	moveErr := fsutil.MoveContents(wrapped, dest, u.Rename)
	if moveErr == nil {
		return nil
	}

	u.logger.Warn("move failed, falling back to copy", "run_id", runID, "error", moveErr)
	if err := fsutil.CopyTree(wrapped, dest); err != nil {
		return fmt.Errorf("copy %s into %s: %w", runID, dest, err)
	}
	return nil
}

func (u *Unpacker) mergeFlat(ctx context.Context, archivePath, dest string) error {
	filesDir := filepath.Join(dest, FilesDir)
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filesDir, err)
	}

	u.logger.Info("unzipping file", "archive", filepath.Base(archivePath))
	if err := u.extractor.Extract(ctx, archivePath, filesDir); err != nil {
		return fmt.Errorf("extract %s: %w", filepath.Base(archivePath), err)
	}
	u.logger.Info("done unzipping", "archive", filepath.Base(archivePath))

	if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove archive: %w", err)
	}
	return nil
}
