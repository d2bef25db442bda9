package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/raphaelgruber/gearflow/internal/archive"
	"github.com/raphaelgruber/gearflow/internal/models"
)

const scratchPattern = ".gearflow-scratch-*"

// ArchiveRetriever downloads analysis outputs and unpacks zip archives into a
// destination directory.
type ArchiveRetriever struct {
	platform ResultPlatform
	unpacker *archive.Unpacker
	logger   *slog.Logger
}

// NewArchiveRetriever creates a retriever.
func NewArchiveRetriever(platform ResultPlatform, unpacker *archive.Unpacker, logger *slog.Logger) *ArchiveRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveRetriever{platform: platform, unpacker: unpacker, logger: logger}
}

// Retrieve downloads every output file of analysis. Plain files land in
// dest/files; archives are unpacked into dest according to their layout.
func (r *ArchiveRetriever) Retrieve(ctx context.Context, analysis models.AnalysisRecord, dest string) error {
	if len(analysis.Files) == 0 {
		r.logger.Warn("analysis has no output files", "analysis_id", analysis.ID, "label", analysis.Label)
		return nil
	}

	filesDir := filepath.Join(dest, archive.FilesDir)
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filesDir, err)
	}

	for _, f := range analysis.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		if f.IsArchive() {
			err = r.retrieveArchive(ctx, analysis.ID, f, dest)
		} else {
			err = r.download(ctx, analysis.ID, f, filepath.Join(filesDir, f.Name))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *ArchiveRetriever) download(ctx context.Context, analysisID string, f models.FileDescriptor, localPath string) error {
	r.logger.Info("downloading file", "analysis_id", analysisID, "file", f.Name, "size", f.Size)
	if err := r.platform.DownloadFile(ctx, analysisID, f.Name, localPath); err != nil {
		return &RetrievalError{AnalysisID: analysisID, File: f.Name, Err: err}
	}
	return nil
}

// retrieveArchive downloads an archive into a scratch directory under dest,
// which is removed on every exit path, and merges it into dest.
func (r *ArchiveRetriever) retrieveArchive(ctx context.Context, analysisID string, f models.FileDescriptor, dest string) error {
	members, err := r.platform.ZipMembers(ctx, analysisID, f.Name)
	if err != nil {
		return &RetrievalError{AnalysisID: analysisID, File: f.Name, Err: err}
	}

	scratch, err := os.MkdirTemp(dest, scratchPattern)
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			r.logger.Error("failed to remove scratch dir", "path", scratch, "error", err)
		}
	}()

	archivePath := filepath.Join(scratch, f.Name)
	if err := r.download(ctx, analysisID, f, archivePath); err != nil {
		return err
	}

	layout, err := r.unpacker.ExtractAndMerge(ctx, scratch, archivePath, members, dest)
	if err != nil {
		return fmt.Errorf("unpack %s of analysis %s: %w", f.Name, analysisID, err)
	}
	r.logger.Info("archive merged",
		"analysis_id", analysisID,
		"file", f.Name,
		"layout", layout.String(),
		"dest", dest)
	return nil
}
