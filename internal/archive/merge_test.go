package archive_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/raphaelgruber/gearflow/internal/archive"
	"github.com/raphaelgruber/gearflow/internal/archive/archivetest"
	"github.com/raphaelgruber/gearflow/internal/models"
	"github.com/raphaelgruber/gearflow/internal/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runID = "64b7f2c1a9e8d7c6b5a49382"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newUnpacker(x archive.Extractor) *archive.Unpacker {
	logger := quietLogger()
	return archive.NewUnpacker(x, shell.NewRetrier(nil, 3, 0, logger), logger)
}

func TestExtractAndMergeWrapped(t *testing.T) {
	dest := t.TempDir()
	scratch, err := os.MkdirTemp(dest, ".scratch-")
	require.NoError(t, err)
	zipPath := filepath.Join(scratch, "fmriprep_output.zip")
	members := archivetest.Build(t, zipPath,
		archivetest.Entry{Name: runID + "/"},
		archivetest.Entry{Name: runID + "/fmriprep/sub-01.html", Content: "report"},
		archivetest.Entry{Name: runID + "/logs/run.log", Content: "log"},
	)

	x := &archivetest.Extractor{}
	layout, err := newUnpacker(x).ExtractAndMerge(context.Background(), scratch, zipPath, members, dest)
	require.NoError(t, err)
	assert.Equal(t, models.LayoutWrappedByRunID, layout)
	assert.Equal(t, []string{scratch}, x.Calls(), "wrapped archives are extracted into the scratch dir")

	data, err := os.ReadFile(filepath.Join(dest, "fmriprep", "sub-01.html"))
	require.NoError(t, err)
	assert.Equal(t, "report", string(data))
	assert.FileExists(t, filepath.Join(dest, "logs", "run.log"))

	assert.NoDirExists(t, filepath.Join(dest, runID), "run-id directory itself must not be merged")
	assert.NoDirExists(t, filepath.Join(scratch, runID), "wrapped directory is cleaned up")
}

func TestExtractAndMergeWrappedCopyFallback(t *testing.T) {
	dest := t.TempDir()
	// Existing content is merged, not replaced.
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "fmriprep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "fmriprep", "old.txt"), []byte("old"), 0o644))

	scratch := t.TempDir()
	zipPath := filepath.Join(scratch, "out.zip")
	members := archivetest.Build(t, zipPath,
		archivetest.Entry{Name: runID + "/fmriprep/new.txt", Content: "new"},
	)

	u := newUnpacker(&archivetest.Extractor{})
	u.Rename = func(string, string) error { return errors.New("invalid cross-device link") }

	layout, err := u.ExtractAndMerge(context.Background(), scratch, zipPath, members, dest)
	require.NoError(t, err)
	assert.Equal(t, models.LayoutWrappedByRunID, layout)

	assert.FileExists(t, filepath.Join(dest, "fmriprep", "new.txt"))
	assert.FileExists(t, filepath.Join(dest, "fmriprep", "old.txt"))
	assert.NoDirExists(t, filepath.Join(scratch, runID), "wrapped directory removed after copy fallback")
}

func TestExtractAndMergeFlat(t *testing.T) {
	dest := t.TempDir()
	scratch := t.TempDir()
	zipPath := filepath.Join(scratch, "report.zip")
	members := archivetest.Build(t, zipPath,
		archivetest.Entry{Name: "files/report.txt", Content: "flat"},
	)

	x := &archivetest.Extractor{}
	layout, err := newUnpacker(x).ExtractAndMerge(context.Background(), scratch, zipPath, members, dest)
	require.NoError(t, err)
	assert.Equal(t, models.LayoutFlat, layout)
	assert.Equal(t, []string{filepath.Join(dest, archive.FilesDir)}, x.Calls())

	data, err := os.ReadFile(filepath.Join(dest, "files", "files", "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "flat", string(data))
	assert.NoFileExists(t, zipPath, "flat archives are deleted after extraction")
}

type failingExtractor struct{}

func (failingExtractor) Extract(context.Context, string, string) error {
	return &shell.CommandError{Command: "unzip", Attempts: 1, Err: errors.New("exit status 9")}
}

func TestExtractAndMergeExtractionFailure(t *testing.T) {
	scratch := t.TempDir()
	zipPath := filepath.Join(scratch, "broken.zip")
	require.NoError(t, os.WriteFile(zipPath, []byte("not a zip"), 0o644))

	_, err := newUnpacker(failingExtractor{}).ExtractAndMerge(
		context.Background(), scratch, zipPath, []string{runID + "/x"}, t.TempDir())

	var cmdErr *shell.CommandError
	require.ErrorAs(t, err, &cmdErr)
}

func TestUnzipExtractorArguments(t *testing.T) {
	rec := &recordingRunner{}
	x := archive.NewUnzipExtractor(rec, "/usr/bin/unzip", nil)

	require.NoError(t, x.Extract(context.Background(), "/scratch/a.zip", "/dest/files"))
	require.Len(t, rec.cmds, 1)
	assert.Equal(t, "/usr/bin/unzip", rec.cmds[0].Name)
	assert.Equal(t, []string{"-qq", "-o", "/scratch/a.zip", "-d", "/dest/files"}, rec.cmds[0].Args)
}

type recordingRunner struct {
	cmds []shell.Command
}

func (r *recordingRunner) Run(_ context.Context, cmd shell.Command) (shell.Result, error) {
	r.cmds = append(r.cmds, cmd)
	return shell.Result{}, nil
}

func TestUnzipExtractorPreservesSymlinks(t *testing.T) {
	if _, err := exec.LookPath("unzip"); err != nil {
		t.Skip("unzip not available")
	}
	if _, err := exec.LookPath("zip"); err != nil {
		t.Skip("zip not available")
	}

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "real.txt"), []byte("data"), 0o644))
	require.NoError(t, os.Symlink("real.txt", filepath.Join(src, "link.txt")))

	zipPath := filepath.Join(t.TempDir(), "links.zip")
	cmd := exec.Command("zip", "-q", "-y", zipPath, "real.txt", "link.txt")
	cmd.Dir = src
	require.NoError(t, cmd.Run())

	dest := t.TempDir()
	require.NoError(t, archive.NewUnzipExtractor(nil, "", nil).Extract(context.Background(), zipPath, dest))

	target, err := os.Readlink(filepath.Join(dest, "link.txt"))
	require.NoError(t, err)
	assert.Equal(t, "real.txt", target)
}
