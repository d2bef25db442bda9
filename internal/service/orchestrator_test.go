package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raphaelgruber/gearflow/internal/archive"
	"github.com/raphaelgruber/gearflow/internal/archive/archivetest"
	"github.com/raphaelgruber/gearflow/internal/models"
	"github.com/raphaelgruber/gearflow/internal/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runID = "5f3c9a1b2d4e6f708192a3b4"

func newTestOrchestrator(t *testing.T, fp *fakePlatform) (*Orchestrator, *archive.Unpacker) {
	t.Helper()
	logger := quietLogger()
	unpacker := archive.NewUnpacker(&archivetest.Extractor{}, shell.NewRetrier(nil, 3, 0, logger), logger)
	o := NewOrchestrator(fp, unpacker, logger, nil)
	clock := newFakeClock()
	o.Submitter.now = clock.Now
	return o, unpacker
}

func TestEnsureJobSkipsExistingComplete(t *testing.T) {
	fp := newFakePlatform()
	fp.gears = []models.Gear{{ID: "g1", Name: "fmriprep", Version: "1.0.0"}}
	fp.addAnalysis(session1, analysis("a1", "fmriprep", "1.0.0", "fmriprep run", models.JobStatusComplete))
	o, _ := newTestOrchestrator(t, fp)

	spec := models.GearSpec{Name: "fmriprep", Version: `1\.0`}
	res, err := o.EnsureJob(context.Background(), session1, spec, DefaultLookupPolicy())
	require.NoError(t, err)

	assert.False(t, res.Submitted)
	require.NotNil(t, res.Analysis)
	assert.Equal(t, "a1", res.Analysis.ID)
	assert.Equal(t, models.JobStatusComplete, res.Job.Status)
	assert.Empty(t, fp.submitted, "no job must be submitted when matching work exists")
}

func TestEnsureJobSubmitsWhenMissing(t *testing.T) {
	fp := newFakePlatform()
	fp.gears = []models.Gear{{ID: "g1", Name: "fmriprep", Version: "1.0.0", Category: "analysis"}}
	fp.addAnalysis(session1, analysis("old", "fmriprep", "1.0.0", "", models.JobStatusFailed))
	o, _ := newTestOrchestrator(t, fp)

	spec := models.GearSpec{Name: "fmriprep", Config: map[string]any{"n_cpus": 4}}
	res, err := o.EnsureJob(context.Background(), session1, spec, DefaultLookupPolicy())
	require.NoError(t, err)

	assert.True(t, res.Submitted)
	require.Len(t, fp.submitted, 1)
	sub := fp.submitted[0]
	assert.Equal(t, session1, sub.Spec.Destination, "destination defaults to the container")
	assert.Equal(t, "fmriprep 10/18/26 09:00:00", sub.Label)

	require.NotNil(t, res.Job)
	assert.Equal(t, models.JobStatusPending, res.Job.Status)
	require.NotNil(t, res.Analysis, "created analysis is resolved from the listing")
	assert.Equal(t, res.Job.ID, res.Analysis.Job.ID)
	assert.Contains(t, res.Describe(), "submitted job")
}

func TestEnsureJobExplicitLabel(t *testing.T) {
	fp := newFakePlatform()
	fp.gears = []models.Gear{{ID: "g1", Name: "mriqc", Version: "22.0"}}
	o, _ := newTestOrchestrator(t, fp)

	_, err := o.EnsureJob(context.Background(), session1, models.GearSpec{Name: "mriqc", Label: "qc pass 1"}, DefaultLookupPolicy())
	require.NoError(t, err)
	assert.Equal(t, "qc pass 1", fp.submitted[0].Label)
}

func TestEnsureJobSubmissionError(t *testing.T) {
	fp := newFakePlatform()
	fp.gears = []models.Gear{{ID: "g1", Name: "fmriprep", Version: "1.0.0"}}
	fp.submitErr = errors.New("quota exceeded")
	o, _ := newTestOrchestrator(t, fp)

	_, err := o.EnsureJob(context.Background(), session1, models.GearSpec{Name: "fmriprep"}, DefaultLookupPolicy())
	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "fmriprep", subErr.Gear)
	assert.Equal(t, session1, subErr.Destination)
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestSubmitUnknownGear(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakePlatform())
	_, err := o.Submitter.Submit(context.Background(), models.GearSpec{Name: "nope", Destination: session1})
	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.ErrorIs(t, err, errNotFound)
}

// addZipOutput registers an archive output on the analysis.
func addZipOutput(t *testing.T, fp *fakePlatform, a *models.AnalysisRecord, name string, entries ...archivetest.Entry) {
	t.Helper()
	data, members := archivetest.Bytes(t, entries...)
	addBlob(fp, a, name, data)
	if fp.members[a.ID] == nil {
		fp.members[a.ID] = map[string][]string{}
	}
	fp.members[a.ID][name] = members
}

func addBlob(fp *fakePlatform, a *models.AnalysisRecord, name string, data []byte) {
	if fp.blobs[a.ID] == nil {
		fp.blobs[a.ID] = map[string][]byte{}
	}
	fp.blobs[a.ID][name] = data
	a.Files = append(a.Files, models.FileDescriptor{Name: name, Size: int64(len(data))})
}

func assertNoScratch(t *testing.T, dest string) {
	t.Helper()
	leftovers, err := filepath.Glob(filepath.Join(dest, ".gearflow-scratch-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "scratch directories must be removed")
}

func TestFetchResultsMergesBothLayouts(t *testing.T) {
	fp := newFakePlatform()
	a := analysis("a1", "fmriprep", "1.0.0", "fmriprep run", models.JobStatusComplete)
	a.Parents = models.Parents{Subject: "sub1", Session: "s1"}
	addZipOutput(t, fp, &a, "fmriprep_a1.zip",
		archivetest.Entry{Name: runID + "/fmriprep/sub-01.html", Content: "report"},
		archivetest.Entry{Name: runID + "/freesurfer/sub-01/mri/T1.mgz", Content: "mgz"},
	)
	addZipOutput(t, fp, &a, "qc.zip", archivetest.Entry{Name: "files/report.txt", Content: "flat"})
	addBlob(fp, &a, "job.log", []byte("log"))
	fp.addAnalysis(session1, a)
	fp.sessions["s1"] = models.Session{ID: "s1", Label: "ses-01", SubjectLabel: "sub-01"}

	o, _ := newTestOrchestrator(t, fp)
	dest := t.TempDir()
	require.NoError(t, o.FetchResults(context.Background(), "a1", dest))

	assert.FileExists(t, filepath.Join(dest, "fmriprep", "sub-01.html"))
	assert.FileExists(t, filepath.Join(dest, "freesurfer", "sub-01", "mri", "T1.mgz"))
	assert.NoDirExists(t, filepath.Join(dest, runID))

	assert.FileExists(t, filepath.Join(dest, "files", "files", "report.txt"))
	assert.FileExists(t, filepath.Join(dest, "files", "job.log"))
	assert.NoFileExists(t, filepath.Join(dest, "files", "qc.zip"))
	assertNoScratch(t, dest)
}

func TestFetchResultsCopyFallbackCleansUp(t *testing.T) {
	fp := newFakePlatform()
	a := analysis("a1", "fmriprep", "1.0.0", "", models.JobStatusComplete)
	addZipOutput(t, fp, &a, "out.zip", archivetest.Entry{Name: runID + "/out/data.txt", Content: "x"})
	fp.addAnalysis(session1, a)

	o, unpacker := newTestOrchestrator(t, fp)
	unpacker.Rename = func(string, string) error { return errors.New("invalid cross-device link") }

	dest := t.TempDir()
	require.NoError(t, o.FetchResults(context.Background(), "a1", dest))
	assert.FileExists(t, filepath.Join(dest, "out", "data.txt"))
	assertNoScratch(t, dest)
}

func TestFetchResultsExtractionFailureCleansUp(t *testing.T) {
	fp := newFakePlatform()
	a := analysis("a1", "fmriprep", "1.0.0", "", models.JobStatusComplete)
	addBlob(fp, &a, "broken.zip", []byte("not a zip"))
	fp.members["a1"] = map[string][]string{"broken.zip": {runID + "/x"}}
	fp.addAnalysis(session1, a)

	o, _ := newTestOrchestrator(t, fp)
	dest := t.TempDir()
	err := o.FetchResults(context.Background(), "a1", dest)
	require.Error(t, err)
	assertNoScratch(t, dest)
}

func TestFetchResultsDownloadFailureCarriesContext(t *testing.T) {
	fp := newFakePlatform()
	a := analysis("a1", "fmriprep", "1.0.0", "", models.JobStatusComplete)
	a.Parents = models.Parents{Subject: "sub1", Session: "s1"}
	addBlob(fp, &a, "job.log", []byte("log"))
	fp.addAnalysis(session1, a)
	fp.sessions["s1"] = models.Session{ID: "s1", Label: "ses-01", SubjectLabel: "sub-01"}
	fp.downloadErr = errors.New("connection reset")

	o, _ := newTestOrchestrator(t, fp)
	err := o.FetchResults(context.Background(), "a1", t.TempDir())

	var rerr *RetrievalError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "a1", rerr.AnalysisID)
	assert.Equal(t, "job.log", rerr.File)
	assert.Equal(t, "sub-01", rerr.Subject)
	assert.Equal(t, "ses-01", rerr.Session)
	assert.ErrorContains(t, err, "connection reset")
}

func TestFetchResultsUnknownAnalysis(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakePlatform())
	err := o.FetchResults(context.Background(), "missing", t.TempDir())

	var rerr *RetrievalError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "missing", rerr.AnalysisID)
}

func TestWaitForJobs(t *testing.T) {
	fp := newFakePlatform()
	fp.jobStates["j1"] = []models.JobStatus{models.JobStatusComplete}
	o, _ := newTestOrchestrator(t, fp)

	res, err := o.WaitForJobs(context.Background(), WaitOptions{Timeout: time.Minute, PollInterval: time.Second},
		models.JobHandle{ID: "j1", Status: models.JobStatusRunning})
	require.NoError(t, err)
	assert.True(t, res.Complete)
}

func TestUploaderSkipsExisting(t *testing.T) {
	fp := newFakePlatform()
	acq := models.ContainerRef{Type: models.ContainerAcquisition, ID: "q1"}
	fp.files[acq.String()] = map[string]models.FileDescriptor{"T1w.nii.gz": {Name: "T1w.nii.gz"}}

	local := filepath.Join(t.TempDir(), "T1w.nii.gz")
	require.NoError(t, os.WriteFile(local, []byte("nii"), 0o644))

	u := NewUploader(fp, quietLogger())
	uploaded, err := u.Upload(context.Background(), acq, local, UploadOptions{})
	require.NoError(t, err)
	assert.False(t, uploaded)
	assert.Empty(t, fp.uploaded)
}

func TestUploaderOverwriteWaitsAndUpdates(t *testing.T) {
	fp := newFakePlatform()
	acq := models.ContainerRef{Type: models.ContainerAcquisition, ID: "q1"}
	fp.files[acq.String()] = map[string]models.FileDescriptor{"T1w.nii.gz": {Name: "T1w.nii.gz"}}

	local := filepath.Join(t.TempDir(), "T1w.nii.gz")
	require.NoError(t, os.WriteFile(local, []byte("nii"), 0o644))

	clock := newFakeClock()
	// The replacement stays invisible for two lookups after the upload.
	u := NewUploader(&hidingPlatform{fakePlatform: fp, hideAfterUpload: 2}, quietLogger())
	u.sleep = clock.Sleep

	opts := UploadOptions{
		Overwrite:   true,
		ReplaceInfo: map[string]any{"qc": "pass"},
		Fields:      map[string]any{"modality": "MR"},
	}
	uploaded, err := u.Upload(context.Background(), acq, local, opts)
	require.NoError(t, err)
	assert.True(t, uploaded)

	assert.Equal(t, []string{"T1w.nii.gz"}, fp.deleted)
	assert.Equal(t, []string{"T1w.nii.gz"}, fp.uploaded)
	assert.Equal(t, []time.Duration{DefaultSettleDelay, DefaultVisiblePoll, DefaultVisiblePoll}, clock.sleeps)
	assert.Equal(t, map[string]any{"qc": "pass"}, fp.replacedInfo)
	assert.Equal(t, map[string]any{"modality": "MR"}, fp.updated)
}

// hidingPlatform hides a freshly uploaded file for a number of lookups.
type hidingPlatform struct {
	*fakePlatform
	hideAfterUpload int
}

func (h *hidingPlatform) UploadContainerFile(ctx context.Context, c models.ContainerRef, localPath string) error {
	if err := h.fakePlatform.UploadContainerFile(ctx, c, localPath); err != nil {
		return err
	}
	h.fakePlatform.hiddenPolls = h.hideAfterUpload
	return nil
}

func TestUploaderRejectsDirectories(t *testing.T) {
	u := NewUploader(newFakePlatform(), quietLogger())
	_, err := u.Upload(context.Background(), session1, t.TempDir(), UploadOptions{})
	assert.ErrorContains(t, err, "not a regular file")
}
