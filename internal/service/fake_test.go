package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/raphaelgruber/gearflow/internal/models"
)

var errNotFound = errors.New("not found")

// fakePlatform is an in-memory Platform.
type fakePlatform struct {
	mu sync.Mutex

	gears        []models.Gear
	analyses     map[string][]models.AnalysisRecord // keyed by container ref
	sessions     map[string]models.Session
	acquisitions map[string][]models.Acquisition

	// job id -> sequence of states returned by successive polls; the last
	// state repeats.
	jobStates map[string][]models.JobStatus
	pollErrs  map[string][]error
	polls     []string

	submitErr error
	submitted []submission

	// analysis id -> file name -> content; members are derived by the caller.
	blobs       map[string]map[string][]byte
	members     map[string]map[string][]string
	downloadErr error

	files        map[string]map[string]models.FileDescriptor // container -> name
	hiddenPolls  int                                         // GetContainerFile misses after an upload
	deleted      []string
	uploaded     []string
	replacedInfo map[string]any
	updated      map[string]any
}

type submission struct {
	Gear  models.Gear
	Spec  models.GearSpec
	Label string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		analyses:     map[string][]models.AnalysisRecord{},
		sessions:     map[string]models.Session{},
		acquisitions: map[string][]models.Acquisition{},
		jobStates:    map[string][]models.JobStatus{},
		pollErrs:     map[string][]error{},
		blobs:        map[string]map[string][]byte{},
		members:      map[string]map[string][]string{},
		files:        map[string]map[string]models.FileDescriptor{},
	}
}

func (f *fakePlatform) ListAnalyses(_ context.Context, c models.ContainerRef) ([]models.AnalysisRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AnalysisRecord(nil), f.analyses[c.String()]...), nil
}

func (f *fakePlatform) ListAcquisitions(_ context.Context, sessionID string) ([]models.Acquisition, error) {
	return f.acquisitions[sessionID], nil
}

func (f *fakePlatform) LookupGear(_ context.Context, name, _ string) (*models.Gear, error) {
	var found *models.Gear
	for i := range f.gears {
		if f.gears[i].Name == name {
			found = &f.gears[i]
		}
	}
	if found == nil {
		return nil, errNotFound
	}
	return found, nil
}

func (f *fakePlatform) SubmitJob(_ context.Context, gear models.Gear, spec models.GearSpec, label string) (models.JobHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return models.JobHandle{}, f.submitErr
	}
	f.submitted = append(f.submitted, submission{Gear: gear, Spec: spec, Label: label})
	id := "job-new-" + string(rune('0'+len(f.submitted)))
	handle := models.JobHandle{ID: id, Status: models.JobStatusPending}
	key := spec.Destination.String()
	f.analyses[key] = append(f.analyses[key], models.AnalysisRecord{
		ID:    "an-" + id,
		Label: label,
		Gear:  &models.GearInfo{Name: gear.Name, Version: gear.Version},
		Job:   &handle,
	})
	return handle, nil
}

func (f *fakePlatform) GetJobStatus(_ context.Context, jobID string) (models.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls = append(f.polls, jobID)
	if errs := f.pollErrs[jobID]; len(errs) > 0 {
		f.pollErrs[jobID] = errs[1:]
		if errs[0] != nil {
			return "", errs[0]
		}
	}
	states := f.jobStates[jobID]
	if len(states) == 0 {
		return "", errNotFound
	}
	s := states[0]
	if len(states) > 1 {
		f.jobStates[jobID] = states[1:]
	}
	return s, nil
}

func (f *fakePlatform) GetAnalysis(_ context.Context, id string) (*models.AnalysisRecord, error) {
	for _, list := range f.analyses {
		for i := range list {
			if list[i].ID == id {
				a := list[i]
				return &a, nil
			}
		}
	}
	return nil, errNotFound
}

func (f *fakePlatform) GetSession(_ context.Context, id string) (*models.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, errNotFound
	}
	return &s, nil
}

func (f *fakePlatform) ZipMembers(_ context.Context, analysisID, fileName string) ([]string, error) {
	m, ok := f.members[analysisID][fileName]
	if !ok {
		return nil, errNotFound
	}
	return m, nil
}

func (f *fakePlatform) DownloadFile(_ context.Context, analysisID, fileName, localPath string) error {
	if f.downloadErr != nil {
		return f.downloadErr
	}
	data, ok := f.blobs[analysisID][fileName]
	if !ok {
		return errNotFound
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (f *fakePlatform) GetContainerFile(_ context.Context, c models.ContainerRef, name string) (*models.FileDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd, ok := f.files[c.String()][name]
	if !ok {
		return nil, nil
	}
	if f.hiddenPolls > 0 {
		f.hiddenPolls--
		return nil, nil
	}
	return &fd, nil
}

func (f *fakePlatform) DeleteContainerFile(_ context.Context, c models.ContainerRef, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files[c.String()], name)
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakePlatform) UploadContainerFile(_ context.Context, c models.ContainerRef, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := filepath.Base(localPath)
	if f.files[c.String()] == nil {
		f.files[c.String()] = map[string]models.FileDescriptor{}
	}
	f.files[c.String()][name] = models.FileDescriptor{Name: name}
	f.uploaded = append(f.uploaded, name)
	return nil
}

func (f *fakePlatform) ReplaceFileInfo(_ context.Context, _ models.ContainerRef, _ string, info map[string]any) error {
	f.replacedInfo = info
	return nil
}

func (f *fakePlatform) UpdateFile(_ context.Context, _ models.ContainerRef, _ string, fields map[string]any) error {
	f.updated = fields
	return nil
}

func (f *fakePlatform) addAnalysis(c models.ContainerRef, a models.AnalysisRecord) {
	f.analyses[c.String()] = append(f.analyses[c.String()], a)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock drives JobWaiter and Uploader without real sleeping.
type fakeClock struct {
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	return nil
}

func analysis(id, gear, version, label string, status models.JobStatus) models.AnalysisRecord {
	a := models.AnalysisRecord{
		ID:    id,
		Label: label,
		Gear:  &models.GearInfo{Name: gear, Version: version},
	}
	if status != "" {
		a.Job = &models.JobHandle{ID: "job-" + id, Status: status}
	}
	return a
}
