// Package service provides the job orchestration logic: locating existing
// analyses, submitting and awaiting gear jobs, and retrieving their results.
package service

import (
	"context"

	"github.com/raphaelgruber/gearflow/internal/models"
)

// AnalysisLister lists the analyses attached to a container.
type AnalysisLister interface {
	ListAnalyses(ctx context.Context, container models.ContainerRef) ([]models.AnalysisRecord, error)
}

// AcquisitionLister lists the acquisitions of a session.
type AcquisitionLister interface {
	ListAcquisitions(ctx context.Context, sessionID string) ([]models.Acquisition, error)
}

// LocatorPlatform is what AnalysisLocator needs from the platform.
type LocatorPlatform interface {
	AnalysisLister
	AcquisitionLister
}

// JobPlatform resolves gears and submits jobs.
type JobPlatform interface {
	LookupGear(ctx context.Context, name, versionPattern string) (*models.Gear, error)
	SubmitJob(ctx context.Context, gear models.Gear, spec models.GearSpec, label string) (models.JobHandle, error)
}

// StatusPoller reports the current state of a job.
type StatusPoller interface {
	GetJobStatus(ctx context.Context, jobID string) (models.JobStatus, error)
}

// ResultPlatform is what ArchiveRetriever and FetchResults need.
type ResultPlatform interface {
	GetAnalysis(ctx context.Context, id string) (*models.AnalysisRecord, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ZipMembers(ctx context.Context, analysisID, fileName string) ([]string, error)
	DownloadFile(ctx context.Context, analysisID, fileName, localPath string) error
}

// FilePlatform manages files attached directly to containers.
type FilePlatform interface {
	GetContainerFile(ctx context.Context, container models.ContainerRef, name string) (*models.FileDescriptor, error)
	DeleteContainerFile(ctx context.Context, container models.ContainerRef, name string) error
	UploadContainerFile(ctx context.Context, container models.ContainerRef, localPath string) error
	ReplaceFileInfo(ctx context.Context, container models.ContainerRef, name string, info map[string]any) error
	UpdateFile(ctx context.Context, container models.ContainerRef, name string, fields map[string]any) error
}

// Platform is the full set of capabilities the orchestrator uses.
type Platform interface {
	LocatorPlatform
	JobPlatform
	StatusPoller
	ResultPlatform
	FilePlatform
}
