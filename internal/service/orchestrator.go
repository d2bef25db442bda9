package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/gearflow/internal/archive"
	"github.com/raphaelgruber/gearflow/internal/metrics"
	"github.com/raphaelgruber/gearflow/internal/models"
)

// Orchestrator ties together locating, submitting, waiting for and
// retrieving gear jobs.
type Orchestrator struct {
	platform Platform
	logger   *slog.Logger

	Locator   *AnalysisLocator
	Submitter *JobSubmitter
	Waiter    *JobWaiter
	Retriever *ArchiveRetriever
	Uploader  *Uploader
}

// NewOrchestrator wires the components around a single platform client.
func NewOrchestrator(platform Platform, unpacker *archive.Unpacker, logger *slog.Logger, m *metrics.Collector) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		platform:  platform,
		logger:    logger,
		Locator:   NewAnalysisLocator(platform, logger),
		Submitter: NewJobSubmitter(platform, logger),
		Waiter:    NewJobWaiter(platform, logger, m),
		Retriever: NewArchiveRetriever(platform, unpacker, logger),
		Uploader:  NewUploader(platform, logger),
	}
}

// EnsureResult describes what EnsureJob found or created.
type EnsureResult struct {
	// Analysis is the existing analysis, or the one created by the new job
	// when the platform already lists it. It may be nil after a submission.
	Analysis *models.AnalysisRecord
	// Job is the job backing Analysis, or the submitted job. Nil for
	// manually uploaded analyses.
	Job       *models.JobHandle
	Submitted bool
}

// EnsureJob submits spec against container unless matching work already
// exists under policy.
func (o *Orchestrator) EnsureJob(ctx context.Context, container models.ContainerRef, spec models.GearSpec, policy LookupPolicy) (EnsureResult, error) {
	if spec.Destination.ID == "" {
		spec.Destination = container
	}

	exists, err := o.Locator.Exists(ctx, container, spec, policy)
	if err != nil {
		return EnsureResult{}, err
	}
	if exists {
		existing, err := o.Locator.FindExisting(ctx, container, spec, policy)
		if err != nil {
			return EnsureResult{}, err
		}
		if existing != nil {
			o.logger.Info("analysis exists, skipping submission",
				"container", container.String(),
				"gear", spec.Ref(),
				"analysis_id", existing.ID,
				"label", existing.Label)
			return EnsureResult{Analysis: existing, Job: existing.Job}, nil
		}
	}

	handle, err := o.Submitter.Submit(ctx, spec)
	if err != nil {
		return EnsureResult{}, err
	}
	result := EnsureResult{Job: &handle, Submitted: true}

	analysis, err := o.ResolveAnalysis(ctx, spec.Destination, handle.ID)
	if err != nil {
		o.logger.Debug("could not resolve analysis for submitted job", "job_id", handle.ID, "error", err)
	}
	result.Analysis = analysis
	return result, nil
}

// ResolveAnalysis returns the analysis on container backed by jobID. It
// returns nil without error when the platform does not list one yet.
func (o *Orchestrator) ResolveAnalysis(ctx context.Context, container models.ContainerRef, jobID string) (*models.AnalysisRecord, error) {
	analyses, err := o.platform.ListAnalyses(ctx, container)
	if err != nil {
		return nil, err
	}
	for i := range analyses {
		if analyses[i].Job != nil && analyses[i].Job.ID == jobID {
			return &analyses[i], nil
		}
	}
	return nil, nil
}

// WaitForJobs blocks until every handle is terminal or opts.Timeout passes.
func (o *Orchestrator) WaitForJobs(ctx context.Context, opts WaitOptions, handles ...models.JobHandle) (WaitResult, error) {
	return o.Waiter.AwaitAll(ctx, opts, handles...)
}

// FetchResults downloads the outputs of the analysis into dest. Failures are
// logged with the subject and session the analysis belongs to.
func (o *Orchestrator) FetchResults(ctx context.Context, analysisID, dest string) error {
	analysis, err := o.platform.GetAnalysis(ctx, analysisID)
	if err != nil {
		o.logger.Error("analysis not found", "analysis_id", analysisID, "error", err)
		return &RetrievalError{AnalysisID: analysisID, Err: err}
	}

	subject, session := o.sessionContext(ctx, analysis)
	o.logger.Info("downloading analysis",
		"analysis_id", analysis.ID,
		"label", analysis.Label,
		"subject", subject,
		"session", session,
		"dest", dest)

	if err := o.Retriever.Retrieve(ctx, *analysis, dest); err != nil {
		var rerr *RetrievalError
		if errors.As(err, &rerr) {
			rerr.Subject, rerr.Session = subject, session
		}
		o.logger.Error("retrieval failed",
			"analysis_id", analysis.ID,
			"subject", subject,
			"session", session,
			"error", err)
		return err
	}
	return nil
}

// sessionContext resolves subject and session labels for log context. Lookup
// failures fall back to the parent ids.
func (o *Orchestrator) sessionContext(ctx context.Context, analysis *models.AnalysisRecord) (subject, session string) {
	if analysis.Parents.Session == "" {
		return analysis.Parents.Subject, ""
	}
	s, err := o.platform.GetSession(ctx, analysis.Parents.Session)
	if err != nil {
		o.logger.Debug("session lookup failed", "session_id", analysis.Parents.Session, "error", err)
		return analysis.Parents.Subject, analysis.Parents.Session
	}
	return s.SubjectLabel, s.Label
}

// Describe returns a one-line summary of an ensure result for CLI output.
func (r EnsureResult) Describe() string {
	switch {
	case r.Submitted && r.Job != nil:
		return fmt.Sprintf("submitted job %s", r.Job.ID)
	case r.Analysis != nil && r.Job != nil:
		return fmt.Sprintf("existing analysis %s (job %s, %s)", r.Analysis.ID, r.Job.ID, r.Job.Status)
	case r.Analysis != nil:
		return fmt.Sprintf("existing analysis %s (uploaded)", r.Analysis.ID)
	default:
		return "nothing to do"
	}
}
