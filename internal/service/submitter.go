package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/gearflow/internal/models"
)

// LabelTimeLayout formats the timestamp of default job labels.
const LabelTimeLayout = "01/02/06 15:04:05"

// JobSubmitter queues new gear jobs on the platform.
type JobSubmitter struct {
	platform JobPlatform
	logger   *slog.Logger
	now      func() time.Time
}

// NewJobSubmitter creates a submitter.
func NewJobSubmitter(platform JobPlatform, logger *slog.Logger) *JobSubmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobSubmitter{platform: platform, logger: logger, now: time.Now}
}

// DefaultLabel returns "<gear name> <timestamp>".
func (s *JobSubmitter) DefaultLabel(gearName string) string {
	return gearName + " " + s.now().Format(LabelTimeLayout)
}

// Submit resolves the gear named by spec and queues one job. It does not
// wait for the job to run. Platform failures are returned as *SubmissionError.
func (s *JobSubmitter) Submit(ctx context.Context, spec models.GearSpec) (models.JobHandle, error) {
	fail := func(err error) (models.JobHandle, error) {
		s.logger.Error("job submission failed",
			"gear", spec.Ref(),
			"destination", spec.Destination.String(),
			"error", err)
		return models.JobHandle{}, &SubmissionError{Gear: spec.Ref(), Destination: spec.Destination, Err: err}
	}

	gear, err := s.platform.LookupGear(ctx, spec.Name, spec.Version)
	if err != nil {
		return fail(fmt.Errorf("lookup gear: %w", err))
	}

	label := spec.Label
	if label == "" {
		label = s.DefaultLabel(gear.Name)
	}

	handle, err := s.platform.SubmitJob(ctx, *gear, spec, label)
	if err != nil {
		return fail(err)
	}

	s.logger.Info("job submitted",
		"job_id", handle.ID,
		"gear", gear.Name,
		"version", gear.Version,
		"destination", spec.Destination.String(),
		"label", label)
	return handle, nil
}
