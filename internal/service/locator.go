package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/raphaelgruber/gearflow/internal/models"
)

// MatchMode decides how the status filter applies across matching analyses.
type MatchMode string

const (
	// MatchAny is satisfied by a single analysis in an accepted state.
	MatchAny MatchMode = "any"
	// MatchAll requires every name/version match to be in an accepted state.
	MatchAll MatchMode = "all"
)

// ParseMatchMode parses "any" or "all" (case-insensitive). Empty means MatchAny.
func ParseMatchMode(s string) (MatchMode, error) {
	switch m := MatchMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MatchAny, nil
	case MatchAny, MatchAll:
		return m, nil
	default:
		return "", fmt.Errorf("invalid match mode %q (expected any or all)", s)
	}
}

// ListingOrder is the order in which analyses are scanned. The last match in
// this order is treated as the most recent.
type ListingOrder string

const (
	// OrderListing trusts the platform's native order to be append order.
	OrderListing ListingOrder = "listing"
	// OrderCreated sorts by creation time before scanning.
	OrderCreated ListingOrder = "created"
)

// LookupPolicy controls how existing analyses are matched.
type LookupPolicy struct {
	Statuses         models.StatusSet
	Mode             MatchMode
	FailureThreshold int
	LabelContains    string
	Order            ListingOrder
}

// DefaultLookupPolicy accepts work that finished, is running, or is queued.
func DefaultLookupPolicy() LookupPolicy {
	return LookupPolicy{
		Statuses:         models.NewStatusSet(models.JobStatusComplete, models.JobStatusRunning, models.JobStatusPending),
		Mode:             MatchAny,
		FailureThreshold: 1,
		Order:            OrderListing,
	}
}

// AnalysisLocator finds analyses that already satisfy a gear spec.
type AnalysisLocator struct {
	platform LocatorPlatform
	logger   *slog.Logger
}

// NewAnalysisLocator creates a locator.
func NewAnalysisLocator(platform LocatorPlatform, logger *slog.Logger) *AnalysisLocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisLocator{platform: platform, logger: logger}
}

// FindExisting returns the last analysis on container that matches spec and
// the policy, or nil when none does. Under MatchAll, any matching analysis
// outside the accepted states makes the result nil.
func (l *AnalysisLocator) FindExisting(ctx context.Context, container models.ContainerRef, spec models.GearSpec, policy LookupPolicy) (*models.AnalysisRecord, error) {
	candidates, err := l.candidates(ctx, container, spec, policy)
	if err != nil {
		return nil, err
	}

	var found *models.AnalysisRecord
	for i := range candidates {
		a := &candidates[i]
		if accepts(policy.Statuses, a) {
			found = a
			continue
		}
		if policy.Mode == MatchAll {
			l.logger.Debug("analysis outside status filter, treating as not found",
				"container", container.String(),
				"analysis_id", a.ID,
				"status", a.Job.Status,
				"statuses", policy.Statuses.String())
			return nil, nil
		}
	}
	return found, nil
}

// Exists reports whether work matching spec already exists on container.
// Failed analyses only count once FailureThreshold of them have been seen,
// which caps how often a failing job is resubmitted.
func (l *AnalysisLocator) Exists(ctx context.Context, container models.ContainerRef, spec models.GearSpec, policy LookupPolicy) (bool, error) {
	candidates, err := l.candidates(ctx, container, spec, policy)
	if err != nil {
		return false, err
	}

	threshold := max(policy.FailureThreshold, 1)
	exists := false
	failures := 0
	for i := range candidates {
		a := &candidates[i]
		if !accepts(policy.Statuses, a) {
			if policy.Mode == MatchAll {
				l.logger.Debug("analysis outside status filter, treating as not found",
					"container", container.String(),
					"analysis_id", a.ID,
					"status", a.Job.Status)
				return false, nil
			}
			continue
		}
		if a.Job != nil && a.Job.Status == models.JobStatusFailed {
			failures++
			if failures >= threshold {
				exists = true
			}
			continue
		}
		exists = true
	}
	return exists, nil
}

// HasAcquisition reports whether a session has an acquisition whose label
// contains labelSubstring.
func (l *AnalysisLocator) HasAcquisition(ctx context.Context, sessionID, labelSubstring string) (bool, error) {
	acqs, err := l.platform.ListAcquisitions(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("list acquisitions of session %s: %w", sessionID, err)
	}
	for _, acq := range acqs {
		if strings.Contains(acq.Label, labelSubstring) {
			return true, nil
		}
	}
	return false, nil
}

// candidates returns the analyses matching gear name, version pattern and
// label, in scan order.
func (l *AnalysisLocator) candidates(ctx context.Context, container models.ContainerRef, spec models.GearSpec, policy LookupPolicy) ([]models.AnalysisRecord, error) {
	var versionRE *regexp.Regexp
	if spec.Version != "" {
		re, err := regexp.Compile(spec.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid version pattern %q: %w", spec.Version, err)
		}
		versionRE = re
	}

	analyses, err := l.platform.ListAnalyses(ctx, container)
	if err != nil {
		return nil, fmt.Errorf("list analyses of %s: %w", container, err)
	}
	if policy.Order == OrderCreated {
		slices.SortStableFunc(analyses, func(a, b models.AnalysisRecord) int {
			return a.Created.Compare(b.Created)
		})
	}

	var matched []models.AnalysisRecord
	for _, a := range analyses {
		if a.Gear == nil || a.Gear.Name != spec.Name {
			continue
		}
		if versionRE != nil && !versionRE.MatchString(a.Gear.Version) {
			continue
		}
		if policy.LabelContains != "" && !strings.Contains(a.Label, policy.LabelContains) {
			continue
		}
		matched = append(matched, a)
	}

	l.logger.Debug("analysis candidates",
		"container", container.String(),
		"gear", spec.Ref(),
		"listed", len(analyses),
		"matched", len(matched))
	return matched, nil
}

// accepts reports whether the analysis' job state is in statuses. Manual
// uploads have no job and are always accepted.
func accepts(statuses models.StatusSet, a *models.AnalysisRecord) bool {
	if a.Job == nil {
		return true
	}
	return statuses.Contains(a.Job.Status)
}
