// Package models defines data structures for gear jobs, analyses and their outputs.
package models

import (
	"fmt"
	"sort"
	"strings"
)

// JobStatus represents the lifecycle state of a remote job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusComplete  JobStatus = "complete"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusComplete, JobStatusCancelled, JobStatusFailed:
		return true
	default:
		return false
	}
}

// UnknownStatusError is returned when the platform reports a state that has
// no JobStatus equivalent.
type UnknownStatusError struct {
	Raw string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown job status %q", e.Raw)
}

// ParseJobStatus maps a raw platform state onto a JobStatus.
func ParseJobStatus(raw string) (JobStatus, error) {
	switch s := JobStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case JobStatusPending, JobStatusRunning, JobStatusComplete, JobStatusCancelled, JobStatusFailed:
		return s, nil
	default:
		return "", &UnknownStatusError{Raw: raw}
	}
}

// JobHandle identifies a submitted unit of remote work.
type JobHandle struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`
}

// StatusSet is a set of acceptable job states.
type StatusSet map[JobStatus]struct{}

// NewStatusSet builds a set from the given states.
func NewStatusSet(statuses ...JobStatus) StatusSet {
	set := make(StatusSet, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}

// ParseStatusSet parses a comma separated list such as "complete,running".
func ParseStatusSet(list string) (StatusSet, error) {
	set := StatusSet{}
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		s, err := ParseJobStatus(part)
		if err != nil {
			return nil, err
		}
		set[s] = struct{}{}
	}
	return set, nil
}

// Contains reports whether s is in the set.
func (set StatusSet) Contains(s JobStatus) bool {
	_, ok := set[s]
	return ok
}

// String returns the members in sorted order, comma separated.
func (set StatusSet) String() string {
	names := make([]string, 0, len(set))
	for s := range set {
		names = append(names, string(s))
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
