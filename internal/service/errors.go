package service

import (
	"fmt"

	"github.com/raphaelgruber/gearflow/internal/models"
)

// SubmissionError is returned when the platform rejects a job request.
type SubmissionError struct {
	Gear        string
	Destination models.ContainerRef
	Err         error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s to %s: %v", e.Gear, e.Destination, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// RetrievalError is returned when an analysis or one of its files cannot be
// located or downloaded. Subject and Session are labels for the operator and
// may be empty when they could not be resolved.
type RetrievalError struct {
	AnalysisID string
	File       string
	Subject    string
	Session    string
	Err        error
}

func (e *RetrievalError) Error() string {
	msg := "retrieve analysis " + e.AnalysisID
	if e.File != "" {
		msg += " file " + e.File
	}
	if e.Subject != "" || e.Session != "" {
		msg += fmt.Sprintf(" (subject %s, session %s)", e.Subject, e.Session)
	}
	return msg + ": " + e.Err.Error()
}

func (e *RetrievalError) Unwrap() error { return e.Err }
