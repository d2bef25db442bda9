package models

import (
	"fmt"
	"strings"
	"time"
)

// ContainerType names a level of the platform hierarchy.
type ContainerType string

const (
	ContainerProject     ContainerType = "project"
	ContainerSubject     ContainerType = "subject"
	ContainerSession     ContainerType = "session"
	ContainerAcquisition ContainerType = "acquisition"
	ContainerAnalysis    ContainerType = "analysis"
)

// ContainerRef points at a container on the platform.
type ContainerRef struct {
	Type ContainerType `json:"type" yaml:"type"`
	ID   string        `json:"id" yaml:"id"`
}

func (c ContainerRef) String() string {
	return string(c.Type) + "/" + c.ID
}

// ParseContainerRef parses "session/<id>" style references.
func ParseContainerRef(s string) (ContainerRef, error) {
	kind, id, ok := strings.Cut(s, "/")
	if !ok || id == "" {
		return ContainerRef{}, fmt.Errorf("invalid container reference %q (expected type/id)", s)
	}
	ref := ContainerRef{Type: ContainerType(strings.ToLower(kind)), ID: id}
	switch ref.Type {
	case ContainerProject, ContainerSubject, ContainerSession, ContainerAcquisition, ContainerAnalysis:
		return ref, nil
	default:
		return ContainerRef{}, fmt.Errorf("unknown container type %q", kind)
	}
}

// GearInfo is the gear identity recorded on an analysis.
type GearInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Parents holds the ids of the containers above an analysis.
type Parents struct {
	Project string `json:"project,omitempty"`
	Subject string `json:"subject,omitempty"`
	Session string `json:"session,omitempty"`
}

// FileDescriptor describes a file stored on a container.
type FileDescriptor struct {
	Name string         `json:"name"`
	Size int64          `json:"size"`
	Type string         `json:"type,omitempty"`
	Info map[string]any `json:"info,omitempty"`
}

// IsArchive reports whether the file is a zip archive.
func (f FileDescriptor) IsArchive() bool {
	return strings.HasSuffix(strings.ToLower(f.Name), ".zip")
}

// AnalysisRecord is one execution (or manual upload) of a gear's output.
type AnalysisRecord struct {
	ID      string           `json:"id"`
	Label   string           `json:"label"`
	Gear    *GearInfo        `json:"gear_info,omitempty"` // nil for records not produced by a gear
	Job     *JobHandle       `json:"job,omitempty"`       // nil for manual uploads
	Files   []FileDescriptor `json:"files,omitempty"`
	Parents Parents          `json:"parents"`
	Created time.Time        `json:"created"`
}

// Session carries the labels used to give retrieval logs operator context.
type Session struct {
	ID           string   `json:"id"`
	Label        string   `json:"label"`
	SubjectLabel string   `json:"subject_label"`
	ProjectID    string   `json:"project"`
	Tags         []string `json:"tags,omitempty"`
}

// Acquisition is a session child holding acquired files.
type Acquisition struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}
