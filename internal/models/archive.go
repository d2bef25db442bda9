package models

import "strings"

// RunIDLength is the length of the opaque run identifier some archives are wrapped in.
const RunIDLength = 24

// ArchiveLayout describes how a downloaded zip is organized.
type ArchiveLayout int

const (
	// LayoutFlat archives keep their contents at the zip root.
	LayoutFlat ArchiveLayout = iota
	// LayoutWrappedByRunID archives nest everything under a run-identifier directory.
	LayoutWrappedByRunID
)

func (l ArchiveLayout) String() string {
	switch l {
	case LayoutWrappedByRunID:
		return "wrapped"
	default:
		return "flat"
	}
}

// DetectLayout classifies an archive from its member list alone. Only the
// first member is inspected; when its leading directory component is exactly
// RunIDLength characters the archive is wrapped and that component is returned
// as the run id.
func DetectLayout(members []string) (ArchiveLayout, string) {
	if len(members) == 0 {
		return LayoutFlat, ""
	}
	first := strings.TrimPrefix(strings.ReplaceAll(members[0], `\`, "/"), "./")
	top, _, hasDir := strings.Cut(first, "/")
	if hasDir && len(top) == RunIDLength {
		return LayoutWrappedByRunID, top
	}
	return LayoutFlat, ""
}
