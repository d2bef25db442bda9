package models

import (
	"fmt"
	"strings"
)

// Gear is a catalog entry that can be run on the platform.
type Gear struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	Category string `json:"category,omitempty"` // "analysis" or "utility"
}

// InputRef points at a file on a container used as a gear input.
type InputRef struct {
	Type ContainerType `json:"type" yaml:"type"`
	ID   string        `json:"id" yaml:"id"`
	Name string        `json:"name" yaml:"name"`
}

// GearSpec describes a unit of remote work to run.
type GearSpec struct {
	Name string
	// Version is a regular expression searched (unanchored) in the available
	// version string. Empty matches any version.
	Version     string
	Config      map[string]any
	Inputs      map[string]InputRef
	Tags        []string
	Destination ContainerRef
	Label       string
}

// Ref returns the "name/version" form accepted by ParseGearRef.
func (g GearSpec) Ref() string {
	if g.Version == "" {
		return g.Name
	}
	return g.Name + "/" + g.Version
}

// ParseGearRef splits "name" or "name/version-pattern" into its parts.
// Everything after the first slash is the version pattern.
func ParseGearRef(ref string) (name, version string, err error) {
	name, version, _ = strings.Cut(strings.TrimSpace(ref), "/")
	if name == "" {
		return "", "", fmt.Errorf("invalid gear reference %q", ref)
	}
	return name, version, nil
}
