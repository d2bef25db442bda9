package platform

import (
	"encoding/json"
	"time"

	"github.com/raphaelgruber/gearflow/internal/models"
)

// =============================================================================
// WIRE TYPES (matching the REST API)
// =============================================================================

type gearDoc struct {
	ID       string `json:"_id"`
	Category string `json:"category"`
	Gear     struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"gear"`
}

type jobDoc struct {
	ID    string `json:"id"`
	OID   string `json:"_id"`
	State string `json:"state"`
}

func (j jobDoc) id() string {
	if j.ID != "" {
		return j.ID
	}
	return j.OID
}

type fileDoc struct {
	Name string         `json:"name"`
	Size int64          `json:"size"`
	Type string         `json:"type"`
	Info map[string]any `json:"info,omitempty"`
}

type analysisDoc struct {
	ID       string `json:"_id"`
	Label    string `json:"label"`
	GearInfo *struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"gear_info"`
	// Job is null for uploads, an object when inflated, or a bare id.
	Job     json.RawMessage `json:"job"`
	Files   []fileDoc       `json:"files"`
	Parents struct {
		Project string `json:"project"`
		Subject string `json:"subject"`
		Session string `json:"session"`
	} `json:"parents"`
	Created time.Time `json:"created"`
}

type sessionDoc struct {
	ID      string `json:"_id"`
	Label   string `json:"label"`
	Project string `json:"project"`
	Subject struct {
		Label string `json:"label"`
	} `json:"subject"`
	Tags []string `json:"tags"`
}

type acquisitionDoc struct {
	ID    string `json:"_id"`
	Label string `json:"label"`
}

type containerDoc struct {
	ID    string    `json:"_id"`
	Files []fileDoc `json:"files"`
}

type zipInfoDoc struct {
	Members []struct {
		Path string `json:"path"`
		Size int64  `json:"size"`
	} `json:"members"`
}

type jobRequest struct {
	GearID      string                     `json:"gear_id"`
	Config      map[string]any             `json:"config"`
	Inputs      map[string]models.InputRef `json:"inputs"`
	Tags        []string                   `json:"tags,omitempty"`
	Destination models.ContainerRef        `json:"destination"`
	Label       string                     `json:"label,omitempty"`
	Analysis    *analysisLabel             `json:"analysis,omitempty"`
}

type analysisLabel struct {
	Label string `json:"label"`
}

type idResponse struct {
	ID string `json:"_id"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func (d fileDoc) toModel() models.FileDescriptor {
	return models.FileDescriptor{Name: d.Name, Size: d.Size, Type: d.Type, Info: d.Info}
}

func (d sessionDoc) toModel() models.Session {
	return models.Session{
		ID:           d.ID,
		Label:        d.Label,
		SubjectLabel: d.Subject.Label,
		ProjectID:    d.Project,
		Tags:         d.Tags,
	}
}

func (d gearDoc) toModel() models.Gear {
	return models.Gear{ID: d.ID, Name: d.Gear.Name, Version: d.Gear.Version, Category: d.Category}
}
