// Package manifest loads batch job files describing gears to run across many
// containers.
package manifest

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/raphaelgruber/gearflow/internal/models"
	"github.com/raphaelgruber/gearflow/internal/service"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.yaml
var schemaYAML []byte

// Manifest is a batch of gear jobs plus shared dedupe, wait and fetch settings.
type Manifest struct {
	Dedupe Dedupe `yaml:"dedupe"`
	Wait   Wait   `yaml:"wait"`
	Fetch  Fetch  `yaml:"fetch"`
	Jobs   []Job  `yaml:"jobs" validate:"required,min=1,dive"`
}

// Dedupe maps onto service.LookupPolicy.
type Dedupe struct {
	Statuses         []string `yaml:"statuses"`
	Mode             string   `yaml:"mode" validate:"omitempty,oneof=any all"`
	FailureThreshold int      `yaml:"failure_threshold" validate:"gte=0"`
	LabelContains    string   `yaml:"label_contains"`
	Order            string   `yaml:"order" validate:"omitempty,oneof=listing created"`
}

// Wait bounds how long a run blocks on submitted jobs.
type Wait struct {
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gte=0"`
}

// Fetch controls downloading results once jobs finish.
type Fetch struct {
	Enabled bool   `yaml:"enabled"`
	Dest    string `yaml:"dest" validate:"required_if=Enabled true"`
}

// Job is one gear to ensure on one container.
type Job struct {
	Gear        string `yaml:"gear" validate:"required"`
	Destination string `yaml:"destination" validate:"required"`
	// Container is searched for existing analyses; defaults to Destination.
	Container          string                     `yaml:"container"`
	Label              string                     `yaml:"label"`
	Config             map[string]any             `yaml:"config"`
	Inputs             map[string]models.InputRef `yaml:"inputs"`
	Tags               []string                   `yaml:"tags"`
	RequireAcquisition string                     `yaml:"require_acquisition"`
}

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
	validate       = validator.New()
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		var doc any
		if err := yaml.Unmarshal(schemaYAML, &doc); err != nil {
			compileErr = fmt.Errorf("parse manifest schema: %w", err)
			return
		}
		jsonData, err := json.Marshal(doc)
		if err != nil {
			compileErr = fmt.Errorf("marshal manifest schema: %w", err)
			return
		}
		compiledSchema, compileErr = jsonschema.CompileString("manifest.schema.json", string(jsonData))
	})
	return compiledSchema, compileErr
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse validates data against the manifest schema and decodes it.
func Parse(data []byte) (*Manifest, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	// Round-trip through JSON so the validator sees plain JSON types.
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert manifest: %w", err)
	}
	var generic any
	if err := json.Unmarshal(jsonData, &generic); err != nil {
		return nil, fmt.Errorf("convert manifest: %w", err)
	}

	s, err := schema()
	if err != nil {
		return nil, err
	}
	if err := s.Validate(generic); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	for i, j := range m.Jobs {
		if _, _, err := j.Resolve(); err != nil {
			return nil, fmt.Errorf("job %d: %w", i+1, err)
		}
	}
	return &m, nil
}

// Policy converts the dedupe section into a lookup policy. Unset fields keep
// the defaults.
func (m *Manifest) Policy() (service.LookupPolicy, error) {
	policy := service.DefaultLookupPolicy()
	d := m.Dedupe

	if len(d.Statuses) > 0 {
		set := models.StatusSet{}
		for _, raw := range d.Statuses {
			s, err := models.ParseJobStatus(raw)
			if err != nil {
				return policy, err
			}
			set[s] = struct{}{}
		}
		policy.Statuses = set
	}
	if d.Mode != "" {
		mode, err := service.ParseMatchMode(d.Mode)
		if err != nil {
			return policy, err
		}
		policy.Mode = mode
	}
	if d.FailureThreshold > 0 {
		policy.FailureThreshold = d.FailureThreshold
	}
	if d.Order != "" {
		policy.Order = service.ListingOrder(d.Order)
	}
	policy.LabelContains = d.LabelContains
	return policy, nil
}

// WaitOptions converts the wait section, leaving zero values to the waiter's
// defaults.
func (m *Manifest) WaitOptions() service.WaitOptions {
	return service.WaitOptions{Timeout: m.Wait.Timeout, PollInterval: m.Wait.PollInterval}
}

// Resolve returns the gear spec for the job and the container to search for
// existing analyses.
func (j Job) Resolve() (models.GearSpec, models.ContainerRef, error) {
	name, version, err := models.ParseGearRef(j.Gear)
	if err != nil {
		return models.GearSpec{}, models.ContainerRef{}, err
	}
	dest, err := models.ParseContainerRef(j.Destination)
	if err != nil {
		return models.GearSpec{}, models.ContainerRef{}, fmt.Errorf("destination: %w", err)
	}
	container := dest
	if j.Container != "" {
		if container, err = models.ParseContainerRef(j.Container); err != nil {
			return models.GearSpec{}, models.ContainerRef{}, fmt.Errorf("container: %w", err)
		}
	}

	spec := models.GearSpec{
		Name:        name,
		Version:     version,
		Config:      j.Config,
		Inputs:      j.Inputs,
		Tags:        j.Tags,
		Destination: dest,
		Label:       j.Label,
	}
	return spec, container, nil
}
