package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/raphaelgruber/gearflow/internal/models"
	"github.com/raphaelgruber/gearflow/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// policyFlags holds the dedupe flags shared by ensure and find.
type policyFlags struct {
	statuses         string
	mode             string
	failureThreshold int
	labelContains    string
	order            string
}

func (f *policyFlags) register(cmd *cobra.Command) {
	def := service.DefaultLookupPolicy()
	cmd.Flags().StringVar(&f.statuses, "statuses", def.Statuses.String(), "job states that count as existing work")
	cmd.Flags().StringVar(&f.mode, "mode", string(def.Mode), "how status filtering applies: any or all")
	cmd.Flags().IntVar(&f.failureThreshold, "failure-threshold", def.FailureThreshold, "failed runs tolerated before resubmitting in all mode")
	cmd.Flags().StringVar(&f.labelContains, "label-contains", "", "only consider analyses whose label contains this text")
	cmd.Flags().StringVar(&f.order, "order", string(def.Order), "which match wins: listing (last listed) or created (newest)")
}

func (f *policyFlags) policy() (service.LookupPolicy, error) {
	statuses, err := models.ParseStatusSet(f.statuses)
	if err != nil {
		return service.LookupPolicy{}, err
	}
	mode, err := service.ParseMatchMode(f.mode)
	if err != nil {
		return service.LookupPolicy{}, err
	}
	order := service.ListingOrder(f.order)
	switch order {
	case service.OrderListing, service.OrderCreated:
	default:
		return service.LookupPolicy{}, fmt.Errorf("unknown order %q (expected listing or created)", f.order)
	}
	return service.LookupPolicy{
		Statuses:         statuses,
		Mode:             mode,
		FailureThreshold: f.failureThreshold,
		LabelContains:    f.labelContains,
		Order:            order,
	}, nil
}

// parseGearArgs parses the "<container> <gear[/version]>" argument pair.
func parseGearArgs(args []string) (models.ContainerRef, models.GearSpec, error) {
	container, err := models.ParseContainerRef(args[0])
	if err != nil {
		return models.ContainerRef{}, models.GearSpec{}, err
	}
	name, version, err := models.ParseGearRef(args[1])
	if err != nil {
		return models.ContainerRef{}, models.GearSpec{}, err
	}
	return container, models.GearSpec{Name: name, Version: version}, nil
}

// parseInputs parses "name=type/id/file" gear input references.
func parseInputs(values []string) (map[string]models.InputRef, error) {
	if len(values) == 0 {
		return nil, nil
	}
	inputs := make(map[string]models.InputRef, len(values))
	for _, v := range values {
		name, ref, ok := strings.Cut(v, "=")
		parts := strings.SplitN(ref, "/", 3)
		if !ok || name == "" || len(parts) != 3 || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("invalid input %q (expected name=type/id/file)", v)
		}
		container, err := models.ParseContainerRef(parts[0] + "/" + parts[1])
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		inputs[name] = models.InputRef{Type: container.Type, ID: container.ID, Name: parts[2]}
	}
	return inputs, nil
}

// parseKeyValues parses repeated key=value flags. Values stay strings.
func parseKeyValues(values []string) (map[string]any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	fields := make(map[string]any, len(values))
	for _, v := range values {
		key, val, ok := strings.Cut(v, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q (expected key=value)", v)
		}
		fields[key] = val
	}
	return fields, nil
}

// parseJSONObject decodes a JSON object flag. Empty input yields nil.
func parseJSONObject(flag, raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return obj, nil
}

// checkAcquisition reports whether the session has an acquisition whose label
// contains label. An empty label always passes.
func checkAcquisition(ctx context.Context, container models.ContainerRef, label string) (bool, error) {
	if label == "" {
		return true, nil
	}
	if container.Type != models.ContainerSession {
		return false, fmt.Errorf("acquisition requirement needs a session container, got %s", container)
	}
	return orchestrator.Locator.HasAcquisition(ctx, container.ID, label)
}

// progressEnabled reports whether cmd will draw the interactive wait display.
func progressEnabled(cmd *cobra.Command) bool {
	if f := cmd.Flags().Lookup("no-progress"); f == nil || f.Value.String() == "true" {
		return false
	}
	if f := cmd.Flags().Lookup("wait"); f != nil && f.Value.String() != "true" {
		return false
	}
	if f := cmd.Flags().Lookup("no-wait"); f != nil && f.Value.String() == "true" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
