// Package seed imports parameter definitions and initial behavior targets
// from a YAML file. Imports are idempotent: re-applying the same file
// leaves the target log untouched, so operators can run it on every start.
package seed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/humanfirst-ai/attune/internal/model"
)

// Store is the storage port seed imports write through.
type Store interface {
	UpsertParameter(ctx context.Context, p model.Parameter) (model.Parameter, error)
	ActiveTargets(ctx context.Context, parameterID string, scope model.Scope) ([]model.BehaviorTarget, error)
	SupersedeTarget(ctx context.Context, t model.BehaviorTarget) (model.BehaviorTarget, error)
}

// File is the top-level YAML document.
type File struct {
	Parameters []ParameterSpec `yaml:"parameters"`
	Targets    []TargetSpec    `yaml:"targets"`
}

// ParameterSpec declares one measurable dimension.
type ParameterSpec struct {
	ID             string `yaml:"id"`
	DisplayName    string `yaml:"display_name"`
	DomainGroup    string `yaml:"domain_group"`
	Type           string `yaml:"type"`
	Directionality string `yaml:"directionality"`
}

// TargetSpec declares one SYSTEM- or SEGMENT-level behavior target.
// Caller-level targets are learned, never seeded.
type TargetSpec struct {
	Parameter  string  `yaml:"parameter"`
	Scope      string  `yaml:"scope"`
	Segment    string  `yaml:"segment"`
	Value      float64 `yaml:"value"`
	Confidence float64 `yaml:"confidence"`
}

// Summary reports what an import actually wrote.
type Summary struct {
	Parameters     int
	Targets        int
	TargetsSkipped int
}

// Importer applies seed files against a store.
type Importer struct {
	store  Store
	logger *slog.Logger
}

// New creates an Importer.
func New(store Store, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, logger: logger}
}

// ApplyFile reads and applies a seed file from disk.
func (i *Importer) ApplyFile(ctx context.Context, path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("seed: open %s: %w", path, err)
	}
	defer f.Close()
	return i.Apply(ctx, f)
}

// Apply decodes a seed document and writes it through the store.
// Parameters are upserted; targets are superseded only when the active
// row differs in value or confidence.
func (i *Importer) Apply(ctx context.Context, r io.Reader) (Summary, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil {
		return Summary{}, fmt.Errorf("seed: decode: %w", err)
	}

	var sum Summary
	for _, ps := range file.Parameters {
		p, err := parameterFromSpec(ps)
		if err != nil {
			return sum, err
		}
		if _, err := i.store.UpsertParameter(ctx, p); err != nil {
			return sum, err
		}
		sum.Parameters++
	}

	for _, ts := range file.Targets {
		target, err := targetFromSpec(ts)
		if err != nil {
			return sum, err
		}

		active, err := i.store.ActiveTargets(ctx, target.ParameterID, target.Scope)
		if err != nil {
			return sum, err
		}
		if len(active) > 0 && active[0].Value == target.Value && active[0].Confidence == target.Confidence {
			sum.TargetsSkipped++
			continue
		}

		if _, err := i.store.SupersedeTarget(ctx, target); err != nil {
			return sum, err
		}
		sum.Targets++
	}

	i.logger.Info("seed import applied",
		"parameters", sum.Parameters, "targets", sum.Targets, "skipped", sum.TargetsSkipped)
	return sum, nil
}

func parameterFromSpec(ps ParameterSpec) (model.Parameter, error) {
	if err := model.ValidateParameterID(ps.ID); err != nil {
		return model.Parameter{}, fmt.Errorf("seed: parameter: %w", err)
	}
	p := model.Parameter{
		ID:             ps.ID,
		DisplayName:    ps.DisplayName,
		DomainGroup:    ps.DomainGroup,
		Type:           model.ParameterType(ps.Type),
		Directionality: model.Directionality(ps.Directionality),
	}
	if p.DisplayName == "" {
		p.DisplayName = p.ID
	}
	if p.Directionality == "" {
		p.Directionality = model.DirectionNeutral
	}
	if !model.ValidParameterType(p.Type) {
		return model.Parameter{}, fmt.Errorf("seed: parameter %s: unknown type %q", ps.ID, ps.Type)
	}
	return p, nil
}

func targetFromSpec(ts TargetSpec) (model.BehaviorTarget, error) {
	var scope model.Scope
	switch ts.Scope {
	case "system":
		scope = model.SystemScope()
	case "segment":
		if ts.Segment == "" {
			return model.BehaviorTarget{}, fmt.Errorf("seed: target %s: segment scope requires a segment id", ts.Parameter)
		}
		scope = model.SegmentScope(ts.Segment)
	case "caller":
		return model.BehaviorTarget{}, fmt.Errorf("seed: target %s: caller targets are learned, not seeded", ts.Parameter)
	default:
		return model.BehaviorTarget{}, fmt.Errorf("seed: target %s: unknown scope %q", ts.Parameter, ts.Scope)
	}

	t := model.BehaviorTarget{
		ParameterID: ts.Parameter,
		Scope:       scope,
		Value:       ts.Value,
		Confidence:  ts.Confidence,
		Source:      model.SourceSeed,
	}
	if err := t.Validate(); err != nil {
		return model.BehaviorTarget{}, fmt.Errorf("seed: target %s: %w", ts.Parameter, err)
	}
	return t, nil
}
