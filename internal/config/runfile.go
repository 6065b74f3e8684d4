package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/nsel/internal/sampling/backend"
	"github.com/copyleftdev/nsel/internal/selection"
)

// ObservableSpec is the YAML form of one observation
type ObservableSpec struct {
	Values  []float64 `yaml:"values" json:"values"`
	StdDevs []float64 `yaml:"stddevs,omitempty" json:"stddevs,omitempty"`
	Index   []int     `yaml:"index,omitempty" json:"index,omitempty"`
}

// SamplerSpec is the YAML form of the sampler settings. Zero values keep
// the sampler defaults.
type SamplerSpec struct {
	Kind             string  `yaml:"kind,omitempty" json:"kind,omitempty"`
	PopulationSize   int     `yaml:"population_size,omitempty" json:"population_size,omitempty"`
	Levels           int     `yaml:"n_diffusive_levels,omitempty" json:"n_diffusive_levels,omitempty"`
	NumSteps         int     `yaml:"num_steps,omitempty" json:"num_steps,omitempty"`
	NumPerStep       int     `yaml:"num_per_step,omitempty" json:"num_per_step,omitempty"`
	NewLevelInterval int     `yaml:"new_level_interval,omitempty" json:"new_level_interval,omitempty"`
	Lambda           float64 `yaml:"lambda,omitempty" json:"lambda,omitempty"`
	Beta             float64 `yaml:"beta,omitempty" json:"beta,omitempty"`
	Backend          string  `yaml:"backend,omitempty" json:"backend,omitempty"`
	Separator        string  `yaml:"separator,omitempty" json:"separator,omitempty"`
}

// RunFile describes one model selection run
type RunFile struct {
	Models      []string                  `yaml:"models" json:"models"`
	PriorScale  float64                   `yaml:"prior_scale,omitempty" json:"prior_scale,omitempty"`
	Timespan    []float64                 `yaml:"timespan" json:"timespan"`
	Observables map[string]ObservableSpec `yaml:"observables" json:"observables"`
	Likelihood  string                    `yaml:"likelihood,omitempty" json:"likelihood,omitempty"`
	Policy      string                    `yaml:"policy,omitempty" json:"policy,omitempty"`
	Workers     int                       `yaml:"workers,omitempty" json:"workers,omitempty"`
	Seed        uint64                    `yaml:"seed,omitempty" json:"seed,omitempty"`
	OutputDir   string                    `yaml:"output_dir,omitempty" json:"output_dir,omitempty"`
	Sampler     SamplerSpec               `yaml:"sampler" json:"sampler"`
}

// LoadRunFile reads and validates a YAML run file
func LoadRunFile(path string) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRunFile(data)
}

// ParseRunFile decodes and validates a YAML run file
func ParseRunFile(data []byte) (*RunFile, error) {
	rf := &RunFile{}
	if err := yaml.Unmarshal(data, rf); err != nil {
		return nil, fmt.Errorf("failed to parse run file: %w", err)
	}
	if err := rf.Validate(); err != nil {
		return nil, err
	}
	return rf, nil
}

// Validate checks the run for missing or unknown settings
func (rf *RunFile) Validate() error {
	if len(rf.Models) == 0 {
		return fmt.Errorf("run file lists no models")
	}
	if len(rf.Timespan) == 0 {
		return fmt.Errorf("run file has no timespan")
	}
	if len(rf.Observables) == 0 {
		return fmt.Errorf("run file has no observables")
	}
	if rf.Likelihood != "" && !selection.LikelihoodKind(rf.Likelihood).Valid() {
		return fmt.Errorf("unknown likelihood %q", rf.Likelihood)
	}
	if _, err := selection.ParsePolicy(rf.Policy); err != nil {
		return err
	}
	if len([]rune(rf.Sampler.Separator)) > 1 {
		return fmt.Errorf("separator must be a single character, got %q", rf.Sampler.Separator)
	}
	return nil
}

// Data converts the observables into selection data
func (rf *RunFile) Data() selection.ObservableData {
	data := make(selection.ObservableData, len(rf.Observables))
	for name, o := range rf.Observables {
		data[name] = selection.Observation{Values: o.Values, StdDevs: o.StdDevs, Index: o.Index}
	}
	return data
}

// Options returns the selector options of the run
func (rf *RunFile) Options() selection.Options {
	return rf.OptionsWith(selection.Options{})
}

// OptionsWith returns base with the settings the run file sets overridden
func (rf *RunFile) OptionsWith(base selection.Options) selection.Options {
	if rf.Policy != "" {
		base.Policy, _ = selection.ParsePolicy(rf.Policy)
	}
	if rf.Workers > 0 {
		base.Workers = rf.Workers
	}
	if rf.Seed != 0 {
		base.BaseSeed = rf.Seed
	}
	if rf.OutputDir != "" {
		base.OutputDir = rf.OutputDir
	}
	return base
}

// PrepareConfig returns the sampler preparation settings of the run
func (rf *RunFile) PrepareConfig() selection.PrepareConfig {
	return rf.PrepareConfigWith(selection.PrepareConfig{})
}

// PrepareConfigWith returns base with the settings the run file sets
// overridden. Zero fields in the run file keep the base value.
func (rf *RunFile) PrepareConfigWith(base selection.PrepareConfig) selection.PrepareConfig {
	base.Solver.Timespan = rf.Timespan
	if rf.Sampler.Kind != "" {
		base.Sampler = selection.SamplerKind(rf.Sampler.Kind)
	}
	if rf.Likelihood != "" {
		base.Likelihood = selection.LikelihoodKind(rf.Likelihood)
	}

	sc := &base.SamplerConfig
	sp := rf.Sampler
	if sp.PopulationSize > 0 {
		sc.PopulationSize = sp.PopulationSize
	}
	if sp.Levels > 0 {
		sc.Levels = sp.Levels
	}
	if sp.NumSteps > 0 {
		sc.NumSteps = sp.NumSteps
	}
	if sp.NumPerStep > 0 {
		sc.NumPerStep = sp.NumPerStep
	}
	if sp.NewLevelInterval > 0 {
		sc.NewLevelInterval = sp.NewLevelInterval
	}
	if sp.Lambda > 0 {
		sc.Lambda = sp.Lambda
	}
	if sp.Beta > 0 {
		sc.Beta = sp.Beta
	}
	if sp.Backend != "" {
		sc.Backend = backend.Kind(sp.Backend)
	}
	if r := []rune(sp.Separator); len(r) == 1 {
		sc.Separator = r[0]
	}
	return base
}
