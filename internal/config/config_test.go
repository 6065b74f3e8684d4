package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/nsel/internal/sampling/backend"
	"github.com/copyleftdev/nsel/internal/selection"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 20, cfg.Sampler.Levels)
	assert.Equal(t, 4, cfg.Selection.Workers)

	sc := cfg.SamplerConfig()
	assert.Equal(t, backend.KindMemory, sc.Backend)
	assert.Equal(t, 10000, sc.NumPerStep)

	opts := cfg.SelectionOptions()
	assert.Equal(t, selection.SkipAndContinue, opts.Policy)
}

func TestLoad_Env(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "traces")
	t.Setenv("ENV", "production")
	t.Setenv("SAMPLER_LEVELS", "12")
	t.Setenv("SAMPLER_BACKEND", "csv")
	t.Setenv("SAMPLER_OUTPUT_DIR", dir)
	t.Setenv("SELECT_POLICY", "fail-fast")
	t.Setenv("SELECT_SEED", "42")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 12, cfg.SamplerConfig().Levels)
	assert.Equal(t, selection.FailFast, cfg.SelectionOptions().Policy)
	assert.Equal(t, uint64(42), cfg.SelectionOptions().BaseSeed)
	assert.DirExists(t, dir)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"SAMPLER_BACKEND", "hdf5"},
		{"SELECT_POLICY", "retry"},
		{"SELECT_LIKELIHOOD", "chi2"},
		{"SELECT_WORKERS", "0"},
		{"SAMPLER_LEVELS", "many"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("NSEL_TEST_VALUE", "7")
	assert.Equal(t, "7", GetEnv("NSEL_TEST_VALUE", "x"))
	assert.Equal(t, "x", GetEnv("NSEL_TEST_MISSING", "x"))
	assert.Equal(t, 7, GetEnvAsInt("NSEL_TEST_VALUE", 1))
	assert.Equal(t, 1, GetEnvAsInt("NSEL_TEST_MISSING", 1))
}

const runYAML = `
models: [constant, linear]
prior_scale: 5
timespan: [0, 1, 2]
observables:
  y:
    values: [1, 3, 5]
    stddevs: [0.5, 0.5, 0.5]
likelihood: sse
policy: fail-fast
workers: 2
seed: 9
sampler:
  population_size: 16
  n_diffusive_levels: 8
  num_steps: 50
  backend: csv
  separator: ","
`

func TestParseRunFile(t *testing.T) {
	rf, err := ParseRunFile([]byte(runYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"constant", "linear"}, rf.Models)
	assert.Equal(t, 5.0, rf.PriorScale)

	data := rf.Data()
	assert.Equal(t, 3, data.NData())
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, data["y"].StdDevs)

	opts := rf.Options()
	assert.Equal(t, selection.FailFast, opts.Policy)
	assert.Equal(t, 2, opts.Workers)
	assert.Equal(t, uint64(9), opts.BaseSeed)

	pc := rf.PrepareConfig()
	assert.Equal(t, selection.LikelihoodSSE, pc.Likelihood)
	assert.Equal(t, []float64{0, 1, 2}, pc.Solver.Timespan)
	assert.Equal(t, 16, pc.SamplerConfig.PopulationSize)
	assert.Equal(t, 8, pc.SamplerConfig.Levels)
	assert.Equal(t, backend.KindCSV, pc.SamplerConfig.Backend)
	assert.Equal(t, ',', pc.SamplerConfig.Separator)
}

func TestParseRunFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "models: [a"},
		{"no models", "timespan: [0]\nobservables: {y: {values: [1]}}"},
		{"no timespan", "models: [linear]\nobservables: {y: {values: [1]}}"},
		{"no observables", "models: [linear]\ntimespan: [0]"},
		{"bad likelihood", "models: [linear]\ntimespan: [0]\nobservables: {y: {values: [1]}}\nlikelihood: chi2"},
		{"bad policy", "models: [linear]\ntimespan: [0]\nobservables: {y: {values: [1]}}\npolicy: retry"},
		{"bad separator", "models: [linear]\ntimespan: [0]\nobservables: {y: {values: [1]}}\nsampler: {separator: ab}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRunFile([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(runYAML), 0o644))

	rf, err := LoadRunFile(path)
	require.NoError(t, err)
	assert.Len(t, rf.Models, 2)

	_, err = LoadRunFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRunFile_Overrides(t *testing.T) {
	t.Setenv("SAMPLER_LEVELS", "12")
	t.Setenv("SELECT_WORKERS", "3")
	cfg, err := Load()
	require.NoError(t, err)

	rf := &RunFile{
		Models:      []string{"linear"},
		Timespan:    []float64{0, 1},
		Observables: map[string]ObservableSpec{"y": {Values: []float64{1, 2}}},
		Sampler:     SamplerSpec{NumSteps: 7},
	}
	require.NoError(t, rf.Validate())

	pc := rf.PrepareConfigWith(selection.PrepareConfig{
		SamplerConfig: cfg.SamplerConfig(),
		Likelihood:    selection.LikelihoodKind(cfg.Selection.Likelihood),
	})
	assert.Equal(t, 12, pc.SamplerConfig.Levels)
	assert.Equal(t, 7, pc.SamplerConfig.NumSteps)
	assert.Equal(t, selection.LikelihoodLogPDF, pc.Likelihood)
	assert.Equal(t, []float64{0, 1}, pc.Solver.Timespan)

	opts := rf.OptionsWith(cfg.SelectionOptions())
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, selection.SkipAndContinue, opts.Policy)
}
