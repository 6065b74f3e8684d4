package models

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/nsel/internal/sampling/diffusive"
	"github.com/copyleftdev/nsel/internal/selection"
)

func TestGaussian_AnalyticEvidence(t *testing.T) {
	b := Gaussian(3, 10)
	require.Len(t, b.Parameters, 3)
	assert.Equal(t, "x2", b.Parameters[2].Name())

	want := 3 * (math.Log(math.Erf(10/(2*math.Sqrt2))) - math.Log(10))
	assert.InDelta(t, want, b.LogEvidence, 1e-12)

	logL, err := b.LogL([]float64{0, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, -1.5*math.Log(2*math.Pi), logL, 1e-12)
}

func TestMultimodal1D_Likelihood(t *testing.T) {
	b := Multimodal1D()

	// At a mode the density is dominated by that component
	logL, err := b.LogL([]float64{0.9})
	require.NoError(t, err)
	want := math.Log(1.0/6) - math.Log(MultimodalWidth*math.Sqrt(2*math.Pi))
	assert.InDelta(t, want, logL, 1e-6)

	// Far from every mode the likelihood underflows to -Inf rather than NaN
	logL, err = b.LogL([]float64{1.9})
	require.NoError(t, err)
	assert.False(t, math.IsNaN(logL))
}

func TestEggCarton_Likelihood(t *testing.T) {
	b := EggCarton()
	logL, err := b.LogL([]float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, math.Pow(3, 5), logL)
	assert.Equal(t, EggCartonLogEvidence, b.LogEvidence)
}

func TestLookupBenchmark(t *testing.T) {
	for _, name := range []string{"gaussian", "multimodal", "eggcarton"} {
		b, err := LookupBenchmark(name, 0)
		require.NoError(t, err, name)
		assert.NotEmpty(t, b.Parameters, name)
	}
	_, err := LookupBenchmark("rosenbrock", 2)
	assert.Error(t, err)
}

func TestMultimodal1D_Evidence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping evidence accuracy test in short mode")
	}

	b := Multimodal1D()
	s, err := diffusive.New(b.Parameters, b.LogL, diffusive.Config{
		PopulationSize:   20,
		Levels:           10,
		NumSteps:         1000,
		NumPerStep:       500,
		NewLevelInterval: 2000,
		Seed:             2718,
	})
	require.NoError(t, err)

	_, _, err = s.Run(context.Background())
	require.NoError(t, err)

	res, err := s.Estimate()
	require.NoError(t, err)
	assert.InEpsilon(t, 0.5, res.Evidence(), 0.1)
}

func TestFamilies(t *testing.T) {
	cfg := selection.SolverConfig{Timespan: []float64{0, 1, 2}}

	tests := []struct {
		name  string
		theta []float64
		want  []float64
	}{
		{"constant", []float64{2}, []float64{2, 2, 2}},
		{"linear", []float64{1, 2}, []float64{1, 3, 5}},
		{"quadratic", []float64{1, 0, 1}, []float64{1, 2, 5}},
		{"exp-decay", []float64{2, 0}, []float64{2, 2, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Lookup(tt.name, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.name, f.Name())
			assert.Len(t, f.Parameters(), len(tt.theta))

			sim, err := f.Simulate(cfg, tt.theta)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, sim[DefaultObservable], 1e-12)
		})
	}
}

func TestCandidates(t *testing.T) {
	cands, err := Candidates([]string{"linear", "constant"}, 5)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "linear", cands[0].Name())

	_, err = Candidates([]string{"linear", "spline"}, 5)
	assert.Error(t, err)

	assert.Equal(t, []string{"constant", "exp-decay", "linear", "quadratic"}, FamilyNames())
}
