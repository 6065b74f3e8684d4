package diffusive

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/nsel/internal/sampling"
)

func flatInfo(n int, logL func(i int) float64) []sampling.SampleInfo {
	info := make([]sampling.SampleInfo, n)
	for i := range info {
		info[i] = sampling.SampleInfo{LogLikelihood: logL(i), Tiebreaker: float64(i) / float64(n)}
	}
	return info
}

func TestIntegrate_ConstantLikelihood(t *testing.T) {
	levels := []sampling.LevelInfo{priorLevel().info()}
	info := flatInfo(200, func(int) float64 { return -1.5 })

	ev, err := integrate(levels, info)
	require.NoError(t, err)

	assert.InDelta(t, -1.5, ev.logZ, 1e-9)
	assert.InDelta(t, 0.0, ev.h, 1e-9)
	assert.InDelta(t, 1.0, floats.Sum(ev.probs), 1e-9)
}

func TestIntegrate_TwoLevels(t *testing.T) {
	levels := []sampling.LevelInfo{
		priorLevel().info(),
		{LogX: -1, LogLikelihood: 0, Tiebreaker: 0.5},
	}
	// Half of the samples sit above the second level's threshold
	info := flatInfo(400, func(i int) float64 {
		if i%2 == 0 {
			return -1
		}
		return 1
	})

	ev, err := integrate(levels, info)
	require.NoError(t, err)

	// Mass e^-1 at likelihood e, the rest at e^-1
	want := math.Log(math.Exp(-1)*math.E + (1-math.Exp(-1))*math.Exp(-1))
	assert.InDelta(t, want, ev.logZ, 0.05)
	assert.GreaterOrEqual(t, ev.h, 0.0)
	assert.InDelta(t, 1.0, floats.Sum(ev.probs), 1e-9)
}

func TestIntegrate_Degenerate(t *testing.T) {
	levels := []sampling.LevelInfo{priorLevel().info()}

	_, err := integrate(levels, nil)
	assert.ErrorIs(t, err, sampling.ErrNumerical)

	info := flatInfo(10, func(int) float64 { return math.Inf(-1) })
	_, err = integrate(levels, info)
	assert.ErrorIs(t, err, sampling.ErrNumerical)
}

func TestIntegrate_IgnoresImpossibleSamples(t *testing.T) {
	levels := []sampling.LevelInfo{priorLevel().info()}
	info := flatInfo(100, func(i int) float64 {
		if i < 50 {
			return math.Inf(-1)
		}
		return 0
	})

	ev, err := integrate(levels, info)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(ev.h))
	for i := 0; i < 50; i++ {
		assert.Equal(t, 0.0, ev.probs[i])
	}
}

func TestLogDiffExp(t *testing.T) {
	assert.InDelta(t, math.Log(2), logDiffExp(math.Log(3), 0), 1e-12)
	assert.InDelta(t, -1.0, logDiffExp(-1, logFloor), 1e-12)
	assert.True(t, math.IsInf(logDiffExp(1, 1), -1))
}

func TestEffectiveSampleSize(t *testing.T) {
	uniform := make([]float64, 64)
	for i := range uniform {
		uniform[i] = 1.0 / 64
	}
	assert.InDelta(t, 64.0, effectiveSampleSize(uniform), 1e-6)
	assert.InDelta(t, 1.0, effectiveSampleSize([]float64{1, 0, 0}), 1e-6)
}

func TestResample(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	rows := [][]float64{{0}, {1}, {2}, {3}}

	out := resample(rng, rows, []float64{0, 0, 1, 0})
	require.Len(t, out, 1)
	assert.Equal(t, []float64{2}, out[0])

	out = resample(rng, rows, []float64{0.25, 0.25, 0.25, 0.25})
	assert.InDelta(t, 4, len(out), 1)
	out[0][0] = 99
	assert.NotEqual(t, 99.0, rows[0][0])
	assert.NotEqual(t, 99.0, rows[1][0])
}

func TestSnapshotWeights(t *testing.T) {
	snaps := []sampling.Snapshot{
		{Coords: [][]float64{{0}, {1}}},
		{Coords: [][]float64{{2}, {3}, {4}}},
	}
	probs := []float64{0.1, 0.3, 0, 0, 0}

	w := snapshotWeights(snaps, probs)
	require.Len(t, w, 2)
	assert.InDeltaSlice(t, []float64{0.25, 0.75}, w[0], 1e-12)
	assert.InDeltaSlice(t, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}, w[1], 1e-12)
}
