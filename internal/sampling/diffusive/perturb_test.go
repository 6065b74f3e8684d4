package diffusive

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/nsel/internal/sampling"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		name   string
		x      float64
		lo, hi float64
		want   float64
	}{
		{"inside", 0.25, 0, 1, 0.25},
		{"above", 1.25, 0, 1, 0.25},
		{"below", -0.25, 0, 1, 0.75},
		{"far above", 10.5, -1, 1, 0.5},
		{"far below", -7.5, 2, 4, 2.5},
		{"lower bound", 0, 0, 1, 0},
		{"degenerate", 3, 2, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, wrap(tt.x, tt.lo, tt.hi), 1e-12)
		})
	}
}

func TestPerturber_StaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	params := []sampling.SampledParameter{
		sampling.MustSampledParameter("a", distuv.Uniform{Min: -3, Max: 5}),
		sampling.MustSampledParameter("b", distuv.Normal{Mu: 1, Sigma: 2}),
	}
	p := NewPerturber(params, rng, 2000)

	x := []float64{0, 1}
	for i := 0; i < 10000; i++ {
		logH := p.Perturb(rng, x)
		require.Equal(t, 0.0, logH)
		for d := range x {
			lo, hi := p.Bounds(d)
			require.GreaterOrEqual(t, x[d], lo, "dimension %d at step %d", d, i)
			require.LessOrEqual(t, x[d], hi, "dimension %d at step %d", d, i)
		}
	}
}

func TestPerturber_UniformSupport(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	params := []sampling.SampledParameter{
		sampling.MustSampledParameter("x", distuv.Uniform{Min: 0, Max: 2}),
	}
	p := NewPerturber(params, rng, sampling.DefaultSupportDraws)

	assert.InDelta(t, 2.0, p.Width(0), 0.01)
	assert.InDelta(t, 1.0, p.Center(0), 0.01)
}

func TestPerturber_FromBounds(t *testing.T) {
	widths := []float64{2, 4}
	p := NewPerturberFromBounds(widths, []float64{0, 10})
	widths[0] = 100

	lo, hi := p.Bounds(0)
	assert.Equal(t, -1.0, lo)
	assert.Equal(t, 1.0, hi)
	lo, hi = p.Bounds(1)
	assert.Equal(t, 8.0, lo)
	assert.Equal(t, 12.0, hi)
}

func TestRandh_Finite(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 10000; i++ {
		v := randh(rng)
		require.False(t, math.IsNaN(v))
		require.False(t, math.IsInf(v, 0))
	}
}

func TestCoordPool(t *testing.T) {
	pool := NewCoordPool(3, 2)
	v := pool.Get()
	require.Len(t, v, 3)

	pool.Put(v)
	assert.Equal(t, 1, pool.Len())

	pool.Put(make([]float64, 2))
	assert.Equal(t, 1, pool.Len(), "vectors of the wrong length are dropped")

	w := pool.Get()
	assert.Equal(t, 0, pool.Len())
	assert.Len(t, w, 3)
}
