package diffusive

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

// BenchmarkStep measures one Monte Carlo move of the sampler hot loop
func BenchmarkStep(b *testing.B) {
	for _, dims := range []int{2, 10} {
		b.Run(fmt.Sprintf("dims=%d", dims), func(b *testing.B) {
			names := make([]string, dims)
			for i := range names {
				names[i] = fmt.Sprintf("x%d", i)
			}
			cfg := quickConfig()
			s, err := New(uniformParams(names...), gaussianLogL, cfg)
			require.NoError(b, err)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := s.step(); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkPerturb measures a single coordinate perturbation with wrap
func BenchmarkPerturb(b *testing.B) {
	p := NewPerturberFromBounds([]float64{10, 10, 10}, []float64{0, 0, 0})
	rng := rand.New(rand.NewPCG(1, 2))
	coords := []float64{0, 0, 0}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Perturb(rng, coords)
	}
}

// BenchmarkRun measures a complete short run including the estimate
func BenchmarkRun(b *testing.B) {
	cfg := quickConfig()
	for i := 0; i < b.N; i++ {
		s, err := New(uniformParams("x", "y"), gaussianLogL, cfg)
		require.NoError(b, err)
		if _, _, err := s.Run(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}
