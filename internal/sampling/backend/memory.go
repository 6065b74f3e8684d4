package backend

import (
	"fmt"

	"github.com/copyleftdev/nsel/internal/sampling"
)

// Memory accumulates the trace in slices
type Memory struct {
	snapshots []sampling.Snapshot
	levels    []sampling.LevelInfo
	posterior [][]float64
	weighted  bool
	resampled bool
}

// NewMemory creates an empty in-memory backend
func NewMemory() *Memory {
	return &Memory{}
}

// WriteSnapshot appends a deep copy of s
func (m *Memory) WriteSnapshot(s sampling.Snapshot) error {
	if m.weighted {
		return sampling.WrapError(sampling.ErrImmutable, "trace already finalised").
			WithComponent("backend").WithOperation("WriteSnapshot")
	}
	m.snapshots = append(m.snapshots, s.Clone())
	return nil
}

// WriteLevels replaces the level table
func (m *Memory) WriteLevels(levels []sampling.LevelInfo) error {
	m.levels = append(m.levels[:0], levels...)
	return nil
}

// WriteWeights assigns a weight vector to each snapshot
func (m *Memory) WriteWeights(weights [][]float64) error {
	const op = "WriteWeights"
	if m.weighted {
		return sampling.WrapError(sampling.ErrImmutable, "weights already assigned").
			WithComponent("backend").WithOperation(op)
	}
	if len(weights) != len(m.snapshots) {
		return sampling.NewError(fmt.Sprintf("got %d weight vectors for %d snapshots", len(weights), len(m.snapshots))).
			WithComponent("backend").WithOperation(op)
	}
	for i, w := range weights {
		if len(w) != m.snapshots[i].Len() {
			return sampling.NewError(fmt.Sprintf("snapshot %d: got %d weights for %d particles", i, len(w), m.snapshots[i].Len())).
				WithComponent("backend").WithOperation(op)
		}
	}
	for i, w := range weights {
		m.snapshots[i].Weights = append([]float64(nil), w...)
	}
	m.weighted = true
	return nil
}

// WritePosterior stores a copy of the equal-weight posterior samples
func (m *Memory) WritePosterior(samples [][]float64) error {
	if m.resampled {
		return sampling.WrapError(sampling.ErrImmutable, "posterior samples already written").
			WithComponent("backend").WithOperation("WritePosterior")
	}
	m.posterior = make([][]float64, len(samples))
	for i, row := range samples {
		m.posterior[i] = append([]float64(nil), row...)
	}
	m.resampled = true
	return nil
}

// Snapshots returns the stored snapshots
func (m *Memory) Snapshots() []sampling.Snapshot {
	return m.snapshots
}

// Last returns the final snapshot
func (m *Memory) Last() (sampling.Snapshot, error) {
	if len(m.snapshots) == 0 {
		return sampling.Snapshot{}, sampling.NotReady("backend", "Last", "no snapshots written")
	}
	return m.snapshots[len(m.snapshots)-1], nil
}

// Levels returns the latest level table
func (m *Memory) Levels() []sampling.LevelInfo {
	return m.levels
}

// PosteriorSamples returns the equal-weight posterior samples
func (m *Memory) PosteriorSamples() ([][]float64, error) {
	if !m.resampled {
		return nil, sampling.NotReady("backend", "PosteriorSamples", "posterior samples not written")
	}
	return m.posterior, nil
}

// Close is a no-op for the in-memory backend
func (m *Memory) Close() error {
	return nil
}
