package sampling

// SampleInfo is the auxiliary record kept for every particle in a snapshot.
type SampleInfo struct {
	// Level is the diffusive level the particle was assigned to.
	Level int
	// LogLikelihood is the particle's raw log-likelihood.
	LogLikelihood float64
	// Tiebreaker orders particles with equal log-likelihood.
	Tiebreaker float64
}

// Snapshot is the state of the whole live population after one outer
// iteration of a run.
type Snapshot struct {
	Iteration int
	Coords    [][]float64
	// Weights holds the normalised posterior weight of each particle. It is
	// empty until the run is finalised.
	Weights []float64
	Info    []SampleInfo
}

// Len returns the number of particles in the snapshot.
func (s Snapshot) Len() int { return len(s.Coords) }

// LogLikelihoods returns the log-likelihood of every particle.
func (s Snapshot) LogLikelihoods() []float64 {
	out := make([]float64, len(s.Info))
	for i, info := range s.Info {
		out[i] = info.LogLikelihood
	}
	return out
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Iteration: s.Iteration,
		Coords:    make([][]float64, len(s.Coords)),
		Info:      append([]SampleInfo(nil), s.Info...),
	}
	for i, c := range s.Coords {
		out.Coords[i] = append([]float64(nil), c...)
	}
	if s.Weights != nil {
		out.Weights = append([]float64(nil), s.Weights...)
	}
	return out
}

// LevelInfo describes one diffusive likelihood level.
type LevelInfo struct {
	LogX          float64
	LogLikelihood float64
	Tiebreaker    float64
	Accepts       int64
	Tries         int64
	Exceeds       int64
	Visits        int64
}
