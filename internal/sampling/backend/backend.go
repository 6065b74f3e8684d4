// Package backend stores the trace of a sampling run.
package backend

import (
	"fmt"

	"github.com/copyleftdev/nsel/internal/sampling"
)

// Kind selects a backend implementation.
type Kind string

const (
	// KindMemory keeps the trace in memory.
	KindMemory Kind = "memory"
	// KindCSV keeps the trace in memory and persists it as delimited text.
	KindCSV Kind = "csv"
)

// Backend represents the trace storage of one sampler run
type Backend interface {
	// WriteSnapshot appends the live population of one outer iteration
	WriteSnapshot(s sampling.Snapshot) error

	// WriteLevels replaces the current level table
	WriteLevels(levels []sampling.LevelInfo) error

	// WriteWeights assigns final posterior weights to every snapshot.
	// It may only be called once.
	WriteWeights(weights [][]float64) error

	// WritePosterior stores the equal-weight posterior samples.
	// It may only be called once.
	WritePosterior(samples [][]float64) error

	// Snapshots returns every stored snapshot in order
	Snapshots() []sampling.Snapshot

	// Last returns the final snapshot
	Last() (sampling.Snapshot, error)

	// Levels returns the latest level table
	Levels() []sampling.LevelInfo

	// PosteriorSamples returns the equal-weight posterior samples
	PosteriorSamples() ([][]float64, error)

	// Close flushes and releases any resources
	Close() error
}

// Options configures backend construction.
type Options struct {
	// Dir is the output directory for persisted backends.
	Dir string
	// Namespace prefixes every persisted file so that runs never collide.
	Namespace string
	// Separator is the field delimiter for delimited text output.
	Separator rune
}

// New creates a backend of the given kind.
func New(kind Kind, opts Options) (Backend, error) {
	switch kind {
	case "", KindMemory:
		return NewMemory(), nil
	case KindCSV:
		return NewCSV(opts)
	default:
		return nil, sampling.WrapError(sampling.ErrUnavailable, fmt.Sprintf("unknown backend %q", kind)).
			WithComponent("backend").WithOperation("New")
	}
}
