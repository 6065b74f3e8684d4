package backend

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/nsel/internal/sampling"
)

func snapshot(iter int, coords ...float64) sampling.Snapshot {
	s := sampling.Snapshot{Iteration: iter}
	for i, c := range coords {
		s.Coords = append(s.Coords, []float64{c})
		s.Info = append(s.Info, sampling.SampleInfo{Level: i % 2, LogLikelihood: -c, Tiebreaker: 0.5})
	}
	return s
}

func TestNew(t *testing.T) {
	b, err := New(KindMemory, Options{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, b)

	b, err = New("", Options{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, b)

	b, err = New(KindCSV, Options{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &CSV{}, b)
	require.NoError(t, b.Close())

	_, err = New("hdf5", Options{})
	assert.ErrorIs(t, err, sampling.ErrUnavailable)
}

func TestMemory_Lifecycle(t *testing.T) {
	m := NewMemory()

	_, err := m.Last()
	assert.ErrorIs(t, err, sampling.ErrNotReady)
	_, err = m.PosteriorSamples()
	assert.ErrorIs(t, err, sampling.ErrNotReady)

	s := snapshot(1, 1, 2)
	require.NoError(t, m.WriteSnapshot(s))
	s.Coords[0][0] = 99
	require.NoError(t, m.WriteSnapshot(snapshot(2, 3, 4)))

	last, err := m.Last()
	require.NoError(t, err)
	assert.Equal(t, 2, last.Iteration)
	assert.Equal(t, 1.0, m.Snapshots()[0].Coords[0][0], "snapshots are copied")

	levels := []sampling.LevelInfo{{LogX: 0}, {LogX: -1}}
	require.NoError(t, m.WriteLevels(levels))
	assert.Equal(t, levels, m.Levels())

	t.Run("weights", func(t *testing.T) {
		err := m.WriteWeights([][]float64{{0.5, 0.5}})
		assert.Error(t, err, "one vector per snapshot")
		err = m.WriteWeights([][]float64{{0.5, 0.5}, {1}})
		assert.Error(t, err, "one weight per particle")

		require.NoError(t, m.WriteWeights([][]float64{{0.25, 0.75}, {1, 0}}))
		assert.Equal(t, []float64{0.25, 0.75}, m.Snapshots()[0].Weights)

		err = m.WriteWeights([][]float64{{0.5, 0.5}, {0.5, 0.5}})
		assert.ErrorIs(t, err, sampling.ErrImmutable)
		assert.ErrorIs(t, m.WriteSnapshot(snapshot(3, 5)), sampling.ErrImmutable)
	})

	t.Run("posterior", func(t *testing.T) {
		require.NoError(t, m.WritePosterior([][]float64{{2}, {3}}))
		post, err := m.PosteriorSamples()
		require.NoError(t, err)
		assert.Equal(t, [][]float64{{2}, {3}}, post)

		assert.ErrorIs(t, m.WritePosterior([][]float64{{1}}), sampling.ErrImmutable)
	})

	assert.NoError(t, m.Close())
}

func TestCSV_Files(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	b, err := NewCSV(Options{Dir: dir, Namespace: "model_0_", Separator: ','})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "model_0_sample.txt"), b.Path(SampleFile))

	require.NoError(t, b.WriteSnapshot(snapshot(1, 0.5, 1.5)))
	require.NoError(t, b.WriteSnapshot(snapshot(2, 2.5, 3.5)))
	require.NoError(t, b.WriteLevels([]sampling.LevelInfo{{LogX: 0}, {LogX: -1, LogLikelihood: -2, Tries: 5}}))
	require.NoError(t, b.WriteWeights([][]float64{{0.5, 0.5}, {1, 0}}))
	require.NoError(t, b.WritePosterior([][]float64{{1.5}}))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "close is idempotent")

	read := func(name string) []string {
		data, err := os.ReadFile(b.Path(name))
		require.NoError(t, err)
		return strings.Split(strings.TrimSpace(string(data)), "\n")
	}

	assert.Equal(t, []string{"1,0.5", "1,1.5", "2,2.5", "2,3.5"}, read(SampleFile))

	info := read(SampleInfoFile)
	require.Len(t, info, 5)
	assert.Equal(t, "iteration,level_assignment,log_likelihood,tiebreaker", info[0])
	assert.Equal(t, "1,0,-0.5,0.5", info[1])

	levels := read(LevelsFile)
	require.Len(t, levels, 3)
	assert.Equal(t, "-1,-2,0,0,5,0,0", levels[2])

	assert.Equal(t, []string{"1,0.5,0.5", "2,1,0"}, read(WeightsFile))
	assert.Equal(t, []string{"1.5"}, read(PosteriorFile))

	// The in-memory view stays available after close
	post, err := b.PosteriorSamples()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1.5}}, post)
}

func TestCSV_DefaultSeparator(t *testing.T) {
	b, err := NewCSV(Options{Dir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, b.WriteSnapshot(snapshot(7, 1, 2)))
	require.NoError(t, b.Close())

	data, err := os.ReadFile(b.Path(SampleFile))
	require.NoError(t, err)
	assert.Equal(t, "7 1\n7 2\n", string(data))
}
