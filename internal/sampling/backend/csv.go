package backend

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/copyleftdev/nsel/internal/sampling"
)

// File names written by the CSV backend, each prefixed by the namespace.
const (
	SampleFile     = "sample.txt"
	SampleInfoFile = "sample_info.txt"
	LevelsFile     = "levels.txt"
	WeightsFile    = "weights.txt"
	PosteriorFile  = "posterior_sample.txt"
)

// CSV keeps the trace in memory for post-processing and persists it as
// delimited text. Samples and sample info are streamed as they arrive;
// levels, weights and posterior samples are written once they are final.
type CSV struct {
	*Memory

	dir       string
	namespace string
	sep       rune

	sampleFile *os.File
	infoFile   *os.File
	samples    *csv.Writer
	info       *csv.Writer
	closed     bool
}

// NewCSV creates the output directory and opens the streamed files.
func NewCSV(opts Options) (*CSV, error) {
	const op = "NewCSV"
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.Separator == 0 {
		opts.Separator = ' '
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, sampling.WrapError(err, "failed to create output directory").
			WithComponent("backend").WithOperation(op)
	}

	b := &CSV{
		Memory:    NewMemory(),
		dir:       opts.Dir,
		namespace: opts.Namespace,
		sep:       opts.Separator,
	}

	var err error
	if b.sampleFile, err = os.Create(b.Path(SampleFile)); err != nil {
		return nil, sampling.WrapError(err, "failed to create sample file").
			WithComponent("backend").WithOperation(op)
	}
	if b.infoFile, err = os.Create(b.Path(SampleInfoFile)); err != nil {
		_ = b.sampleFile.Close()
		return nil, sampling.WrapError(err, "failed to create sample info file").
			WithComponent("backend").WithOperation(op)
	}
	b.samples = b.writer(b.sampleFile)
	b.info = b.writer(b.infoFile)

	if err := b.info.Write([]string{"iteration", "level_assignment", "log_likelihood", "tiebreaker"}); err != nil {
		_ = b.Close()
		return nil, sampling.WrapError(err, "failed to write header").
			WithComponent("backend").WithOperation(op)
	}
	return b, nil
}

// Path returns the namespaced path of one of the backend's files.
func (b *CSV) Path(name string) string {
	return filepath.Join(b.dir, b.namespace+name)
}

func (b *CSV) writer(f *os.File) *csv.Writer {
	w := csv.NewWriter(f)
	w.Comma = b.sep
	return w
}

// WriteSnapshot stores the snapshot and appends one row per particle.
func (b *CSV) WriteSnapshot(s sampling.Snapshot) error {
	if err := b.Memory.WriteSnapshot(s); err != nil {
		return err
	}
	iter := strconv.Itoa(s.Iteration)
	for i, coords := range s.Coords {
		if err := b.samples.Write(append([]string{iter}, formatFloats(coords)...)); err != nil {
			return sampling.WrapError(err, "failed to write sample").WithComponent("backend").WithOperation("WriteSnapshot")
		}
		info := s.Info[i]
		row := []string{iter, strconv.Itoa(info.Level), formatFloat(info.LogLikelihood), formatFloat(info.Tiebreaker)}
		if err := b.info.Write(row); err != nil {
			return sampling.WrapError(err, "failed to write sample info").WithComponent("backend").WithOperation("WriteSnapshot")
		}
	}
	b.samples.Flush()
	b.info.Flush()
	if err := b.samples.Error(); err != nil {
		return sampling.WrapError(err, "failed to flush samples").WithComponent("backend")
	}
	return b.info.Error()
}

// WriteWeights stores the weights and writes them out.
func (b *CSV) WriteWeights(weights [][]float64) error {
	if err := b.Memory.WriteWeights(weights); err != nil {
		return err
	}
	rows := make([][]string, 0, len(weights))
	for i, w := range weights {
		rows = append(rows, append([]string{strconv.Itoa(b.snapshots[i].Iteration)}, formatFloats(w)...))
	}
	return b.writeFile(WeightsFile, nil, rows)
}

// WritePosterior stores the posterior samples and writes them out.
func (b *CSV) WritePosterior(samples [][]float64) error {
	if err := b.Memory.WritePosterior(samples); err != nil {
		return err
	}
	rows := make([][]string, len(samples))
	for i, row := range samples {
		rows[i] = formatFloats(row)
	}
	return b.writeFile(PosteriorFile, nil, rows)
}

// Close writes the final level table and closes the streamed files.
func (b *CSV) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	header := []string{"log_X", "log_likelihood", "tiebreaker", "accepts", "tries", "exceeds", "visits"}
	rows := make([][]string, len(b.levels))
	for i, l := range b.levels {
		rows[i] = []string{
			formatFloat(l.LogX), formatFloat(l.LogLikelihood), formatFloat(l.Tiebreaker),
			strconv.FormatInt(l.Accepts, 10), strconv.FormatInt(l.Tries, 10),
			strconv.FormatInt(l.Exceeds, 10), strconv.FormatInt(l.Visits, 10),
		}
	}
	levelsErr := b.writeFile(LevelsFile, header, rows)

	var closeErr error
	for _, f := range []*os.File{b.sampleFile, b.infoFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	}
	if levelsErr != nil {
		return levelsErr
	}
	if closeErr != nil {
		return sampling.WrapError(closeErr, "failed to close trace files").WithComponent("backend").WithOperation("Close")
	}
	return nil
}

func (b *CSV) writeFile(name string, header []string, rows [][]string) error {
	f, err := os.Create(b.Path(name))
	if err != nil {
		return sampling.WrapErrorf(err, "failed to create %s", name).WithComponent("backend")
	}
	defer f.Close()

	w := b.writer(f)
	if header != nil {
		if err := w.Write(header); err != nil {
			return sampling.WrapErrorf(err, "failed to write %s", name).WithComponent("backend")
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return sampling.WrapErrorf(err, "failed to write %s", name).WithComponent("backend")
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatFloats(vs []float64) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = formatFloat(v)
	}
	return out
}

func (b *CSV) String() string {
	return fmt.Sprintf("CSV(%s)", b.Path(""))
}
