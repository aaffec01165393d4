// Package reduce concatenates the per-chunk sinks into the final dataset.
package reduce

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"patch-tiler/internal/chunk"
	"patch-tiler/pkg/dataset"
)

// Summary reports what a merge wrote.
type Summary struct {
	Path   string
	Chunks int
	Bytes  int64 // bytes copied from sinks, header excluded
}

// Merger writes a header, then the sinks of chunks 0..n-1 verbatim.
type Merger struct {
	Layout chunk.Layout
	Schema dataset.Schema
	// Retain keeps chunk directories after their sink is copied.
	Retain bool
}

// Merge replaces the file at path with the merged dataset of n chunks.
// A missing sink is ErrMergeInconsistency; the partial output is left for
// inspection.
func (m Merger) Merge(path string, n int) (Summary, error) {
	sum := Summary{Path: path}

	out, err := os.Create(path)
	if err != nil {
		return sum, fmt.Errorf("%w: failed to create %s: %w", dataset.ErrIO, path, err)
	}

	w := csv.NewWriter(out)
	w.Write(m.Schema.Header())
	w.Flush()
	if err := w.Error(); err != nil {
		out.Close()
		return sum, fmt.Errorf("%w: failed to write header: %w", dataset.ErrIO, err)
	}

	for i := 0; i < n; i++ {
		copied, err := m.appendChunk(out, i)
		sum.Bytes += copied
		if err != nil {
			out.Close()
			return sum, err
		}
		sum.Chunks++

		if !m.Retain {
			if err := os.RemoveAll(m.Layout.Dir(i)); err != nil {
				out.Close()
				return sum, fmt.Errorf("%w: failed to remove %s: %w", dataset.ErrIO, m.Layout.Dir(i), err)
			}
		}
	}

	if err := out.Close(); err != nil {
		return sum, fmt.Errorf("%w: failed to close %s: %w", dataset.ErrIO, path, err)
	}
	return sum, nil
}

func (m Merger) appendChunk(out io.Writer, i int) (int64, error) {
	src := m.Layout.SinkPath(i)
	in, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: sink of chunk %d is missing: %s", dataset.ErrMergeInconsistency, i, src)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: failed to open %s: %w", dataset.ErrIO, src, err)
	}
	defer in.Close()

	copied, err := io.Copy(out, in)
	if err != nil {
		return copied, fmt.Errorf("%w: failed to copy %s: %w", dataset.ErrIO, src, err)
	}
	return copied, nil
}
