// Package sink implements the append-only, worker-local record store that
// sits between a worker and the reducer.
package sink

import (
	"encoding/csv"
	"fmt"
	"os"

	"patch-tiler/pkg/dataset"
)

// Writer appends rows to one CSV file. It is owned by a single worker.
type Writer struct {
	path string
	file *os.File
	csv  *csv.Writer
	rows int
}

// Create opens path exclusively, deleting any file left from an earlier run.
func Create(path string) (*Writer, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: failed to remove stale sink %s: %w", dataset.ErrIO, path, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create sink %s: %w", dataset.ErrIO, path, err)
	}
	return &Writer{path: path, file: f, csv: csv.NewWriter(f)}, nil
}

// Write appends one row.
func (w *Writer) Write(row dataset.Row) error {
	if err := w.csv.Write(row.Fields()); err != nil {
		return fmt.Errorf("%w: failed to write %s: %w", dataset.ErrIO, w.path, err)
	}
	w.rows++
	return nil
}

// Rows returns the number of rows written so far.
func (w *Writer) Rows() int { return w.rows }

// Path returns the file backing the sink.
func (w *Writer) Path() string { return w.path }

// Close flushes buffered rows and closes the file.
func (w *Writer) Close() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.file.Close()
		return fmt.Errorf("%w: failed to flush %s: %w", dataset.ErrIO, w.path, err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("%w: failed to close %s: %w", dataset.ErrIO, w.path, err)
	}
	return nil
}
