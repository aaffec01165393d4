// Package chunk partitions the input images into one ordered list per
// worker and owns the on-disk layout of the per-worker directories.
package chunk

import (
	"fmt"
	"os"
	"sort"

	tileimage "patch-tiler/internal/image"
	"patch-tiler/pkg/dataset"

	"github.com/samber/lo"
)

// ListImages returns the names of the supported image files directly under
// dir, sorted. Other files and sub-directories are ignored.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read input directory: %w", dataset.ErrConfiguration, err)
	}

	files := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		return !e.IsDir() && tileimage.IsSupportedFormat(e.Name())
	})
	names := lo.Map(files, func(e os.DirEntry, _ int) string { return e.Name() })
	sort.Strings(names)
	return names, nil
}

// Assign distributes ids round-robin over n chunks: ids[i] goes to chunk
// i mod n. Chunk sizes differ by at most one and order within a chunk
// follows the input order.
func Assign(ids []string, n int) ([][]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: worker count must be positive, got %d", dataset.ErrConfiguration, n)
	}
	chunks := make([][]string, n)
	for i := range chunks {
		chunks[i] = make([]string, 0, len(ids)/n+1)
	}
	for i, id := range ids {
		chunks[i%n] = append(chunks[i%n], id)
	}
	return chunks, nil
}
