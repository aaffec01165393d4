package chunk

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"patch-tiler/pkg/dataset"
)

// ManifestName is the task description file inside every chunk directory.
const ManifestName = "task.json"

// Layout names the working files of one run under OutDir. Phase keeps the
// chunk directories of successive phases of one run apart.
type Layout struct {
	OutDir     string
	SinkPrefix string // "patches" gives patches<i>.csv
	Phase      string // "train" gives _train_chunk_dir<i>
}

// Dir returns the working directory of chunk i.
func (l Layout) Dir(i int) string {
	if l.Phase != "" {
		return filepath.Join(l.OutDir, fmt.Sprintf("_%s_chunk_dir%d", l.Phase, i))
	}
	return filepath.Join(l.OutDir, fmt.Sprintf("_chunk_dir%d", i))
}

// SinkPath returns the intermediate sink of chunk i.
func (l Layout) SinkPath(i int) string {
	return filepath.Join(l.Dir(i), fmt.Sprintf("%s%d.csv", l.SinkPrefix, i))
}

// ManifestPath returns the task manifest of chunk i.
func (l Layout) ManifestPath(i int) string {
	return filepath.Join(l.Dir(i), ManifestName)
}

// Prepare creates OutDir if needed and recreates an empty directory for
// each of the n chunks, discarding leftovers from earlier runs.
func (l Layout) Prepare(n int) error {
	if err := os.MkdirAll(l.OutDir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create %s: %w", dataset.ErrIO, l.OutDir, err)
	}
	for i := 0; i < n; i++ {
		dir := l.Dir(i)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("%w: failed to clear %s: %w", dataset.ErrIO, dir, err)
		}
		if err := os.Mkdir(dir, 0o755); err != nil {
			return fmt.Errorf("%w: failed to create %s: %w", dataset.ErrIO, dir, err)
		}
	}
	return nil
}

// Stage copies every image of every chunk from inDir into that chunk's
// directory and returns the chunks rewritten to the copied paths. chunks[0]
// is chunk first.
func (l Layout) Stage(inDir string, first int, chunks [][]string) ([][]string, error) {
	staged := make([][]string, len(chunks))
	for i, names := range chunks {
		staged[i] = make([]string, 0, len(names))
		for _, name := range names {
			dst := filepath.Join(l.Dir(first+i), name)
			if err := copyFile(filepath.Join(inDir, name), dst); err != nil {
				return nil, fmt.Errorf("%w: failed to copy %s: %w", dataset.ErrIO, name, err)
			}
			staged[i] = append(staged[i], dst)
		}
	}
	return staged, nil
}

// Resolve turns chunks of names into chunks of paths under inDir.
func Resolve(inDir string, chunks [][]string) [][]string {
	out := make([][]string, len(chunks))
	for i, names := range chunks {
		out[i] = make([]string, len(names))
		for j, name := range names {
			out[i][j] = filepath.Join(inDir, name)
		}
	}
	return out
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
