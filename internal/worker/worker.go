package worker

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"patch-tiler/internal/decode"
	tileimage "patch-tiler/internal/image"
	"patch-tiler/internal/logger"
	"patch-tiler/internal/patch"
	"patch-tiler/internal/sink"
	"patch-tiler/pkg/dataset"
)

// Summary reports what one worker produced.
type Summary struct {
	Index   int
	Images  int
	Windows int
	Rows    int
	Elapsed time.Duration
}

// Tag is the log prefix of worker i.
func Tag(i int) string {
	return fmt.Sprintf("Process_%d", i)
}

// PatchFileName names the PNG written for a kept patch.
func PatchFileName(r dataset.Record) string {
	return fmt.Sprintf("patch.%s.%d.%d.%d.%s.png", r.SourceID, r.X, r.Y, r.Size, dataset.FormatAngle(r.Angle))
}

// Run executes t with ops. The sink is created exclusively and closed
// before Run returns; a failure leaves whatever rows were already written.
func Run(ctx context.Context, t Task, ops tileimage.Ops, log *logger.Logger) (Summary, error) {
	start := time.Now()
	sum := Summary{Index: t.Index}
	if err := t.Validate(); err != nil {
		return sum, err
	}
	log = log.With(Tag(t.Index))

	// One stream per worker, seeded once; the sequence depends only on
	// the seed and the order of images in the chunk.
	rng := rand.New(rand.NewSource(t.Seed))

	w, err := sink.Create(t.SinkPath)
	if err != nil {
		return sum, err
	}

	var process func(path string) (int, error)
	switch t.Kind {
	case KindTile:
		process = tileStep(t, ops, patch.NewExtractor(*t.Tile, ops, rng), w)
	case KindDecode:
		process = decodeStep(decode.NewDecoder(*t.Decode, ops, rng), w)
	}

	progress := log.Debug
	if t.Monitor {
		progress = log.Info
	}

	for i, path := range t.Images {
		if err := ctx.Err(); err != nil {
			w.Close()
			return sum, err
		}
		windows, err := process(path)
		if err != nil {
			w.Close()
			return sum, err
		}
		sum.Images++
		sum.Windows += windows
		progress("%d/%d %s (%d rows so far)", i+1, len(t.Images), filepath.Base(path), w.Rows())
	}

	sum.Rows = w.Rows()
	if err := w.Close(); err != nil {
		return sum, err
	}
	sum.Elapsed = time.Since(start)
	log.Debug("wrote %d rows from %d images to %s in %.2f s", sum.Rows, sum.Images, t.SinkPath, sum.Elapsed.Seconds())
	return sum, nil
}

func tileStep(t Task, ops tileimage.Ops, ex *patch.Extractor, w *sink.Writer) func(string) (int, error) {
	return func(path string) (int, error) {
		img, err := ops.Load(path)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", dataset.ErrExtraction, err)
		}
		stats, err := ex.Extract(img, filepath.Base(path), func(p patch.Patch) error {
			if t.PatchDir != "" {
				if err := tileimage.SavePNG(filepath.Join(t.PatchDir, PatchFileName(p.Record)), p.Tile); err != nil {
					return fmt.Errorf("%w: %w", dataset.ErrIO, err)
				}
			}
			return w.Write(p.Record)
		})
		return stats.Windows, err
	}
}

func decodeStep(d *decode.Decoder, w *sink.Writer) func(string) (int, error) {
	return func(path string) (int, error) {
		rec, err := d.Decode(path)
		if err != nil {
			return 0, err
		}
		return 1, w.Write(rec)
	}
}
