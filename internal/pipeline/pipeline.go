// Package pipeline runs a whole job: map images to chunks, fan the chunks
// out to workers, then reduce their sinks into one dataset.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"patch-tiler/internal/chunk"
	"patch-tiler/internal/config"
	"patch-tiler/internal/decode"
	"patch-tiler/internal/dispatch"
	tileimage "patch-tiler/internal/image"
	"patch-tiler/internal/logger"
	"patch-tiler/internal/reduce"
	"patch-tiler/internal/worker"
	"patch-tiler/pkg/dataset"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Result describes one finished phase of a run.
type Result struct {
	RunID  string
	Images int
	Output string
	Bytes  int64
	Map    time.Duration // workers
	Reduce time.Duration
}

// NewLauncher returns the launcher selected by cfg.InProcess after
// checking that resolve can serve cfg.Backend.
func NewLauncher(cfg config.Config, resolve tileimage.Resolver, log *logger.Logger) (dispatch.Launcher, error) {
	if _, err := resolve(cfg.Backend); err != nil {
		return nil, err
	}
	if cfg.InProcess {
		return &dispatch.InProcessLauncher{Resolve: resolve, Log: log}, nil
	}
	return dispatch.NewProcessLauncher()
}

// job is one phase of a run: a list of input directories whose chunks
// are dispatched directory by directory and merged, in that order, into
// one output file.
type job struct {
	verb    string // for timing messages: "tiled", "decoded"
	layout  chunk.Layout
	output  string
	schema  dataset.Schema
	stage   bool // copy images into chunk dirs first
	dirs    []string
	require bool // finding no image is a configuration error
	check   func(names []string) error
	task    func(i int, images []string) worker.Task

	listed [][]string
}

// RunTile cuts every image under cfg.InDir into patches and writes
// cfg.OutDir/cfg.Tile.OutputName.
func RunTile(ctx context.Context, cfg config.Config, launcher dispatch.Launcher, log *logger.Logger) (Result, error) {
	if err := cfg.ValidateTile(); err != nil {
		return Result{}, err
	}
	params := cfg.PatchParams()
	layout := chunk.Layout{OutDir: cfg.OutDir, SinkPrefix: "patches"}

	j := &job{
		verb:   "tiled",
		layout: layout,
		output: cfg.Tile.OutputName,
		schema: params.Schema(),
		stage:  cfg.Tile.StageCopies,
		dirs:   []string{cfg.InDir},
		task: func(i int, images []string) worker.Task {
			t := baseTask(cfg, layout, worker.KindTile, i, images)
			t.Tile = &params
			if cfg.Tile.SavePatches {
				t.PatchDir = layout.Dir(i)
			}
			return t
		},
	}

	runID, log := newRun(log)
	if err := j.plan(); err != nil {
		return Result{RunID: runID}, err
	}
	return execute(ctx, cfg, runID, j, launcher, log)
}

// RunDecode flattens whole images in up to two phases. With a label file,
// every train directory is decoded and merged, directory by directory,
// into train.csv with label and fold columns. With a test directory, its
// images go to test.csv. Both phases are listed and checked before either
// starts. It returns one Result per phase that ran.
func RunDecode(ctx context.Context, cfg config.Config, launcher dispatch.Launcher, log *logger.Logger) ([]Result, error) {
	if err := cfg.ValidateDecode(); err != nil {
		return nil, err
	}

	var jobs []*job
	if cfg.Decode.Labels != "" {
		labels, err := decode.ReadLabels(cfg.Decode.Labels, cfg.LabelColumns())
		if err != nil {
			return nil, err
		}
		params := cfg.DecodeParams()
		params.Labels = labels
		j := decodeJob(cfg, "train", params, lo.Map(cfg.Decode.TrainDirs, func(d string, _ int) string {
			return filepath.Join(cfg.InDir, d)
		}))
		j.check = func(names []string) error {
			missing := lo.Filter(names, func(n string, _ int) bool {
				_, ok := labels[n]
				return !ok
			})
			if len(missing) > 0 {
				return fmt.Errorf("%w: %d images have no label in %s, first %s",
					dataset.ErrConfiguration, len(missing), cfg.Decode.Labels, missing[0])
			}
			return nil
		}
		jobs = append(jobs, j)
	}
	if cfg.Decode.TestDir != "" {
		jobs = append(jobs, decodeJob(cfg, "test", cfg.DecodeParams(), []string{filepath.Join(cfg.InDir, cfg.Decode.TestDir)}))
	}

	runID, log := newRun(log)
	for _, j := range jobs {
		if err := j.plan(); err != nil {
			return nil, err
		}
	}
	results := make([]Result, 0, len(jobs))
	for _, j := range jobs {
		res, err := execute(ctx, cfg, runID, j, launcher, log)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func decodeJob(cfg config.Config, phase string, params decode.Params, dirs []string) *job {
	layout := chunk.Layout{OutDir: cfg.OutDir, SinkPrefix: "images", Phase: phase}
	return &job{
		verb:    "decoded",
		layout:  layout,
		output:  phase + ".csv",
		schema:  params.Schema(),
		dirs:    dirs,
		require: true,
		task: func(i int, images []string) worker.Task {
			t := baseTask(cfg, layout, worker.KindDecode, i, images)
			p := params
			if p.Labels != nil {
				p.Labels = lo.PickByKeys(params.Labels, lo.Map(images, func(path string, _ int) string {
					return filepath.Base(path)
				}))
			}
			t.Decode = &p
			return t
		},
	}
}

func baseTask(cfg config.Config, layout chunk.Layout, kind worker.Kind, i int, images []string) worker.Task {
	return worker.Task{
		Index:    i,
		Kind:     kind,
		Images:   images,
		SinkPath: layout.SinkPath(i),
		Seed:     cfg.Seed,
		Backend:  cfg.Backend,
		LogLevel: cfg.LogLevel,
	}
}

func newRun(log *logger.Logger) (string, *logger.Logger) {
	runID := uuid.NewString()[:8]
	return runID, log.With("run " + runID)
}

// plan lists every input directory and applies the job's checks without
// touching the output directory.
func (j *job) plan() error {
	j.listed = make([][]string, len(j.dirs))
	for g, dir := range j.dirs {
		names, err := chunk.ListImages(dir)
		if err != nil {
			return err
		}
		j.listed[g] = names
	}
	all := lo.Flatten(j.listed)
	if j.require && len(all) == 0 {
		return fmt.Errorf("%w: no images found in %s", dataset.ErrConfiguration, strings.Join(j.dirs, ", "))
	}
	if j.check != nil {
		return j.check(all)
	}
	return nil
}

// execute runs a planned job. Directory g owns chunks g*N … g*N+N-1, so
// merging chunks in index order keeps directory order.
func execute(ctx context.Context, cfg config.Config, runID string, j *job, launcher dispatch.Launcher, log *logger.Logger) (Result, error) {
	res := Result{RunID: runID}
	n := cfg.Workers
	total := n * len(j.dirs)
	if err := j.layout.Prepare(total); err != nil {
		return res, err
	}

	start := time.Now()
	d := &dispatch.Dispatcher{Launcher: launcher, Log: log}
	for g, dir := range j.dirs {
		chunks, err := chunk.Assign(j.listed[g], n)
		if err != nil {
			return res, err
		}
		first := g * n
		paths := chunk.Resolve(dir, chunks)
		if j.stage {
			if paths, err = j.layout.Stage(dir, first, chunks); err != nil {
				return res, err
			}
		}

		manifests := make([]string, n)
		for i, images := range paths {
			task := j.task(first+i, images)
			task.RunID = runID
			task.Monitor = i == 0
			manifests[i] = j.layout.ManifestPath(first + i)
			if err := worker.WriteManifest(manifests[i], task); err != nil {
				return res, err
			}
		}
		log.Info("%s: %d images in %d chunks", dir, len(j.listed[g]), n)
		if err := d.Run(ctx, manifests); err != nil {
			return res, err
		}
		res.Images += len(j.listed[g])
	}
	res.Map = time.Since(start)
	log.Info("Images %s in %.2f s.", j.verb, res.Map.Seconds())

	start = time.Now()
	m := reduce.Merger{Layout: j.layout, Schema: j.schema, Retain: cfg.Debug}
	sum, err := m.Merge(filepath.Join(cfg.OutDir, j.output), total)
	if err != nil {
		return res, err
	}
	res.Output = sum.Path
	res.Bytes = sum.Bytes
	res.Reduce = time.Since(start)
	log.Info("Chunks merged into %s in %.2f s.", j.output, res.Reduce.Seconds())
	return res, nil
}
