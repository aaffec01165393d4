// Package worker runs one chunk of a job: it reads a task manifest, turns
// every image of the chunk into rows and streams them to the chunk's sink.
package worker

import (
	"encoding/json"
	"fmt"
	"os"

	"patch-tiler/internal/decode"
	"patch-tiler/internal/patch"
	"patch-tiler/pkg/dataset"
)

// Kind selects what a worker produces per image.
type Kind string

const (
	KindTile   Kind = "tile"
	KindDecode Kind = "decode"
)

// Task is the complete description of one worker's job. It is written by
// the dispatcher and read by the worker process. PatchDir, when set,
// receives a PNG per kept patch. Monitor marks the one worker per dispatch
// that reports per-image progress at info level.
type Task struct {
	RunID    string   `json:"run_id"`
	Index    int      `json:"index"`
	Kind     Kind     `json:"kind"`
	Images   []string `json:"images"`
	SinkPath string   `json:"sink_path"`
	PatchDir string   `json:"patch_dir,omitempty"`
	Seed     int64    `json:"seed"`
	Backend  string   `json:"backend"`
	LogLevel string   `json:"log_level"`
	Monitor  bool     `json:"monitor,omitempty"`

	Tile   *patch.Params  `json:"tile,omitempty"`
	Decode *decode.Params `json:"decode,omitempty"`
}

// Validate checks that t is runnable.
func (t Task) Validate() error {
	switch t.Kind {
	case KindTile:
		if t.Tile == nil {
			return fmt.Errorf("%w: tile task %d has no parameters", dataset.ErrConfiguration, t.Index)
		}
		return t.Tile.Validate()
	case KindDecode:
		if t.Decode == nil {
			return fmt.Errorf("%w: decode task %d has no parameters", dataset.ErrConfiguration, t.Index)
		}
		return t.Decode.Validate()
	default:
		return fmt.Errorf("%w: unknown task kind %q", dataset.ErrConfiguration, t.Kind)
	}
}

// WriteManifest stores t as JSON at path.
func WriteManifest(path string, t Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode task %d: %w", t.Index, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: failed to write manifest: %w", dataset.ErrIO, err)
	}
	return nil
}

// ReadManifest loads and validates the task at path.
func ReadManifest(path string) (Task, error) {
	var t Task
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("%w: failed to read manifest: %w", dataset.ErrIO, err)
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("%w: failed to parse manifest %s: %w", dataset.ErrConfiguration, path, err)
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}
