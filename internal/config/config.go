// Package config assembles a run configuration from built-in defaults, an
// optional TOML file and command-line flags, in that order of precedence.
package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"patch-tiler/internal/decode"
	tileimage "patch-tiler/internal/image"
	"patch-tiler/internal/logger"
	"patch-tiler/internal/patch"
	"patch-tiler/pkg/dataset"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"
)

// Config is everything a tile or decode run needs.
type Config struct {
	Workers   int    `toml:"workers"`
	InDir     string `toml:"in"`
	OutDir    string `toml:"out"`
	Debug     bool   `toml:"debug"`
	Backend   string `toml:"backend"`
	LogLevel  string `toml:"log_level"`
	Seed      int64  `toml:"seed"`
	InProcess bool   `toml:"inprocess"`

	Tile   TileConfig   `toml:"tile"`
	Decode DecodeConfig `toml:"decode"`
}

// TileConfig is the [tile] section.
type TileConfig struct {
	TilesPerShortSide  int      `toml:"tiles_per_short_side"`
	MinPatchSize       int      `toml:"min_patch_size"`
	VarianceThreshold  *float64 `toml:"variance_threshold"`
	VarianceDivisor    int      `toml:"variance_divisor"`
	OutputSide         int      `toml:"output_side"`
	Angle              float64  `toml:"angle"`
	LabelMarker        string   `toml:"label_marker"`
	LegacyRotationEdge bool     `toml:"legacy_rotation_edge"`
	StageCopies        bool     `toml:"stage_copies"`
	SavePatches        bool     `toml:"save_patches"`
	OutputName         string   `toml:"output_name"`
}

// DecodeConfig is the [decode] section. TrainDirs and TestDir are relative
// to the input directory; "." names the input directory itself. The train
// phase runs only with a label file, the test phase only with a TestDir.
type DecodeConfig struct {
	Width       int      `toml:"width"`
	Height      int      `toml:"height"`
	Folds       int      `toml:"folds"`
	Labels      string   `toml:"labels"`
	NameColumn  int      `toml:"name_column"`
	LabelColumn int      `toml:"label_column"`
	TrainDirs   []string `toml:"train_dirs"`
	TestDir     string   `toml:"test_dir"`
}

// DefaultTrainDirs is one directory per driver class, train/c0 … train/c9.
func DefaultTrainDirs() []string {
	return lo.Times(10, func(i int) string {
		return filepath.Join("train", fmt.Sprintf("c%d", i))
	})
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	p := patch.DefaultParams()
	d := decode.DefaultParams()
	cols := decode.DefaultLabelColumns()
	return Config{
		Workers:  2,
		InDir:    "./in",
		OutDir:   "./out",
		Backend:  tileimage.BackendGo,
		LogLevel: "info",
		Seed:     1234,
		Tile: TileConfig{
			TilesPerShortSide: p.TilesPerShortSide,
			MinPatchSize:      p.MinPatchSize,
			VarianceDivisor:   p.VarianceDivisor,
			OutputSide:        p.OutputSide,
			Angle:             p.Angle,
			LabelMarker:       p.LabelMarker,
			OutputName:        "patches.csv",
		},
		Decode: DecodeConfig{
			Width:       d.Width,
			Height:      d.Height,
			Folds:       d.Folds,
			NameColumn:  cols.Name,
			LabelColumn: cols.Label,
			TrainDirs:   DefaultTrainDirs(),
			TestDir:     "test",
		},
	}
}

// LoadFile overlays the keys present in a TOML file onto cfg. Unknown keys
// are rejected so that typos do not pass silently.
func LoadFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("%w: failed to load config %s: %w", dataset.ErrConfiguration, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return fmt.Errorf("%w: unknown keys in %s: %s", dataset.ErrConfiguration, path, strings.Join(keys, ", "))
	}
	return nil
}

// PatchParams converts the [tile] section to extractor parameters.
func (c Config) PatchParams() patch.Params {
	return patch.Params{
		TilesPerShortSide:  c.Tile.TilesPerShortSide,
		MinPatchSize:       c.Tile.MinPatchSize,
		VarianceThreshold:  c.Tile.VarianceThreshold,
		VarianceDivisor:    c.Tile.VarianceDivisor,
		OutputSide:         c.Tile.OutputSide,
		Angle:              c.Tile.Angle,
		LabelMarker:        c.Tile.LabelMarker,
		LegacyRotationEdge: c.Tile.LegacyRotationEdge,
	}
}

// DecodeParams converts the [decode] section to decoder parameters.
// Labels are filled in by the caller after reading the label file.
func (c Config) DecodeParams() decode.Params {
	return decode.Params{Width: c.Decode.Width, Height: c.Decode.Height, Folds: c.Decode.Folds}
}

// LabelColumns returns the configured label CSV layout.
func (c Config) LabelColumns() decode.LabelColumns {
	return decode.LabelColumns{Name: c.Decode.NameColumn, Label: c.Decode.LabelColumn}
}

func (c Config) validateCommon() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("%w: worker count must be positive, got %d", dataset.ErrConfiguration, c.Workers)
	case c.InDir == "":
		return fmt.Errorf("%w: input directory is required", dataset.ErrConfiguration)
	case c.OutDir == "":
		return fmt.Errorf("%w: output directory is required", dataset.ErrConfiguration)
	case !tileimage.IsBackend(c.Backend):
		return fmt.Errorf("%w: unknown backend %q", dataset.ErrConfiguration, c.Backend)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", dataset.ErrConfiguration, err)
	}
	return nil
}

// ValidateTile checks everything a tile run depends on.
func (c Config) ValidateTile() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	if c.Tile.OutputName == "" || strings.ContainsAny(c.Tile.OutputName, `/\`) {
		return fmt.Errorf("%w: output name must be a plain file name, got %q", dataset.ErrConfiguration, c.Tile.OutputName)
	}
	return c.PatchParams().Validate()
}

// ValidateDecode checks everything a decode run depends on.
func (c Config) ValidateDecode() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	if c.Decode.NameColumn < 0 || c.Decode.LabelColumn < 0 {
		return fmt.Errorf("%w: label columns must not be negative", dataset.ErrConfiguration)
	}
	if c.Decode.Labels == "" && c.Decode.TestDir == "" {
		return fmt.Errorf("%w: nothing to decode, set a label file or a test directory", dataset.ErrConfiguration)
	}
	if c.Decode.Labels != "" && len(c.Decode.TrainDirs) == 0 {
		return fmt.Errorf("%w: a label file needs at least one train directory", dataset.ErrConfiguration)
	}
	return c.DecodeParams().Validate()
}
