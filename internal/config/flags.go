package config

import (
	"fmt"

	"patch-tiler/pkg/dataset"

	"github.com/spf13/pflag"
)

// Persistent flag names.
const (
	FlagConfig   = "config"
	FlagLogLevel = "log-level"
)

// RegisterPersistent adds the flags shared by every subcommand.
func RegisterPersistent(fs *pflag.FlagSet) {
	def := Default()
	fs.String(FlagConfig, "", "TOML configuration file")
	fs.String(FlagLogLevel, def.LogLevel, "log level (debug|info|warn|error)")
}

func registerRun(fs *pflag.FlagSet, def Config) {
	fs.IntP("workers", "p", def.Workers, "number of worker processes")
	fs.StringP("in", "i", def.InDir, "input image directory")
	fs.StringP("out", "o", def.OutDir, "output directory")
	fs.BoolP("debug", "g", def.Debug, "keep chunk directories after merging")
	fs.Int64("seed", def.Seed, "seed for each worker's random stream")
	fs.String("backend", def.Backend, "image backend (go|opencv, the latter needs a build with -tags opencv)")
	fs.Bool("inprocess", def.InProcess, "run workers as goroutines instead of processes")
}

// RegisterTile adds the flags of the tile command.
func RegisterTile(fs *pflag.FlagSet) {
	def := Default()
	registerRun(fs, def)
	fs.IntP("output-side", "d", def.Tile.OutputSide, "side of emitted patches, 0 keeps native pixels")
	fs.Float64P("variance-threshold", "v", 0, "minimum patch std-dev (default short side / variance divisor)")
	fs.Float64P("angle", "a", def.Tile.Angle, "rotation angle in degrees, 0 disables")
	fs.Int("min-patch-size", def.Tile.MinPatchSize, "smallest window side")
	fs.Int("tiles-per-short-side", def.Tile.TilesPerShortSide, "stride divisor of the short side")
	fs.Int("variance-divisor", def.Tile.VarianceDivisor, "short side divisor for the automatic threshold")
	fs.String("label-marker", def.Tile.LabelMarker, "case-insensitive name marker of the negative class")
	fs.Bool("stage-copies", def.Tile.StageCopies, "copy images into chunk directories before tiling")
	fs.Bool("save-patches", def.Tile.SavePatches, "also write every kept patch as PNG")
	fs.Bool("legacy-rotation-edge", def.Tile.LegacyRotationEdge, "use the x-edge flag for the bottom-row rotation test")
	fs.String("output-name", def.Tile.OutputName, "final dataset file name")
}

// RegisterDecode adds the flags of the decode command.
func RegisterDecode(fs *pflag.FlagSet) {
	def := Default()
	registerRun(fs, def)
	fs.IntP("width", "x", def.Decode.Width, "decoded image width")
	fs.IntP("height", "y", def.Decode.Height, "decoded image height")
	fs.Int("folds", def.Decode.Folds, "number of cross-validation folds")
	fs.String("labels", def.Decode.Labels, "label CSV; enables train output")
	fs.Int("name-column", def.Decode.NameColumn, "label CSV column holding the image name")
	fs.Int("label-column", def.Decode.LabelColumn, "label CSV column holding the label")
	fs.StringSlice("train-dirs", def.Decode.TrainDirs, "labeled image directories under --in, merged in order into train.csv")
	fs.String("test-dir", def.Decode.TestDir, "unlabeled image directory under --in for test.csv, empty skips it")
}

// ApplyFlags copies every flag set on the command line into cfg. Flags
// left at their defaults do not override values from a config file.
func ApplyFlags(fs *pflag.FlagSet, cfg *Config) error {
	var firstErr error
	fs.Visit(func(f *pflag.Flag) {
		if firstErr != nil {
			return
		}
		if err := applyFlag(fs, f.Name, cfg); err != nil {
			firstErr = fmt.Errorf("%w: flag --%s: %w", dataset.ErrConfiguration, f.Name, err)
		}
	})
	return firstErr
}

func applyFlag(fs *pflag.FlagSet, name string, cfg *Config) (err error) {
	switch name {
	case FlagLogLevel:
		cfg.LogLevel, err = fs.GetString(name)
	case "workers":
		cfg.Workers, err = fs.GetInt(name)
	case "in":
		cfg.InDir, err = fs.GetString(name)
	case "out":
		cfg.OutDir, err = fs.GetString(name)
	case "debug":
		cfg.Debug, err = fs.GetBool(name)
	case "seed":
		cfg.Seed, err = fs.GetInt64(name)
	case "backend":
		cfg.Backend, err = fs.GetString(name)
	case "inprocess":
		cfg.InProcess, err = fs.GetBool(name)
	case "output-side":
		cfg.Tile.OutputSide, err = fs.GetInt(name)
	case "variance-threshold":
		var v float64
		if v, err = fs.GetFloat64(name); err == nil {
			cfg.Tile.VarianceThreshold = &v
		}
	case "angle":
		cfg.Tile.Angle, err = fs.GetFloat64(name)
	case "min-patch-size":
		cfg.Tile.MinPatchSize, err = fs.GetInt(name)
	case "tiles-per-short-side":
		cfg.Tile.TilesPerShortSide, err = fs.GetInt(name)
	case "variance-divisor":
		cfg.Tile.VarianceDivisor, err = fs.GetInt(name)
	case "label-marker":
		cfg.Tile.LabelMarker, err = fs.GetString(name)
	case "stage-copies":
		cfg.Tile.StageCopies, err = fs.GetBool(name)
	case "save-patches":
		cfg.Tile.SavePatches, err = fs.GetBool(name)
	case "legacy-rotation-edge":
		cfg.Tile.LegacyRotationEdge, err = fs.GetBool(name)
	case "output-name":
		cfg.Tile.OutputName, err = fs.GetString(name)
	case "width":
		cfg.Decode.Width, err = fs.GetInt(name)
	case "height":
		cfg.Decode.Height, err = fs.GetInt(name)
	case "folds":
		cfg.Decode.Folds, err = fs.GetInt(name)
	case "labels":
		cfg.Decode.Labels, err = fs.GetString(name)
	case "name-column":
		cfg.Decode.NameColumn, err = fs.GetInt(name)
	case "label-column":
		cfg.Decode.LabelColumn, err = fs.GetInt(name)
	case "train-dirs":
		cfg.Decode.TrainDirs, err = fs.GetStringSlice(name)
	case "test-dir":
		cfg.Decode.TestDir, err = fs.GetString(name)
	}
	return err
}

// Load builds the configuration for a command: defaults, then the file
// named by --config if any, then explicitly set flags.
func Load(fs *pflag.FlagSet) (Config, error) {
	cfg := Default()
	path, err := fs.GetString(FlagConfig)
	if err != nil {
		return cfg, fmt.Errorf("%w: %w", dataset.ErrConfiguration, err)
	}
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := ApplyFlags(fs, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
