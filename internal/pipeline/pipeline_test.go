package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"image"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"patch-tiler/internal/config"
	tileimage "patch-tiler/internal/image"
	"patch-tiler/internal/logger"
	"patch-tiler/pkg/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeNoise(t *testing.T, dir, name string, w, h int, seed int64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = uint8(rng.Intn(256))
	}
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, g))
	require.NoError(t, f.Close())
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.InDir = t.TempDir()
	cfg.OutDir = filepath.Join(t.TempDir(), "out")
	cfg.InProcess = true
	cfg.Tile.TilesPerShortSide = 4
	cfg.Tile.MinPatchSize = 12
	cfg.Tile.OutputSide = 5
	return cfg
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func runTile(t *testing.T, cfg config.Config) (Result, error) {
	t.Helper()
	log := logger.Discard()
	l, err := NewLauncher(cfg, tileimage.NativeOnly, log)
	require.NoError(t, err)
	return RunTile(context.Background(), cfg, l, log)
}

func runDecode(t *testing.T, cfg config.Config) ([]Result, error) {
	t.Helper()
	log := logger.Discard()
	l, err := NewLauncher(cfg, tileimage.NativeOnly, log)
	require.NoError(t, err)
	return RunDecode(context.Background(), cfg, l, log)
}

func TestNewLauncherRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend = tileimage.BackendOpenCV
	_, err := NewLauncher(cfg, tileimage.NativeOnly, logger.Discard())
	assert.ErrorIs(t, err, dataset.ErrConfiguration)

	cfg.InProcess = false
	_, err = NewLauncher(cfg, tileimage.NativeOnly, logger.Discard())
	assert.ErrorIs(t, err, dataset.ErrConfiguration)
}

func TestRunTileLabelsAndLayout(t *testing.T) {
	cfg := testConfig(t)
	writeNoise(t, cfg.InDir, "cat_not_1.png", 40, 30, 1)
	writeNoise(t, cfg.InDir, "cat_1.png", 36, 36, 2)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.InDir, "notes.txt"), []byte("skip me"), 0o644))

	res, err := runTile(t, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Images)
	assert.Len(t, res.RunID, 8)
	assert.Equal(t, filepath.Join(cfg.OutDir, "patches.csv"), res.Output)

	rows := readCSV(t, res.Output)
	require.Greater(t, len(rows), 1)
	assert.Equal(t, dataset.PatchSchema(5).Header(), rows[0])

	labels := map[string]string{}
	for _, row := range rows[1:] {
		require.Len(t, row, 5*5+6)
		labels[row[25]] = row[30]
	}
	assert.Equal(t, map[string]string{"cat_not_1.png": "0", "cat_1.png": "1"}, labels)

	for i := 0; i < cfg.Workers; i++ {
		_, err := os.Stat(filepath.Join(cfg.OutDir, fmt.Sprintf("_chunk_dir%d", i)))
		assert.True(t, os.IsNotExist(err))
	}
}

func TestRunTileIsReproducible(t *testing.T) {
	cfg := testConfig(t)
	writeNoise(t, cfg.InDir, "a.png", 40, 30, 3)
	writeNoise(t, cfg.InDir, "b.png", 30, 40, 4)
	writeNoise(t, cfg.InDir, "c.png", 32, 32, 5)

	first, err := runTile(t, cfg)
	require.NoError(t, err)
	want := readCSV(t, first.Output)

	second, err := runTile(t, cfg)
	require.NoError(t, err)
	assert.Equal(t, want, readCSV(t, second.Output), "rerun replaces the output with identical content")
}

func TestRunTileMoreWorkersThanImages(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers = 5
	cfg.Debug = true
	cfg.Tile.SavePatches = true
	cfg.Tile.StageCopies = true
	writeNoise(t, cfg.InDir, "only.png", 30, 30, 6)

	res, err := runTile(t, cfg)
	require.NoError(t, err)
	rows := readCSV(t, res.Output)

	dir0 := filepath.Join(cfg.OutDir, "_chunk_dir0")
	_, err = os.Stat(filepath.Join(dir0, "only.png"))
	assert.NoError(t, err, "image staged into its chunk dir")
	pngs, err := filepath.Glob(filepath.Join(dir0, "patch.only.png.*.png"))
	require.NoError(t, err)
	assert.Len(t, pngs, len(rows)-1)

	for i := 1; i < 5; i++ {
		info, err := os.Stat(filepath.Join(cfg.OutDir, fmt.Sprintf("_chunk_dir%d", i), fmt.Sprintf("patches%d.csv", i)))
		require.NoError(t, err, "debug keeps chunk %d", i)
		assert.Zero(t, info.Size())
	}
}

func TestRunTileConfigurationErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.InDir = filepath.Join(cfg.InDir, "absent")
	_, err := runTile(t, cfg)
	assert.ErrorIs(t, err, dataset.ErrConfiguration)
	_, statErr := os.Stat(cfg.OutDir)
	assert.True(t, os.IsNotExist(statErr), "nothing written before validation passes")

	cfg = testConfig(t)
	cfg.Workers = 0
	_, err = runTile(t, cfg)
	assert.ErrorIs(t, err, dataset.ErrConfiguration)
	assert.Equal(t, 2, dataset.ExitCode(err))
}

func TestRunTileWorkerFailure(t *testing.T) {
	cfg := testConfig(t)
	writeNoise(t, cfg.InDir, "good.png", 30, 30, 7)
	writeNoise(t, cfg.InDir, "tiny.png", 8, 8, 8)

	_, err := runTile(t, cfg)
	assert.ErrorIs(t, err, dataset.ErrWorkerFailed)
	assert.ErrorIs(t, err, dataset.ErrExtraction)
	assert.Equal(t, 1, dataset.ExitCode(err))

	_, statErr := os.Stat(filepath.Join(cfg.OutDir, "patches.csv"))
	assert.True(t, os.IsNotExist(statErr), "no final dataset after a failed worker")
}

func writeLabels(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "driver_imgs_list.csv")
	require.NoError(t, os.WriteFile(path, []byte("subject,classname,img\n"+body), 0o644))
	return path
}

func mkdir(t *testing.T, parts ...string) string {
	t.Helper()
	dir := filepath.Join(parts...)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

func TestRunDecodeFlatDirectory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Decode.Width, cfg.Decode.Height = 8, 6
	cfg.Decode.TestDir = "."
	writeNoise(t, cfg.InDir, "img_1.png", 32, 24, 9)
	writeNoise(t, cfg.InDir, "img_2.png", 32, 24, 10)
	writeNoise(t, cfg.InDir, "img_3.png", 32, 24, 11)

	results, err := runDecode(t, cfg)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, filepath.Join(cfg.OutDir, "test.csv"), results[0].Output)
	rows := readCSV(t, results[0].Output)
	require.Len(t, rows, 4)
	assert.Len(t, rows[0], 48)

	cfg.Decode.Labels = writeLabels(t, "p1,c0,img_1.png\np1,c4,img_2.png\np2,c7,img_3.png\n")
	cfg.Decode.TrainDirs = []string{"."}
	cfg.Decode.TestDir = ""

	results, err = runDecode(t, cfg)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, filepath.Join(cfg.OutDir, "train.csv"), results[0].Output)
	rows = readCSV(t, results[0].Output)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"label", "fold"}, rows[0][48:])

	got := map[string]bool{}
	for _, row := range rows[1:] {
		require.Len(t, row, 50)
		got[row[48]] = true
	}
	assert.Equal(t, map[string]bool{"c0": true, "c4": true, "c7": true}, got)
}

func TestRunDecodeClassDirsAndTestDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Decode.Width, cfg.Decode.Height = 8, 6
	cfg.Decode.TrainDirs = []string{"train/c0", "train/c1"}
	c0 := mkdir(t, cfg.InDir, "train", "c0")
	c1 := mkdir(t, cfg.InDir, "train", "c1")
	test := mkdir(t, cfg.InDir, "test")
	writeNoise(t, c0, "img_a.png", 32, 24, 20)
	writeNoise(t, c0, "img_b.png", 32, 24, 21)
	writeNoise(t, c1, "img_c.png", 32, 24, 22)
	writeNoise(t, test, "img_t1.png", 32, 24, 23)
	writeNoise(t, test, "img_t2.png", 32, 24, 24)
	cfg.Decode.Labels = writeLabels(t, "p1,c0,img_a.png\np1,c0,img_b.png\np2,c1,img_c.png\n")

	results, err := runDecode(t, cfg)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 3, results[0].Images)
	assert.Equal(t, 2, results[1].Images)

	train := readCSV(t, filepath.Join(cfg.OutDir, "train.csv"))
	require.Len(t, train, 4)
	labels := make([]string, 0, 3)
	for _, row := range train[1:] {
		require.Len(t, row, 50)
		labels = append(labels, row[48])
	}
	assert.Equal(t, []string{"c0", "c0", "c1"}, labels, "class directories merge in order")

	test2 := readCSV(t, filepath.Join(cfg.OutDir, "test.csv"))
	require.Len(t, test2, 3)
	assert.Len(t, test2[0], 48)

	leftovers, err := filepath.Glob(filepath.Join(cfg.OutDir, "_*_chunk_dir*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestRunDecodeLabelsWithoutImages(t *testing.T) {
	cfg := testConfig(t)
	trainRoot := mkdir(t, cfg.InDir, "train")
	writeNoise(t, mkdir(t, trainRoot, "c0"), "img_c0.png", 32, 24, 25)
	writeNoise(t, mkdir(t, trainRoot, "c1"), "img_c1.png", 32, 24, 26)
	cfg.InDir = trainRoot
	cfg.Decode.TrainDirs = []string{"."}
	cfg.Decode.TestDir = ""
	cfg.Decode.Labels = writeLabels(t, "p1,c0,img_c0.png\np1,c1,img_c1.png\n")

	_, err := runDecode(t, cfg)
	assert.ErrorIs(t, err, dataset.ErrConfiguration)
	assert.Contains(t, err.Error(), "no images found")
	assert.NoFileExists(t, filepath.Join(cfg.OutDir, "train.csv"))
}

func TestRunDecodeChecksEveryPhaseFirst(t *testing.T) {
	cfg := testConfig(t)
	cfg.Decode.TrainDirs = []string{"train/c0"}
	writeNoise(t, mkdir(t, cfg.InDir, "train", "c0"), "img_1.png", 32, 24, 27)
	cfg.Decode.Labels = writeLabels(t, "p1,c0,img_1.png\n")

	_, err := runDecode(t, cfg)
	assert.ErrorIs(t, err, dataset.ErrConfiguration, "test directory is missing")
	_, statErr := os.Stat(cfg.OutDir)
	assert.True(t, os.IsNotExist(statErr), "train phase must not start")

	cfg.Decode.TestDir = ""
	cfg.Decode.TrainDirs = config.DefaultTrainDirs()
	_, err = runDecode(t, cfg)
	assert.ErrorIs(t, err, dataset.ErrConfiguration, "train/c1 is missing")
}

func TestRunDecodeMissingLabel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Decode.TrainDirs = []string{"."}
	cfg.Decode.TestDir = ""
	writeNoise(t, cfg.InDir, "img_1.png", 32, 24, 12)
	writeNoise(t, cfg.InDir, "img_9.png", 32, 24, 13)
	cfg.Decode.Labels = writeLabels(t, "p1,c0,img_1.png\n")

	_, err := runDecode(t, cfg)
	assert.ErrorIs(t, err, dataset.ErrConfiguration)
	assert.Contains(t, err.Error(), "img_9.png")
}
