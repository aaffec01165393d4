package worker

import (
	"context"
	"encoding/csv"
	"image"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"patch-tiler/internal/decode"
	tileimage "patch-tiler/internal/image"
	"patch-tiler/internal/logger"
	"patch-tiler/internal/patch"
	"patch-tiler/pkg/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeNoise(t *testing.T, dir, name string, w, h int, seed int64) string {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = uint8(rng.Intn(256))
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, g))
	require.NoError(t, f.Close())
	return path
}

func smallParams() *patch.Params {
	p := patch.DefaultParams()
	p.TilesPerShortSide = 4
	p.MinPatchSize = 12
	p.OutputSide = 5
	return &p
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestManifestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.json")
	params := smallParams().WithVarianceThreshold(3)
	task := Task{
		RunID:    "0f1e2d3c",
		Index:    1,
		Kind:     KindTile,
		Images:   []string{"a.png", "b.jpg"},
		SinkPath: "patches1.csv",
		Seed:     1234,
		Backend:  tileimage.BackendGo,
		LogLevel: "info",
		Monitor:  true,
		Tile:     &params,
	}
	require.NoError(t, WriteManifest(path, task))

	got, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, task, got)
}

func TestReadManifestRejectsBadTasks(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadManifest(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, dataset.ErrIO)

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("{"), 0o644))
	_, err = ReadManifest(garbage)
	assert.ErrorIs(t, err, dataset.ErrConfiguration)

	noParams := filepath.Join(dir, "noparams.json")
	require.NoError(t, WriteManifest(noParams, Task{Kind: KindTile}))
	_, err = ReadManifest(noParams)
	assert.ErrorIs(t, err, dataset.ErrConfiguration)
}

func TestRunTile(t *testing.T) {
	dir := t.TempDir()
	images := []string{
		writeNoise(t, dir, "cat_not_1.png", 40, 30, 1),
		writeNoise(t, dir, "cat_1.png", 30, 40, 2),
	}
	task := Task{
		Index:    0,
		Kind:     KindTile,
		Images:   images,
		SinkPath: filepath.Join(dir, "patches0.csv"),
		PatchDir: dir,
		Seed:     1234,
		Tile:     smallParams(),
	}

	sum, err := Run(context.Background(), task, tileimage.NewNative(), logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Images)
	assert.Greater(t, sum.Rows, 0)
	assert.GreaterOrEqual(t, sum.Windows, sum.Rows)

	rows := readRows(t, task.SinkPath)
	require.Len(t, rows, sum.Rows)
	labels := map[string]string{}
	for _, row := range rows {
		require.Len(t, row, 5*5+len(dataset.PatchColumns))
		labels[row[25]] = row[len(row)-1]
	}
	assert.Equal(t, map[string]string{"cat_not_1.png": "0", "cat_1.png": "1"}, labels)

	pngs, err := filepath.Glob(filepath.Join(dir, "patch.*.png"))
	require.NoError(t, err)
	assert.Len(t, pngs, sum.Rows)
}

func TestRunIsReproducible(t *testing.T) {
	dir := t.TempDir()
	images := []string{writeNoise(t, dir, "a.png", 48, 36, 3), writeNoise(t, dir, "b.png", 36, 36, 4)}

	run := func(sinkName string) [][]string {
		task := Task{Kind: KindTile, Images: images, SinkPath: filepath.Join(dir, sinkName), Seed: 99, Tile: smallParams()}
		_, err := Run(context.Background(), task, tileimage.NewNative(), logger.Discard())
		require.NoError(t, err)
		return readRows(t, task.SinkPath)
	}
	assert.Equal(t, run("first.csv"), run("second.csv"))
}

func TestRunDecode(t *testing.T) {
	dir := t.TempDir()
	images := []string{writeNoise(t, dir, "img_1.png", 20, 10, 5), writeNoise(t, dir, "img_2.png", 20, 10, 6)}
	params := decode.Params{Width: 4, Height: 2, Folds: 5, Labels: map[string]string{"img_1.png": "c0", "img_2.png": "c9"}}
	task := Task{Index: 3, Kind: KindDecode, Images: images, SinkPath: filepath.Join(dir, "images3.csv"), Seed: 1, Decode: &params}

	sum, err := Run(context.Background(), task, tileimage.NewNative(), logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Rows)

	rows := readRows(t, task.SinkPath)
	require.Len(t, rows, 2)
	assert.Equal(t, "c0", rows[0][8])
	assert.Equal(t, "c9", rows[1][8])
	for _, row := range rows {
		assert.Contains(t, []string{"1", "2", "3", "4", "5"}, row[9])
	}
}

func TestRunFailsOnCorruptImage(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0o644))
	task := Task{Kind: KindTile, Images: []string{bad}, SinkPath: filepath.Join(dir, "patches0.csv"), Tile: smallParams()}

	_, err := Run(context.Background(), task, tileimage.NewNative(), logger.Discard())
	assert.ErrorIs(t, err, dataset.ErrExtraction)
}

func TestRunStopsWhenCancelled(t *testing.T) {
	dir := t.TempDir()
	task := Task{
		Kind:     KindTile,
		Images:   []string{writeNoise(t, dir, "a.png", 40, 40, 7)},
		SinkPath: filepath.Join(dir, "patches0.csv"),
		Tile:     smallParams(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := Run(ctx, task, tileimage.NewNative(), logger.Discard())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sum.Images)
}

func TestPatchFileName(t *testing.T) {
	r := dataset.Record{SourceID: "cat.jpg", X: 10, Y: 20, Size: 300, Angle: -5}
	assert.Equal(t, "patch.cat.jpg.10.20.300.-5.png", PatchFileName(r))
}
