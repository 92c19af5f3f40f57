package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pspoerri/ndwimask/internal/cog"
	"github.com/pspoerri/ndwimask/internal/config"
)

const sceneID = "LC08_L1TP_015002_20170708_20170716_01_T1"

func writeBand(t *testing.T, path string, v float64) string {
	t.Helper()
	const rows, cols = 20, 30
	geo := cog.GeoInfo{
		OriginX: 440_000, OriginY: 7_680_000, PixelSizeX: 30, PixelSizeY: 30,
		GeoKeys: []uint16{1, 1, 0, 1, 3072, 0, 1, 32622},
	}
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = v
	}
	w, err := cog.NewWriter(path, cog.WriterOptions{Width: cols, Height: rows, DataType: cog.UInt16, Geo: geo})
	require.NoError(t, err)
	require.NoError(t, w.WriteRegion(0, 0, cols, rows, data))
	require.NoError(t, w.Finalize())
	return path
}

func writeScene(t *testing.T, dir string) []string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return []string{
		writeBand(t, filepath.Join(dir, sceneID+"_B3.TIF"), 200),
		writeBand(t, filepath.Join(dir, sceneID+"_B5.TIF"), 100),
		writeBand(t, filepath.Join(dir, sceneID+"_BQA.TIF"), 2720),
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	bands := writeScene(t, filepath.Join(dir, sceneID))
	outDir := filepath.Join(dir, "masks")
	metrics := filepath.Join(dir, "ndwi.prom")

	out, err := execute(t, append([]string{"run",
		"--output-dir", outDir,
		"--x-block-size", "16", "--y-block-size", "8",
		"--metrics-file", metrics,
		"--preview", "png",
	}, bands...)...)
	require.NoError(t, err)

	mask := filepath.Join(outDir, sceneID+"_NDWI_mask.TIF")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, mask, lines[0])
	assert.Equal(t, filepath.Join(outDir, sceneID+"_NDWI_mask_preview.png"), lines[1])

	r, err := cog.Open(mask)
	require.NoError(t, err)
	defer r.Close()
	data, err := r.ReadRegion(0, 0, r.Width(), r.Height())
	require.NoError(t, err)
	for _, v := range data {
		require.Equal(t, 1.0, v)
	}

	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "ndwi_blocks_processed_total 6")
	assert.Contains(t, string(prom), `ndwi_pixels_total{class="water"} 600`)
}

func TestRun_FailureWritesMetrics(t *testing.T) {
	dir := t.TempDir()
	metrics := filepath.Join(dir, "ndwi.prom")

	_, err := execute(t, "run", "--metrics-file", metrics,
		filepath.Join(dir, "a_B3.TIF"), filepath.Join(dir, "a_B5.TIF"), filepath.Join(dir, "a_BQA.TIF"))
	require.Error(t, err)

	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `ndwi_runs_failed_total{stage="open"} 1`)
}

func TestRun_CPUProfile(t *testing.T) {
	dir := t.TempDir()
	bands := writeScene(t, filepath.Join(dir, sceneID))

	for i, name := range []string{"first.pprof", "second.pprof"} {
		profile := filepath.Join(dir, name)
		_, err := execute(t, append([]string{"run", "--cpuprofile", profile,
			"--output-dir", filepath.Join(dir, fmt.Sprintf("out%d", i))}, bands...)...)
		require.NoError(t, err, "profile %s", name)

		fi, err := os.Stat(profile)
		require.NoError(t, err)
		assert.Positive(t, fi.Size(), "profile %s must be flushed", name)
	}
}

func TestRun_Args(t *testing.T) {
	_, err := execute(t, "run", "only-one.TIF")
	assert.Error(t, err)
}

func TestScene(t *testing.T) {
	root := t.TempDir()
	writeScene(t, filepath.Join(root, sceneID))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "LC08_L1TP_015003_20170708_20170716_01_T1"), 0o755))

	out, err := execute(t, "scene", root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, sceneID, sceneID+"_NDWI_mask.TIF"), strings.TrimSpace(out))
}

func TestScene_Empty(t *testing.T) {
	_, err := execute(t, "scene", t.TempDir())
	assert.ErrorContains(t, err, "no Landsat 8 scenes")
}

func TestMerge(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "ndwimask.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("threshold: 0.3\noutput_dir: /from/file\nlog_level: warn\n"), 0o644))

	root := newRootCmd()
	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	require.NoError(t, run.ParseFlags([]string{"--output-dir", "/from/flag", "--t-srs", "EPSG:3413"}))

	base, err := config.Load(cfgPath)
	require.NoError(t, err)

	a := &app{cfg: config.Default(), targetSRS: "EPSG:3413"}
	a.cfg.OutputDir = "/from/flag"
	cfg, err := a.merge(base, run.Flags())
	require.NoError(t, err)

	assert.Equal(t, 0.3, cfg.Threshold, "unset flag keeps file value")
	assert.Equal(t, "/from/flag", cfg.OutputDir)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 3413, cfg.TargetEPSG)
}

func TestMerge_BadSRS(t *testing.T) {
	_, err := execute(t, "run", "--t-srs", "EPSG:abc", "a", "b", "c")
	assert.ErrorIs(t, err, config.ErrConfiguration)
}
