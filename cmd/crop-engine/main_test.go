package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/khetimitra/crop-engine/internal/config"
	"github.com/khetimitra/crop-engine/internal/utils"
	"github.com/khetimitra/crop-engine/pkg/types"
)

func writePNG(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{uint8(x % 256), 160, uint8(y % 256), 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func writeDefaultConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.Default().SaveToFile(path))
	return path
}

func TestParseSize(t *testing.T) {
	cases := []struct {
		in      string
		want    types.Size
		wantErr bool
	}{
		{"", types.Size{}, false},
		{"400x300", types.Size{Width: 400, Height: 300}, false},
		{"640X480", types.Size{Width: 640, Height: 480}, false},
		{" 320 x 240 ", types.Size{Width: 320, Height: 240}, false},
		{"400", types.Size{}, true},
		{"ax300", types.Size{}, true},
		{"400xb", types.Size{}, true},
		{"0x300", types.Size{}, true},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseSize(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	c := config.Default()
	c.Crop.MinSize = 64
	require.NoError(t, c.SaveToFile(path))

	loaded, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 64.0, loaded.Crop.MinSize)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCropAll(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	var files []string
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		p := filepath.Join(dir, name)
		writePNG(t, p, 200, 100)
		files = append(files, p)
	}
	outDir := filepath.Join(t.TempDir(), "out")

	outputs, err := cropAll(context.Background(), config.Default(), zap.NewNop(), files, outDir, nil, 2)
	require.NoError(t, err)
	require.Len(t, outputs, 3)
	assert.Equal(t, filepath.Join(outDir, "b_crop.jpg"), outputs[1])

	for _, p := range outputs {
		f, err := os.Open(p)
		require.NoError(t, err)
		cfg, _, err := image.DecodeConfig(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, 160, cfg.Width)
		assert.Equal(t, 80, cfg.Height)
	}
}

func TestCropAllKeepsSameNamedInputsApart(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	writePNG(t, filepath.Join(dir, "leaf.png"), 200, 100)
	writePNG(t, filepath.Join(sub, "leaf.png"), 300, 150)
	writePNG(t, filepath.Join(dir, "sub_leaf.png"), 100, 50)

	files, err := utils.ListImageFiles(dir, true)
	require.NoError(t, err)
	require.Len(t, files, 3)
	outDir := filepath.Join(t.TempDir(), "out")

	outputs, err := cropAll(context.Background(), config.Default(), zap.NewNop(), files, outDir, nil, 3)
	require.NoError(t, err)
	require.Len(t, outputs, 3)

	seen := make(map[string]bool)
	for _, p := range outputs {
		assert.False(t, seen[p], "duplicate output %s", p)
		seen[p] = true
	}

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	widths := make(map[int]bool)
	for _, p := range outputs {
		f, err := os.Open(p)
		require.NoError(t, err)
		cfg, _, err := image.DecodeConfig(f)
		f.Close()
		require.NoError(t, err)
		widths[cfg.Width] = true
	}
	assert.Equal(t, map[int]bool{160: true, 240: true, 80: true}, widths)
}

func TestCropOutputFormat(t *testing.T) {
	cases := []struct {
		out, format string
		want        string
		wantErr     bool
	}{
		{"", "", "", false},
		{"", "webp", "webp", false},
		{"leaf.png", "", "png", false},
		{"leaf.JPEG", "", "jpg", false},
		{"leaf.png", "png", "png", false},
		{"leaf.png", "jpg", "", true},
		{"leaf.bmp", "", "", true},
		{"cropped", "webp", "webp", false},
	}

	for _, tc := range cases {
		t.Run(tc.out+"/"+tc.format, func(t *testing.T) {
			got, err := cropOutputFormat(tc.out, tc.format)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCropWritesFormatOfOutExtension(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "leaf.png")
	writePNG(t, input, 200, 100)
	output := filepath.Join(dir, "leaf_out.png")
	defer func() { outFlag, formatFlag = "", "" }()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", writeDefaultConfig(t), "crop", input, "--out", output})
	require.NoError(t, rootCmd.Execute())

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()
	_, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
}

func TestCropAllStopsOnError(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	writePNG(t, good, 200, 100)
	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0644))

	_, err := cropAll(context.Background(), config.Default(), zap.NewNop(), []string{good, bad}, t.TempDir(), nil, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.png")
}

func TestVersionAndConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crop.yaml")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "init", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), path)

	out.Reset()
	rootCmd.SetArgs([]string{"--config", path, "version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "crop-engine 1.0.0\n", out.String())
}
