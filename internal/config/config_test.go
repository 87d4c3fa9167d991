package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 40.0, cfg.Crop.MinSize)
	assert.Equal(t, 20.0, cfg.Crop.HandleRadius)
	assert.Equal(t, 0.8, cfg.Crop.InitialFill)
	assert.Equal(t, "jpg", cfg.Output.Format)
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
crop:
  min_size: 60
source:
  http_timeout: 5s
vision:
  backend: llamacpp
  url: http://gpu-box:8080
`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 60.0, cfg.Crop.MinSize)
	assert.Equal(t, 20.0, cfg.Crop.HandleRadius)
	assert.Equal(t, 5*time.Second, cfg.Source.HTTPTimeout)
	assert.Equal(t, "llamacpp", cfg.Vision.Backend)
	assert.Equal(t, 92, cfg.Output.Quality)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := Default()
			cfg.Output.Format = "webp"
			cfg.Render.GridLines = 3
			require.NoError(t, cfg.SaveToFile(path))

			loaded, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crop: [1, 2"), 0644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"min size":      func(c *Config) { c.Crop.MinSize = 0 },
		"handle radius": func(c *Config) { c.Crop.HandleRadius = -1 },
		"initial fill":  func(c *Config) { c.Crop.InitialFill = 1.5 },
		"grid lines":    func(c *Config) { c.Render.GridLines = -1 },
		"handle color":  func(c *Config) { c.Render.HandleColor = "green" },
		"formats":       func(c *Config) { c.Source.SupportedFormats = nil },
		"output format": func(c *Config) { c.Output.Format = "bmp" },
		"quality":       func(c *Config) { c.Output.Quality = 0 },
		"backend":       func(c *Config) { c.Vision.Backend = "openai" },
		"vision format": func(c *Config) { c.Vision.Format = "webp" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConverters(t *testing.T) {
	cfg := Default()
	cfg.Crop.MinSize = 50
	cfg.Render.HandleColor = "#ff0000"
	cfg.Render.DimAlpha = 200
	cfg.Source.MaxBytes = 1024

	assert.Equal(t, 50.0, cfg.CropperConfig().MinSize)
	assert.Equal(t, "jpg", cfg.CropperConfig().Output.Format)

	style := cfg.RenderConfig()
	assert.Equal(t, color.NRGBA{255, 0, 0, 255}, style.HandleStroke)
	assert.Equal(t, uint8(200), style.Dim.A)
	assert.NotNil(t, style.Scaler)

	assert.Equal(t, int64(1024), cfg.SourceConfig().MaxBytes)
}

func TestParseHexColor(t *testing.T) {
	c, err := parseHexColor("#fff")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, c)

	c, err = parseHexColor("22c55e80")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{0x22, 0xc5, 0x5e, 0x80}, c)

	_, err = parseHexColor("#12345")
	assert.Error(t, err)
}
