package config

import (
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/khetimitra/crop-engine/pkg/cropper"
	"github.com/khetimitra/crop-engine/pkg/processing"
	"github.com/khetimitra/crop-engine/pkg/render"
	"github.com/khetimitra/crop-engine/pkg/source"
	"github.com/khetimitra/crop-engine/pkg/types"
)

// Config holds the application configuration
type Config struct {
	Crop    CropConfig    `yaml:"crop" json:"crop"`
	Render  RenderConfig  `yaml:"render" json:"render"`
	Source  SourceConfig  `yaml:"source" json:"source"`
	Output  OutputConfig  `yaml:"output" json:"output"`
	Vision  VisionConfig  `yaml:"vision" json:"vision"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// CropConfig holds the crop box behaviour
type CropConfig struct {
	MinSize      float64 `yaml:"min_size" json:"min_size"`
	HandleRadius float64 `yaml:"handle_radius" json:"handle_radius"`
	InitialFill  float64 `yaml:"initial_fill" json:"initial_fill"`
}

// RenderConfig holds the preview overlay styling
type RenderConfig struct {
	DimAlpha     uint8   `yaml:"dim_alpha" json:"dim_alpha"`
	BorderWidth  int     `yaml:"border_width" json:"border_width"`
	GridLines    int     `yaml:"grid_lines" json:"grid_lines"`
	HandleRadius float64 `yaml:"handle_radius" json:"handle_radius"`
	HandleColor  string  `yaml:"handle_color" json:"handle_color"`
}

// SourceConfig holds configuration for image loading
type SourceConfig struct {
	SupportedFormats []string      `yaml:"supported_formats" json:"supported_formats"`
	MinImageSize     int           `yaml:"min_image_size" json:"min_image_size"`
	HTTPTimeout      time.Duration `yaml:"http_timeout" json:"http_timeout"`
	MaxBytes         int64         `yaml:"max_bytes" json:"max_bytes"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Format    string `yaml:"format" json:"format"`
	Quality   int    `yaml:"quality" json:"quality"`
	Lossless  bool   `yaml:"lossless" json:"lossless"`
	OutputDir string `yaml:"output_dir" json:"output_dir"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	Suffix    string `yaml:"suffix" json:"suffix"`
}

// VisionConfig holds configuration for the analysis backend
type VisionConfig struct {
	Backend string        `yaml:"backend" json:"backend"`
	URL     string        `yaml:"url" json:"url"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	MaxDim  int           `yaml:"max_dim" json:"max_dim"`
	Format  string        `yaml:"format" json:"format"`
	Quality int           `yaml:"quality" json:"quality"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
}

// Default returns a configuration with default values
func Default() *Config {
	crop := cropper.DefaultConfig()
	style := render.DefaultConfig()
	src := source.DefaultConfig()

	return &Config{
		Crop: CropConfig{
			MinSize:      crop.MinSize,
			HandleRadius: crop.HandleRadius,
			InitialFill:  crop.InitialFill,
		},
		Render: RenderConfig{
			DimAlpha:     style.Dim.A,
			BorderWidth:  style.BorderWidth,
			GridLines:    style.GridLines,
			HandleRadius: style.HandleRadius,
			HandleColor:  "#22c55e",
		},
		Source: SourceConfig{
			SupportedFormats: src.SupportedFormats,
			MinImageSize:     src.MinImageSize,
			HTTPTimeout:      src.HTTPTimeout,
			MaxBytes:         src.MaxBytes,
		},
		Output: OutputConfig{
			Format:    processing.DefaultOutput.Format,
			Quality:   processing.DefaultOutput.Quality,
			OutputDir: "./output",
			Suffix:    "_crop",
		},
		Vision: VisionConfig{
			Backend: "ollama",
			URL:     "http://localhost:11434",
			Model:   "llava:13b",
			Timeout: 5 * time.Minute,
			MaxDim:  1024,
			Format:  "jpg",
			Quality: 85,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a YAML file, or JSON when the
// extension is .json. Missing keys keep their defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isJSON(filename) {
		err = json.Unmarshal(data, config)
	} else {
		err = yaml.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration, choosing the encoding from the extension
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isJSON(filename) {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Crop.MinSize <= 0 {
		return fmt.Errorf("crop.min_size must be positive")
	}

	if c.Crop.HandleRadius <= 0 {
		return fmt.Errorf("crop.handle_radius must be positive")
	}

	if c.Crop.InitialFill <= 0 || c.Crop.InitialFill > 1 {
		return fmt.Errorf("crop.initial_fill must be in (0, 1]")
	}

	if c.Render.BorderWidth < 0 || c.Render.GridLines < 0 {
		return fmt.Errorf("render.border_width and render.grid_lines must not be negative")
	}

	if _, err := parseHexColor(c.Render.HandleColor); err != nil {
		return fmt.Errorf("render.handle_color: %w", err)
	}

	if len(c.Source.SupportedFormats) == 0 {
		return fmt.Errorf("source.supported_formats cannot be empty")
	}

	if c.Source.MinImageSize < 1 {
		return fmt.Errorf("source.min_image_size must be positive")
	}

	if _, err := processing.NormalizeFormat(c.Output.Format); err != nil {
		return fmt.Errorf("output.format: %w", err)
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	switch c.Vision.Backend {
	case "ollama", "llamacpp":
	default:
		return fmt.Errorf("vision.backend must be ollama or llamacpp, got %q", c.Vision.Backend)
	}

	switch strings.ToLower(c.Vision.Format) {
	case "jpg", "jpeg", "png":
	default:
		return fmt.Errorf("vision.format must be jpg or png, got %q", c.Vision.Format)
	}

	if c.Vision.Quality < 1 || c.Vision.Quality > 100 {
		return fmt.Errorf("vision.quality must be between 1 and 100")
	}

	return nil
}

// CropperConfig converts the crop and output sections for a session
func (c *Config) CropperConfig() cropper.Config {
	return cropper.Config{
		MinSize:      c.Crop.MinSize,
		HandleRadius: c.Crop.HandleRadius,
		InitialFill:  c.Crop.InitialFill,
		Output:       c.OutputFormat(),
	}
}

// RenderConfig converts the render section, starting from the default style
func (c *Config) RenderConfig() render.Config {
	style := render.DefaultConfig()
	style.Dim.A = c.Render.DimAlpha
	style.BorderWidth = c.Render.BorderWidth
	style.GridLines = c.Render.GridLines
	style.HandleRadius = c.Render.HandleRadius
	if col, err := parseHexColor(c.Render.HandleColor); err == nil {
		style.HandleStroke = col
	}
	return style
}

// SourceConfig converts the source section for a loader
func (c *Config) SourceConfig() source.Config {
	src := source.DefaultConfig()
	src.SupportedFormats = c.Source.SupportedFormats
	src.MinImageSize = c.Source.MinImageSize
	if c.Source.HTTPTimeout > 0 {
		src.HTTPTimeout = c.Source.HTTPTimeout
	}
	if c.Source.MaxBytes > 0 {
		src.MaxBytes = c.Source.MaxBytes
	}
	return src
}

// OutputFormat returns the encoder settings from the output section
func (c *Config) OutputFormat() types.OutputConfig {
	return types.OutputConfig{
		Format:   c.Output.Format,
		Quality:  c.Output.Quality,
		Lossless: c.Output.Lossless,
	}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "crop-engine", "config.yaml")
}

func isJSON(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".json")
}

// parseHexColor accepts #rgb, #rrggbb and #rrggbbaa
func parseHexColor(s string) (color.NRGBA, error) {
	c := color.NRGBA{A: 255}
	s = strings.TrimPrefix(s, "#")

	var err error
	switch len(s) {
	case 3:
		_, err = fmt.Sscanf(s, "%1x%1x%1x", &c.R, &c.G, &c.B)
		c.R, c.G, c.B = c.R*17, c.G*17, c.B*17
	case 6:
		_, err = fmt.Sscanf(s, "%02x%02x%02x", &c.R, &c.G, &c.B)
	case 8:
		_, err = fmt.Sscanf(s, "%02x%02x%02x%02x", &c.R, &c.G, &c.B, &c.A)
	default:
		err = fmt.Errorf("want #rgb, #rrggbb or #rrggbbaa")
	}
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return c, nil
}
