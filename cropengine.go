// Package cropengine provides the interactive crop editor used by the
// Kheti-Mitra field assistant: load a photo, letterbox it on a canvas, drag
// a crop box with pointer events and extract the selected region at full
// resolution.
//
// Basic usage:
//
//	package main
//
//	import (
//		"log"
//
//		cropengine "github.com/khetimitra/crop-engine"
//		"github.com/khetimitra/crop-engine/pkg/types"
//	)
//
//	func main() {
//		engine := cropengine.New()
//
//		// Show the photo on a 400x300 canvas
//		if err := engine.LoadFile("leaf.jpg", types.Size{Width: 400, Height: 300}); err != nil {
//			log.Fatal(err)
//		}
//
//		// Drag the bottom-right handle outwards
//		engine.Dispatch(types.PointerEvent{Type: types.PointerDown, X: 360, Y: 270})
//		engine.Dispatch(types.PointerEvent{Type: types.PointerMove, X: 400, Y: 300})
//		engine.Dispatch(types.PointerEvent{Type: types.PointerUp, X: 400, Y: 300})
//
//		out, err := engine.Apply()
//		if err != nil {
//			log.Fatal(err)
//		}
//		log.Printf("cropped %v from the original", out.SourceRect)
//	}
//
// The package wires together:
//
// 1. Source (pkg/source): decoding files, URLs and data URLs
// 2. Cropper (pkg/cropper): the pointer-driven crop session
// 3. Render (pkg/render): preview frames with the crop overlay
// 4. Analysis (pkg/analysis): optional diagnosis of the cropped region
package cropengine

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/khetimitra/crop-engine/internal/config"
	"github.com/khetimitra/crop-engine/internal/utils"
	"github.com/khetimitra/crop-engine/pkg/analysis"
	"github.com/khetimitra/crop-engine/pkg/client"
	"github.com/khetimitra/crop-engine/pkg/cropper"
	"github.com/khetimitra/crop-engine/pkg/llamacpp"
	"github.com/khetimitra/crop-engine/pkg/ollama"
	"github.com/khetimitra/crop-engine/pkg/processing"
	"github.com/khetimitra/crop-engine/pkg/render"
	"github.com/khetimitra/crop-engine/pkg/script"
	"github.com/khetimitra/crop-engine/pkg/source"
	"github.com/khetimitra/crop-engine/pkg/types"
)

// Version of the crop engine library
const Version = "1.0.0"

// Engine provides a high-level interface over one crop session
type Engine struct {
	config   *config.Config
	logger   *zap.Logger
	loader   *source.Loader
	session  *cropper.Session
	renderer *render.Renderer
	preview  *image.NRGBA
	stale    bool
}

// New creates a new Engine with default configuration
func New() *Engine {
	e, _ := NewWithConfig(config.Default(), nil)
	return e
}

// NewWithConfig creates a new Engine from a validated configuration. A nil
// logger disables logging.
func NewWithConfig(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		config:   cfg,
		logger:   logger,
		loader:   source.NewWithConfig(cfg.SourceConfig()),
		session:  cropper.NewWithConfig(cfg.CropperConfig(), logger),
		renderer: render.NewWithConfig(cfg.RenderConfig()),
	}
	e.session.OnChange(func(cropper.Snapshot) { e.stale = true })
	return e, nil
}

// Session exposes the underlying crop session
func (e *Engine) Session() *cropper.Session { return e.session }

// Config returns the engine configuration
func (e *Engine) Config() *config.Config { return e.config }

// LoadFile loads an image from disk onto a canvas
func (e *Engine) LoadFile(path string, canvas types.Size) error {
	img, err := e.loader.LoadFile(path)
	if err != nil {
		return err
	}
	return e.install(img, canvas, path)
}

// LoadReader loads an image from a reader onto a canvas
func (e *Engine) LoadReader(r io.Reader, canvas types.Size) error {
	img, err := e.loader.LoadReader(r)
	if err != nil {
		return err
	}
	return e.install(img, canvas, "reader")
}

// Load loads an image from a file path, http(s) URL or data URL
func (e *Engine) Load(ctx context.Context, src string, canvas types.Size) error {
	img, err := e.loader.Load(ctx, src)
	if err != nil {
		return err
	}
	name := src
	if strings.HasPrefix(src, "data:") {
		name = "data-url"
	}
	return e.install(img, canvas, name)
}

// install puts img on the canvas. A zero canvas uses the natural size.
func (e *Engine) install(img *source.Image, canvas types.Size, name string) error {
	if canvas == (types.Size{}) {
		canvas = img.Natural()
	}
	if err := e.session.Load(img, canvas); err != nil {
		return err
	}
	e.logger.Info("image loaded",
		zap.String("source", name),
		zap.String("format", img.Format),
		zap.Int("width", img.Width),
		zap.Int("height", img.Height))
	return nil
}

// SetCanvas resizes the canvas, keeping the box inside it
func (e *Engine) SetCanvas(canvas types.Size) error {
	return e.session.SetCanvas(canvas)
}

// Dispatch feeds one pointer event to the session
func (e *Engine) Dispatch(ev types.PointerEvent) {
	e.session.Dispatch(ev)
}

// Replay applies a recorded script. A script canvas, when set, replaces
// the current canvas before the events run.
func (e *Engine) Replay(s *script.Script) error {
	if s == nil {
		return nil
	}
	if s.Canvas.Valid() && s.Canvas != e.session.Canvas() {
		if err := e.session.SetCanvas(s.Canvas); err != nil {
			return err
		}
	}
	script.Replay(e.session, s.Events)
	return nil
}

// Box returns the current crop box in canvas units
func (e *Engine) Box() types.Rect { return e.session.Box() }

// Preview returns a frame for the current state, or nil before the first
// image is loaded. Frames are rendered on demand after each change.
func (e *Engine) Preview() *image.NRGBA {
	if e.stale {
		snap := e.session.Snapshot()
		var raster image.Image
		if snap.Source != nil {
			raster = snap.Source.Raster
		}
		e.preview = e.renderer.Render(raster, snap.Fit, snap.Box, snap.Canvas)
		e.stale = false
	}
	return e.preview
}

// SavePreview writes the current frame as a PNG
func (e *Engine) SavePreview(path string) error {
	frame := e.Preview()
	if frame == nil {
		return fmt.Errorf("no preview rendered")
	}
	return processing.SaveImage(frame, path, types.OutputConfig{Format: "png"})
}

// Apply extracts the crop from the full-resolution source. With no image
// loaded it returns nil, nil.
func (e *Engine) Apply() (*cropper.Output, error) {
	return e.session.Apply()
}

// Analyze applies the crop and asks a vision backend about the result
func (e *Engine) Analyze(ctx context.Context, a *analysis.Analyzer, kind analysis.Kind) (*types.Diagnosis, error) {
	out, err := e.Apply()
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("no image loaded")
	}

	v := e.config.Vision
	imgB64, err := processing.PrepareImageForModel(out.Image, v.Format, v.MaxDim, v.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}

	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}

	start := time.Now()
	d, err := a.Analyze(ctx, v.Model, kind, imgB64)
	if err != nil {
		return nil, err
	}
	e.logger.Info("analysis complete",
		zap.String("kind", string(kind)),
		zap.String("label", d.Primary.Label),
		zap.Float64("confidence", d.Primary.Confidence),
		zap.Duration("took", time.Since(start)))
	return d, nil
}

// ProcessImageFile is a convenience function that loads an image, replays
// an optional script and saves the crop into outputDir. Without a script
// the default centered box is used. It returns the written path.
func (e *Engine) ProcessImageFile(inputPath, outputDir string, s *script.Script) (string, error) {
	format, err := processing.NormalizeFormat(e.config.Output.Format)
	if err != nil {
		return "", err
	}
	if err := utils.EnsureDir(outputDir); err != nil {
		return "", err
	}
	o := e.config.Output
	outputPath := utils.CropOutputPath(inputPath, outputDir, o.Prefix, o.Suffix, format)
	if err := e.CropFile(inputPath, outputPath, s); err != nil {
		return "", err
	}
	return outputPath, nil
}

// CropFile loads inputPath, replays an optional script and writes the
// encoded crop to outputPath
func (e *Engine) CropFile(inputPath, outputPath string, s *script.Script) error {
	var canvas types.Size
	if s != nil {
		canvas = s.Canvas
	}
	if err := e.LoadFile(inputPath, canvas); err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}
	if err := e.Replay(s); err != nil {
		return fmt.Errorf("failed to replay script: %w", err)
	}

	out, err := e.Apply()
	if err != nil {
		return fmt.Errorf("cropping failed: %w", err)
	}
	if err := WriteOutput(out, outputPath); err != nil {
		return err
	}

	e.logger.Debug("crop saved", zap.String("output", outputPath), zap.Stringer("source_rect", out.SourceRect))
	return nil
}

// WriteOutput writes the already encoded crop bytes to path
func WriteOutput(out *cropper.Output, path string) error {
	if out == nil {
		return fmt.Errorf("no crop to write")
	}
	if err := os.WriteFile(path, out.Data, 0644); err != nil {
		return fmt.Errorf("failed to save crop: %w", err)
	}
	return nil
}

// NewVisionClient builds the configured analysis backend
func NewVisionClient(v config.VisionConfig) (client.VisionClient, error) {
	switch v.Backend {
	case "", "ollama":
		c, err := ollama.NewClient(v.URL)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "llamacpp":
		c, err := llamacpp.NewClient(v.URL)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown vision backend %q", v.Backend)
	}
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
