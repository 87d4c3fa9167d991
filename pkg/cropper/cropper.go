// Package cropper implements the interactive crop session: a crop box over
// a letterboxed image, driven by pointer events, and extraction of the
// selected region from the full-resolution source.
package cropper

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khetimitra/crop-engine/pkg/geometry"
	"github.com/khetimitra/crop-engine/pkg/processing"
	"github.com/khetimitra/crop-engine/pkg/source"
	"github.com/khetimitra/crop-engine/pkg/types"
)

// ErrInvalidCanvas is returned when a canvas has a non-positive dimension
var ErrInvalidCanvas = errors.New("invalid canvas size")

// Config holds configuration for a crop session
type Config struct {
	MinSize      float64
	HandleRadius float64
	InitialFill  float64
	Output       types.OutputConfig
}

// DefaultConfig returns the session defaults
func DefaultConfig() Config {
	return Config{
		MinSize:      40,
		HandleRadius: 20,
		InitialFill:  0.8,
		Output:       processing.DefaultOutput,
	}
}

// Snapshot is the state handed to change listeners
type Snapshot struct {
	Source *source.Image
	Canvas types.Size
	Fit    types.Rect
	Box    types.Rect
	Handle geometry.Handle
}

// Output is the result of applying a crop
type Output struct {
	Image      image.Image
	Data       []byte
	Format     string
	SourceRect image.Rectangle
}

// DataURL returns the encoded crop as a base64 data URL
func (o *Output) DataURL() string {
	return processing.DataURL(o.Data, o.Format)
}

// dragState lives from pointer-down to pointer-up/leave
type dragState struct {
	handle geometry.Handle
	startX float64
	startY float64
	start  types.Rect
}

// Session tracks one crop interaction. It is driven from a single event
// loop and is not safe for concurrent use.
type Session struct {
	id       string
	config   Config
	logger   *zap.Logger
	src      *source.Image
	canvas   types.Size
	fit      types.Rect
	box      types.Rect
	drag     *dragState
	onChange []func(Snapshot)
}

// New creates a Session with default configuration
func New() *Session {
	return NewWithConfig(DefaultConfig(), nil)
}

// NewWithConfig creates a Session with custom configuration. A nil logger
// disables logging.
func NewWithConfig(config Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		config: config,
		logger: logger.With(zap.String("session", id)),
	}
}

// ID returns the session identifier used in logs
func (s *Session) ID() string { return s.id }

// OnChange registers a listener called once per committed state change
func (s *Session) OnChange(fn func(Snapshot)) {
	s.onChange = append(s.onChange, fn)
}

// Load installs a new source image on a canvas of the given size and
// resets the crop box to its initial position.
func (s *Session) Load(src *source.Image, canvas types.Size) error {
	if src == nil || src.Raster == nil {
		return fmt.Errorf("load: no image")
	}
	if !canvas.Valid() {
		return fmt.Errorf("%w: %vx%v", ErrInvalidCanvas, canvas.Width, canvas.Height)
	}

	s.src = src
	s.canvas = canvas
	s.drag = nil
	s.fit = geometry.Fit(float64(src.Width), float64(src.Height), canvas.Width, canvas.Height)
	s.box = geometry.InitialBox(canvas, s.config.InitialFill, s.config.MinSize)

	s.logger.Debug("image loaded",
		zap.Int("width", src.Width),
		zap.Int("height", src.Height),
		zap.Float64("canvas_width", canvas.Width),
		zap.Float64("canvas_height", canvas.Height))
	s.notify()
	return nil
}

// SetCanvas handles a canvas resize: the fit is recomputed and the box is
// kept inside the new bounds. Without an image only the canvas is stored.
func (s *Session) SetCanvas(canvas types.Size) error {
	if !canvas.Valid() {
		return fmt.Errorf("%w: %vx%v", ErrInvalidCanvas, canvas.Width, canvas.Height)
	}
	s.canvas = canvas
	if s.src == nil {
		return nil
	}
	s.fit = geometry.Fit(float64(s.src.Width), float64(s.src.Height), canvas.Width, canvas.Height)
	s.box = geometry.FitInside(s.box, canvas, s.config.MinSize)
	s.notify()
	return nil
}

// Loaded reports whether an image is installed
func (s *Session) Loaded() bool { return s.src != nil }

// Source returns the installed image, or nil
func (s *Session) Source() *source.Image { return s.src }

// Box returns the current crop box in display units
func (s *Session) Box() types.Rect { return s.box }

// Fit returns the current display-fit rectangle
func (s *Session) Fit() types.Rect { return s.fit }

// Canvas returns the current canvas size
func (s *Session) Canvas() types.Size { return s.canvas }

// Dragging returns the active handle, if a drag is live
func (s *Session) Dragging() (geometry.Handle, bool) {
	if s.drag == nil {
		return geometry.HandleNone, false
	}
	return s.drag.handle, true
}

// Snapshot returns the current state
func (s *Session) Snapshot() Snapshot {
	handle, _ := s.Dragging()
	return Snapshot{Source: s.src, Canvas: s.canvas, Fit: s.fit, Box: s.box, Handle: handle}
}

// Dispatch routes a pointer event to the matching handler
func (s *Session) Dispatch(ev types.PointerEvent) {
	switch ev.Type {
	case types.PointerDown:
		s.PointerDown(ev.X, ev.Y)
	case types.PointerMove:
		s.PointerMove(ev.X, ev.Y)
	case types.PointerUp:
		s.PointerUp()
	case types.PointerLeave:
		s.PointerLeave()
	}
}

// PointerDown starts a drag if (x, y) hits a handle or the box interior.
// It reports whether a drag started.
func (s *Session) PointerDown(x, y float64) bool {
	if s.src == nil || s.drag != nil {
		return false
	}
	handle := geometry.HitTest(s.box, x, y, s.config.HandleRadius)
	if handle == geometry.HandleNone {
		return false
	}

	s.drag = &dragState{handle: handle, startX: x, startY: y, start: s.box}
	s.logger.Debug("drag start", zap.Stringer("handle", handle), zap.Float64("x", x), zap.Float64("y", y))
	return true
}

// PointerMove updates the box from the drag-start snapshot and the
// cumulative pointer delta. Without a live drag it does nothing.
func (s *Session) PointerMove(x, y float64) {
	if s.drag == nil {
		return
	}
	next := geometry.Apply(s.drag.handle, s.drag.start, x-s.drag.startX, y-s.drag.startY, s.canvas, s.config.MinSize)
	if next == s.box {
		return
	}
	s.box = next
	s.notify()
}

// PointerUp ends the drag, keeping the last computed box
func (s *Session) PointerUp() {
	s.endDrag("up")
}

// PointerLeave ends the drag like PointerUp; the last computed box is
// committed, not reverted to the drag-start snapshot.
func (s *Session) PointerLeave() {
	s.endDrag("leave")
}

func (s *Session) endDrag(reason string) {
	if s.drag == nil {
		return
	}
	s.logger.Debug("drag end",
		zap.String("reason", reason),
		zap.Stringer("handle", s.drag.handle),
		zap.Any("box", s.box))
	s.drag = nil
}

// SourceRect returns the crop box mapped to source pixels, clipped to the
// image bounds.
func (s *Session) SourceRect() image.Rectangle {
	if s.src == nil {
		return image.Rectangle{}
	}
	mapped := geometry.MapToSource(s.box, s.fit, float64(s.src.Width), float64(s.src.Height))
	return geometry.SourceRectangle(mapped, s.src.Raster.Bounds())
}

// Apply extracts the crop from the original full-resolution raster and
// encodes it. With no image loaded it is a no-op and returns nil, nil.
func (s *Session) Apply() (*Output, error) {
	if s.src == nil || s.src.Raster == nil {
		return nil, nil
	}

	rect := s.SourceRect()
	if rect.Empty() {
		return nil, fmt.Errorf("crop box does not overlap the image")
	}

	format, err := processing.NormalizeFormat(s.config.Output.Format)
	if err != nil {
		return nil, err
	}
	cropped := imaging.Crop(s.src.Raster, rect)
	data, err := processing.EncodeBytes(cropped, s.config.Output)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("crop applied", zap.Stringer("source_rect", rect), zap.Int("bytes", len(data)))
	return &Output{Image: cropped, Data: data, Format: format, SourceRect: rect}, nil
}

// Reset discards the image and any live drag
func (s *Session) Reset() {
	s.src = nil
	s.drag = nil
	s.fit = types.Rect{}
	s.box = types.Rect{}
	s.notify()
}

func (s *Session) notify() {
	if len(s.onChange) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, fn := range s.onChange {
		fn(snap)
	}
}
