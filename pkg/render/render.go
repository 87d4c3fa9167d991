// Package render paints the crop editor frame: the letterboxed image, the
// dimmed area outside the crop box, the box border, rule-of-thirds guides
// and the four corner handles.
//
// Render never mutates its inputs and always produces the same pixels for
// the same arguments, so callers may invoke it after every state change.
package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"github.com/khetimitra/crop-engine/pkg/types"
)

// bezierCircle is the control point distance for a quarter circle
const bezierCircle = 0.5522847498

// Config holds the overlay styling
type Config struct {
	Background        color.NRGBA
	Dim               color.NRGBA
	Border            color.NRGBA
	BorderWidth       int
	Grid              color.NRGBA
	GridLines         int
	HandleRadius      float64
	HandleFill        color.NRGBA
	HandleStroke      color.NRGBA
	HandleStrokeWidth float64
	Scaler            xdraw.Scaler
}

// DefaultConfig returns the editor's default styling
func DefaultConfig() Config {
	return Config{
		Background:        color.NRGBA{0, 0, 0, 255},
		Dim:               color.NRGBA{0, 0, 0, 128},
		Border:            color.NRGBA{255, 255, 255, 255},
		BorderWidth:       2,
		Grid:              color.NRGBA{255, 255, 255, 128},
		GridLines:         2,
		HandleRadius:      8,
		HandleFill:        color.NRGBA{255, 255, 255, 255},
		HandleStroke:      color.NRGBA{34, 197, 94, 255},
		HandleStrokeWidth: 2,
		Scaler:            xdraw.ApproxBiLinear,
	}
}

// Renderer draws crop editor frames
type Renderer struct {
	config Config
}

// New creates a Renderer with default styling
func New() *Renderer {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Renderer with custom styling
func NewWithConfig(config Config) *Renderer {
	if config.Scaler == nil {
		config.Scaler = xdraw.ApproxBiLinear
	}
	return &Renderer{config: config}
}

// Render paints one frame of the given canvas size. src may be nil, in
// which case only the background and overlay are drawn.
func (r *Renderer) Render(src image.Image, fit, box types.Rect, canvas types.Size) *image.NRGBA {
	w, h := int(math.Round(canvas.Width)), int(math.Round(canvas.Height))
	if w <= 0 || h <= 0 {
		return image.NewNRGBA(image.Rect(0, 0, 0, 0))
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(r.config.Background), image.Point{}, draw.Src)

	// 1. Fitted image
	if src != nil && fit.W > 0 && fit.H > 0 {
		r.config.Scaler.Scale(dst, toRectangle(fit), src, src.Bounds(), xdraw.Over, nil)
	}

	b := toRectangle(box).Intersect(dst.Bounds())

	// 2. Dim everything outside the box
	dim := image.NewUniform(r.config.Dim)
	for _, strip := range []image.Rectangle{
		image.Rect(0, 0, w, b.Min.Y),
		image.Rect(0, b.Max.Y, w, h),
		image.Rect(0, b.Min.Y, b.Min.X, b.Max.Y),
		image.Rect(b.Max.X, b.Min.Y, w, b.Max.Y),
	} {
		draw.Draw(dst, strip, dim, image.Point{}, draw.Over)
	}

	if b.Empty() {
		return dst
	}

	// 3. Border
	border := image.NewUniform(r.config.Border)
	for _, edge := range borderRects(b, r.config.BorderWidth) {
		draw.Draw(dst, edge, border, image.Point{}, draw.Src)
	}

	// 4. Evenly spaced guides
	grid := image.NewUniform(r.config.Grid)
	n := r.config.GridLines
	for i := 1; i <= n; i++ {
		gx := int(math.Round(box.X + box.W*float64(i)/float64(n+1)))
		gy := int(math.Round(box.Y + box.H*float64(i)/float64(n+1)))
		draw.Draw(dst, image.Rect(gx, b.Min.Y, gx+1, b.Max.Y), grid, image.Point{}, draw.Over)
		draw.Draw(dst, image.Rect(b.Min.X, gy, b.Max.X, gy+1), grid, image.Point{}, draw.Over)
	}

	// 5. Corner handles
	for _, c := range [][2]float64{
		{box.X, box.Y},
		{box.Right(), box.Y},
		{box.X, box.Bottom()},
		{box.Right(), box.Bottom()},
	} {
		r.drawHandle(dst, c[0], c[1])
	}

	return dst
}

// drawHandle rasterizes a filled circle with a stroked rim centered on
// (cx, cy), using a small rasterizer sized to the handle.
func (r *Renderer) drawHandle(dst *image.NRGBA, cx, cy float64) {
	radius := r.config.HandleRadius
	if radius <= 0 {
		return
	}
	half := r.config.HandleStrokeWidth / 2
	outer := radius + half
	size := int(math.Ceil(outer*2)) + 2

	origin := image.Pt(int(math.Floor(cx-outer))-1, int(math.Floor(cy-outer))-1)
	lx := float32(cx - float64(origin.X))
	ly := float32(cy - float64(origin.Y))
	target := image.Rectangle{Min: origin, Max: origin.Add(image.Pt(size, size))}

	z := vector.NewRasterizer(size, size)
	z.DrawOp = draw.Over
	addCircle(z, lx, ly, float32(radius), false)
	z.ClosePath()
	z.Draw(dst, target, image.NewUniform(r.config.HandleFill), image.Point{})

	if half <= 0 {
		return
	}
	z.Reset(size, size)
	z.DrawOp = draw.Over
	addCircle(z, lx, ly, float32(outer), false)
	z.ClosePath()
	// Opposite winding cuts the inner disc out of the rim
	addCircle(z, lx, ly, float32(math.Max(radius-half, 0)), true)
	z.ClosePath()
	z.Draw(dst, target, image.NewUniform(r.config.HandleStroke), image.Point{})
}

func addCircle(z *vector.Rasterizer, cx, cy, rad float32, reverse bool) {
	k := rad * bezierCircle
	z.MoveTo(cx+rad, cy)
	if !reverse {
		z.CubeTo(cx+rad, cy+k, cx+k, cy+rad, cx, cy+rad)
		z.CubeTo(cx-k, cy+rad, cx-rad, cy+k, cx-rad, cy)
		z.CubeTo(cx-rad, cy-k, cx-k, cy-rad, cx, cy-rad)
		z.CubeTo(cx+k, cy-rad, cx+rad, cy-k, cx+rad, cy)
		return
	}
	z.CubeTo(cx+rad, cy-k, cx+k, cy-rad, cx, cy-rad)
	z.CubeTo(cx-k, cy-rad, cx-rad, cy-k, cx-rad, cy)
	z.CubeTo(cx-rad, cy+k, cx-k, cy+rad, cx, cy+rad)
	z.CubeTo(cx+k, cy+rad, cx+rad, cy+k, cx+rad, cy)
}

func borderRects(b image.Rectangle, width int) []image.Rectangle {
	if width <= 0 {
		return nil
	}
	return []image.Rectangle{
		image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+width),
		image.Rect(b.Min.X, b.Max.Y-width, b.Max.X, b.Max.Y),
		image.Rect(b.Min.X, b.Min.Y, b.Min.X+width, b.Max.Y),
		image.Rect(b.Max.X-width, b.Min.Y, b.Max.X, b.Max.Y),
	}
}

func toRectangle(r types.Rect) image.Rectangle {
	return image.Rect(
		int(math.Round(r.X)),
		int(math.Round(r.Y)),
		int(math.Round(r.Right())),
		int(math.Round(r.Bottom())),
	)
}
