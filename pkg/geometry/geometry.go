// Package geometry holds the pure crop-box math: letterbox fitting, handle
// hit testing, the per-handle resize/move rules and the mapping from
// display coordinates back to source pixels.
//
// Nothing here keeps state; every function is a function of its inputs so
// it can be tested without a graphics context.
package geometry

import (
	"fmt"
	"image"
	"math"

	"github.com/khetimitra/crop-engine/pkg/types"
)

// Handle identifies what a drag manipulates
type Handle int

const (
	HandleNone Handle = iota
	HandleTopLeft
	HandleTopRight
	HandleBottomLeft
	HandleBottomRight
	HandleMove
)

var handleNames = map[Handle]string{
	HandleNone:        "none",
	HandleTopLeft:     "top-left",
	HandleTopRight:    "top-right",
	HandleBottomLeft:  "bottom-left",
	HandleBottomRight: "bottom-right",
	HandleMove:        "move",
}

func (h Handle) String() string {
	if name, ok := handleNames[h]; ok {
		return name
	}
	return fmt.Sprintf("Handle(%d)", int(h))
}

// ParseHandle converts a handle name back to a Handle
func ParseHandle(name string) (Handle, error) {
	for h, n := range handleNames {
		if n == name {
			return h, nil
		}
	}
	return HandleNone, fmt.Errorf("unknown handle %q", name)
}

// Fit computes the letterboxed rectangle an image of the given natural size
// occupies when drawn centered inside a canvas, preserving aspect ratio.
func Fit(naturalW, naturalH, canvasW, canvasH float64) types.Rect {
	if naturalW <= 0 || naturalH <= 0 || canvasW <= 0 || canvasH <= 0 {
		return types.Rect{}
	}

	imageAspect := naturalW / naturalH
	canvasAspect := canvasW / canvasH

	// Multiply before dividing so whole-number fits stay exact
	if imageAspect > canvasAspect {
		// Image is relatively wider, constrain by width
		dh := canvasW * naturalH / naturalW
		return types.Rect{X: 0, Y: (canvasH - dh) / 2, W: canvasW, H: dh}
	}

	dw := canvasH * naturalW / naturalH
	return types.Rect{X: (canvasW - dw) / 2, Y: 0, W: dw, H: canvasH}
}

// InitialBox returns a box covering fill (0..1] of the canvas, centered.
// The size is floored at minSize and never exceeds the canvas.
func InitialBox(canvas types.Size, fill, minSize float64) types.Rect {
	if fill <= 0 || fill > 1 {
		fill = 1
	}
	w := math.Min(math.Max(canvas.Width*fill, minSize), canvas.Width)
	h := math.Min(math.Max(canvas.Height*fill, minSize), canvas.Height)
	return types.Rect{
		X: (canvas.Width - w) / 2,
		Y: (canvas.Height - h) / 2,
		W: w,
		H: h,
	}
}

// HitTest decides which handle a pointer-down at (x, y) grabs. Corners win
// over the interior, so a press near a corner resizes rather than moves.
func HitTest(box types.Rect, x, y, radius float64) Handle {
	corners := []struct {
		handle Handle
		cx, cy float64
	}{
		{HandleTopLeft, box.X, box.Y},
		{HandleTopRight, box.Right(), box.Y},
		{HandleBottomLeft, box.X, box.Bottom()},
		{HandleBottomRight, box.Right(), box.Bottom()},
	}

	for _, c := range corners {
		if math.Hypot(x-c.cx, y-c.cy) <= radius {
			return c.handle
		}
	}

	if box.Contains(x, y) {
		return HandleMove
	}
	return HandleNone
}

// Apply computes the box produced by dragging handle by (dx, dy) from the
// drag-start box, then clamps it to the canvas.
func Apply(handle Handle, start types.Rect, dx, dy float64, canvas types.Size, minSize float64) types.Rect {
	o := start
	var box types.Rect

	switch handle {
	case HandleMove:
		return types.Rect{
			X: clamp(o.X+dx, 0, canvas.Width-o.W),
			Y: clamp(o.Y+dy, 0, canvas.Height-o.H),
			W: o.W,
			H: o.H,
		}
	case HandleTopLeft:
		box.X = math.Min(o.X+dx, o.Right()-minSize)
		box.Y = math.Min(o.Y+dy, o.Bottom()-minSize)
		box.W = o.Right() - box.X
		box.H = o.Bottom() - box.Y
	case HandleTopRight:
		box.X = o.X
		box.W = math.Max(minSize, o.W+dx)
		box.Y = math.Min(o.Y+dy, o.Bottom()-minSize)
		box.H = o.Bottom() - box.Y
	case HandleBottomLeft:
		box.X = math.Min(o.X+dx, o.Right()-minSize)
		box.W = o.Right() - box.X
		box.Y = o.Y
		box.H = math.Max(minSize, o.H+dy)
	case HandleBottomRight:
		box.X = o.X
		box.Y = o.Y
		box.W = math.Max(minSize, o.W+dx)
		box.H = math.Max(minSize, o.H+dy)
	default:
		return start
	}

	return Clamp(box, handle, canvas, minSize)
}

// Clamp pulls a resized box back inside the canvas by moving the edges the
// handle drags, so the opposite corner stays where it was. If the canvas
// bound and the size floor disagree, the size floor wins.
func Clamp(box types.Rect, handle Handle, canvas types.Size, minSize float64) types.Rect {
	left, top := box.X, box.Y
	right, bottom := box.Right(), box.Bottom()

	left = math.Max(left, 0)
	top = math.Max(top, 0)
	right = math.Min(right, canvas.Width)
	bottom = math.Min(bottom, canvas.Height)

	movesLeft := handle == HandleTopLeft || handle == HandleBottomLeft
	movesTop := handle == HandleTopLeft || handle == HandleTopRight

	if right-left < minSize {
		if movesLeft {
			left = right - minSize
		} else {
			right = left + minSize
		}
	}
	if bottom-top < minSize {
		if movesTop {
			top = bottom - minSize
		} else {
			bottom = top + minSize
		}
	}

	return types.Rect{X: left, Y: top, W: right - left, H: bottom - top}
}

// FitInside keeps an existing box inside a (possibly resized) canvas:
// it shrinks the box if it is larger than the canvas, then translates it.
func FitInside(box types.Rect, canvas types.Size, minSize float64) types.Rect {
	box.W = math.Max(math.Min(box.W, canvas.Width), math.Min(minSize, canvas.Width))
	box.H = math.Max(math.Min(box.H, canvas.Height), math.Min(minSize, canvas.Height))
	box.X = clamp(box.X, 0, canvas.Width-box.W)
	box.Y = clamp(box.Y, 0, canvas.Height-box.H)
	return box
}

// MapToSource translates a display-space box into source-image pixel
// coordinates, given the display-fit rectangle and the natural size.
func MapToSource(box, fit types.Rect, naturalW, naturalH float64) types.Rect {
	if fit.W <= 0 || fit.H <= 0 {
		return types.Rect{}
	}
	scaleX := naturalW / fit.W
	scaleY := naturalH / fit.H
	return types.Rect{
		X: (box.X - fit.X) * scaleX,
		Y: (box.Y - fit.Y) * scaleY,
		W: box.W * scaleX,
		H: box.H * scaleY,
	}
}

// SourceRectangle rounds a source-space rect to whole pixels and clips it
// to the image bounds.
func SourceRectangle(src types.Rect, bounds image.Rectangle) image.Rectangle {
	x0 := int(math.Round(src.X)) + bounds.Min.X
	y0 := int(math.Round(src.Y)) + bounds.Min.Y
	x1 := int(math.Round(src.Right())) + bounds.Min.X
	y1 := int(math.Round(src.Bottom())) + bounds.Min.Y
	return image.Rect(x0, y0, x1, y1).Intersect(bounds)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
