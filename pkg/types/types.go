package types

// Rect is an axis-aligned rectangle in display (canvas) units.
// It is used both for the crop box and for the display-fit rectangle.
type Rect struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	W float64 `json:"w" yaml:"w"`
	H float64 `json:"h" yaml:"h"`
}

// Right returns the x coordinate of the right edge
func (r Rect) Right() float64 { return r.X + r.W }

// Bottom returns the y coordinate of the bottom edge
func (r Rect) Bottom() float64 { return r.Y + r.H }

// Area returns the area of the rectangle
func (r Rect) Area() float64 { return r.W * r.H }

// Contains reports whether (x, y) lies inside the rectangle, edges included
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.Right() && y >= r.Y && y <= r.Bottom()
}

// Size is a width/height pair in display units
type Size struct {
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Valid reports whether both dimensions are positive
func (s Size) Valid() bool { return s.Width > 0 && s.Height > 0 }

// EventType identifies a pointer event
type EventType string

const (
	PointerDown  EventType = "down"
	PointerMove  EventType = "move"
	PointerUp    EventType = "up"
	PointerLeave EventType = "leave"
)

// PointerEvent is a single pointer event in surface-local coordinates
type PointerEvent struct {
	Type EventType `json:"type" yaml:"type"`
	X    float64   `json:"x" yaml:"x"`
	Y    float64   `json:"y" yaml:"y"`
}

// Box is a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Finding is the primary problem a vision model located in a field photo
type Finding struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Severity   string  `json:"severity"`
	Box        Box     `json:"box"`
}

// Diagnosis is the structured answer for one analysis request
type Diagnosis struct {
	Kind            string   `json:"kind"`
	Primary         Finding  `json:"primary"`
	Description     string   `json:"description"`
	Recommendations []string `json:"recommendations"`
	Tags            []string `json:"tags"`
}

// OutputConfig defines how a cropped raster is encoded
type OutputConfig struct {
	Format   string `json:"format" yaml:"format"`
	Quality  int    `json:"quality" yaml:"quality"`
	Lossless bool   `json:"lossless" yaml:"lossless"`
}
