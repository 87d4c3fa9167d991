// Package source loads and validates the raster a crop session works on.
//
// Images arrive the way the capture screen produces them: a file on disk,
// an upload stream, an http(s) URL, or a base64 data URL as emitted by a
// browser canvas.
package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/khetimitra/crop-engine/pkg/types"
)

var (
	// ErrUnsupportedFormat is returned when the decoded format is not allowed
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrTooSmall is returned when an image is below the minimum size
	ErrTooSmall = errors.New("image too small")
)

// Image is a decoded source raster together with its natural size
type Image struct {
	Raster image.Image
	Format string
	Width  int
	Height int
}

// NewImage wraps an already decoded raster
func NewImage(img image.Image, format string) *Image {
	b := img.Bounds()
	return &Image{Raster: img, Format: format, Width: b.Dx(), Height: b.Dy()}
}

// Natural returns the natural size in source pixels
func (i *Image) Natural() types.Size {
	return types.Size{Width: float64(i.Width), Height: float64(i.Height)}
}

// Info contains basic image metadata
type Info struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
	Area        int     `json:"area"`
	Format      string  `json:"format"`
}

// Info returns basic information about the image
func (i *Image) Info() Info {
	info := Info{Width: i.Width, Height: i.Height, Area: i.Width * i.Height, Format: i.Format}
	if i.Height > 0 {
		info.AspectRatio = float64(i.Width) / float64(i.Height)
	}
	return info
}

// Config holds configuration for the loader
type Config struct {
	SupportedFormats []string
	MinImageSize     int
	HTTPTimeout      time.Duration
	UserAgent        string
	MaxBytes         int64
}

// DefaultConfig returns the loader defaults
func DefaultConfig() Config {
	return Config{
		SupportedFormats: []string{"jpeg", "png", "webp", "gif"},
		MinImageSize:     40,
		HTTPTimeout:      30 * time.Second,
		UserAgent:        "Kheti-Mitra-Crop/1.0",
		MaxBytes:         32 << 20,
	}
}

// Loader decodes and validates source images
type Loader struct {
	config Config
	client *http.Client
}

// New creates a Loader with default configuration
func New() *Loader {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Loader with custom configuration
func NewWithConfig(config Config) *Loader {
	return &Loader{
		config: config,
		client: &http.Client{Timeout: config.HTTPTimeout},
	}
}

// Load loads an image from a data URL, an http(s) URL or a file path
func (l *Loader) Load(ctx context.Context, src string) (*Image, error) {
	switch {
	case strings.HasPrefix(src, "data:"):
		return l.LoadDataURL(src)
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return l.LoadURL(ctx, src)
	default:
		return l.LoadFile(src)
	}
}

// LoadFile loads an image from disk
func (l *Loader) LoadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}
	defer f.Close()
	return l.LoadReader(f)
}

// LoadReader loads an image from an io.Reader, up to MaxBytes
func (l *Loader) LoadReader(r io.Reader) (*Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes()+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > l.maxBytes() {
		return nil, fmt.Errorf("image exceeds %d bytes", l.maxBytes())
	}
	return l.LoadBytes(data)
}

// LoadBytes decodes an image from raw encoded bytes, applying EXIF
// orientation
func (l *Loader) LoadBytes(data []byte) (*Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		// Some WebP variants are only handled by libwebp
		img, err = webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: unknown or unsupported format")
		}
		return l.finish(img, "webp")
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return l.finish(img, format)
}

// LoadDataURL decodes a "data:image/...;base64," URL
func (l *Loader) LoadDataURL(dataURL string) (*Image, error) {
	comma := strings.IndexByte(dataURL, ',')
	if !strings.HasPrefix(dataURL, "data:") || comma < 0 {
		return nil, fmt.Errorf("invalid data URL")
	}
	meta := dataURL[len("data:"):comma]
	if !strings.HasPrefix(meta, "image/") {
		return nil, fmt.Errorf("data URL is not an image (%s)", meta)
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("data URL must be base64 encoded")
	}

	data, err := base64.StdEncoding.DecodeString(dataURL[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 payload: %w", err)
	}
	return l.LoadBytes(data)
}

// LoadURL downloads and decodes an image over http(s)
func (l *Loader) LoadURL(ctx context.Context, imageURL string) (*Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", l.config.UserAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	return l.LoadReader(resp.Body)
}

// Validate checks that an image meets the minimum size requirement
func (l *Loader) Validate(img *Image) error {
	if img.Width < l.config.MinImageSize || img.Height < l.config.MinImageSize {
		return fmt.Errorf("%w: %dx%d (minimum: %d)", ErrTooSmall, img.Width, img.Height, l.config.MinImageSize)
	}
	return nil
}

func (l *Loader) finish(raster image.Image, format string) (*Image, error) {
	if !l.isFormatSupported(format) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	img := NewImage(raster, format)
	if err := l.Validate(img); err != nil {
		return nil, err
	}
	return img, nil
}

func (l *Loader) isFormatSupported(format string) bool {
	for _, supported := range l.config.SupportedFormats {
		if strings.EqualFold(format, supported) || (strings.EqualFold(supported, "jpg") && format == "jpeg") {
			return true
		}
	}
	return false
}

func (l *Loader) maxBytes() int64 {
	if l.config.MaxBytes <= 0 {
		return 32 << 20
	}
	return l.config.MaxBytes
}
