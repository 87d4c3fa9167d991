package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/khetimitra/crop-engine/pkg/types"
)

// DefaultOutput is the encoding used for applied crops: JPEG at 92
var DefaultOutput = types.OutputConfig{Format: "jpg", Quality: 92}

// NormalizeFormat maps format aliases to jpg, png or webp
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "", "jpg", "jpeg":
		return "jpg", nil
	case "png":
		return "png", nil
	case "webp":
		return "webp", nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// MimeType returns the MIME type for an output format
func MimeType(format string) string {
	f, err := NormalizeFormat(format)
	if err != nil {
		return "application/octet-stream"
	}
	if f == "jpg" {
		return "image/jpeg"
	}
	return "image/" + f
}

// Encode writes img to w in the requested format
func Encode(w io.Writer, img image.Image, cfg types.OutputConfig) error {
	format, err := NormalizeFormat(cfg.Format)
	if err != nil {
		return err
	}
	quality := cfg.Quality
	if quality < 1 || quality > 100 {
		quality = DefaultOutput.Quality
	}

	switch format {
	case "webp":
		return webp.Encode(w, img, &webp.Options{Lossless: cfg.Lossless, Quality: float32(quality)})
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		return enc.Encode(w, img)
	default:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	}
}

// EncodeBytes encodes img into a new byte slice
func EncodeBytes(img image.Image, cfg types.OutputConfig) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, cfg); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", cfg.Format, err)
	}
	return buf.Bytes(), nil
}

// DataURL wraps encoded bytes in a base64 data URL
func DataURL(data []byte, format string) string {
	return "data:" + MimeType(format) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// SaveImage saves an image to a file with the specified format and quality
func SaveImage(img image.Image, path string, cfg types.OutputConfig) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := Encode(f, img, cfg); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

// PrepareImageForModel downsizes an image so its long side is at most
// maxDim and returns it base64 encoded for a vision backend
func PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	if !strings.EqualFold(format, "png") {
		format = "jpg"
	}
	data, err := EncodeBytes(img, types.OutputConfig{Format: format, Quality: quality})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
