package processing

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/khetimitra/crop-engine/pkg/types"
)

// createTestImage creates a field-like test image: green with a brown patch
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{120, 80, 40, 255})
			} else {
				img.Set(x, y, color.RGBA{40, 160, 60, 255})
			}
		}
	}
	return img
}

func TestNormalizeFormat(t *testing.T) {
	cases := map[string]string{"": "jpg", "JPEG": "jpg", ".jpg": "jpg", "png": "png", "WebP": "webp"}
	for in, want := range cases {
		got, err := NormalizeFormat(in)
		if err != nil || got != want {
			t.Errorf("NormalizeFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := NormalizeFormat("tiff"); err == nil {
		t.Error("Expected error for tiff")
	}
}

func TestEncodeJPEG(t *testing.T) {
	data, err := EncodeBytes(createTestImage(64, 48), DefaultOutput)
	if err != nil {
		t.Fatalf("EncodeBytes failed: %v", err)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if cfg.Width != 64 || cfg.Height != 48 {
		t.Errorf("Expected 64x48, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestEncodeWebP(t *testing.T) {
	data, err := EncodeBytes(createTestImage(32, 32), types.OutputConfig{Format: "webp", Lossless: true})
	if err != nil {
		t.Fatalf("EncodeBytes failed: %v", err)
	}
	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("webp decode: %v", err)
	}
	if img.Bounds().Dx() != 32 {
		t.Errorf("Expected width 32, got %d", img.Bounds().Dx())
	}
}

func TestDataURL(t *testing.T) {
	url := DataURL([]byte{1, 2, 3}, "jpg")
	if !strings.HasPrefix(url, "data:image/jpeg;base64,") {
		t.Errorf("Unexpected prefix: %s", url)
	}
	if MimeType("webp") != "image/webp" {
		t.Errorf("Unexpected webp mime %s", MimeType("webp"))
	}
}

func TestSaveImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crop.png")
	if err := SaveImage(createTestImage(40, 40), path, types.OutputConfig{Format: "png"}); err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}
	img, err := imaging.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if img.Bounds().Dx() != 40 {
		t.Errorf("Expected width 40, got %d", img.Bounds().Dx())
	}
}

func TestPrepareImageForModel(t *testing.T) {
	b64, err := PrepareImageForModel(createTestImage(800, 400), "jpg", 200, 85)
	if err != nil {
		t.Fatalf("PrepareImageForModel failed: %v", err)
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 200 || cfg.Height != 100 {
		t.Errorf("Expected 200x100, got %dx%d", cfg.Width, cfg.Height)
	}
}

func BenchmarkEncodeJPEG(b *testing.B) {
	img := createTestImage(1280, 960)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		EncodeBytes(img, DefaultOutput)
	}
}
