package screenshot

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func decodeDataURI(t *testing.T, uri string) image.Image {
	t.Helper()
	const prefix = "data:image/jpeg;base64,"
	if !strings.HasPrefix(uri, prefix) {
		t.Fatalf("unexpected data uri prefix: %.40s", uri)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, prefix))
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	return img
}

func TestThumbnail_DownscalesPreservingAspect(t *testing.T) {
	uri, err := Thumbnail(encodePNG(t, 1170, 2532), DefaultMaxWidth, DefaultQuality)
	if err != nil {
		t.Fatalf("thumbnail failed: %v", err)
	}
	b := decodeDataURI(t, uri).Bounds()
	if b.Dx() != 400 || b.Dy() != 2532*400/1170 {
		t.Fatalf("unexpected size %dx%d", b.Dx(), b.Dy())
	}
}

func TestThumbnail_DoesNotUpscale(t *testing.T) {
	uri, err := Thumbnail(encodePNG(t, 200, 300), DefaultMaxWidth, DefaultQuality)
	if err != nil {
		t.Fatalf("thumbnail failed: %v", err)
	}
	b := decodeDataURI(t, uri).Bounds()
	if b.Dx() != 200 || b.Dy() != 300 {
		t.Fatalf("unexpected size %dx%d", b.Dx(), b.Dy())
	}
}

func TestThumbnail_RejectsGarbage(t *testing.T) {
	if _, err := Thumbnail([]byte("not an image"), 0, 0); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := Thumbnail(nil, 0, 0); err == nil {
		t.Fatal("expected empty error")
	}
}
