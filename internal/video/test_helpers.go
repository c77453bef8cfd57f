package video

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
)

// encodeTestJPEG returns a solid-colour JPEG of the given size
func encodeTestJPEG(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("Failed to encode test JPEG: %v", err)
	}
	return buf.Bytes()
}

// writeTestFrames writes n JPEG files named frame_000.jpg... into a temp dir
func writeTestFrames(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		name := filepath.Join(dir, fmt.Sprintf("frame_%03d.jpg", i))
		if err := os.WriteFile(name, encodeTestJPEG(t, 32, 24, uint8(i*20)), 0644); err != nil {
			t.Fatalf("Failed to write frame: %v", err)
		}
	}
	return dir
}
