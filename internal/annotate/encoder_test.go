package annotate

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/syukriyansyah-ipb/object-detection/internal/ai"
	"github.com/syukriyansyah-ipb/object-detection/internal/video"
)

func testFrame(t *testing.T, w, h int) video.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{40, 40, 40, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("Failed to encode test frame: %v", err)
	}
	return video.Frame{Data: buf.Bytes(), Seq: 1, Width: w, Height: h}
}

func TestLabelColor_Stable(t *testing.T) {
	for _, label := range []string{"car", "truck", "person", "dog"} {
		if LabelColor(label) != LabelColor(label) {
			t.Errorf("Colour for %q is not stable", label)
		}
	}
	if LabelColor("") != Palette[0] {
		t.Errorf("Empty label should use the default colour")
	}
	if Palette[0] != (color.RGBA{0, 255, 0, 255}) {
		t.Errorf("Default colour should be green, got %v", Palette[0])
	}
}

func TestCaption(t *testing.T) {
	got := Caption(ai.Detection{Label: "car", Confidence: 0.8666})
	if got != "car 0.87" {
		t.Errorf("Expected 'car 0.87', got %q", got)
	}
}

func TestJPEGEncoder_DrawsBoxes(t *testing.T) {
	frame := testFrame(t, 160, 120)
	set := ai.DetectionSet{
		{Label: "car", Confidence: 0.9, Box: ai.BoundingBox{X1: 20, Y1: 30, X2: 120, Y2: 100}},
	}

	enc := NewJPEGEncoder(95, 3)
	out, err := enc.Encode(frame, set)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Output is not a JPEG: %v", err)
	}
	if img.Bounds().Dx() != 160 || img.Bounds().Dy() != 120 {
		t.Fatalf("Expected 160x120 output, got %v", img.Bounds())
	}

	// Middle of the bottom edge should carry the label colour
	want := LabelColor("car")
	r, g, b, _ := img.At(70, 98).RGBA()
	got := color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), 255}
	if !near(got, want, 60) {
		t.Errorf("Expected box colour near %v at edge, got %v", want, got)
	}

	// Centre of the box is untouched background
	r, g, b, _ = img.At(70, 70).RGBA()
	got = color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), 255}
	if !near(got, color.RGBA{40, 40, 40, 255}, 20) {
		t.Errorf("Expected background inside the box, got %v", got)
	}

	if len(frame.Data) == 0 || bytes.Equal(frame.Data, out) {
		t.Error("Expected annotated output to differ from the input frame")
	}
}

func TestJPEGEncoder_Deterministic(t *testing.T) {
	frame := testFrame(t, 64, 48)
	set := ai.DetectionSet{
		{Label: "car", Confidence: 0.5, Box: ai.BoundingBox{X1: 1, Y1: 1, X2: 30, Y2: 30}},
		{Label: "truck", Confidence: 0.75, Box: ai.BoundingBox{X1: 20, Y1: 10, X2: 60, Y2: 40}},
	}
	enc := NewJPEGEncoder(80, 2)

	first, err := enc.Encode(frame, set)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	second, err := enc.Encode(frame, set)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("Expected identical output for identical input")
	}
}

func TestJPEGEncoder_DoesNotModifyFrame(t *testing.T) {
	frame := testFrame(t, 64, 48)
	original := append([]byte(nil), frame.Data...)

	_, err := NewJPEGEncoder(80, 2).Encode(frame, ai.DetectionSet{
		{Label: "car", Confidence: 0.5, Box: ai.BoundingBox{X1: 1, Y1: 1, X2: 30, Y2: 30}},
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(original, frame.Data) {
		t.Error("Encode modified the input frame")
	}
}

func TestJPEGEncoder_EmptySet(t *testing.T) {
	frame := testFrame(t, 32, 24)
	out, err := NewJPEGEncoder(80, 2).Encode(frame, ai.DetectionSet{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(out, frame.Data) {
		t.Error("Expected frame bytes unchanged for an empty detection set")
	}
}

func TestJPEGEncoder_BoxOutsideFrame(t *testing.T) {
	frame := testFrame(t, 32, 24)
	set := ai.DetectionSet{
		{Label: "car", Confidence: 0.5, Box: ai.BoundingBox{X1: -50, Y1: -50, X2: 500, Y2: 500}},
		{Label: "bus", Confidence: 0.5, Box: ai.BoundingBox{X1: 100, Y1: 100, X2: 200, Y2: 200}},
	}
	if _, err := NewJPEGEncoder(80, 2).Encode(frame, set); err != nil {
		t.Fatalf("Encode failed for out of range boxes: %v", err)
	}
}

func TestJPEGEncoder_CorruptFrame(t *testing.T) {
	frame := video.Frame{Data: []byte("not a jpeg"), Seq: 7}
	set := ai.DetectionSet{{Label: "car", Confidence: 0.5, Box: ai.BoundingBox{X2: 10, Y2: 10}}}

	_, err := NewJPEGEncoder(80, 2).Encode(frame, set)
	if !errors.Is(err, ErrEncodingFailure) {
		t.Fatalf("Expected ErrEncodingFailure, got %v", err)
	}

	_, err = NewJPEGEncoder(80, 2).Encode(video.Frame{}, nil)
	if !errors.Is(err, ErrEncodingFailure) {
		t.Fatalf("Expected ErrEncodingFailure for empty frame, got %v", err)
	}
}

func TestNewJPEGEncoder_Clamps(t *testing.T) {
	enc := NewJPEGEncoder(0, 0)
	if enc.Quality != jpeg.DefaultQuality || enc.Thickness != 1 {
		t.Errorf("Expected clamped settings, got quality=%d thickness=%d", enc.Quality, enc.Thickness)
	}
}

func TestPassthrough(t *testing.T) {
	frame := testFrame(t, 16, 16)
	out, err := Passthrough{}.Encode(frame, ai.DetectionSet{{Label: "car"}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(out, frame.Data) {
		t.Error("Passthrough should return the frame bytes")
	}
}

func near(a, b color.RGBA, tol int) bool {
	diff := func(x, y uint8) int {
		d := int(x) - int(y)
		if d < 0 {
			return -d
		}
		return d
	}
	return diff(a.R, b.R) <= tol && diff(a.G, b.G) <= tol && diff(a.B, b.B) <= tol
}
