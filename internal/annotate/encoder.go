// Package annotate draws detections onto frames.
package annotate

import (
	"bytes"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/syukriyansyah-ipb/object-detection/internal/ai"
	"github.com/syukriyansyah-ipb/object-detection/internal/video"
)

// ErrEncodingFailure means the frame could not be decoded or re-encoded
var ErrEncodingFailure = errors.New("annotation encoding failed")

// Encoder turns a frame and its detections into the payload sent to viewers.
// Encode must be deterministic for identical inputs and must not modify frame.
type Encoder interface {
	Encode(frame video.Frame, set ai.DetectionSet) ([]byte, error)
}

// Palette is indexed by a hash of the label. The first entry is the default
// box colour.
var Palette = []color.RGBA{
	{0, 255, 0, 255},
	{255, 165, 0, 255},
	{0, 191, 255, 255},
	{255, 0, 255, 255},
	{255, 255, 0, 255},
	{255, 64, 64, 255},
	{0, 255, 255, 255},
	{160, 32, 240, 255},
}

// LabelColor returns the stable palette colour for label
func LabelColor(label string) color.RGBA {
	if label == "" {
		return Palette[0]
	}
	h := fnv.New32a()
	h.Write([]byte(label))
	return Palette[h.Sum32()%uint32(len(Palette))]
}

// Caption formats the text drawn above a box, e.g. "car 0.87"
func Caption(d ai.Detection) string {
	return fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
}

// JPEGEncoder draws boxes and captions and re-encodes the frame as JPEG
type JPEGEncoder struct {
	Quality   int // 1-100
	Thickness int // box outline width in pixels
}

// NewJPEGEncoder creates an encoder, clamping out of range settings
func NewJPEGEncoder(quality, thickness int) *JPEGEncoder {
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	if thickness < 1 {
		thickness = 1
	}
	return &JPEGEncoder{Quality: quality, Thickness: thickness}
}

// Encode draws set onto a copy of frame. A frame without detections is
// returned as is.
func (e *JPEGEncoder) Encode(frame video.Frame, set ai.DetectionSet) ([]byte, error) {
	if len(frame.Data) == 0 {
		return nil, fmt.Errorf("%w: frame %d is empty", ErrEncodingFailure, frame.Seq)
	}
	if len(set) == 0 {
		return frame.Data, nil
	}

	img, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode frame %d: %v", ErrEncodingFailure, frame.Seq, err)
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	for _, d := range set {
		c := LabelColor(d.Label)
		rect := boxRect(d.Box, bounds)
		if rect.Empty() {
			continue
		}
		drawBox(rgba, rect, c, e.Thickness)
		drawLabel(rgba, rect.Min.X, rect.Min.Y-5, Caption(d), c)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: e.Quality}); err != nil {
		return nil, fmt.Errorf("%w: encode frame %d: %v", ErrEncodingFailure, frame.Seq, err)
	}

	return buf.Bytes(), nil
}

// boxRect converts a pixel-space box to an integer rectangle clipped to the
// image.
func boxRect(b ai.BoundingBox, bounds image.Rectangle) image.Rectangle {
	r := image.Rect(
		int(math.Round(b.X1)), int(math.Round(b.Y1)),
		int(math.Round(b.X2)), int(math.Round(b.Y2)),
	)
	return r.Intersect(bounds)
}

func drawBox(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	src := image.NewUniform(c)
	t := thickness
	if t*2 > r.Dx() || t*2 > r.Dy() {
		draw.Draw(img, r, src, image.Point{}, draw.Src)
		return
	}
	// top, bottom, left, right
	draw.Draw(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), src, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), src, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), src, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), src, image.Point{}, draw.Src)
}

// drawLabel writes text on a dark background with its top-left near (x, y)
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	bounds := img.Bounds()
	if y < bounds.Min.Y+2 {
		y = bounds.Min.Y + 2
	}
	if x < bounds.Min.X {
		x = bounds.Min.X
	}

	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, label).Ceil()
	bg := image.Rect(x-2, y-2, x+textWidth+2, y+12).Intersect(bounds)
	draw.Draw(img, bg, image.NewUniform(color.RGBA{0, 0, 0, 180}), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}

// Passthrough sends frames unannotated
type Passthrough struct{}

// Encode returns the original frame bytes
func (Passthrough) Encode(frame video.Frame, _ ai.DetectionSet) ([]byte, error) {
	if len(frame.Data) == 0 {
		return nil, fmt.Errorf("%w: frame %d is empty", ErrEncodingFailure, frame.Seq)
	}
	return frame.Data, nil
}
