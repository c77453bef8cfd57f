package video

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/syukriyansyah-ipb/object-detection/internal/logger"
)

func setupTestFFmpeg(t *testing.T) *FFmpegWrapper {
	ffmpeg, err := NewFFmpegWrapper("", logger.NewNopLogger())
	if err != nil {
		t.Skipf("FFmpeg not available, skipping test: %v", err)
	}
	return ffmpeg
}

func TestClassifyInput(t *testing.T) {
	tests := map[string]InputKind{
		"rtsp://10.0.0.5:554/stream": InputRTSP,
		"http://cam.local/mjpeg":     InputHTTP,
		"https://cam.local/mjpeg":    InputHTTP,
		"/dev/video0":                InputDevice,
		"./samples/traffic.mp4":      InputFile,
	}
	for input, want := range tests {
		if got := ClassifyInput(input); got != want {
			t.Errorf("ClassifyInput(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestCaptureArgs(t *testing.T) {
	opts := CaptureOptions{FPS: 10, Width: 640, Height: 480, Quality: 5}

	rtsp := strings.Join(CaptureArgs("rtsp://cam/stream", opts), " ")
	if !strings.Contains(rtsp, "-rtsp_transport tcp -i rtsp://cam/stream") {
		t.Errorf("RTSP args should force TCP transport: %s", rtsp)
	}

	device := strings.Join(CaptureArgs("/dev/video0", opts), " ")
	for _, want := range []string{"-f v4l2", "-video_size 640x480", "-framerate 10", "-i /dev/video0"} {
		if !strings.Contains(device, want) {
			t.Errorf("Device args missing %q: %s", want, device)
		}
	}

	file := strings.Join(CaptureArgs("clip.mp4", CaptureOptions{FPS: 5, Loop: true}), " ")
	if !strings.Contains(file, "-re -stream_loop -1 -i clip.mp4") {
		t.Errorf("Looping file args unexpected: %s", file)
	}

	for _, args := range []string{rtsp, device, file} {
		if !strings.HasSuffix(args, "-f image2pipe -vcodec mjpeg -r 10 -q:v 5 -") &&
			!strings.HasSuffix(args, "-f image2pipe -vcodec mjpeg -r 5 -q:v 5 -") {
			t.Errorf("Output should be an MJPEG pipe on stdout: %s", args)
		}
	}
}

func TestCaptureArgs_ClampsQuality(t *testing.T) {
	args := strings.Join(CaptureArgs("clip.mp4", CaptureOptions{Quality: 90}), " ")
	if !strings.Contains(args, "-q:v 5") {
		t.Errorf("Out-of-range quality should fall back to 5: %s", args)
	}
}

func TestNewFFmpegWrapper_BadPreferredPathFallsBack(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	fallback, err := NewFFmpegWrapper("/nonexistent/ffmpeg", logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Expected fallback to a PATH ffmpeg: %v", err)
	}
	if fallback.Path() != ffmpeg.Path() {
		t.Errorf("Expected %s, got %s", ffmpeg.Path(), fallback.Path())
	}
}

func TestFFmpegSource_SingleImage(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	path := filepath.Join(t.TempDir(), "still.jpg")
	if err := os.WriteFile(path, encodeTestJPEG(t, 64, 48, 128), 0644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	src, err := OpenFFmpegSource(ctx, ffmpeg, path, CaptureOptions{Quality: 5}, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("OpenFFmpegSource failed: %v", err)
	}
	defer src.Close()

	frame, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if frame.Seq != 1 {
		t.Errorf("Expected seq 1, got %d", frame.Seq)
	}
	if frame.Width != 64 || frame.Height != 48 {
		t.Errorf("Expected 64x48, got %dx%d", frame.Width, frame.Height)
	}

	if _, err := src.Next(ctx); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("Expected ErrSourceClosed after a finite file, got %v", err)
	}
}
