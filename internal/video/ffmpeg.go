package video

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/syukriyansyah-ipb/object-detection/internal/logger"
)

// FFmpegWrapper wraps FFmpeg functionality
type FFmpegWrapper struct {
	logger     *logger.Logger
	ffmpegPath string
}

// InputKind classifies what ffmpeg reads from
type InputKind string

const (
	InputRTSP   InputKind = "rtsp"
	InputHTTP   InputKind = "http"
	InputDevice InputKind = "device"
	InputFile   InputKind = "file"
)

// CaptureOptions controls the MJPEG pipe ffmpeg produces
type CaptureOptions struct {
	FPS     int
	Width   int
	Height  int
	Quality int  // ffmpeg -q:v scale, 2 (best) to 31
	Loop    bool // restart file inputs at EOF
}

// NewFFmpegWrapper creates a new FFmpeg wrapper. preferredPath is tried first,
// then the usual install locations.
func NewFFmpegWrapper(preferredPath string, log *logger.Logger) (*FFmpegWrapper, error) {
	wrapper := &FFmpegWrapper{logger: log}

	ffmpegPath, err := detectFFmpeg(preferredPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	wrapper.ffmpegPath = ffmpegPath

	version, err := wrapper.GetVersion()
	if err != nil {
		log.Warn("Failed to read ffmpeg version", "error", err)
	}

	log.Info("FFmpeg wrapper initialized", "path", wrapper.ffmpegPath, "version", version)

	return wrapper, nil
}

// detectFFmpeg finds FFmpeg executable
func detectFFmpeg(preferredPath string) (string, error) {
	paths := []string{"ffmpeg", "/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"}
	if preferredPath != "" {
		paths = append([]string{preferredPath}, paths...)
	}

	for _, path := range paths {
		if resolved, err := exec.LookPath(path); err == nil {
			return resolved, nil
		}
	}

	return "", fmt.Errorf("ffmpeg not found in PATH or common locations")
}

// Path returns the resolved ffmpeg executable
func (f *FFmpegWrapper) Path() string {
	return f.ffmpegPath
}

// BuildCommand builds an FFmpeg command bound to ctx
func (f *FFmpegWrapper) BuildCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.ffmpegPath, args...)
}

// GetVersion returns FFmpeg version
func (f *FFmpegWrapper) GetVersion() (string, error) {
	cmd := exec.Command(f.ffmpegPath, "-version")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0]), nil
	}

	return "unknown", nil
}

// ClassifyInput decides how an input string should be opened
func ClassifyInput(input string) InputKind {
	switch {
	case strings.HasPrefix(input, "rtsp://"), strings.HasPrefix(input, "rtsps://"):
		return InputRTSP
	case strings.HasPrefix(input, "http://"), strings.HasPrefix(input, "https://"):
		return InputHTTP
	case strings.HasPrefix(input, "/dev/"):
		return InputDevice
	}
	if info, err := os.Stat(input); err == nil && info.Mode()&os.ModeDevice != 0 {
		return InputDevice
	}
	return InputFile
}

// CaptureArgs builds the arguments for a continuous MJPEG capture to stdout
func CaptureArgs(input string, opts CaptureOptions) []string {
	quality := opts.Quality
	if quality < 2 || quality > 31 {
		quality = 5
	}

	args := []string{"-hide_banner", "-loglevel", "error"}

	switch ClassifyInput(input) {
	case InputRTSP:
		args = append(args, "-rtsp_transport", "tcp", "-i", input)
	case InputHTTP:
		args = append(args, "-i", input)
	case InputDevice:
		args = append(args, "-f", "v4l2")
		if opts.Width > 0 && opts.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", opts.Width, opts.Height))
		}
		if opts.FPS > 0 {
			args = append(args, "-framerate", fmt.Sprintf("%d", opts.FPS))
		}
		args = append(args, "-i", input)
	default:
		// Files are read at native rate so they behave like a live feed
		args = append(args, "-re")
		if opts.Loop {
			args = append(args, "-stream_loop", "-1")
		}
		args = append(args, "-i", input)
	}

	args = append(args, "-f", "image2pipe", "-vcodec", "mjpeg")
	if opts.FPS > 0 {
		args = append(args, "-r", fmt.Sprintf("%d", opts.FPS))
	}
	args = append(args, "-q:v", fmt.Sprintf("%d", quality), "-")

	return args
}
