package video

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/syukriyansyah-ipb/object-detection/internal/logger"
)

// FFmpegSource reads a live MJPEG pipe from an ffmpeg child process.
//
// A reader goroutine drains the pipe continuously and keeps only the newest
// frame, so a slow consumer sees the current picture rather than a backlog.
type FFmpegSource struct {
	logger *logger.Logger
	input  string
	kind   InputKind

	cmd    *exec.Cmd
	cancel context.CancelFunc

	mu     sync.Mutex
	latest []byte
	ts     time.Time
	seq    uint64
	err    error
	closed bool
	ready  chan struct{} // signalled when latest is replaced
	done   chan struct{} // closed when the reader stops

	closeOnce sync.Once
}

// OpenFFmpegSource starts ffmpeg for input and returns once the process is
// running. Failure to start is reported as ErrSourceUnavailable.
func OpenFFmpegSource(ctx context.Context, ffmpeg *FFmpegWrapper, input string, opts CaptureOptions, log *logger.Logger) (*FFmpegSource, error) {
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := ffmpeg.BuildCommand(procCtx, CaptureArgs(input, opts))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSourceUnavailable, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrSourceUnavailable, err)
	}

	if err := ctx.Err(); err != nil {
		cancel()
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrSourceUnavailable, err)
	}

	s := &FFmpegSource{
		logger: log,
		input:  input,
		kind:   ClassifyInput(input),
		cmd:    cmd,
		cancel: cancel,
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	go s.drainStderr(stderr)
	go s.readLoop(stdout)

	log.Info("FFmpeg capture started", "input", input, "kind", s.kind, "pid", cmd.Process.Pid)

	return s, nil
}

func (s *FFmpegSource) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.logger.Debug("ffmpeg", "input", s.input, "line", scanner.Text())
	}
}

func (s *FFmpegSource) readLoop(stdout io.Reader) {
	defer close(s.done)

	reader := NewMJPEGReader(stdout)
	for {
		data, err := reader.ReadFrame()
		if err != nil {
			waitErr := s.cmd.Wait()
			s.mu.Lock()
			if s.closed {
				s.err = ErrSourceClosed
			} else {
				s.err = s.classifyExit(err, waitErr)
			}
			s.mu.Unlock()
			return
		}

		s.mu.Lock()
		s.latest = data
		s.ts = time.Now()
		s.mu.Unlock()

		select {
		case s.ready <- struct{}{}:
		default:
		}
	}
}

// classifyExit maps the end of the pipe to a source error. A finite file that
// ends cleanly is closed; anything else is a device failure.
func (s *FFmpegSource) classifyExit(readErr, waitErr error) error {
	if errors.Is(readErr, io.EOF) && waitErr == nil && s.kind == InputFile {
		return ErrSourceClosed
	}
	if waitErr != nil {
		return fmt.Errorf("%w: ffmpeg exited: %v", ErrSourceUnavailable, waitErr)
	}
	return fmt.Errorf("%w: %v", ErrSourceUnavailable, readErr)
}

// Next returns the newest frame captured since the previous call
func (s *FFmpegSource) Next(ctx context.Context) (Frame, error) {
	for {
		s.mu.Lock()
		if s.latest != nil {
			data, ts := s.latest, s.ts
			s.latest = nil
			s.seq++
			seq := s.seq
			s.mu.Unlock()
			return newFrame(data, ts, seq), nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-s.ready:
		case <-s.done:
			s.mu.Lock()
			pending, err := s.latest != nil, s.err
			s.mu.Unlock()
			if pending {
				continue
			}
			if err == nil {
				err = ErrSourceClosed
			}
			return Frame{}, err
		}
	}
}

// Close stops ffmpeg and waits for the reader to finish
func (s *FFmpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		<-s.done
		s.logger.Info("FFmpeg capture stopped", "input", s.input)
	})
	return nil
}
