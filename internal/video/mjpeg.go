package video

import (
	"bytes"
	"fmt"
	"io"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// maxPendingBytes bounds the splitter buffer when the stream never closes a frame.
const maxPendingBytes = 16 << 20

// MJPEGReader splits a concatenated stream of JPEG images, as written by
// ffmpeg's image2pipe muxer, into individual frames.
type MJPEGReader struct {
	r     io.Reader
	buf   []byte
	chunk []byte
}

// NewMJPEGReader wraps r
func NewMJPEGReader(r io.Reader) *MJPEGReader {
	return &MJPEGReader{
		r:     r,
		buf:   make([]byte, 0, 1<<20),
		chunk: make([]byte, 32<<10),
	}
}

// ReadFrame returns the next complete JPEG image. It returns io.EOF once the
// underlying reader is drained; a trailing partial image is discarded.
func (m *MJPEGReader) ReadFrame() ([]byte, error) {
	for {
		if frame := extractJPEGFrame(&m.buf); frame != nil {
			return frame, nil
		}
		if len(m.buf) > maxPendingBytes {
			return nil, fmt.Errorf("mjpeg frame exceeds %d bytes", maxPendingBytes)
		}

		n, err := m.r.Read(m.chunk)
		if n > 0 {
			m.buf = append(m.buf, m.chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

// extractJPEGFrame removes and returns the first complete SOI..EOI image in
// buffer. Bytes before the first SOI are discarded.
func extractJPEGFrame(buffer *[]byte) []byte {
	start := bytes.Index(*buffer, jpegSOI)
	if start == -1 {
		// Keep a trailing 0xFF, it may be the first half of a marker
		if n := len(*buffer); n > 0 && (*buffer)[n-1] == 0xFF {
			*buffer = append((*buffer)[:0], 0xFF)
		} else {
			*buffer = (*buffer)[:0]
		}
		return nil
	}
	if start > 0 {
		*buffer = append((*buffer)[:0], (*buffer)[start:]...)
	}

	end := bytes.Index((*buffer)[len(jpegSOI):], jpegEOI)
	if end == -1 {
		return nil
	}
	end += len(jpegSOI) + len(jpegEOI)

	frame := make([]byte, end)
	copy(frame, (*buffer)[:end])
	*buffer = append((*buffer)[:0], (*buffer)[end:]...)

	return frame
}
