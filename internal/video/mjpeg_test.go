package video

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"
)

func TestExtractJPEGFrame(t *testing.T) {
	buf := []byte{0x00, 0x01, 0xFF, 0xD8, 0xAA, 0xBB, 0xFF, 0xD9, 0xFF, 0xD8, 0xCC}

	frame := extractJPEGFrame(&buf)
	if !bytes.Equal(frame, []byte{0xFF, 0xD8, 0xAA, 0xBB, 0xFF, 0xD9}) {
		t.Fatalf("Unexpected frame: %x", frame)
	}
	if !bytes.Equal(buf, []byte{0xFF, 0xD8, 0xCC}) {
		t.Fatalf("Remaining buffer should hold the partial frame, got %x", buf)
	}

	if frame := extractJPEGFrame(&buf); frame != nil {
		t.Fatalf("Partial frame must not be returned, got %x", frame)
	}
}

func TestExtractJPEGFrame_DiscardsGarbage(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0xFF}
	if frame := extractJPEGFrame(&buf); frame != nil {
		t.Fatal("No frame expected")
	}
	if !bytes.Equal(buf, []byte{0xFF}) {
		t.Fatalf("Expected only the trailing marker byte to remain, got %x", buf)
	}
}

func TestMJPEGReader_SplitsStream(t *testing.T) {
	a := encodeTestJPEG(t, 16, 16, 10)
	b := encodeTestJPEG(t, 16, 16, 200)
	stream := append(append([]byte{}, a...), b...)

	// One byte per Read exercises markers split across chunks
	reader := NewMJPEGReader(iotest.OneByteReader(bytes.NewReader(stream)))

	first, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(first, a) {
		t.Error("First frame differs from input")
	}

	second, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(second, b) {
		t.Error("Second frame differs from input")
	}

	if _, err := reader.ReadFrame(); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}
