package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"math"
	"strings"
	"testing"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func writeMessage(dst *MockCloser, payload []byte) {
	binary.Write(dst, binary.BigEndian, uint32(len(payload)))
	dst.Write(payload)
}

func newMockDetector(cfg Config) (*PythonDetector, *MockCloser, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	w := &PythonDetector{
		cfg:      cfg,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}
	return w, stdinMock, dataPipeMock
}

func TestDetectSingleFace(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockDetector(Config{})

	// Protocol: [Status:0] [Found:1] [x y w h score]
	payload := new(bytes.Buffer)
	payload.WriteByte(0)
	payload.WriteByte(1)
	binary.Write(payload, binary.BigEndian, [5]float32{10, 20, 30, 40, 0.93})
	writeMessage(dataPipeMock, payload.Bytes())

	frame := image.NewRGBA(image.Rect(0, 0, 4, 2))
	det, err := w.DetectSingleFace(context.Background(), frame)
	if err != nil {
		t.Fatalf("DetectSingleFace failed: %v", err)
	}
	if det == nil {
		t.Fatal("Expected a detection")
	}

	// Verify Go sent the correct data TO Python: header + w + h + pixels
	sent := stdinMock.Bytes()
	if want := 4 + 8 + 4*2*4; len(sent) != want {
		t.Errorf("Expected %d bytes sent, got %d", want, len(sent))
	}
	if binary.BigEndian.Uint32(sent[4:8]) != 4 || binary.BigEndian.Uint32(sent[8:12]) != 2 {
		t.Errorf("Unexpected dimensions header % x", sent[4:12])
	}

	if det.Box.X != 10 || det.Box.Y != 20 || det.Box.Width != 30 || det.Box.Height != 40 {
		t.Errorf("Unexpected box %+v", det.Box)
	}
	if math.Abs(det.Score-0.93) > 1e-6 {
		t.Errorf("Expected score ~0.93, got %f", det.Score)
	}
	if det.SourceWidth != 4 || det.SourceHeight != 2 {
		t.Errorf("Expected source size 4x2, got %dx%d", det.SourceWidth, det.SourceHeight)
	}
}

func TestDetectSingleFace_NoFace(t *testing.T) {
	w, _, dataPipeMock := newMockDetector(Config{})
	writeMessage(dataPipeMock, []byte{0, 0})

	det, err := w.DetectSingleFace(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2)))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if det != nil {
		t.Errorf("Expected no detection, got %+v", det)
	}
}

func TestDetectSingleFace_Error(t *testing.T) {
	w, _, dataPipeMock := newMockDetector(Config{})

	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(1)
	errMsg := "Python Exception: Import Error"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)
	writeMessage(dataPipeMock, payload.Bytes())

	_, err := w.DetectSingleFace(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2)))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestDetectSingleFace_OversizedReply(t *testing.T) {
	w, _, dataPipeMock := newMockDetector(Config{})

	// Only the header is sent; the body must never be allocated
	binary.Write(dataPipeMock, binary.BigEndian, uint32(math.MaxUint32))

	_, err := w.DetectSingleFace(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2)))
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("Expected oversized reply error, got %v", err)
	}
}

func TestDetectSingleFace_Downscaled(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockDetector(Config{InputWidth: 8})
	writeMessage(dataPipeMock, []byte{0, 0})

	if _, err := w.DetectSingleFace(context.Background(), image.NewRGBA(image.Rect(0, 0, 32, 16))); err != nil {
		t.Fatal(err)
	}
	sent := stdinMock.Bytes()
	if binary.BigEndian.Uint32(sent[4:8]) != 8 || binary.BigEndian.Uint32(sent[8:12]) != 4 {
		t.Errorf("Expected 8x4 frame, header % x", sent[4:12])
	}
	if want := 4 + 8 + 8*4*4; len(sent) != want {
		t.Errorf("Expected %d bytes sent, got %d", want, len(sent))
	}
}

func TestAwaitReady(t *testing.T) {
	w, _, dataPipeMock := newMockDetector(Config{})
	writeMessage(dataPipeMock, []byte{0, 'r'})
	if err := w.awaitReady(); err != nil {
		t.Fatalf("Expected ready handshake, got %v", err)
	}

	w, _, dataPipeMock = newMockDetector(Config{})
	msg := "model download failed"
	payload := new(bytes.Buffer)
	payload.WriteByte(1)
	binary.Write(payload, binary.BigEndian, uint32(len(msg)))
	payload.WriteString(msg)
	writeMessage(dataPipeMock, payload.Bytes())
	if err := w.awaitReady(); err == nil {
		t.Fatal("Expected handshake error")
	}
}

func TestLoadWithoutCommand(t *testing.T) {
	if err := NewPythonDetector(Config{}).Load(context.Background()); err == nil {
		t.Fatal("Expected error without a command")
	}
}

func TestPackedPixelsSubImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}
	sub := img.SubImage(image.Rect(1, 1, 3, 3)).(*image.RGBA)
	got := packedPixels(sub)
	if len(got) != 2*2*4 {
		t.Fatalf("Expected 16 bytes, got %d", len(got))
	}
	if got[0] != img.Pix[img.PixOffset(1, 1)] {
		t.Errorf("Sub-image rows not honoured")
	}
}
