// ABOUTME: Tests for the latest-frame store
// ABOUTME: Tests format detection, atomic replacement and rejection of bad data
package framestore

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "frames"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func TestNewCreatesDirectory(t *testing.T) {
	s := newTestStore(t)
	if _, err := os.Stat(s.Dir()); err != nil {
		t.Fatalf("frame directory was not created: %v", err)
	}
	if _, ok := s.Current(); ok {
		t.Error("expected no current frame")
	}
}

func TestDisplayFrameStoresImage(t *testing.T) {
	s := newTestStore(t)
	data := encodePNG(t, 32, 18)

	var notified []Frame
	s.OnFrame = func(f Frame) { notified = append(notified, f) }

	if err := s.DisplayFrame(data); err != nil {
		t.Fatalf("DisplayFrame failed: %v", err)
	}

	frame, ok := s.Current()
	if !ok {
		t.Fatal("expected a current frame")
	}
	if frame.Format != "png" || frame.Width != 32 || frame.Height != 18 {
		t.Errorf("unexpected frame %+v", frame)
	}
	if frame.Size != len(data) || frame.Seq != 1 {
		t.Errorf("expected size %d seq 1, got %+v", len(data), frame)
	}

	got, err := os.ReadFile(frame.Path)
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("stored frame differs from input")
	}

	if len(notified) != 1 || notified[0] != frame {
		t.Errorf("expected one notification with %+v, got %+v", frame, notified)
	}
}

func TestDisplayFrameReplacesPrevious(t *testing.T) {
	s := newTestStore(t)

	if err := s.DisplayFrame(encodePNG(t, 4, 4)); err != nil {
		t.Fatalf("DisplayFrame failed: %v", err)
	}
	second := encodePNG(t, 8, 2)
	if err := s.DisplayFrame(second); err != nil {
		t.Fatalf("DisplayFrame failed: %v", err)
	}

	frame, _ := s.Current()
	if frame.Seq != 2 || frame.Width != 8 {
		t.Errorf("expected second frame, got %+v", frame)
	}

	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("failed to list directory: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly one file, got %d", len(entries))
	}
}

func TestFormatChangeRemovesOldFile(t *testing.T) {
	s := newTestStore(t)

	if err := s.DisplayFrame(encodePNG(t, 4, 4)); err != nil {
		t.Fatalf("DisplayFrame failed: %v", err)
	}
	first, _ := s.Current()

	if err := s.DisplayFrame(encodeJPEG(t, 4, 4)); err != nil {
		t.Fatalf("DisplayFrame failed: %v", err)
	}
	second, _ := s.Current()

	if second.Format != "jpeg" {
		t.Errorf("expected jpeg, got %s", second.Format)
	}
	if _, err := os.Stat(first.Path); !os.IsNotExist(err) {
		t.Errorf("expected %s to be removed", first.Path)
	}
}

func TestDisplayFrameRejectsGarbage(t *testing.T) {
	s := newTestStore(t)
	if err := s.DisplayFrame(encodePNG(t, 2, 2)); err != nil {
		t.Fatalf("DisplayFrame failed: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("not an image")},
		{"truncated png", encodePNG(t, 2, 2)[:10]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.DisplayFrame(tt.data); err == nil {
				t.Error("expected error")
			}
			frame, _ := s.Current()
			if frame.Seq != 1 {
				t.Errorf("previous frame should be kept, got %+v", frame)
			}
		})
	}

	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 1 {
		t.Errorf("rejected frames left %d files behind", len(entries))
	}
}

func TestCleanup(t *testing.T) {
	s := newTestStore(t)
	if err := s.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if _, err := os.Stat(s.Dir()); !os.IsNotExist(err) {
		t.Error("expected directory to be removed")
	}
}
