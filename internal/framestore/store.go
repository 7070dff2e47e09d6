// ABOUTME: File-backed store for the latest video frame from the renderer
// ABOUTME: Validates encoded images and atomically replaces the file on disk
package framestore

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
)

// Frame describes the most recently stored frame
type Frame struct {
	Path   string
	Format string
	Width  int
	Height int
	Size   int
	Seq    int64
}

// Store keeps the latest frame in a directory
type Store struct {
	dir    string
	logger *log.Logger

	// OnFrame is called after each frame is written, if set
	OnFrame func(Frame)

	mu      sync.Mutex
	current Frame
	seq     int64
}

// New creates a store in dir. An empty dir selects a directory under the
// system temp dir.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "kantera-frames")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}

	return &Store{
		dir:    dir,
		logger: log.Default().WithPrefix("frames"),
	}, nil
}

// Dir returns the directory frames are written to
func (s *Store) Dir() string {
	return s.dir
}

// DisplayFrame stores an encoded image as the latest frame. Data that is
// not a PNG, JPEG or GIF image is rejected and the previous frame kept.
func (s *Store) DisplayFrame(data []byte) error {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".frame-*")
	if err != nil {
		return fmt.Errorf("failed to create frame file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write frame: %w", err)
	}

	s.mu.Lock()
	path := filepath.Join(s.dir, "latest."+format)
	if err := os.Rename(tmpPath, path); err != nil {
		s.mu.Unlock()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace frame: %w", err)
	}

	prev := s.current
	// A format change leaves the old file behind under another extension
	if prev.Path != "" && prev.Path != path {
		os.Remove(prev.Path)
	}

	s.seq++
	frame := Frame{
		Path:   path,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
		Size:   len(data),
		Seq:    s.seq,
	}
	s.current = frame
	s.mu.Unlock()

	if prev.Format != frame.Format || prev.Width != frame.Width || prev.Height != frame.Height {
		s.logger.Info("Frame format", "path", path, "format", format, "width", cfg.Width, "height", cfg.Height)
	}

	if s.OnFrame != nil {
		s.OnFrame(frame)
	}
	return nil
}

// Current returns the latest frame and whether one has been stored
func (s *Store) Current() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.seq > 0
}

// Cleanup removes the frame directory
func (s *Store) Cleanup() error {
	return os.RemoveAll(s.dir)
}
