// ABOUTME: Offline rendering for "render: " commands
// ABOUTME: Writes the scene's audio to WAV or its last frame to PNG
package devrenderer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/kantera-live/kantera-player/pkg/audio"
)

var (
	errNoScene    = errors.New("render is none: no script loaded")
	errInfinite   = errors.New("video duration must be finite")
	errNoAudio    = errors.New("audio is none")
	errNoVideo    = errors.New("video is none")
	errBadFormat  = errors.New("unsupported render format (want .wav or .png)")
	errEmptyFrame = errors.New("frame size is zero")
)

// export renders scene to dir/name and returns the written path
func export(scene *Scene, dir, name string) (string, error) {
	if scene == nil {
		return "", errNoScene
	}
	if !scene.Finite() {
		return "", errInfinite
	}

	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create render directory: %w", err)
	}
	path := filepath.Join(dir, name)

	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		return path, exportAudio(scene, path)
	case ".png":
		return path, exportFrame(scene, path)
	default:
		return "", errBadFormat
	}
}

func exportAudio(scene *Scene, path string) error {
	src, err := NewSource(scene.Audio)
	if err != nil {
		return err
	}
	if src == nil {
		return errNoAudio
	}
	defer src.Close()

	rate := int64(scene.SampleRate)
	fps := int64(scene.Framerate)
	n := int(scene.EndFrame*rate/fps - scene.StartFrame*rate/fps)

	left := make([]float64, n)
	right := make([]float64, n)
	src.Read(left, right, scene.SampleRate)

	channels := scene.ChannelMode().Count()
	data := make([]int, 0, n*channels)
	for i := 0; i < n; i++ {
		data = append(data, int(audio.FloatToInt16(float32(left[i]))))
		if channels == 2 {
			data = append(data, int(audio.FloatToInt16(float32(right[i]))))
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, scene.SampleRate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: scene.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write WAV: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finish WAV: %w", err)
	}
	return nil
}

func exportFrame(scene *Scene, path string) error {
	if scene.Video == "none" {
		return errNoVideo
	}
	if scene.Width == 0 || scene.Height == 0 {
		return errEmptyFrame
	}

	data, err := encodeFrame(scene.Width, scene.Height, scene.EndFrame-1, scene.Framerate)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
