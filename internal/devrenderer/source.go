// ABOUTME: Audio sources for the development renderer
// ABOUTME: Generates test tones or loops decoded WAV and MP3 files
package devrenderer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

const defaultToneHz = 440.0

// Source produces audio at whatever rate the scene asks for
type Source interface {
	// Read fills left and right with the next len(left) samples at rate Hz
	Read(left, right []float64, rate int)
	Close() error
}

// NewSource opens the source named by an audio spec; nil for "none"
func NewSource(spec string) (Source, error) {
	kind, arg, _ := strings.Cut(spec, ":")
	switch kind {
	case "none":
		return nil, nil
	case "tone":
		hz := defaultToneHz
		if arg != "" {
			f, err := strconv.ParseFloat(arg, 64)
			if err != nil || f <= 0 {
				return nil, fmt.Errorf("invalid tone frequency %q", arg)
			}
			hz = f
		}
		return NewToneSource(hz), nil
	case "wav":
		return LoadWAV(arg)
	case "mp3":
		return LoadMP3(arg)
	default:
		return nil, fmt.Errorf("unknown audio source %q", spec)
	}
}

// ToneSource generates a sine wave at half amplitude
type ToneSource struct {
	frequency float64
	phase     float64
}

// NewToneSource creates a tone generator
func NewToneSource(frequency float64) *ToneSource {
	return &ToneSource{frequency: frequency}
}

func (s *ToneSource) Read(left, right []float64, rate int) {
	step := 2 * math.Pi * s.frequency / float64(rate)
	for i := range left {
		v := 0.5 * math.Sin(s.phase)
		left[i] = v
		right[i] = v
		s.phase = math.Mod(s.phase+step, 2*math.Pi)
	}
}

func (s *ToneSource) Close() error { return nil }

// ClipSource loops decoded audio, resampled by nearest neighbour
type ClipSource struct {
	left, right []float64
	rate        int
	pos         float64
}

// NewClipSource wraps decoded samples; right may be nil for mono
func NewClipSource(left, right []float64, rate int) (*ClipSource, error) {
	if len(left) == 0 {
		return nil, errors.New("audio clip is empty")
	}
	if rate <= 0 {
		return nil, fmt.Errorf("invalid clip sample rate %d", rate)
	}
	if right == nil {
		right = left
	}
	return &ClipSource{left: left, right: right, rate: rate}, nil
}

// Len returns the clip length in samples per channel
func (s *ClipSource) Len() int { return len(s.left) }

// SampleRate returns the clip's native rate
func (s *ClipSource) SampleRate() int { return s.rate }

func (s *ClipSource) Read(left, right []float64, rate int) {
	step := float64(s.rate) / float64(rate)
	n := float64(len(s.left))
	for i := range left {
		j := int(s.pos)
		left[i] = s.left[j]
		right[i] = s.right[j]
		s.pos = math.Mod(s.pos+step, n)
	}
}

func (s *ClipSource) Close() error { return nil }

// LoadWAV decodes a PCM WAV file into a looping source
func LoadWAV(path string) (*ClipSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid WAV file", path)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode WAV: %w", err)
	}

	channels := buf.Format.NumChannels
	if d.BitDepth == 0 || d.BitDepth > 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", d.BitDepth)
	}
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	scale := float64(int64(1) << (d.BitDepth - 1))

	frames := len(buf.Data) / channels
	left := make([]float64, frames)
	var right []float64
	if channels > 1 {
		right = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		left[i] = float64(buf.Data[i*channels]) / scale
		if right != nil {
			right[i] = float64(buf.Data[i*channels+1]) / scale
		}
	}

	log.Info("Loaded WAV", "path", path, "rate", buf.Format.SampleRate, "channels", channels, "bits", d.BitDepth)
	return NewClipSource(left, right, buf.Format.SampleRate)
}

// LoadMP3 decodes an MP3 file into a looping source
func LoadMP3(path string) (*ClipSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	// go-mp3 always yields 16-bit little-endian stereo
	data, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	frames := len(data) / 4
	left := make([]float64, frames)
	right := make([]float64, frames)
	for i := 0; i < frames; i++ {
		left[i] = float64(int16(binary.LittleEndian.Uint16(data[i*4:]))) / 32768
		right[i] = float64(int16(binary.LittleEndian.Uint16(data[i*4+2:]))) / 32768
	}

	log.Info("Loaded MP3", "path", path, "rate", decoder.SampleRate())
	return NewClipSource(left, right, decoder.SampleRate())
}
