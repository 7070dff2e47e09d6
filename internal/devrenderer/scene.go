// ABOUTME: Scene settings evaluated from "script: " commands
// ABOUTME: Scripts are object literals; values are clamped to what the renderer supports
package devrenderer

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kantera-live/kantera-player/pkg/audio"
	"github.com/kantera-live/kantera-player/pkg/protocol"
)

const (
	DefaultFramerate  = 30
	DefaultSampleRate = 16000
	DefaultWidth      = 600
	DefaultHeight     = 400

	minFramerate  = 1
	maxFramerate  = 120
	minSampleRate = 4000
	maxSampleRate = 48000
	maxDimension  = 1920
)

// Scene is what a session renders
type Scene struct {
	Framerate  int
	SampleRate int
	Width      int
	Height     int
	StartFrame int64
	EndFrame   int64 // 0 renders forever
	Loop       bool
	Video      string // "bars" or "none"
	Audio      string // "none", "tone[:hz]", "wav:<path>" or "mp3:<path>"
	Channels   int
}

// DefaultScene is the starting point for every script
func DefaultScene() Scene {
	return Scene{
		Framerate:  DefaultFramerate,
		SampleRate: DefaultSampleRate,
		Width:      DefaultWidth,
		Height:     DefaultHeight,
		Video:      "bars",
		Audio:      "tone",
		Channels:   2,
	}
}

// ChannelMode is the mode announced in streamInfo
func (s Scene) ChannelMode() audio.ChannelMode {
	if s.Audio == "none" {
		return audio.Silent
	}
	if s.Channels == 1 {
		return audio.Mono
	}
	return audio.Stereo
}

// Finite reports whether the scene has an end
func (s Scene) Finite() bool {
	return s.EndFrame > 0
}

// ParseScene evaluates a script such as
//
//	{framerate: 24, samplerate: 8000, frame_size: [320, 240], audio: 'tone:220', end_frame: 48, loop: true}
//
// Settings that are not named keep their defaults.
func ParseScene(src string) (Scene, error) {
	v, err := protocol.ParseLiteral(src)
	if err != nil {
		return Scene{}, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return Scene{}, errors.New("script must be an object literal")
	}

	s := DefaultScene()
	for key, val := range obj {
		switch key {
		case "framerate":
			n, err := intSetting(key, val)
			if err != nil {
				return Scene{}, err
			}
			s.Framerate = clamp(n, minFramerate, maxFramerate)
		case "samplerate":
			n, err := intSetting(key, val)
			if err != nil {
				return Scene{}, err
			}
			s.SampleRate = clamp(n, minSampleRate, maxSampleRate)
		case "frame_size":
			arr, ok := val.([]any)
			if !ok || len(arr) != 2 {
				return Scene{}, fmt.Errorf("%s must be [width, height]", key)
			}
			w, err := intSetting(key, arr[0])
			if err != nil {
				return Scene{}, err
			}
			h, err := intSetting(key, arr[1])
			if err != nil {
				return Scene{}, err
			}
			s.Width = clamp(w, 0, maxDimension)
			s.Height = clamp(h, 0, maxDimension)
		case "start_frame":
			n, err := intSetting(key, val)
			if err != nil {
				return Scene{}, err
			}
			s.StartFrame = int64(max(n, 0))
		case "end_frame":
			if val == false || val == nil {
				s.EndFrame = 0
				continue
			}
			n, err := intSetting(key, val)
			if err != nil {
				return Scene{}, err
			}
			s.EndFrame = int64(max(n, 1))
		case "loop":
			b, ok := val.(bool)
			if !ok {
				return Scene{}, fmt.Errorf("%s must be a boolean", key)
			}
			s.Loop = b
		case "video":
			str, ok := val.(string)
			if !ok || (str != "bars" && str != "none") {
				return Scene{}, fmt.Errorf("%s must be 'bars' or 'none'", key)
			}
			s.Video = str
		case "audio":
			str, ok := val.(string)
			if !ok {
				return Scene{}, fmt.Errorf("%s must be a string", key)
			}
			if err := validateAudio(str); err != nil {
				return Scene{}, err
			}
			s.Audio = str
		case "channels":
			n, err := intSetting(key, val)
			if err != nil {
				return Scene{}, err
			}
			if n != 1 && n != 2 {
				return Scene{}, fmt.Errorf("%s must be 1 or 2", key)
			}
			s.Channels = n
		default:
			return Scene{}, fmt.Errorf("unknown setting %q", key)
		}
	}

	if s.EndFrame > 0 && s.EndFrame <= s.StartFrame {
		return Scene{}, fmt.Errorf("end_frame %d must be after start_frame %d", s.EndFrame, s.StartFrame)
	}
	return s, nil
}

func validateAudio(spec string) error {
	kind, arg, _ := strings.Cut(spec, ":")
	switch kind {
	case "none":
		return nil
	case "tone":
		if arg == "" {
			return nil
		}
		if hz, err := strconv.ParseFloat(arg, 64); err != nil || hz <= 0 {
			return fmt.Errorf("invalid tone frequency %q", arg)
		}
		return nil
	case "wav", "mp3":
		if arg == "" {
			return fmt.Errorf("%s audio needs a file path", kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown audio source %q", spec)
	}
}

func intSetting(key string, v any) (int, error) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return int(f), nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
