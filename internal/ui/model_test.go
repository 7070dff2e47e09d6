// ABOUTME: Tests for TUI model and state management
// ABOUTME: Tests status updates, key handling, log pane and rendering
package ui

import (
	"context"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kantera-live/kantera-player/internal/framestore"
	"github.com/kantera-live/kantera-player/pkg/audio"
	"github.com/kantera-live/kantera-player/pkg/kantera"
	"github.com/kantera-live/kantera-player/pkg/protocol"
)

type fakeController struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	scripts     []string
	renders     []string
	volume      int
	muted       bool
	stats       kantera.PlayerStats
	info        audio.StreamInfo
}

func newFakeController() *fakeController {
	return &fakeController{volume: 80, info: audio.DefaultStreamInfo()}
}

func (f *fakeController) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeController) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeController) SendScript(src string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, src)
	return nil
}

func (f *fakeController) RequestRender(file string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders = append(f.renders, file)
	return nil
}

func (f *fakeController) SetVolume(v int)              { f.volume = v }
func (f *fakeController) Volume() int                  { return f.volume }
func (f *fakeController) SetMuted(m bool)              { f.muted = m }
func (f *fakeController) IsMuted() bool                { return f.muted }
func (f *fakeController) StreamInfo() audio.StreamInfo { return f.info }
func (f *fakeController) Stats() kantera.PlayerStats   { return f.stats }
func (f *fakeController) URL() string                  { return "ws://render.local:8080/ws/" }

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m Model, msg tea.KeyMsg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestNewModel(t *testing.T) {
	ctrl := newFakeController()
	model := NewModel(ctrl, nil, Options{})

	if model.url != "ws://render.local:8080/ws/" {
		t.Errorf("expected url from controller, got %q", model.url)
	}
	if model.volume != 80 {
		t.Errorf("expected volume 80 from controller, got %d", model.volume)
	}
	if model.state != protocol.Disconnected {
		t.Errorf("expected disconnected, got %v", model.state)
	}
	if model.showDebug {
		t.Error("expected showDebug to be false initially")
	}
}

func TestNewModelWithoutController(t *testing.T) {
	model := NewModel(nil, nil, Options{URL: "localhost"})
	if model.volume != 100 {
		t.Errorf("expected default volume 100, got %d", model.volume)
	}

	// Keys that need a player do nothing
	model, cmd := press(t, model, runes("c"))
	if cmd != nil {
		t.Error("connect without a controller should not produce a command")
	}
	model, _ = press(t, model, tea.KeyMsg{Type: tea.KeyDown})
	if model.volume != 95 {
		t.Errorf("expected volume 95, got %d", model.volume)
	}
}

func TestStateAndFrameMessages(t *testing.T) {
	model := NewModel(nil, nil, Options{})

	next, _ := model.Update(StateMsg{State: protocol.Open})
	model = next.(Model)
	if model.state != protocol.Open {
		t.Errorf("expected open, got %v", model.state)
	}

	frame := framestore.Frame{Path: "/tmp/latest.png", Format: "png", Width: 640, Height: 360, Size: 2048, Seq: 7}
	next, _ = model.Update(FrameMsg{Frame: frame})
	model = next.(Model)
	if !model.hasFrame || model.frame != frame {
		t.Errorf("expected frame %+v, got %+v", frame, model.frame)
	}
}

func TestTickRefreshesStats(t *testing.T) {
	ctrl := newFakeController()
	model := NewModel(ctrl, nil, Options{})

	ctrl.stats.State = protocol.Open
	ctrl.stats.Buffer.Queued = 3
	ctrl.stats.Demux.LastSync = 42
	ctrl.info = audio.StreamInfo{SampleRate: 8000, ChannelMode: audio.Mono, Framerate: 30}

	next, cmd := model.Update(tickMsg{})
	model = next.(Model)
	if cmd == nil {
		t.Error("tick should schedule the next tick")
	}
	if model.state != protocol.Open || model.stats.Buffer.Queued != 3 || model.stats.Demux.LastSync != 42 {
		t.Errorf("stats not refreshed: %+v", model.stats)
	}
	if model.info.Framerate != 30 {
		t.Errorf("stream info not refreshed: %+v", model.info)
	}
}

func TestVolumeKeys(t *testing.T) {
	ctrl := newFakeController()
	model := NewModel(ctrl, nil, Options{})

	tests := []struct {
		name string
		key  tea.KeyMsg
		want int
	}{
		{"up", tea.KeyMsg{Type: tea.KeyUp}, 85},
		{"up again", tea.KeyMsg{Type: tea.KeyUp}, 90},
		{"down", tea.KeyMsg{Type: tea.KeyDown}, 85},
		{"plus", runes("+"), 90},
		{"minus", runes("-"), 85},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, _ = press(t, model, tt.key)
			if model.volume != tt.want || ctrl.volume != tt.want {
				t.Errorf("expected volume %d, got model %d controller %d", tt.want, model.volume, ctrl.volume)
			}
		})
	}
}

func TestVolumeClamps(t *testing.T) {
	ctrl := newFakeController()
	ctrl.volume = 98
	model := NewModel(ctrl, nil, Options{})

	model, _ = press(t, model, tea.KeyMsg{Type: tea.KeyUp})
	if model.volume != 100 {
		t.Errorf("expected volume clamped to 100, got %d", model.volume)
	}

	model.volume = 3
	model, _ = press(t, model, tea.KeyMsg{Type: tea.KeyDown})
	if model.volume != 0 {
		t.Errorf("expected volume clamped to 0, got %d", model.volume)
	}
}

func TestMuteAndDebugToggle(t *testing.T) {
	ctrl := newFakeController()
	model := NewModel(ctrl, nil, Options{})

	model, _ = press(t, model, runes("m"))
	if !model.muted || !ctrl.muted {
		t.Error("expected mute on")
	}
	model, _ = press(t, model, runes("m"))
	if model.muted || ctrl.muted {
		t.Error("expected mute off")
	}

	model, _ = press(t, model, runes("d"))
	if !model.showDebug {
		t.Error("expected debug on")
	}
}

func TestSessionKeysRunCommands(t *testing.T) {
	ctrl := newFakeController()
	model := NewModel(ctrl, nil, Options{Script: "circle(10)", RenderFile: "out.mp4"})

	for _, k := range []string{"c", "s", "r", "x"} {
		_, cmd := press(t, model, runes(k))
		if cmd == nil {
			t.Fatalf("key %q produced no command", k)
		}
		if res, ok := cmd().(commandResultMsg); !ok || res.err != nil {
			t.Errorf("key %q: unexpected result %+v", k, res)
		}
	}

	if ctrl.connects != 1 || ctrl.disconnects != 1 {
		t.Errorf("expected one connect and one disconnect, got %d and %d", ctrl.connects, ctrl.disconnects)
	}
	if len(ctrl.scripts) != 1 || ctrl.scripts[0] != "circle(10)" {
		t.Errorf("unexpected scripts %v", ctrl.scripts)
	}
	if len(ctrl.renders) != 1 || ctrl.renders[0] != "out.mp4" {
		t.Errorf("unexpected renders %v", ctrl.renders)
	}
}

func TestScriptKeyWithoutScript(t *testing.T) {
	ctrl := newFakeController()
	model := NewModel(ctrl, nil, Options{})

	model, cmd := press(t, model, runes("s"))
	if cmd != nil {
		t.Error("expected no command without a script")
	}
	if len(model.lines) != 1 || !model.lines[0].Error {
		t.Errorf("expected one error line, got %+v", model.lines)
	}
}

func TestQuit(t *testing.T) {
	model := NewModel(nil, nil, Options{})
	_, cmd := press(t, model, runes("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestLogPaneKeepsNewestLines(t *testing.T) {
	sink := NewSink()
	model := NewModel(nil, sink, Options{})

	for i := 0; i < maxLogLines+3; i++ {
		sink.LogLine(strings.Repeat("x", i+1))
	}
	sink.LogError("boom")

	for i := 0; i < maxLogLines+4; i++ {
		msg := waitForLog(model.logs)()
		next, cmd := model.Update(msg)
		model = next.(Model)
		if cmd == nil {
			t.Fatal("log message should re-arm the log pump")
		}
	}

	if len(model.lines) != maxLogLines {
		t.Fatalf("expected %d lines, got %d", maxLogLines, len(model.lines))
	}
	last := model.lines[len(model.lines)-1]
	if last.Text != "boom" || !last.Error {
		t.Errorf("expected error line last, got %+v", last)
	}
}

func TestSinkDropsWhenFull(t *testing.T) {
	sink := NewSink()
	for i := 0; i < sinkBuffer*2; i++ {
		sink.LogLine("line")
	}
	if len(sink.lines) != sinkBuffer {
		t.Errorf("expected %d buffered lines, got %d", sinkBuffer, len(sink.lines))
	}
}

func TestView(t *testing.T) {
	ctrl := newFakeController()
	ctrl.stats.State = protocol.Open
	ctrl.info = audio.StreamInfo{SampleRate: 44100, ChannelMode: audio.Stereo, Framerate: 24}
	model := NewModel(ctrl, nil, Options{})

	if got := model.View(); got != "Loading..." {
		t.Errorf("expected loading view before size is known, got %q", got)
	}

	next, _ := model.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	model = next.(Model)
	next, _ = model.Update(FrameMsg{Frame: framestore.Frame{Format: "png", Width: 320, Height: 240, Size: 1500, Seq: 3}})
	model = next.(Model)

	view := model.View()
	for _, want := range []string{"Kantera Player", "open", "44,100 Hz", "24 fps", "320x240", "ws://render.local:8080/ws/"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestRenderBar(t *testing.T) {
	tests := []struct {
		value int
		want  string
	}{
		{0, "░░░░░░░░░░"},
		{50, "█████░░░░░"},
		{100, "██████████"},
	}
	for _, tt := range tests {
		if got := renderBar(tt.value, 100, 10); got != tt.want {
			t.Errorf("renderBar(%d) = %q, want %q", tt.value, got, tt.want)
		}
	}
}
