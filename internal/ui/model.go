// ABOUTME: Bubbletea model for the player TUI
// ABOUTME: Defines application state, key handling and rendering
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/kantera-live/kantera-player/internal/framestore"
	"github.com/kantera-live/kantera-player/pkg/audio"
	"github.com/kantera-live/kantera-player/pkg/kantera"
	"github.com/kantera-live/kantera-player/pkg/protocol"
)

const (
	maxLogLines  = 8
	volumeStep   = 5
	statsRefresh = 250 * time.Millisecond
)

// Controller is the player surface the TUI drives
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect()
	SendScript(src string) error
	RequestRender(file string) error
	SetVolume(volume int)
	Volume() int
	SetMuted(muted bool)
	IsMuted() bool
	StreamInfo() audio.StreamInfo
	Stats() kantera.PlayerStats
	URL() string
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#1C8760", Dark: "#89F0CB"})
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#656565", Dark: "#7D7D7D"}).
			Width(8)
	openStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	busyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	downStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#949494", Dark: "#5A5A5A"})
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#1C8760", Dark: "#1C8760"}).
			Padding(0, 1)
)

// Model represents the TUI state
type Model struct {
	ctrl Controller
	logs <-chan LogMsg

	// Commands bound to s and r
	script     string
	renderFile string

	// Session
	url   string
	state protocol.State

	// Stream
	info audio.StreamInfo

	// Latest frame
	frame    framestore.Frame
	hasFrame bool

	// Playback
	volume int
	muted  bool

	stats kantera.PlayerStats
	lines []LogMsg

	showDebug bool

	// Dimensions
	width  int
	height int
}

// StateMsg reports a session transition
type StateMsg struct {
	State protocol.State
}

// FrameMsg reports a newly stored frame
type FrameMsg struct {
	Frame framestore.Frame
}

// LogMsg is one line for the log pane
type LogMsg struct {
	Text  string
	Error bool
	Time  time.Time
}

type tickMsg time.Time

type commandResultMsg struct {
	action string
	err    error
}

// Init starts the stats refresh and the log pump
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), waitForLog(m.logs))
}

func tick() tea.Cmd {
	return tea.Tick(statsRefresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForLog(logs <-chan LogMsg) tea.Cmd {
	if logs == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-logs
		if !ok {
			return nil
		}
		return msg
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StateMsg:
		m.state = msg.State
	case FrameMsg:
		m.frame = msg.Frame
		m.hasFrame = true
	case LogMsg:
		m.appendLine(msg)
		return m, waitForLog(m.logs)
	case commandResultMsg:
		// Failures reach the log pane through the player's LogSink
		if msg.err != nil && m.showDebug {
			m.appendLine(LogMsg{Text: fmt.Sprintf("%s: %v", msg.action, msg.err), Error: true, Time: time.Now()})
		}
	case tickMsg:
		m.refresh()
		return m, tick()
	}

	return m, nil
}

func (m *Model) refresh() {
	if m.ctrl == nil {
		return
	}
	m.stats = m.ctrl.Stats()
	m.state = m.stats.State
	m.info = m.ctrl.StreamInfo()
	m.volume = m.ctrl.Volume()
	m.muted = m.ctrl.IsMuted()
}

func (m *Model) appendLine(line LogMsg) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	sections := []string{
		titleStyle.Render("Kantera Player"),
		m.renderSession(),
		m.renderStream(),
		m.renderControls(),
		m.renderStats(),
	}
	if m.showDebug {
		sections = append(sections, m.renderDebug())
	}
	sections = append(sections, m.renderLogs(), m.renderHelp())

	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func (m Model) renderSession() string {
	var status string
	switch m.state {
	case protocol.Open:
		status = openStyle.Render("● open")
	case protocol.Connecting, protocol.Closing:
		status = busyStyle.Render("◌ " + m.state.String())
	default:
		status = downStyle.Render("○ disconnected")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		row("Status", status),
		row("Server", m.url),
	)
}

func (m Model) renderStream() string {
	format := fmt.Sprintf("%s Hz %s", humanize.Comma(int64(m.info.SampleRate)), m.info.ChannelMode)
	if m.info.Framerate > 0 {
		format += fmt.Sprintf(", %d fps", m.info.Framerate)
	}

	frame := "none"
	if m.hasFrame {
		frame = fmt.Sprintf("#%d %s %dx%d (%s)",
			m.frame.Seq, m.frame.Format, m.frame.Width, m.frame.Height, humanize.Bytes(uint64(m.frame.Size)))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		row("Audio", format),
		row("Frame", frame),
		row("Sync", fmt.Sprintf("frame %d", m.stats.Demux.LastSync)),
	)
}

func (m Model) renderControls() string {
	vol := fmt.Sprintf("[%s] %d%%", renderBar(m.volume, 100, 10), m.volume)
	if m.muted {
		vol += " muted"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		row("Volume", vol),
		row("Buffer", fmt.Sprintf("%d/4 chunks", m.stats.Buffer.Queued)),
	)
}

func (m Model) renderStats() string {
	b := m.stats.Buffer
	d := m.stats.Demux
	return row("Stats", fmt.Sprintf("RX: %s  Frames: %s  Evicted: %s  Underruns: %s",
		humanize.Comma(d.Messages), humanize.Comma(d.Frames),
		humanize.Comma(b.Evicted), humanize.Comma(b.Underruns)))
}

func (m Model) renderDebug() string {
	b := m.stats.Buffer
	d := m.stats.Demux
	return lipgloss.JoinVertical(lipgloss.Left,
		row("Audio", fmt.Sprintf("pushed %d consumed %d contended %d", b.Pushed, b.Consumed, b.Contended)),
		row("Demux", fmt.Sprintf("unexpected %d parse %d order %d frame-err %d",
			d.Unexpected, d.ParseErrors, d.OutOfOrder, d.FrameErrors)),
	)
}

func (m Model) renderLogs() string {
	if len(m.lines) == 0 {
		return helpStyle.Render("(no renderer output)")
	}

	width := m.width - 6
	out := make([]string, 0, len(m.lines))
	for _, l := range m.lines {
		text := truncate(l.Text, width)
		if l.Error {
			text = errorStyle.Render(text)
		}
		out = append(out, text)
	}
	return strings.Join(out, "\n")
}

func (m Model) renderHelp() string {
	return helpStyle.Render("c:Connect  x:Disconnect  s:Script  r:Render  ↑/↓:Volume  m:Mute  d:Debug  q:Quit")
}

var keys = struct {
	Quit, Connect, Disconnect, Script, Render, Up, Down, Mute, Debug key.Binding
}{
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c")),
	Connect:    key.NewBinding(key.WithKeys("c")),
	Disconnect: key.NewBinding(key.WithKeys("x")),
	Script:     key.NewBinding(key.WithKeys("s")),
	Render:     key.NewBinding(key.WithKeys("r")),
	Up:         key.NewBinding(key.WithKeys("up", "+")),
	Down:       key.NewBinding(key.WithKeys("down", "-")),
	Mute:       key.NewBinding(key.WithKeys("m")),
	Debug:      key.NewBinding(key.WithKeys("d")),
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Connect):
		return m, m.run("connect", func(c Controller) error {
			return c.Connect(context.Background())
		})
	case key.Matches(msg, keys.Disconnect):
		return m, m.run("disconnect", func(c Controller) error {
			c.Disconnect()
			return nil
		})
	case key.Matches(msg, keys.Script):
		if m.script == "" {
			m.appendLine(LogMsg{Text: "no script configured", Error: true, Time: time.Now()})
			return m, nil
		}
		src := m.script
		return m, m.run("script", func(c Controller) error { return c.SendScript(src) })
	case key.Matches(msg, keys.Render):
		file := m.renderFile
		return m, m.run("render", func(c Controller) error { return c.RequestRender(file) })
	case key.Matches(msg, keys.Up):
		m.setVolume(m.volume + volumeStep)
	case key.Matches(msg, keys.Down):
		m.setVolume(m.volume - volumeStep)
	case key.Matches(msg, keys.Mute):
		m.muted = !m.muted
		if m.ctrl != nil {
			m.ctrl.SetMuted(m.muted)
		}
	case key.Matches(msg, keys.Debug):
		m.showDebug = !m.showDebug
	}

	return m, nil
}

func (m *Model) setVolume(v int) {
	m.volume = max(0, min(100, v))
	if m.ctrl != nil {
		m.ctrl.SetVolume(m.volume)
	}
}

// run executes a blocking player call off the update loop
func (m Model) run(action string, fn func(Controller) error) tea.Cmd {
	if m.ctrl == nil {
		return nil
	}
	ctrl := m.ctrl
	return func() tea.Msg {
		return commandResultMsg{action: action, err: fn(ctrl)}
	}
}

// Utility functions
func renderBar(value, max, width int) string {
	filled := (value * width) / max
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if length < 4 || len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
