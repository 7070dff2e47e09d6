// ABOUTME: TUI initialization and the log sink feeding it
// ABOUTME: Wraps the bubbletea program for the player UI
package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
)

const sinkBuffer = 64

// Sink is a kantera.LogSink that feeds the TUI log pane. Lines are also
// written to the process log. When the pane falls behind, lines are
// dropped from the pane only.
type Sink struct {
	lines  chan LogMsg
	logger *log.Logger
}

// NewSink creates a log sink
func NewSink() *Sink {
	return &Sink{
		lines:  make(chan LogMsg, sinkBuffer),
		logger: log.Default().WithPrefix("renderer"),
	}
}

// LogLine records renderer output
func (s *Sink) LogLine(text string) {
	s.logger.Info(text)
	s.push(LogMsg{Text: text, Time: time.Now()})
}

// LogError records a session or renderer error
func (s *Sink) LogError(text string) {
	s.logger.Error(text)
	s.push(LogMsg{Text: text, Error: true, Time: time.Now()})
}

func (s *Sink) push(msg LogMsg) {
	select {
	case s.lines <- msg:
	default:
	}
}

// Options configures the TUI
type Options struct {
	URL        string
	Script     string
	RenderFile string
}

// NewModel creates a new TUI model
func NewModel(ctrl Controller, sink *Sink, opts Options) Model {
	m := Model{
		ctrl:       ctrl,
		url:        opts.URL,
		script:     opts.Script,
		renderFile: opts.RenderFile,
		volume:     100,
	}
	if sink != nil {
		m.logs = sink.lines
	}
	if ctrl != nil {
		if m.url == "" {
			m.url = ctrl.URL()
		}
		m.refresh()
	}
	return m
}

// Run creates the TUI program. The caller runs it and may Send StateMsg
// and FrameMsg values to it.
func Run(ctrl Controller, sink *Sink, opts Options) *tea.Program {
	return tea.NewProgram(NewModel(ctrl, sink, opts), tea.WithAltScreen())
}
