// ABOUTME: Process-wide logger setup
// ABOUTME: Maps level names to charmbracelet/log levels and picks the log destinations
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// Levels lists the accepted level names, quietest first
var Levels = []string{"none", "error", "warn", "info", "debug"}

// ParseLevel maps a level name to a log level. "none" reports off=true.
func ParseLevel(name string) (level log.Level, off bool, err error) {
	switch name {
	case "none":
		return log.FatalLevel, true, nil
	case "error":
		return log.ErrorLevel, false, nil
	case "warn":
		return log.WarnLevel, false, nil
	case "info", "":
		return log.InfoLevel, false, nil
	case "debug":
		return log.DebugLevel, false, nil
	default:
		return log.InfoLevel, false, fmt.Errorf("unexpected log level %q (want one of %v)", name, Levels)
	}
}

// Configure replaces the default logger. Logs go to stderr unless quiet
// is set, and are appended to file when one is named. The returned file
// is nil when no file was opened; the caller closes it on exit.
//
// Configure must run before components capture prefixed loggers.
func Configure(level, file string, quiet bool) (*os.File, error) {
	lvl, off, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if off {
		log.SetDefault(log.New(io.Discard))
		return nil, nil
	}

	var writers []io.Writer
	if !quiet {
		writers = append(writers, os.Stderr)
	}

	var f *os.File
	if file != "" {
		f, err = os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
	}

	var w io.Writer
	switch len(writers) {
	case 0:
		w = io.Discard
	case 1:
		w = writers[0]
	default:
		w = io.MultiWriter(writers...)
	}

	log.SetDefault(log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Level:           lvl,
	}))
	return f, nil
}
