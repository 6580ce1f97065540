// Package logger provides the leveled console logger used for phase logging.
//
// Output is timestamped and thread-safe. Colors are enabled automatically when
// writing to a terminal and disabled otherwise (including under NO_COLOR).
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level controls which messages are emitted.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a level name to a Level, defaulting to info for unknown or
// empty input.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes timestamped, leveled lines to a single writer.
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	level    Level
	useColor bool
	now      func() time.Time
}

var (
	debugTag = color.New(color.FgHiBlack).Sprint("DEBUG")
	infoTag  = color.New(color.FgCyan).Sprint("INFO")
	warnTag  = color.New(color.FgYellow).Sprint("WARN")
	errorTag = color.New(color.FgRed).Sprint("ERROR")
)

// New creates a Logger writing to out at the given minimum level.
// A nil writer discards everything.
func New(out io.Writer, level Level) *Logger {
	return &Logger{
		out:      out,
		level:    level,
		useColor: isTerminal(out),
		now:      time.Now,
	}
}

// isTerminal reports whether out is a color-capable terminal stream.
// The color package's NoColor already folds in TTY and NO_COLOR detection.
func isTerminal(w io.Writer) bool {
	return (w == os.Stdout || w == os.Stderr) && !color.NoColor
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

func (l *Logger) logf(level Level, format string, args ...any) {
	if l == nil || l.out == nil || level < l.level {
		return
	}

	tag := l.tag(level)
	ts := l.now().Format("15:04:05")

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "[%s] %s %s\n", ts, tag, fmt.Sprintf(format, args...))
}

func (l *Logger) tag(level Level) string {
	if l.useColor {
		switch level {
		case LevelDebug:
			return debugTag
		case LevelWarn:
			return warnTag
		case LevelError:
			return errorTag
		default:
			return infoTag
		}
	}
	switch level {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}
