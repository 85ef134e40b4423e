package logger

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// ConsoleLogger writes human-readable log lines, optionally colored, to a
// writer (stderr in the CLI so stdout stays clean for report output).
type ConsoleLogger struct {
	level      Level
	baseFields []Field
	core       *consoleCore
}

type consoleCore struct {
	mu     sync.Mutex
	w      io.Writer
	styles map[Level]lipgloss.Style
	dim    lipgloss.Style
}

// NewConsole creates a console logger with the given minimum level.
func NewConsole(w io.Writer, level Level, color bool) *ConsoleLogger {
	r := lipgloss.NewRenderer(w)
	if !color {
		r.SetColorProfile(termenv.Ascii)
	}
	core := &consoleCore{
		w: w,
		styles: map[Level]lipgloss.Style{
			LevelDebug: r.NewStyle().Foreground(lipgloss.Color("6")),
			LevelInfo:  r.NewStyle().Foreground(lipgloss.Color("2")),
			LevelWarn:  r.NewStyle().Foreground(lipgloss.Color("3")),
			LevelError: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		},
		dim: r.NewStyle().Foreground(lipgloss.Color("241")),
	}
	return &ConsoleLogger{level: level, core: core}
}

func (c *ConsoleLogger) Debug(msg string, fields ...Field) { c.log(LevelDebug, msg, fields) }
func (c *ConsoleLogger) Info(msg string, fields ...Field)  { c.log(LevelInfo, msg, fields) }
func (c *ConsoleLogger) Warn(msg string, fields ...Field)  { c.log(LevelWarn, msg, fields) }
func (c *ConsoleLogger) Error(msg string, fields ...Field) { c.log(LevelError, msg, fields) }

func (c *ConsoleLogger) WithFields(fields ...Field) Logger {
	return &ConsoleLogger{level: c.level, baseFields: mergeFields(c.baseFields, fields), core: c.core}
}

func (c *ConsoleLogger) Close() error { return nil }

func (c *ConsoleLogger) log(level Level, msg string, fields []Field) {
	if level < c.level {
		return
	}
	all := mergeFields(c.baseFields, fields)

	ts := c.core.dim.Render(time.Now().Format("15:04:05"))
	lvl := c.core.styles[level].Render(fmt.Sprintf("[%-5s]", level.String()))

	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	fmt.Fprintf(c.core.w, "%s %s %s%s\n", ts, lvl, msg, FormatFields(all))
}
