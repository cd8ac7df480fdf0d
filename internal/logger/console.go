package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Log level ordering for filtering.
const (
	levelTrace = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
)

// Console logs to a writer with [HH:MM:SS] [LEVEL] prefixes and optional
// color. Safe for concurrent use. A nil writer discards all output.
type Console struct {
	writer   io.Writer
	minLevel int
	mu       sync.Mutex
	colored  bool

	// clock is overridable in tests.
	clock func() time.Time
}

// NewConsole creates a Console writing to w at the given minimum level.
// Valid levels: trace, debug, info, warn, error; anything else means info.
// Color is enabled automatically when w is a TTY (stdout/stderr).
func NewConsole(w io.Writer, level string) *Console {
	return &Console{
		writer:   w,
		minLevel: levelFromString(level),
		colored:  isTerminal(w),
		clock:    time.Now,
	}
}

func levelFromString(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// isTerminal reports whether w is a TTY that supports color. Respects the
// color library's NO_COLOR handling.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

var levelColors = map[string]*color.Color{
	"TRACE": color.New(color.FgHiBlack),
	"DEBUG": color.New(color.FgCyan),
	"INFO":  color.New(color.FgGreen),
	"WARN":  color.New(color.FgYellow),
	"ERROR": color.New(color.FgRed),
}

func (c *Console) log(level int, tag, format string, args ...any) {
	if c == nil || c.writer == nil || level < c.minLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	stamp := c.clock().Format("15:04:05")

	label := fmt.Sprintf("[%s]", tag)
	if c.colored {
		if lc, ok := levelColors[tag]; ok {
			label = lc.Sprintf("[%s]", tag)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.writer, "[%s] %s %s\n", stamp, label, msg)
}

func (c *Console) Tracef(format string, args ...any) { c.log(levelTrace, "TRACE", format, args...) }
func (c *Console) Debugf(format string, args ...any) { c.log(levelDebug, "DEBUG", format, args...) }
func (c *Console) Infof(format string, args ...any)  { c.log(levelInfo, "INFO", format, args...) }
func (c *Console) Warnf(format string, args ...any)  { c.log(levelWarn, "WARN", format, args...) }
func (c *Console) Errorf(format string, args ...any) { c.log(levelError, "ERROR", format, args...) }
