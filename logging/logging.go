// Package logging provides leveled console logging for queue internals.
// Output is for operators watching an agent process; nothing in the
// messaging layer depends on log contents.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Fields holds structured key/value context for a log line.
type Fields map[string]any

// Logger writes leveled, component-tagged lines to a single writer.
// Loggers derived with WithComponent and WithAgent share the writer and
// level of their parent.
type Logger struct {
	mu        *sync.Mutex
	output    *io.Writer
	minLevel  Level
	component string
	agentID   string
}

// New creates a Logger writing to stdout at LevelInfo.
func New() *Logger {
	var out io.Writer = os.Stdout
	return &Logger{
		mu:       &sync.Mutex{},
		output:   &out,
		minLevel: LevelInfo,
	}
}

// Discard creates a Logger that drops everything. Useful in tests.
func Discard() *Logger {
	l := New()
	l.SetOutput(io.Discard)
	return l
}

// WithComponent returns a logger tagged with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	out := *l
	out.component = component
	return &out
}

// WithAgent returns a logger tagged with an agent id.
func (l *Logger) WithAgent(agentID string) *Logger {
	out := *l
	out.agentID = agentID
	return &out
}

// SetLevel sets the minimum level emitted by this logger.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout). The writer is
// shared with loggers derived from this one.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	*l.output = w
	l.mu.Unlock()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...Fields) { l.log(LevelDebug, msg, fields...) }

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...Fields) { l.log(LevelInfo, msg, fields...) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...Fields) { l.log(LevelWarn, msg, fields...) }

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...Fields) { l.log(LevelError, msg, fields...) }

// log writes one line: LEVEL TIMESTAMP [component] (agent) message k=v ...
func (l *Logger) log(level Level, msg string, fields ...Fields) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %s", level, time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	if l.component != "" {
		fmt.Fprintf(&b, " [%s]", l.component)
	}
	if l.agentID != "" {
		fmt.Fprintf(&b, " (%s)", l.agentID)
	}
	b.WriteByte(' ')
	b.WriteString(msg)
	if len(fields) > 0 && fields[0] != nil {
		b.WriteString(formatFields(fields[0]))
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	(*l.output).Write([]byte(b.String()))
}

// formatFields renders fields as sorted key=value pairs. Sorting keeps
// lines stable for log-based assertions.
func formatFields(fields Fields) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}
