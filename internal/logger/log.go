// Package logger is a small leveled wrapper over the standard log package.
// Every process of a run (dispatcher and workers) writes to stderr through
// one of these, tagged with its role.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel maps a level name, in any case, to a Level.
func ParseLevel(s string) (Level, error) {
	for lvl, name := range levelNames {
		if strings.EqualFold(s, name) {
			return lvl, nil
		}
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

type Logger struct {
	level Level
	tag   string
	mu    *sync.Mutex
	out   *log.Logger
}

// New returns a logger writing to stderr. Unknown level names fall back
// to INFO.
func New(level string) *Logger {
	return NewWriter(level, os.Stderr)
}

// NewWriter returns a logger writing to w.
func NewWriter(level string, w io.Writer) *Logger {
	lvl, err := ParseLevel(level)
	if err != nil {
		lvl = INFO
	}
	return &Logger{
		level: lvl,
		mu:    &sync.Mutex{},
		out:   log.New(w, "", log.LstdFlags|log.Lshortfile|log.Lmicroseconds),
	}
}

// With returns a logger sharing l's output that prefixes every message
// with "[tag] ".
func (l *Logger) With(tag string) *Logger {
	c := *l
	c.tag = "[" + tag + "] "
	return &c
}

// Level returns the minimum level written.
func (l *Logger) Level() Level { return l.level }

// Enabled reports whether messages at lvl are written.
func (l *Logger) Enabled(lvl Level) bool { return l.level <= lvl }

func (l *Logger) emit(lvl Level, format string, args ...interface{}) {
	if !l.Enabled(lvl) {
		return
	}
	msg := fmt.Sprintf("[%s] %s%s", lvl, l.tag, fmt.Sprintf(format, args...))
	l.mu.Lock()
	defer l.mu.Unlock()
	// Skip emit and the level method so Lshortfile names the caller.
	l.out.Output(3, msg)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.emit(DEBUG, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.emit(INFO, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.emit(WARN, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.emit(ERROR, format, args...)
}

// Discard returns a logger that writes nothing.
func Discard() *Logger {
	return NewWriter("ERROR", io.Discard)
}
