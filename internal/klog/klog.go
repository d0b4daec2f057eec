// Package klog is the kernel's leveled logger. Verbosity is selected by the
// LOG environment variable: one of error, warn, info, debug, trace, off
// (default off).
//
// Unlike a hosted service, the kernel cannot pull in zap/zerolog/logrus: a
// trap handler running with interrupts disabled cannot tolerate a logging
// library that allocates via reflection or buffers through goroutines, so
// klog formats with the standard library. Its one outside import is
// github.com/mattn/go-colorable, whose stdout writer is the default sink;
// level tags are written as plain text, with no ANSI color codes. Every
// line is written under a single mutex so interleaved hart output never
// tears mid-line.
package klog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	colorable "github.com/mattn/go-colorable"
)

// Level is a logging verbosity level, ordered from least to most verbose.
type Level int

const (
	Off Level = iota
	LError
	LWarn
	LInfo
	LDebug
	LTrace
)

var levelNames = map[string]Level{
	"off": Off, "error": LError, "warn": LWarn, "info": LInfo,
	"debug": LDebug, "trace": LTrace,
}

var levelTags = [...]string{"OFF", "ERROR", "WARN", "INFO", "DEBUG", "TRACE"}

var (
	mu      sync.Mutex
	out     io.Writer = colorable.NewColorableStdout()
	current Level
	// blacklist controls which message prefixes are suppressed to avoid
	// flooding, matching the per-syscall logging blacklist concept.
	blacklist = map[string]bool{}
)

// InitFromEnv sets the active log level from the LOG environment variable.
// Unknown or unset values fall back to Off.
func InitFromEnv() {
	v := os.Getenv("LOG")
	mu.Lock()
	defer mu.Unlock()
	if lvl, ok := levelNames[v]; ok {
		current = lvl
	} else {
		current = Off
	}
}

// SetLevel sets the active verbosity directly, mainly for tests.
func SetLevel(l Level) {
	mu.Lock()
	current = l
	mu.Unlock()
}

// Silence adds a message prefix to the flood-suppression blacklist.
func Silence(prefix string) {
	mu.Lock()
	blacklist[prefix] = true
	mu.Unlock()
}

func emit(l Level, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if l > current || l == Off {
		return
	}
	msg := fmt.Sprintf(format, args...)
	for p := range blacklist {
		if len(msg) >= len(p) && msg[:len(p)] == p {
			return
		}
	}
	ts := time.Now().Format("15:04:05.000")
	fmt.Fprintf(out, "%s [%s] %s\n", ts, levelTags[l], msg)
}

func Errorf(format string, args ...interface{}) { emit(LError, format, args...) }
func Warnf(format string, args ...interface{})  { emit(LWarn, format, args...) }
func Infof(format string, args ...interface{})  { emit(LInfo, format, args...) }
func Debugf(format string, args ...interface{}) { emit(LDebug, format, args...) }
func Tracef(format string, args ...interface{}) { emit(LTrace, format, args...) }
