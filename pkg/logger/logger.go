// Package logger provides component-tagged structured logging for the
// orchestrator, bridge, and channel adapters.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var zerologLevels = map[LogLevel]zerolog.Level{
	DEBUG: zerolog.DebugLevel,
	INFO:  zerolog.InfoLevel,
	WARN:  zerolog.WarnLevel,
	ERROR: zerolog.ErrorLevel,
	FATAL: zerolog.FatalLevel,
}

var (
	mu              sync.RWMutex
	base            zerolog.Logger
	componentFilter map[string]bool
)

func init() {
	base = zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// SetLevel sets the minimum level that will be emitted.
func SetLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerologLevels[level])
}

// SetOutput redirects log output, e.g. to a rotating file writer.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = zerolog.New(w).With().Timestamp().Logger()
}

// SetComponentFilter restricts emitted log lines to a comma-separated
// allowlist of component tags. An empty filter allows everything.
func SetComponentFilter(filter string) {
	mu.Lock()
	defer mu.Unlock()

	if filter == "" {
		componentFilter = nil
		return
	}

	componentFilter = make(map[string]bool)
	for _, p := range strings.Split(filter, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			componentFilter[p] = true
		}
	}
}

func allowed(component string) bool {
	mu.RLock()
	defer mu.RUnlock()
	if componentFilter == nil || component == "" {
		return true
	}
	return componentFilter[component]
}

func emit(level LogLevel, component, message string, fields map[string]any) {
	if !allowed(component) {
		return
	}
	mu.RLock()
	l := base
	mu.RUnlock()

	ev := l.WithLevel(zerologLevels[level])
	if component != "" {
		ev = ev.Str("component", component)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(message)
}

func Debug(message string)                 { emit(DEBUG, "", message, nil) }
func DebugC(c, message string)              { emit(DEBUG, c, message, nil) }
func DebugF(m string, f map[string]any)     { emit(DEBUG, "", m, f) }
func DebugCF(c, m string, f map[string]any) { emit(DEBUG, c, m, f) }

func Info(message string)                 { emit(INFO, "", message, nil) }
func InfoC(c, message string)              { emit(INFO, c, message, nil) }
func InfoF(m string, f map[string]any)     { emit(INFO, "", m, f) }
func InfoCF(c, m string, f map[string]any) { emit(INFO, c, m, f) }

func Warn(message string)                 { emit(WARN, "", message, nil) }
func WarnC(c, message string)              { emit(WARN, c, message, nil) }
func WarnF(m string, f map[string]any)     { emit(WARN, "", m, f) }
func WarnCF(c, m string, f map[string]any) { emit(WARN, c, m, f) }

func Error(message string)                 { emit(ERROR, "", message, nil) }
func ErrorC(c, message string)              { emit(ERROR, c, message, nil) }
func ErrorF(m string, f map[string]any)     { emit(ERROR, "", m, f) }
func ErrorCF(c, m string, f map[string]any) { emit(ERROR, c, m, f) }

func Fatal(message string)                 { emit(FATAL, "", message, nil); os.Exit(1) }
func FatalC(c, message string)              { emit(FATAL, c, message, nil); os.Exit(1) }
func FatalF(m string, f map[string]any)     { emit(FATAL, "", m, f); os.Exit(1) }
func FatalCF(c, m string, f map[string]any) { emit(FATAL, c, m, f); os.Exit(1) }
