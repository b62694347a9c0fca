// Package orralog implements the SDK's structured logger: a bound-context
// instance wrapping a colorized console sink plus a rotating file sink,
// adapted from the teacher's pkg/logger global singleton (ikermy-AiR_Common)
// into something an SDK instance owns rather than the process.
package orralog

import (
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is one of the five severities the teacher's logger recognizes.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) label() string {
	switch l {
	case LevelDebug:
		return "[DEBUG]"
	case LevelInfo:
		return "[INFO]"
	case LevelWarn:
		return "[WARNING]"
	case LevelError:
		return "[ERROR]"
	case LevelFatal:
		return "[FATAL]"
	default:
		return "[INFO]"
	}
}

func (l Level) color() string {
	switch l {
	case LevelDebug:
		return colorGreen
	case LevelWarn:
		return colorYellow
	case LevelError, LevelFatal:
		return colorRed
	default:
		return colorWhite
	}
}

const (
	colorReset  = "\033[0m"
	colorWhite  = ""
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
)

// Options configures a Logger at construction time.
type Options struct {
	// FilePath, if set, rotates log lines through lumberjack the same way
	// the teacher's pkg/logger.Set does (MaxSize 1MB, 3 backups, 30 days,
	// compressed).
	FilePath string
	// Pretty enables ANSI color and maps to the Python original's
	// log_level == "DEBUG" dev-console switch.
	Pretty bool
	// Level filters messages below it.
	Level Level
}

// Logger is an instance-owned, bound-context logger: every line it writes
// carries the sdk/service_id/service_version fields fixed at construction
// or by Reconfigure, rather than requiring the caller to repeat them.
type Logger struct {
	mu     sync.Mutex
	out    *log.Logger
	pretty bool
	level  Level
	fields map[string]string
}

// New builds a Logger writing to stdout and, when opts.FilePath is set, to a
// rotating file sink at the same time — mirroring the teacher's
// io.MultiWriter(os.Stdout, logFile) composition.
func New(opts Options) *Logger {
	var w io.Writer = os.Stdout
	if opts.FilePath != "" {
		fileSink := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    1,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, fileSink)
	}
	return &Logger{
		out:    log.New(w, "", 0),
		pretty: opts.Pretty,
		level:  opts.Level,
		fields: map[string]string{"sdk": "orra"},
	}
}

// With returns a child Logger that adds key/value to every line, leaving the
// receiver untouched — used to bind sdk/service_id/service_version at
// registration time without mutating a logger handed out earlier.
func (l *Logger) With(key, value string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := &Logger{out: l.out, pretty: l.pretty, level: l.level, fields: map[string]string{}}
	for k, v := range l.fields {
		next.fields[k] = v
	}
	next.fields[key] = value
	return next
}

// Reconfigure updates service_id/service_version in place once registration
// completes, matching the Python original's OrraLogger.reconfigure, which
// rebinds its structlog context after the one-shot HTTP exchange returns an
// assigned id.
func (l *Logger) Reconfigure(serviceID string, serviceVersion int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fields["service_id"] = serviceID
	l.fields["service_version"] = fmt.Sprintf("%d", serviceVersion)
}

// SetLevel adjusts the minimum logged level, used by pkg/orraconf's
// fsnotify-driven live reload.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)   { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)   { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any)  { l.logf(LevelError, format, args...) }

// Fatalf logs at fatal and terminates the process, matching the teacher's
// pkg/logger.Fatalf.
func (l *Logger) Fatalf(format string, args ...any) {
	l.logf(LevelFatal, format, args...)
	os.Exit(1)
}

func (l *Logger) logf(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.write(level, msg)
}

func (l *Logger) write(level Level, msg string) {
	_, file, line, ok := runtime.Caller(3)
	caller := ""
	if ok {
		parts := strings.Split(file, "/")
		caller = fmt.Sprintf("%s:%d:", parts[len(parts)-1], line)
	}

	now := time.Now().Format("2006/01/02 15:04:05")

	l.mu.Lock()
	fieldStr := formatFields(l.fields)
	pretty := l.pretty
	l.mu.Unlock()

	line_ := fmt.Sprintf("%s %s %s %s%s", now, caller, level.label(), fieldStr, msg)
	if pretty {
		if c := level.color(); c != "" {
			line_ = c + line_ + colorReset
		}
	}
	l.out.Print(line_)
}

func formatFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	// deterministic ordering: sdk, service_id, service_version first, rest sorted
	order := []string{"sdk", "service_id", "service_version"}
	seen := map[string]bool{}
	var b strings.Builder
	for _, k := range order {
		if v, ok := fields[k]; ok {
			fmt.Fprintf(&b, "%s=%s ", k, v)
			seen[k] = true
		}
	}
	for _, k := range keys {
		if seen[k] {
			continue
		}
		fmt.Fprintf(&b, "%s=%s ", k, fields[k])
	}
	return b.String()
}
