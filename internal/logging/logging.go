package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

type Logger struct {
	format    Format
	level     Level
	component string
	out       io.Writer
	text      *log.Logger
	mu        *sync.Mutex
}

var (
	defaultLogger = New(FormatText)
	stdoutMu      sync.Mutex
)

func ParseFormat(raw string) (Format, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return FormatText, nil
	}
	switch raw {
	case "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported log format %q (expected text or json)", raw)
	}
}

func ParseLevel(raw string) (Level, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "", "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unsupported log level %q (expected debug, info, warn or error)", raw)
	}
}

func Setup(rawFormat string, level Level) (*Logger, error) {
	format, err := ParseFormat(rawFormat)
	if err != nil {
		return nil, err
	}
	logger := New(format)
	logger.level = level
	SetDefault(logger)
	return logger, nil
}

func New(format Format) *Logger {
	var out io.Writer = os.Stderr
	if format == FormatJSON {
		out = os.Stdout
	}
	return NewWithWriter(format, out)
}

func NewWithWriter(format Format, out io.Writer) *Logger {
	return &Logger{
		format:    format,
		level:     LevelInfo,
		component: "server",
		out:       out,
		text:      log.New(out, "", log.LstdFlags),
		mu:        &sync.Mutex{},
	}
}

func SetDefault(l *Logger) {
	if l == nil {
		return
	}
	defaultLogger = l
}

func Default() *Logger { return defaultLogger }

// With returns a logger that tags every line with the given component.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	cp := *l
	cp.component = component
	return &cp
}

func Debugf(format string, args ...any) { defaultLogger.Debugf(format, args...) }
func Infof(format string, args ...any)  { defaultLogger.Infof(format, args...) }
func Warnf(format string, args ...any)  { defaultLogger.Warnf(format, args...) }
func Errorf(format string, args ...any) { defaultLogger.Errorf(format, args...) }

func Fatalf(format string, args ...any) {
	defaultLogger.Errorf(format, args...)
	os.Exit(1)
}

func InfoFields(msg string, fields map[string]any)  { defaultLogger.InfoFields(msg, fields) }
func WarnFields(msg string, fields map[string]any)  { defaultLogger.WarnFields(msg, fields) }
func ErrorFields(msg string, fields map[string]any) { defaultLogger.ErrorFields(msg, fields) }

func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(LevelInfo, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) InfoFields(msg string, fields map[string]any) {
	l.log(LevelInfo, msg, fields)
}

func (l *Logger) WarnFields(msg string, fields map[string]any) {
	l.log(LevelWarn, msg, fields)
}

func (l *Logger) ErrorFields(msg string, fields map[string]any) {
	l.log(LevelError, msg, fields)
}

func (l *Logger) log(level Level, message string, extra map[string]any) {
	if l == nil || level < l.level {
		return
	}
	if l.format == FormatText {
		l.text.Printf("%s %s%s", strings.ToUpper(level.String()), message, textFields(extra))
		return
	}

	fields := make(map[string]any, len(extra)+4)
	for k, v := range extra {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		fields[k] = v
	}
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	fields["level"] = level.String()
	fields["msg"] = message
	fields["component"] = l.component
	if l.out == os.Stdout {
		writeJSONLineStdout(fields)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	writeJSONLine(l.out, fields)
}

func textFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

func writeJSONLineStdout(fields map[string]any) {
	stdoutMu.Lock()
	defer stdoutMu.Unlock()
	writeJSONLine(os.Stdout, fields)
}

func writeJSONLine(w io.Writer, fields map[string]any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(fields)
}
