// Package logger provides blitze's structured logging: a text/JSON slog
// handler with five record severities (TRACE below slog's DEBUG) plus an
// OFF setting above ERROR, a package-level default logger rebuilt whenever the format or
// file destination changes, and optional size-based rotation via
// lumberjack.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity names accepted by Init/SetLoggingLevel, matching the strings a
// user supplies via --log-severity or a config file.
const (
	TRACE   = "TRACE"
	DEBUG   = "DEBUG"
	INFO    = "INFO"
	WARNING = "WARNING"
	ERROR   = "ERROR"
	OFF     = "OFF"
)

// slog reserves -4..8 for its own four levels; TRACE sits below DEBUG and
// OFF sits above ERROR so every real record is suppressed once selected.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(12)
)

func levelForSeverity(severity string) slog.Level {
	switch severity {
	case TRACE:
		return LevelTrace
	case DEBUG:
		return LevelDebug
	case INFO:
		return LevelInfo
	case WARNING:
		return LevelWarn
	case ERROR:
		return LevelError
	case OFF:
		return LevelOff
	default:
		return LevelInfo
	}
}

func severityForLevel(level slog.Level) string {
	switch {
	case level >= LevelOff:
		return OFF
	case level >= LevelError:
		return ERROR
	case level >= LevelWarn:
		return WARNING
	case level >= LevelInfo:
		return INFO
	case level >= LevelDebug:
		return DEBUG
	default:
		return TRACE
	}
}

// RotateConfig controls log file rotation, applied via lumberjack when
// logging to a file instead of stderr.
type RotateConfig struct {
	MaxFileSizeMB   int
	BackupFileCount int
	Compress        bool
}

func DefaultRotateConfig() RotateConfig {
	return RotateConfig{MaxFileSizeMB: 512, BackupFileCount: 10, Compress: false}
}

type loggerFactory struct {
	mu              sync.Mutex
	format          string
	level           string
	file            *os.File
	sysWriter       io.Writer
	logRotateConfig RotateConfig
	programLevel    *slog.LevelVar
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, programLevel *slog.LevelVar, prefix string) slog.Handler {
	return &textOrJSONHandler{w: w, programLevel: programLevel, prefix: prefix, format: f.format, mu: &f.mu}
}

var (
	defaultLoggerFactory = &loggerFactory{
		format:          "json",
		level:           INFO,
		logRotateConfig: DefaultRotateConfig(),
		programLevel:    newLevelVar(INFO),
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, defaultLoggerFactory.programLevel, ""))
)

func newLevelVar(severity string) *slog.LevelVar {
	v := &slog.LevelVar{}
	v.Set(levelForSeverity(severity))
	return v
}

func setLoggingLevel(severity string, programLevel *slog.LevelVar) {
	programLevel.Set(levelForSeverity(severity))
}

// Init configures the package-level logger: format is "text" or "json"
// (anything else behaves as "json"), severity is one of the constants
// above, and filePath, if non-empty, redirects output to a rotated file
// instead of stderr.
func Init(format, severity, filePath string, rotate RotateConfig) error {
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()

	defaultLoggerFactory.format = format
	defaultLoggerFactory.level = severity
	defaultLoggerFactory.logRotateConfig = rotate
	setLoggingLevel(severity, defaultLoggerFactory.programLevel)

	var w io.Writer = os.Stderr
	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("logger: open %s: %w", filePath, err)
		}
		defaultLoggerFactory.file = f
		lj := &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    rotate.MaxFileSizeMB,
			MaxBackups: rotate.BackupFileCount,
			Compress:   rotate.Compress,
		}
		defaultLoggerFactory.sysWriter = lj
		w = lj
	} else {
		defaultLoggerFactory.file = nil
		defaultLoggerFactory.sysWriter = nil
	}

	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, defaultLoggerFactory.programLevel, ""))
	return nil
}

// SetLogFormat changes the wire format of subsequent log lines without
// disturbing the current output destination or severity.
func SetLogFormat(format string) {
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()

	defaultLoggerFactory.format = format
	w := io.Writer(os.Stderr)
	if defaultLoggerFactory.sysWriter != nil {
		w = defaultLoggerFactory.sysWriter
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, defaultLoggerFactory.programLevel, ""))
}

type textOrJSONHandler struct {
	w            io.Writer
	programLevel *slog.LevelVar
	prefix       string
	format       string
	mu           *sync.Mutex
}

func (h *textOrJSONHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.programLevel.Level()
}

type jsonTimestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int   `json:"nanos"`
}

type jsonLine struct {
	Timestamp jsonTimestamp `json:"timestamp"`
	Severity  string        `json:"severity"`
	Message   string        `json:"message"`
}

func (h *textOrJSONHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := h.prefix + r.Message
	sev := severityForLevel(r.Level)

	if h.format == "text" {
		_, err := fmt.Fprintf(h.w, "time=%q severity=%s message=%q\n",
			r.Time.Format("01/02/2006 15:04:05.000000"), sev, msg)
		return err
	}

	return json.NewEncoder(h.w).Encode(jsonLine{
		Timestamp: jsonTimestamp{Seconds: r.Time.Unix(), Nanos: r.Time.Nanosecond()},
		Severity:  sev,
		Message:   msg,
	})
}

func (h *textOrJSONHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *textOrJSONHandler) WithGroup(_ string) slog.Handler      { return h }

func logf(level slog.Level, format string, v ...any) {
	if !defaultLogger.Enabled(context.Background(), level) {
		return
	}
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func Tracef(format string, v ...any) { logf(LevelTrace, format, v...) }
func Debugf(format string, v ...any) { logf(LevelDebug, format, v...) }
func Infof(format string, v ...any)  { logf(LevelInfo, format, v...) }
func Warnf(format string, v ...any)  { logf(LevelWarn, format, v...) }
func Errorf(format string, v ...any) { logf(LevelError, format, v...) }

// Slog returns the package-level logger wrapped for packages that take a
// *slog.Logger (catalog.New, extract.New, vfsadapter.New) instead of
// calling the Xf functions directly.
func Slog() *slog.Logger { return defaultLogger }
