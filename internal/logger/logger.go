// Package logger provides the leveled, printf-style logger used across DittoVFS.
//
// The API is intentionally tiny (Debug/Info/Warn/Error with format strings) so
// call sites stay terse; records are emitted through zerolog, either as human
// readable console lines ("text") or as JSON objects ("json").
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu           sync.RWMutex
	currentLevel = LevelInfo
	logger       = newLogger(os.Stdout, "text")
	output       io.Closer
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func newLogger(w io.Writer, format string) zerolog.Logger {
	if format == "json" {
		return zerolog.New(w).With().Timestamp().Str("lib", "dittovfs").Logger()
	}
	out := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    true,
	}
	return zerolog.New(out).With().Timestamp().Str("lib", "dittovfs").Logger()
}

// SetLevel sets the minimum level. Unknown names are ignored.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel = LevelDebug
	case "INFO":
		currentLevel = LevelInfo
	case "WARN":
		currentLevel = LevelWarn
	case "ERROR":
		currentLevel = LevelError
	}
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// Configure replaces the output sink and format.
//
// Parameters:
//   - level: DEBUG, INFO, WARN or ERROR (case-insensitive)
//   - format: "text" or "json"
//   - dest: "stdout", "stderr" or a file path (opened in append mode)
//
// Returns an error if the destination file cannot be opened.
func Configure(level, format, dest string) error {
	var w io.Writer
	var closer io.Closer

	switch strings.ToLower(dest) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log output %s: %w", dest, err)
		}
		w = f
		closer = f
	}

	SetLevel(level)

	mu.Lock()
	defer mu.Unlock()

	if output != nil {
		_ = output.Close()
	}
	output = closer
	logger = newLogger(w, strings.ToLower(format))
	return nil
}

// SetOutput redirects log records to w using the given format. Mostly useful in tests.
func SetOutput(w io.Writer, format string) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w, format)
}

func log(level Level, format string, v ...any) {
	mu.RLock()
	if level < currentLevel {
		mu.RUnlock()
		return
	}
	l := logger
	mu.RUnlock()

	l.WithLevel(level.zerolog()).Msg(fmt.Sprintf(format, v...))
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
