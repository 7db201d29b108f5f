package logger

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type LogLevel int

const (
	LevelError LogLevel = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

var (
	Info  = log.New(io.Discard, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	Error = log.New(io.Discard, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
	Debug = log.New(io.Discard, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile)
	Warn  = log.New(io.Discard, "WARN: ", log.Ldate|log.Ltime|log.Lshortfile)
	level LogLevel
)

const logFileName = "memories_restore.log"

func ParseLogLevel(lvl string) LogLevel {
	switch strings.ToUpper(lvl) {
	case "DEBUG":
		return LevelDebug
	case "ERROR":
		return LevelError
	case "WARN", "WARNING":
		return LevelWarn
	default:
		return LevelInfo
	}
}

type nullWriter struct{}

func (nw *nullWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

// Init opens the log file inside logPath and wires every level to it.
func Init(logPath string, logLevel LogLevel) error {
	if err := os.MkdirAll(logPath, 0755); err != nil {
		return err
	}

	logFile, err := os.OpenFile(
		filepath.Join(logPath, logFileName),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0644,
	)
	if err != nil {
		return err
	}

	configure(logFile, logLevel)
	return nil
}

// InitConsole routes log output to stderr. Used when no log directory is
// configured and from tests.
func InitConsole(logLevel LogLevel) {
	configure(os.Stderr, logLevel)
}

// InitWriter routes log output to w.
func InitWriter(w io.Writer, logLevel LogLevel) {
	configure(w, logLevel)
}

func configure(out io.Writer, logLevel LogLevel) {
	level = logLevel

	// Always enable Error logging
	Error = log.New(out, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)

	warnWriter := io.Writer(&nullWriter{})
	if level >= LevelWarn {
		warnWriter = out
	}
	Warn = log.New(warnWriter, "WARN: ", log.Ldate|log.Ltime|log.Lshortfile)

	infoWriter := io.Writer(&nullWriter{})
	if level >= LevelInfo {
		infoWriter = out
	}
	Info = log.New(infoWriter, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)

	debugWriter := io.Writer(&nullWriter{})
	if level >= LevelDebug {
		debugWriter = out
	}
	Debug = log.New(debugWriter, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile)
}

// Level reports the active log level.
func Level() LogLevel {
	return level
}

func LogBackoff(wait time.Duration, operation string) {
	Warn.Printf("Backing off %v seconds before retrying %s",
		wait.Seconds(), operation)
}

func LogRetryAttempt(attempt, maxRetries int, operation string) {
	Debug.Printf("Retry attempt %d/%d for operation: %s",
		attempt+1, maxRetries, operation)
}
