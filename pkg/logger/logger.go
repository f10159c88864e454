// Package logger provides structured logging for the OTP validator binaries.
// Built on zerolog; supports console output and per-service JSON log files
// with timestamped names under logs/.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	logFileMutex        sync.Mutex
	logsDir             = "logs"
	sequenceCounter     = make(map[string]int)
	serviceFiles        = make(map[ServiceType]*os.File)
	serviceMultiWriters = make(map[ServiceType]io.Writer)
)

// LogCategory represents different types of log events
type LogCategory string

const (
	Startup LogCategory = "startup"
	Request LogCategory = "request"
	Verify  LogCategory = "verify"
	Race    LogCategory = "race"
	GRPC    LogCategory = "grpc"
	Error   LogCategory = "error"
	General LogCategory = "general"
)

// ServiceType represents the binary generating the logs
type ServiceType string

const (
	Gateway ServiceType = "gateway"
	CLI     ServiceType = "cli"
)

// ParseLevel maps a configured level name to a zerolog level.
// Unknown names fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init initializes the global logger with console output at the given level.
func Init(level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})
}

// InitWithFileLogging initializes the global logger with console and file output.
func InitWithFileLogging(level string, service ServiceType) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	logFileMutex.Lock()
	defer logFileMutex.Unlock()

	writer, err := serviceWriter(service)
	if err != nil {
		fmt.Fprintf(os.Stderr, "File logging disabled: %v\n", err)
		Init(level)
		return
	}
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
}

// NewCategoryLogger returns a logger for one category of a service. All
// categories of a service share the same log file.
func NewCategoryLogger(level string, service ServiceType, category LogCategory) zerolog.Logger {
	logFileMutex.Lock()
	defer logFileMutex.Unlock()

	writer, err := serviceWriter(service)
	if err != nil {
		fmt.Fprintf(os.Stderr, "File logging disabled: %v\n", err)
		return log.Logger.With().Str("service", string(service)).Str("category", string(category)).Logger()
	}

	return zerolog.New(writer).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("service", string(service)).
		Str("category", string(category)).
		Logger()
}

// NewConsoleLogger returns a category logger writing human readable output to
// w only. Short-lived commands use it to avoid creating log files.
func NewConsoleLogger(w io.Writer, level string, service ServiceType, category LogCategory) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("service", string(service)).
		Str("category", string(category)).
		Logger()
}

// serviceWriter returns the shared console+file writer of a service, creating
// the log file on first use. Callers must hold logFileMutex.
func serviceWriter(service ServiceType) (io.Writer, error) {
	if w, exists := serviceMultiWriters[service]; exists {
		return w, nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	path := filepath.Join(logsDir, generateLogFileName(service))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	serviceFiles[service] = file

	// Console gets pretty format, file gets JSON
	w := zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
		file,
	)
	serviceMultiWriters[service] = w

	return w, nil
}

// generateLogFileName creates a name of the form YYYYMMDD_HHMMSS_{service}_{seq}.log.
// Callers must hold logFileMutex.
func generateLogFileName(service ServiceType) string {
	now := time.Now()
	dateStr := now.Format("20060102")
	timeStr := now.Format("150405")

	key := fmt.Sprintf("%s_%s_%s", dateStr, timeStr, service)
	sequenceCounter[key]++

	return fmt.Sprintf("%s_%s_%s_%03d.log", dateStr, timeStr, service, sequenceCounter[key])
}

// Close flushes and closes every open service log file.
func Close() {
	logFileMutex.Lock()
	defer logFileMutex.Unlock()

	for service, f := range serviceFiles {
		f.Close()
		delete(serviceFiles, service)
		delete(serviceMultiWriters, service)
	}
}

// WithRequestID creates a logger with a request ID field.
func WithRequestID(requestID string) zerolog.Logger {
	return log.With().Str("request_id", requestID).Logger()
}

// WithIdentity creates a logger tagged with a token identity.
func WithIdentity(identity string) zerolog.Logger {
	return log.With().Str("identity", identity).Logger()
}

// WithFields creates a logger with multiple custom fields.
func WithFields(fields map[string]interface{}) zerolog.Logger {
	return log.With().Fields(fields).Logger()
}

// CleanupOldLogs removes log files older than the specified number of days.
func CleanupOldLogs(daysToKeep int) error {
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		return nil
	}

	return filepath.Walk(logsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".log") {
			return nil
		}

		if time.Since(info.ModTime()) > time.Duration(daysToKeep)*24*time.Hour {
			return os.Remove(path)
		}
		return nil
	})
}

// GetLogStats counts log files per service in the logs directory.
func GetLogStats() (map[string]int, error) {
	stats := make(map[string]int)
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		return stats, nil
	}

	err := filepath.Walk(logsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".log") {
			return nil
		}

		// YYYYMMDD_HHMMSS_{service}_{seq}.log
		parts := strings.Split(strings.TrimSuffix(info.Name(), ".log"), "_")
		if len(parts) == 4 {
			stats[parts[2]]++
		}
		return nil
	})

	return stats, err
}
