package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// LogrusConfig configures the logrus-backed logger.
type LogrusConfig struct {
	Level      string
	Format     string // "json" or "text"
	File       string // optional; rotated with lumberjack when set
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Component  string
	Output     io.Writer // overrides stdout when File is empty; used by tests
}

// LogrusLogger adapts a logrus entry to the Logger interface.
type LogrusLogger struct {
	entry  *logrus.Entry
	closer io.Closer
}

// NewLogrusLogger builds a structured logger writing JSON (default) or text records.
func NewLogrusLogger(cfg LogrusConfig) (*LogrusLogger, error) {
	base := logrus.New()

	level := strings.ToLower(strings.TrimSpace(cfg.Level))
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	base.SetLevel(parsed)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "json":
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	case "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339Nano})
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.Format)
	}

	var closer io.Closer
	switch {
	case strings.TrimSpace(cfg.File) != "":
		rotator := &lumberjack.Logger{
			Filename:   strings.TrimSpace(cfg.File),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		base.SetOutput(io.MultiWriter(os.Stdout, rotator))
		closer = rotator
	case cfg.Output != nil:
		base.SetOutput(cfg.Output)
	default:
		base.SetOutput(os.Stdout)
	}

	entry := logrus.NewEntry(base)
	if component := strings.TrimSpace(cfg.Component); component != "" {
		entry = entry.WithField("component", component)
	}
	return &LogrusLogger{entry: entry, closer: closer}, nil
}

// WithComponent returns a logger tagging every record with the given component.
func (l *LogrusLogger) WithComponent(component string) *LogrusLogger {
	return &LogrusLogger{entry: l.entry.WithField("component", component), closer: l.closer}
}

// Debug logs at debug level.
func (l *LogrusLogger) Debug(msg string, fields ...Field) { l.with(fields).Debug(msg) }

// Info logs at info level.
func (l *LogrusLogger) Info(msg string, fields ...Field) { l.with(fields).Info(msg) }

// Warn logs at warn level.
func (l *LogrusLogger) Warn(msg string, fields ...Field) { l.with(fields).Warn(msg) }

// Error logs at error level.
func (l *LogrusLogger) Error(msg string, fields ...Field) { l.with(fields).Error(msg) }

// Close releases the rotating file handle, if any.
func (l *LogrusLogger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *LogrusLogger) with(fields []Field) *logrus.Entry {
	if len(fields) == 0 {
		return l.entry
	}
	data := make(logrus.Fields, len(fields))
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		if err, ok := f.Value.(error); ok && err != nil {
			data[f.Key] = err.Error()
			continue
		}
		data[f.Key] = f.Value
	}
	return l.entry.WithFields(data)
}
