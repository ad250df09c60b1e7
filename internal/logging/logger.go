// Package logging provides contextualized logger backed by logrus.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/bool64/ctxd"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger output.
type Config struct {
	// Level is a logrus level name, default "info".
	Level string `yaml:"level"`

	// File enables rotated file output instead of stderr.
	File string `yaml:"file"`

	// MaxSizeMB is a size of log file before rotation, default 100.
	MaxSizeMB int `yaml:"maxSizeMB"`

	// MaxBackups is a number of rotated files to keep.
	MaxBackups int `yaml:"maxBackups"`
}

var _ ctxd.Logger = &Logger{}

// Logger writes JSON lines with key-value pairs and context fields.
type Logger struct {
	L *logrus.Logger
}

// New creates logger, it falls back to stderr if log file can not be used.
func New(cfg Config) (*Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	output, outErr := buildOutput(cfg)

	l := logrus.New()
	l.SetLevel(level)
	l.SetOutput(output)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	if outErr != nil {
		l.WithField("file", cfg.File).Warn(outErr.Error())
	}

	return &Logger{L: l}, nil
}

func buildOutput(cfg Config) (io.Writer, error) {
	if cfg.File == "" {
		return os.Stderr, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return os.Stderr, fmt.Errorf("create log directory: %w", err)
	}

	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 100
	}

	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		LocalTime:  true,
	}, nil
}

// Debug logs a message.
func (l *Logger) Debug(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.entry(ctx, keysAndValues).Debug(msg)
}

// Info logs a message.
func (l *Logger) Info(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.entry(ctx, keysAndValues).Info(msg)
}

// Important logs a message at info level with "important" field.
func (l *Logger) Important(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.entry(ctx, keysAndValues).WithField("important", true).Info(msg)
}

// Warn logs a message.
func (l *Logger) Warn(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.entry(ctx, keysAndValues).Warn(msg)
}

// Error logs a message.
func (l *Logger) Error(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.entry(ctx, keysAndValues).Error(msg)
}

func (l *Logger) entry(ctx context.Context, keysAndValues []interface{}) *logrus.Entry {
	fields := Fields(append(ctxd.Fields(ctx), keysAndValues...)...)

	return l.L.WithContext(ctx).WithFields(fields)
}

// Fields converts key-value pairs to logrus fields, a dangling key gets nil value.
func Fields(keysAndValues ...interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2)

	for i := 0; i < len(keysAndValues); i += 2 {
		k, ok := keysAndValues[i].(string)
		if !ok {
			k = fmt.Sprintf("%v", keysAndValues[i])
		}

		var v interface{}
		if i+1 < len(keysAndValues) {
			v = keysAndValues[i+1]
		}

		if err, ok := v.(error); ok {
			v = err.Error()
		}

		fields[k] = v
	}

	return fields
}
