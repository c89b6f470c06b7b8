package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultLogDir     = "logs"
	defaultBufferSize = 32 * 1024
)

type Options struct {
	// Name selects the log file, logs/<name>.log.
	Name  string
	Dir   string
	Level string
	// Console mirrors every entry to this writer when set.
	Console io.Writer
}

// NewLogger builds the JSON logger used by every component. Entries go to
// logs/<name>.log through an async writer and are mirrored to stdout.
// LOG_LEVEL selects the level.
func NewLogger(name string) (*logrus.Logger, io.Closer, error) {
	return New(Options{
		Name:    name,
		Dir:     defaultLogDir,
		Level:   os.Getenv("LOG_LEVEL"),
		Console: os.Stdout,
	})
}

func New(opts Options) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "time",
			logrus.FieldKeyMsg:  "msg",
		},
	})
	logger.SetLevel(parseLevel(opts.Level))

	if opts.Name == "" || strings.ContainsAny(opts.Name, `/\`) {
		return nil, nil, fmt.Errorf("invalid log name %q", opts.Name)
	}
	dir := opts.Dir
	if dir == "" {
		dir = defaultLogDir
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	asyncWriter, err := NewAsyncFileWriter(filepath.Join(dir, opts.Name+".log"), defaultBufferSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize async log writer: %w", err)
	}
	logger.SetOutput(asyncWriter)

	if opts.Console != nil {
		logger.AddHook(NewConsoleHook(opts.Console))
	}
	return logger, asyncWriter, nil
}

func parseLevel(level string) logrus.Level {
	if level == "" {
		return logrus.InfoLevel
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}
