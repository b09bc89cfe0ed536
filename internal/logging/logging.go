// Package logging builds the process slog.Logger: text on stderr by
// default, JSON into a size-rotated file when a log file is configured.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Options selects the handler. Zero values fall back to the schema defaults.
type Options struct {
	Level     string
	File      string
	MaxSizeMB int
	MaxFiles  int
}

// ParseLevel maps debug/info/warn/error (any case; "" is info).
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level: %s", s)
}

// Setup returns the logger for opts and a closer for its file, if any. With
// no file, records go to stderr as text.
func Setup(opts Options, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.File == "" {
		return slog.New(slog.NewTextHandler(stderr, handlerOpts)), nopCloser{}, nil
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	maxFiles := opts.MaxFiles
	if maxFiles < 0 {
		maxFiles = 5
	}
	w, err := NewRotatingFileWriter(opts.File, maxSize, maxFiles)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", opts.File, err)
	}
	return slog.New(slog.NewJSONHandler(w, handlerOpts)), w, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
