// Package logging builds the process logger from configuration.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnsupportedFormat indicates a log format other than console or json.
var ErrUnsupportedFormat = errors.New("logging: unsupported log format")

// New constructs a zerolog logger writing to w at level in format ("console"
// or "json").
func New(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		if lvl, err = zerolog.ParseLevel(strings.ToLower(level)); err != nil {
			return zerolog.Logger{}, fmt.Errorf("logging: %w", err)
		}
	}

	switch strings.ToLower(format) {
	case "json":
	case "console", "":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Logger{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl), nil
}

// Open is New writing to stderr, or appending to file when it is set. The
// returned closer releases the file.
func Open(level, format, file string) (zerolog.Logger, io.Closer, error) {
	if file == "" {
		logger, err := New(os.Stderr, level, format)
		return logger, nopCloser{}, err
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("logging: open %s: %w", file, err)
	}
	logger, err := New(f, level, format)
	if err != nil {
		f.Close()
		return zerolog.Logger{}, nil, err
	}
	return logger, f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
