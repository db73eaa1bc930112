// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the shared logger. Components derive field loggers from it.
var Logger = logrus.StandardLogger()

// Options selects level, output format (text or json) and an optional log file.
type Options struct {
	Level  string
	Format string
	File   string
}

// Init applies opts to Logger. With a File, output goes to both stderr and the file;
// the returned closer releases the file and is never nil.
func Init(opts Options) (io.Closer, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		l, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nopCloser{}, fmt.Errorf("logging: %w", err)
		}
		level = l
	}
	Logger.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nopCloser{}, fmt.Errorf("logging: unknown format %q", opts.Format)
	}

	if opts.File == "" {
		Logger.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nopCloser{}, fmt.Errorf("logging: open %s: %w", opts.File, err)
	}
	Logger.SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}

// Component returns a logger tagged with the component name.
func Component(name string) logrus.FieldLogger {
	return Logger.WithField("component", name)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
