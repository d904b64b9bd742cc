// Package logging builds the component loggers used across the daemon.
// Every component logs through a *log.Logger with a "[component] "
// prefix; all of them share one destination, either stderr or a
// rotating log file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults.
const (
	DefaultMaxSizeMB  = 20
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 28
)

// Options configures the shared log destination.
type Options struct {
	// File enables rotating file output when set; empty logs to stderr.
	File string

	// Rotation knobs, used only with File.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Factory hands out component loggers over one shared writer.
type Factory struct {
	w      io.Writer
	closer io.Closer
}

// NewFactory creates the shared destination.
func NewFactory(opts Options) *Factory {
	if opts.File == "" {
		return &Factory{w: os.Stderr}
	}

	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = DefaultMaxSizeMB
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = DefaultMaxBackups
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = DefaultMaxAgeDays
	}
	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	return &Factory{w: lj, closer: lj}
}

// Component returns a logger prefixed with the component name, e.g.
// "[engine] ".
func (f *Factory) Component(name string) *log.Logger {
	return log.New(f.w, "["+name+"] ", log.LstdFlags)
}

// Close flushes and closes the file destination, if any.
func (f *Factory) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}
