// Package logging builds the logr.Logger shared by every component.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/m4xw311/conductor/errors"
)

// Options selects where log lines go and how chatty they are.
// Verbosity follows logr conventions: 0 is info, 1 debug, 2 trace.
type Options struct {
	File      string
	Verbosity int
}

// New returns a logger writing to opts.File, creating parent directories.
// The returned closer must be closed on shutdown. An empty File discards
// all output.
func New(opts Options) (logr.Logger, io.Closer, error) {
	if opts.File == "" {
		return logr.Discard(), io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return logr.Discard(), nil, errors.Wrapf(err, "could not create log directory")
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return logr.Discard(), nil, errors.Wrapf(err, "could not open log file %s", opts.File)
	}
	return FromWriter(f, opts.Verbosity), f, nil
}

// FromWriter wraps w in a stdr logger at the given verbosity.
func FromWriter(w io.Writer, verbosity int) logr.Logger {
	stdr.SetVerbosity(verbosity)
	return stdr.New(log.New(w, "", log.LstdFlags|log.Lmicroseconds)).WithName("conductor")
}
