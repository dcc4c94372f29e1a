package transport

import (
	"errors"
	"io"
	"os"

	"github.com/rectcircle/tinytun/tools"
	"golang.org/x/term"
)

type stdio struct {
	io.Reader
	io.Writer
	closers []io.Closer
}

func (s *stdio) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Stdio - the process's own stdin/stdout as one stream. A terminal stdin is
// switched to raw mode until Close, so a pty between the peers passes bytes untouched.
// Close does not unblock a pending read on a pipe or terminal stdin, the reader
// goroutine of NewConn stays parked until the process exits.
func Stdio() io.ReadWriteCloser {
	s := &stdio{Reader: os.Stdin, Writer: os.Stdout, closers: []io.Closer{os.Stdout, os.Stdin}}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return s
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		tools.Logger.Warn().Err(err).Msg("stdin raw mode")
		return s
	}
	s.closers = append([]io.Closer{restorer(func() error { return term.Restore(fd, oldState) })}, s.closers...)
	return s
}

type restorer func() error

func (r restorer) Close() error { return r() }
