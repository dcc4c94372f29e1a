package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rectcircle/tinytun/internal/variable"
	"github.com/rectcircle/tinytun/tools"
)

// CommandSpec - a proxy command whose stdio carries the tunnel, e.g. `ssh host tinytun server -stdio`
type CommandSpec struct {
	Command string
	// Interactive - run the command in a pty wired to the user's terminal until it is ready,
	// so it can prompt for passwords
	Interactive bool
	// Trigger - printed by the remote end once it is ready, StdoutReadyTrigger by default
	Trigger string
	// Echo - where output before the trigger goes, os.Stderr by default
	Echo io.Writer
}

// Process - a running proxy command as a stream
type Process struct {
	cmd     *exec.Cmd
	r       io.Reader
	w       io.Writer
	closers []io.Closer
}

func (p *Process) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *Process) Write(b []byte) (int, error) { return p.w.Write(b) }

// Close - close the command's stdio and reap it
func (p *Process) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c.Close())
	}
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
		p.cmd.Wait()
	}
	return errors.Join(errs...)
}

// Command - start spec.Command and wait until it prints the ready trigger
func Command(ctx context.Context, spec CommandSpec) (*Process, error) {
	commandAndArgs := strings.Fields(spec.Command)
	if len(commandAndArgs) == 0 {
		return nil, errors.New("The command is not allowed to be an empty string")
	}
	cmd := exec.CommandContext(ctx, commandAndArgs[0], commandAndArgs[1:]...)
	trigger := []byte(tools.If(spec.Trigger != "", spec.Trigger, variable.StdoutReadyTrigger))
	echo := &lockedWriter{w: tools.If[io.Writer](spec.Echo != nil, spec.Echo, os.Stderr)}

	if spec.Interactive {
		return startInteractive(cmd, trigger, echo)
	}

	writer, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	reader, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = echo
	if err = cmd.Start(); err != nil {
		return nil, err
	}
	p := &Process{cmd: cmd, w: writer, closers: []io.Closer{writer}}
	rest, err := waitTrigger(reader, echo, trigger)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.r = io.MultiReader(bytes.NewReader(rest), reader)
	return p, nil
}

// lockedWriter - echo is shared by waitTrigger and the stderr copy of os/exec
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(b)
}

// waitTrigger - copy r to echo until trigger has been read, returning the bytes that followed it.
// A tail that may still turn into the trigger is held back until the next read decides.
func waitTrigger(r io.Reader, echo io.Writer, trigger []byte) ([]byte, error) {
	var (
		buffer  = make([]byte, ChunkSize)
		pending []byte
	)
	for {
		n, err := r.Read(buffer)
		pending = append(pending, buffer[:n]...)
		if i := bytes.Index(pending, trigger); i >= 0 {
			if i > 0 {
				echo.Write(pending[:i])
			}
			return append([]byte(nil), pending[i+len(trigger):]...), nil
		}
		if keep := len(trigger) - 1; len(pending) > keep {
			echo.Write(pending[:len(pending)-keep])
			pending = append(pending[:0], pending[len(pending)-keep:]...)
		}
		if err != nil {
			if len(pending) > 0 {
				echo.Write(pending)
			}
			if err == io.EOF {
				return nil, errors.New("EOF: command not allow exit on init stage")
			}
			return nil, err
		}
	}
}
