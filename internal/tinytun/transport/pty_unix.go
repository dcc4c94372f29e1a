//go:build !windows

package transport

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"github.com/rectcircle/tinytun/tools"
	"golang.org/x/term"
)

// startInteractive - run cmd in a pty, forwarding the user's terminal to it until
// trigger shows up, then switch the pty to raw mode for the tunnel
func startInteractive(cmd *exec.Cmd, trigger []byte, echo io.Writer) (*Process, error) {
	ptyFile, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	p := &Process{cmd: cmd, w: ptyFile, closers: []io.Closer{ptyFile}}

	// Handle pty size.
	termWinChangeChannel := make(chan os.Signal, 1)
	signal.Notify(termWinChangeChannel, syscall.SIGWINCH)
	go func() {
		for range termWinChangeChannel {
			if err := pty.InheritSize(os.Stdin, ptyFile); err != nil {
				tools.Logger.Debug().Err(err).Msg("resizing pty")
			}
		}
	}()
	termWinChangeChannel <- syscall.SIGWINCH // Initial resize.

	stdinFd := int(os.Stdin.Fd())
	var oldState *term.State
	if term.IsTerminal(stdinFd) {
		if oldState, err = term.MakeRaw(stdinFd); err != nil {
			signal.Stop(termWinChangeChannel)
			close(termWinChangeChannel)
			p.Close()
			return nil, err
		}
	}
	initDone := make(chan struct{})
	closeAndRestore := func() {
		close(initDone)
		signal.Stop(termWinChangeChannel)
		close(termWinChangeChannel)
		if oldState != nil {
			term.Restore(stdinFd, oldState)
		}
	}

	// Handle stdin
	go func() {
		for {
			select {
			case buffer, ok := <-tools.StdinToChannel():
				if !ok {
					return
				}
				select {
				case <-initDone:
					return
				default:
					if _, err := ptyFile.Write(buffer); err != nil {
						return
					}
				}
			case <-initDone:
				return
			}
		}
	}()

	rest, err := waitTrigger(ptyFile, echo, trigger)
	closeAndRestore()
	if err != nil {
		p.Close()
		return nil, err
	}
	if _, err := term.MakeRaw(int(ptyFile.Fd())); err != nil {
		p.Close()
		return nil, err
	}
	p.r = io.MultiReader(bytes.NewReader(rest), ptyFile)
	return p, nil
}
