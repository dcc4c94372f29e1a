package transport

import (
	"errors"
	"io"
	"os/exec"
)

func startInteractive(cmd *exec.Cmd, trigger []byte, echo io.Writer) (*Process, error) {
	return nil, errors.New("interactive proxy commands need a pty, use -i=false")
}
