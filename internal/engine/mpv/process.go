package mpv

import (
	"context"
	"fmt"
	"os/exec"
)

// Process is a started mpv process.
type Process interface {
	// Wait blocks until the process exits.
	Wait() error
	// Kill terminates the process immediately.
	Kill() error
}

// Launcher starts mpv with args.
type Launcher func(ctx context.Context, binary string, args []string) (Process, error)

type execProcess struct{ cmd *exec.Cmd }

func (p execProcess) Wait() error { return p.cmd.Wait() }
func (p execProcess) Kill() error { return killProcess(p.cmd) }

// ExecLauncher starts mpv as a child process detached from our process group.
func ExecLauncher(_ context.Context, binary string, args []string) (Process, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("mpv not found: %w", err)
	}

	// not tied to ctx: the engine decides when mpv goes away
	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = sysProcAttr()
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start mpv: %w", err)
	}
	return execProcess{cmd: cmd}, nil
}
