package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"example.com/deskactivity/internal/ipc"
)

// Process is a running worker as seen by the supervisor.
type Process interface {
	PID() int
	Send(ipc.Command) error
	// Receive blocks for the next report and returns io.EOF once the worker
	// closed its output.
	Receive() (ipc.Report, error)
	// Wait blocks until the worker exits and returns its exit error.
	Wait() error
	Kill() error
}

// Launcher starts worker processes.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// ExecLauncher runs the worker as a child process speaking the ipc protocol on
// its standard input and output.
type ExecLauncher struct {
	Path   string
	Args   []string
	Env    []string
	Stderr io.Writer
}

// SelfLauncher re-executes the running binary with args.
func SelfLauncher(args ...string) (*ExecLauncher, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	return &ExecLauncher{Path: path, Args: args, Stderr: os.Stderr}, nil
}

// Launch starts a new worker.
func (l *ExecLauncher) Launch(ctx context.Context) (Process, error) {
	cmd := exec.Command(l.Path, l.Args...)
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Stderr = l.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	return &execProcess{
		cmd:   cmd,
		stdin: stdin,
		conn:  ipc.NewSupervisorConn(stdout, stdin),
	}, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	stdin io.Closer
	conn  *ipc.SupervisorConn
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Send(cmd ipc.Command) error {
	return p.conn.Send(cmd)
}

func (p *execProcess) Receive() (ipc.Report, error) {
	return p.conn.Receive()
}

func (p *execProcess) Wait() error {
	p.stdin.Close()
	return p.cmd.Wait()
}

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
