package pipeline

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"syscall"
)

// Streams are the descriptors a stage's stdin, stdout and stderr are
// bound to before any file redirect is applied. A nil stream is
// connected to the null device.
type Streams struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

// SpawnAttr carries the process attributes shared by every stage.
type SpawnAttr struct {
	Dir string
	Env []string // nil inherits the parent environment
}

// Process is a spawned stage.
type Process struct {
	Pid int
	cmd *exec.Cmd
}

// Wait reaps the process. A non-zero exit or a death by signal is not an
// error; the code is returned as is (-1 for a signal).
func (p *Process) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// SpawnAndExec opens the command's redirect files, binds them over the
// given streams (a redirect always wins over a channel), and starts the
// program found on PATH with argv exactly as parsed. The redirect files
// are closed in the parent once the child holds its own copies.
//
// Errors are *StageError values of kind ErrRedirectOpen, ErrExec or
// ErrSpawn; the caller fills in the stage index.
func SpawnAndExec(c *Command, s Streams, attr SpawnAttr) (*Process, error) {
	var opened []*os.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	in, out := s.Stdin, s.Stdout
	if c.InputRedirect != "" {
		f, err := os.OpenFile(c.InputRedirect, os.O_RDONLY, 0)
		if err != nil {
			return nil, stageErr(0, ErrRedirectOpen, err)
		}
		opened = append(opened, f)
		in = f
	}
	if c.OutputRedirect != "" {
		f, err := os.OpenFile(c.OutputRedirect, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, OutputFileMode)
		if err != nil {
			return nil, stageErr(0, ErrRedirectOpen, err)
		}
		opened = append(opened, f)
		out = f
	}

	cmd := exec.Command(c.Name, c.Args[1:]...)
	cmd.Args = c.Args
	cmd.Dir = attr.Dir
	cmd.Env = attr.Env
	// Assign only non-nil files: a typed nil would not read as "unset".
	if in != nil {
		cmd.Stdin = in
	}
	if out != nil {
		cmd.Stdout = out
	}
	if s.Stderr != nil {
		cmd.Stderr = s.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, stageErr(0, classifyStart(err), err)
	}
	return &Process{Pid: cmd.Process.Pid, cmd: cmd}, nil
}

// classifyStart separates "the program cannot be run" from "no process
// could be created".
func classifyStart(err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound),
		errors.Is(err, exec.ErrDot),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, fs.ErrPermission),
		errors.Is(err, syscall.ENOEXEC),
		errors.Is(err, syscall.EISDIR):
		return ErrExec
	default:
		return ErrSpawn
	}
}
