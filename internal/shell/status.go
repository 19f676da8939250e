package shell

import (
	"errors"
	"io/fs"
	"os/exec"

	"github.com/marcelocantos/vssh/internal/pipeline"
)

// Exit statuses for stages that never produced a process.
const (
	StatusNotFound      = 127
	StatusCannotExecute = 126
	StatusFailure       = 1
)

// ExitStatus maps the last stage of a run to a shell exit status.
func ExitStatus(rep *pipeline.Report) int {
	if rep == nil || len(rep.Stages) == 0 {
		return 0
	}
	last := rep.Stages[len(rep.Stages)-1]
	err := last.Err
	switch {
	case err == nil:
		if last.ExitCode < 0 {
			// Killed by a signal.
			return StatusFailure
		}
		return last.ExitCode
	case pipeline.IsEmpty(err):
		return 0
	case errors.Is(err, pipeline.ErrExec) &&
		(errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)):
		return StatusNotFound
	case errors.Is(err, pipeline.ErrExec), errors.Is(err, pipeline.ErrPolicyDenied):
		return StatusCannotExecute
	default:
		return StatusFailure
	}
}
