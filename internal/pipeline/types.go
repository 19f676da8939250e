package pipeline

import (
	"time"
)

// Operators recognised in pipeline syntax.
const (
	OpPipe        = "|" // stdout → stdin of the next stage
	OpRedirectIn  = "<" // redirect stdin from file
	OpRedirectOut = ">" // redirect stdout to file
)

// OutputFileMode is the permission used when a > redirect creates a file.
const OutputFileMode = 0644

// Command is one parsed pipeline stage.
type Command struct {
	Name           string   // executable as typed, also Args[0]
	Args           []string // argv, including Name
	InputRedirect  string   // file path for < redirect, empty if none
	OutputRedirect string   // file path for > redirect, empty if none
}

// StageResult records what happened to one stage of a Run.
type StageResult struct {
	Index    int
	Raw      string
	Command  *Command // nil if the stage failed to parse
	Pid      int      // 0 if no process was spawned
	ExitCode int      // -1 if the process was not reaped normally
	Err      error    // nil, or a *StageError
}

// Spawned reports whether the stage produced a process.
func (r *StageResult) Spawned() bool {
	return r.Pid != 0
}

// Report is the outcome of one Run.
type Report struct {
	ID       string
	Stages   []StageResult
	Channels int
	Started  time.Time
	Duration time.Duration
}

// Pids returns the pids of every spawned stage in stage order.
func (r *Report) Pids() []int {
	var pids []int
	for _, s := range r.Stages {
		if s.Spawned() {
			pids = append(pids, s.Pid)
		}
	}
	return pids
}

// Failed returns the stages that ended with an error other than
// ErrEmptyCommand.
func (r *Report) Failed() []StageResult {
	var out []StageResult
	for _, s := range r.Stages {
		if s.Err != nil && !IsEmpty(s.Err) {
			out = append(out, s)
		}
	}
	return out
}
