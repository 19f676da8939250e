package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/marcelocantos/vssh/internal/pipeline"
)

// Entry represents one pipeline run in the audit log.
type Entry struct {
	Seq      uint64       `json:"seq"`
	Time     time.Time    `json:"ts"`
	PrevHash string       `json:"prev_hash"`
	RunID    string       `json:"run_id"`
	Pipeline string       `json:"pipeline"` // stages rejoined with " | "
	Stages   []StageEntry `json:"stages"`
	Channels int          `json:"channels"`
	ExitCode int          `json:"exit_code"`   // exit code of the last stage
	Duration float64      `json:"duration_ms"` // wall time in milliseconds
	Cwd      string       `json:"cwd"`
	Hash     string       `json:"hash"` // SHA-256 of this entry (with hash field empty)
}

// StageEntry is the record of one stage.
type StageEntry struct {
	Argv     []string `json:"argv,omitempty"`
	In       string   `json:"in,omitempty"`
	Out      string   `json:"out,omitempty"`
	Pid      int      `json:"pid,omitempty"`
	ExitCode int      `json:"exit_code"`
	Error    string   `json:"error,omitempty"`
}

// NewEntry captures a report. Seq, PrevHash and Hash are left for the
// Logger to fill in.
func NewEntry(rep *pipeline.Report, cwd string) Entry {
	e := Entry{
		Time:     rep.Started.UTC(),
		RunID:    rep.ID,
		Channels: rep.Channels,
		ExitCode: -1,
		Duration: float64(rep.Duration.Microseconds()) / 1000.0,
		Cwd:      cwd,
	}
	raw := make([]string, len(rep.Stages))
	for i, s := range rep.Stages {
		raw[i] = s.Raw
		se := StageEntry{Pid: s.Pid, ExitCode: s.ExitCode}
		if s.Command != nil {
			se.Argv = s.Command.Args
			se.In = s.Command.InputRedirect
			se.Out = s.Command.OutputRedirect
		}
		if s.Err != nil {
			se.Error = s.Err.Error()
		}
		e.Stages = append(e.Stages, se)
	}
	e.Pipeline = strings.Join(raw, " "+pipeline.OpPipe+" ")
	if n := len(rep.Stages); n > 0 {
		e.ExitCode = rep.Stages[n-1].ExitCode
	}
	return e
}

// Summary renders e on one line: sequence, start time, final exit code,
// short run id, the pipeline, and how many stages failed to run.
func (e Entry) Summary() string {
	id := e.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	line := fmt.Sprintf("#%d %s exit=%d run=%s %s",
		e.Seq, e.Time.Format(time.RFC3339), e.ExitCode, id, e.Pipeline)
	failed := 0
	for _, s := range e.Stages {
		if s.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		line += fmt.Sprintf(" [%d not run]", failed)
	}
	return line
}
