package pipeline

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Checker vets a parsed command before it is spawned. A non-nil error
// keeps the stage from running.
type Checker interface {
	Check(c *Command) error
}

// Executor runs pipelines of external programs, one process per stage.
// The zero value reads nothing, discards output and does not log.
type Executor struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Dir    string
	Env    []string

	Logger *zap.Logger
	Policy Checker
}

// Run executes the stages as one pipeline and returns once every spawned
// process has been reaped. Per-stage failures are reported on Stderr and
// recorded in the Report; only a failure to set up the channels
// (ErrChannelAllocation) or to adapt the caller's streams (ErrStreamSetup)
// aborts the run, in which case nothing is spawned.
func (e *Executor) Run(stages []string) (*Report, error) {
	rep := &Report{
		ID:      uuid.NewString(),
		Started: time.Now(),
		Stages:  make([]StageResult, len(stages)),
	}
	defer func() { rep.Duration = time.Since(rep.Started) }()

	log := e.logger().With(zap.String("run", rep.ID))
	if len(stages) == 0 {
		return rep, nil
	}

	sio, err := newStdio(e.Stdin, e.Stdout, e.Stderr)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStreamSetup, err)
		if e.Stderr != nil {
			fmt.Fprintf(e.Stderr, "vssh: %v\n", err)
		}
		log.Info("stream setup failed", zap.Error(err))
		return rep, err
	}
	defer sio.finish()

	// Create N-1 channels before spawning anything.
	plan, err := NewPlan(len(stages))
	if err != nil {
		sio.reportf("vssh: %v\n", err)
		log.Info("channel allocation failed", zap.Int("stages", len(stages)), zap.Error(err))
		return rep, err
	}
	rep.Channels = len(plan.Channels())
	log.Debug("channels allocated", zap.Int("channels", rep.Channels))

	procs := make([]*Process, len(stages))
	for i, raw := range stages {
		res := &rep.Stages[i]
		res.Index, res.Raw, res.ExitCode = i, raw, -1

		proc, err := e.spawn(plan, sio, i, res)
		if err != nil {
			res.Err = err
			if !IsEmpty(err) {
				sio.reportf("vssh: %s: %v\n", raw, err)
				log.Info("stage not started", zap.Int("stage", i), zap.String("raw", raw), zap.Error(err))
			}
			continue
		}
		procs[i] = proc
		res.Pid = proc.Pid
		log.Debug("stage spawned", zap.Int("stage", i), zap.Int("pid", proc.Pid), zap.Strings("argv", res.Command.Args))
	}

	// The parent only brokers setup; drop every endpoint before waiting
	// so readers see end-of-stream when their writers exit.
	if err := plan.CloseAll(); err != nil {
		log.Warn("closing channels", zap.Error(err))
	}

	for i, p := range procs {
		if p == nil {
			continue
		}
		res := &rep.Stages[i]
		code, err := p.Wait()
		res.ExitCode = code
		if err != nil {
			res.Err = stageErr(i, ErrWait, err)
			sio.reportf("vssh: %s: %v\n", res.Raw, res.Err)
			log.Warn("wait failed", zap.Int("stage", i), zap.Int("pid", p.Pid), zap.Error(err))
			continue
		}
		log.Debug("stage reaped", zap.Int("stage", i), zap.Int("pid", p.Pid), zap.Int("exit", code))
	}
	return rep, nil
}

func (e *Executor) spawn(plan *Plan, sio *stdio, i int, res *StageResult) (*Process, error) {
	cmd, err := ParseStage(res.Raw)
	if err != nil {
		return nil, stageErr(i, ErrEmptyCommand, nil)
	}
	res.Command = cmd

	if e.Policy != nil {
		if err := e.Policy.Check(cmd); err != nil {
			return nil, stageErr(i, ErrPolicyDenied, err)
		}
	}

	if err := Seal(plan.Closures(i)); err != nil {
		return nil, stageErr(i, ErrSpawn, err)
	}

	s := Streams{Stdin: sio.in, Stdout: sio.out, Stderr: sio.err}
	b := plan.Bindings(i)
	if f := b.In.File(); f != nil {
		s.Stdin = f
	}
	if f := b.Out.File(); f != nil {
		s.Stdout = f
	}

	proc, err := SpawnAndExec(cmd, s, SpawnAttr{Dir: e.Dir, Env: e.Env})
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			se.Stage = i
			return nil, se
		}
		return nil, stageErr(i, ErrSpawn, err)
	}
	return proc, nil
}

func (e *Executor) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}
