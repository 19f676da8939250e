package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCommand      = errors.New("empty command")
	ErrChannelAllocation = errors.New("channel allocation failed")
	ErrStreamSetup       = errors.New("stream setup failed")
	ErrSpawn             = errors.New("spawn failed")
	ErrRedirectOpen      = errors.New("redirect open failed")
	ErrExec              = errors.New("exec failed")
	ErrWait              = errors.New("wait failed")
	ErrPolicyDenied      = errors.New("denied by policy")
)

// StageError ties a failure kind to the stage that produced it.
// errors.Is matches both Kind and the underlying cause.
type StageError struct {
	Stage int
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stage %d: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("stage %d: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stageErr(stage int, kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// IsEmpty reports whether err marks a stage that was skipped as a no-op.
func IsEmpty(err error) bool {
	return errors.Is(err, ErrEmptyCommand)
}
