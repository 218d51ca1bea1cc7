package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration    = errors.New("configuration error")
	ErrLocked           = errors.New("backup root is locked by another run")
	ErrReadinessTimeout = errors.New("database readiness timeout")
	ErrDump             = errors.New("dump error")
	ErrArchive          = errors.New("archive error")
	ErrEncryption       = errors.New("encryption error")
	ErrRetention        = errors.New("retention error")
)

// StageError carries the stage a run failed in, its error kind and the cause.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func NewStageError(stage Stage, kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func (e *StageError) Is(target error) bool {
	return target == e.Kind
}

// DumpError reports a dump tool that exited unsuccessfully.
type DumpError struct {
	Engine     string
	ExitCode   int
	StderrTail string
	Err        error
}

func (e *DumpError) Error() string {
	if e.StderrTail == "" {
		return fmt.Sprintf("%s dump exited with code %d: %v", e.Engine, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s dump exited with code %d: %s", e.Engine, e.ExitCode, e.StderrTail)
}

func (e *DumpError) Unwrap() error {
	return e.Err
}

func (e *DumpError) Is(target error) bool {
	return target == ErrDump
}

// ExitCode maps a run error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrConfiguration):
		return 2
	case errors.Is(err, ErrLocked):
		return 3
	case errors.Is(err, ErrReadinessTimeout):
		return 4
	case errors.Is(err, ErrDump):
		return 5
	case errors.Is(err, ErrArchive):
		return 6
	case errors.Is(err, ErrEncryption):
		return 7
	default:
		return 1
	}
}
