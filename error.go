package bringup

import (
	"errors"
	"fmt"
	"strconv"
)

const (
	// notStartedErrorMessage triggers when Agent.Wait is called before Agent.Start.
	notStartedErrorMessage = "not started"

	// inProgressErrorMessage triggers when Agent.Start is called on an Agent that is already running.
	inProgressErrorMessage = "already in progress"

	// doneErrorMessage triggers when Agent.Start is called on an Agent that has already run.
	doneErrorMessage = "has already run"
)

var (
	// ErrHaltTimeout is returned (possibly wrapped) by a Target whose core did not halt in time.
	ErrHaltTimeout = errors.New("target did not halt")

	// ErrTargetBusy indicates that another sequence currently owns the target.
	ErrTargetBusy = errors.New("target is owned by another session")

	errNilStep       = errors.New("nil step")
	errAfterShutdown = errors.New("step follows shutdown")
	errUnknownStep   = errors.New("unknown step type")
)

// ErrorKind classifies the failure of a single step.
type ErrorKind uint8

const (
	// HaltTimeout means the target did not halt within the allotted time.
	HaltTimeout ErrorKind = iota + 1

	// Transport means communication with the debug adapter failed.
	Transport

	// FlashProgramming means the probe host's flash algorithm reported an erase, write or verify failure. The flash
	// may be left partially erased.
	FlashProgramming

	// UnexpectedStepOrder means the sequence itself is malformed.
	UnexpectedStepOrder

	// Cancelled means the context was cancelled before the step could run.
	Cancelled
)

func (k ErrorKind) String() string {
	switch k {
	case HaltTimeout:
		return "halt timeout"
	case Transport:
		return "transport error"
	case FlashProgramming:
		return "flash programming error"
	case UnexpectedStepOrder:
		return "unexpected step order"
	case Cancelled:
		return "cancelled"
	default:
		return "ErrorKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// SequenceError reports the step that stopped a sequence. Index is 1-based.
type SequenceError struct {
	Index int
	Step  Step
	Kind  ErrorKind
	Err   error
}

// Error returns the error message for a SequenceError.
func (e *SequenceError) Error() string {
	if e.Step == nil {
		return fmt.Sprintf("step %d: %s: %v", e.Index, e.Kind, e.Err)
	}
	return fmt.Sprintf("step %d (%s): %s: %v", e.Index, e.Step.Kind(), e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SequenceError) Unwrap() error {
	return e.Err
}

// EmptySequenceError indicates a sequence without steps.
type EmptySequenceError string

// Error returns the error message for a EmptySequenceError.
func (e EmptySequenceError) Error() string {
	return fmt.Sprintf("empty bring-up sequence: %q", string(e))
}

// InvalidStateError indicates that the Agent was unable to run the sequence, either because it is already running,
// or because it has already completed.
type InvalidStateError string

// Error returns the error message for a InvalidStateError.
func (i InvalidStateError) Error() string {
	return fmt.Sprintf("cannot run sequence: %s", string(i))
}

// Check that errors satisfy the error interface.
var _ error = (*SequenceError)(nil)
var _ error = EmptySequenceError("")
var _ error = InvalidStateError("")
