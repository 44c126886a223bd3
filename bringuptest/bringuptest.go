// Package bringuptest provides a recording bringup.Target for tests.
package bringuptest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mkock/bringup"
)

// ErrInjected is the error returned by a Recorder at its FailAt call unless Err is set.
var ErrInjected = errors.New("injected failure")

// Recorder is a bringup.Target that records every call as the equivalent Step. Sleep returns immediately.
type Recorder struct {
	// FailAt makes the n-th call (1-based, Close excluded) fail. Zero disables failure injection.
	FailAt int

	// Err is returned at the FailAt call. ErrInjected is used if Err is nil.
	Err error

	// Before, if set, is called before each recorded call with its 1-based number.
	Before func(n int, step bringup.Step)

	mu           sync.Mutex
	calls        []bringup.Step
	haltTimeouts []time.Duration
	closed       int
}

// Calls returns the recorded calls in order.
func (r *Recorder) Calls() []bringup.Step {
	r.mu.Lock()
	defer r.mu.Unlock()

	calls := make([]bringup.Step, len(r.calls))
	copy(calls, r.calls)
	return calls
}

// CallCount returns the number of recorded calls.
func (r *Recorder) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.calls)
}

// HaltTimeouts returns the timeouts passed to HaltAndWait.
func (r *Recorder) HaltTimeouts() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]time.Duration(nil), r.haltTimeouts...)
}

// Closed returns how many times Close was called.
func (r *Recorder) Closed() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}

// record appends step and returns the injected error if this is the FailAt call.
func (r *Recorder) record(step bringup.Step) error {
	r.mu.Lock()
	r.calls = append(r.calls, step)
	n := len(r.calls)
	before := r.Before
	r.mu.Unlock()

	if before != nil {
		before(n, step)
	}

	if r.FailAt != 0 && n == r.FailAt {
		if r.Err != nil {
			return r.Err
		}
		return ErrInjected
	}
	return nil
}

func (r *Recorder) HaltAndWait(_ context.Context, timeout time.Duration) error {
	r.mu.Lock()
	r.haltTimeouts = append(r.haltTimeouts, timeout)
	r.mu.Unlock()

	return r.record(bringup.Halt{})
}

func (r *Recorder) SetCoreState(_ context.Context, state bringup.CoreState) error {
	return r.record(bringup.SetCoreState{State: state})
}

func (r *Recorder) WriteWord(_ context.Context, addr, value uint32) error {
	return r.record(bringup.WriteMemory{Addr: addr, Value: value})
}

func (r *Recorder) Sleep(_ context.Context, d time.Duration) error {
	return r.record(bringup.Wait{Duration: d})
}

func (r *Recorder) FlashWrite(_ context.Context, bank int, image string, offset uint32) error {
	return r.record(bringup.FlashWrite{Bank: bank, Image: image, Offset: offset})
}

func (r *Recorder) Reset(_ context.Context) error {
	return r.record(bringup.Reset{})
}

func (r *Recorder) Shutdown(_ context.Context) error {
	return r.record(bringup.Shutdown{})
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed++
	return nil
}

// Verify that Recorder satisfies bringup.Target.
var _ bringup.Target = (*Recorder)(nil)
