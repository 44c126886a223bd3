package bringup

import (
	"context"
	"time"
)

// Target is the probe host's control surface for one connected target. Implementations need not be safe for
// concurrent use; a Session serialises access.
type Target interface {
	// HaltAndWait requests a halt and blocks until the core reports halted. It returns an error wrapping
	// ErrHaltTimeout if that did not happen within timeout.
	HaltAndWait(ctx context.Context, timeout time.Duration) error

	// SetCoreState selects ARM or Thumb decoding for subsequent memory operations.
	SetCoreState(ctx context.Context, state CoreState) error

	// WriteWord writes a single 32-bit word.
	WriteWord(ctx context.Context, addr, value uint32) error

	// Sleep blocks for d.
	Sleep(ctx context.Context, d time.Duration) error

	// FlashWrite erases and programs the image into the given flash bank at offset.
	FlashWrite(ctx context.Context, bank int, image string, offset uint32) error

	// Reset asserts and releases the target's reset.
	Reset(ctx context.Context) error

	// Shutdown terminates the programming session on the probe host.
	Shutdown(ctx context.Context) error

	// Close releases the connection to the probe host. It must be safe to call after Shutdown.
	Close() error
}

// Sleep blocks for d or until ctx is done, whichever happens first. It returns ctx.Err() if ctx ended the wait.
// Target implementations without a device-side delay can use it for Target.Sleep.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// detached carries the values of its parent but is never cancelled.
type detached struct {
	context.Context
}

func (detached) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detached) Done() <-chan struct{}       { return nil }
func (detached) Err() error                  { return nil }
