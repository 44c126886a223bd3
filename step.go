package bringup

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the variant of a Step.
type Kind uint8

const (
	KindHalt Kind = iota
	KindSetCoreState
	KindWriteMemory
	KindWait
	KindFlashWrite
	KindReset
	KindShutdown
)

var kindNames = [...]string{
	KindHalt:         "Halt",
	KindSetCoreState: "SetCoreState",
	KindWriteMemory:  "WriteMemory",
	KindWait:         "Wait",
	KindFlashWrite:   "FlashWrite",
	KindReset:        "Reset",
	KindShutdown:     "Shutdown",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// CoreState is the instruction decoding mode the debug adapter assumes for the target core.
type CoreState uint8

const (
	ARM CoreState = iota
	Thumb
)

func (c CoreState) String() string {
	switch c {
	case ARM:
		return "arm"
	case Thumb:
		return "thumb"
	default:
		return "CoreState(" + strconv.Itoa(int(c)) + ")"
	}
}

// ParseCoreState returns the CoreState named by s ("arm" or "thumb", case insensitive).
func ParseCoreState(s string) (CoreState, error) {
	switch strings.ToLower(s) {
	case "arm":
		return ARM, nil
	case "thumb":
		return Thumb, nil
	}
	return 0, fmt.Errorf("unknown core state %q", s)
}

// Step is a single instruction of a bring-up sequence. The set of Steps is closed: Halt, SetCoreState, WriteMemory,
// Wait, FlashWrite, Reset and Shutdown.
// String renders the Step as the equivalent OpenOCD command.
type Step interface {
	Kind() Kind
	String() string

	step()
}

// Halt requests the target core to halt and blocks until it has halted. A positive Timeout overrides the halt
// timeout of the run for this step.
type Halt struct {
	Timeout time.Duration
}

// SetCoreState selects the core state used by the debug adapter for subsequent memory operations.
type SetCoreState struct {
	State CoreState
}

// WriteMemory performs a single 32-bit write to the target's memory-mapped register space. The value is not read
// back.
type WriteMemory struct {
	Addr  uint32
	Value uint32
}

// Wait suspends the sequence for at least Duration. A zero (or negative) Duration is a no-op.
type Wait struct {
	Duration time.Duration
}

// WaitMillis returns a Wait Step of ms milliseconds.
func WaitMillis(ms uint32) Wait {
	return Wait{time.Duration(ms) * time.Millisecond}
}

// FlashWrite hands Image to the probe host's flash programming algorithm for the given bank, at Offset bytes into
// the bank. Bank and Offset are not interpreted by the sequencer.
type FlashWrite struct {
	Bank   int
	Image  string
	Offset uint32
}

// Reset resets the target and lets it run.
type Reset struct{}

// Shutdown ends the programming session and releases the debug adapter.
type Shutdown struct{}

func (Halt) Kind() Kind         { return KindHalt }
func (SetCoreState) Kind() Kind { return KindSetCoreState }
func (WriteMemory) Kind() Kind  { return KindWriteMemory }
func (Wait) Kind() Kind         { return KindWait }
func (FlashWrite) Kind() Kind   { return KindFlashWrite }
func (Reset) Kind() Kind        { return KindReset }
func (Shutdown) Kind() Kind     { return KindShutdown }

func (s Halt) String() string {
	if s.Timeout > 0 {
		return "halt " + strconv.FormatInt(ceilMillis(s.Timeout), 10)
	}
	return "halt"
}

func (s SetCoreState) String() string { return "arm core_state " + s.State.String() }

func (s WriteMemory) String() string { return fmt.Sprintf("mww 0x%08x 0x%08x", s.Addr, s.Value) }

func (s Wait) String() string { return "sleep " + strconv.FormatInt(ceilMillis(s.Duration), 10) }

func (s FlashWrite) String() string {
	return fmt.Sprintf("flash write_bank %d %s 0x%x", s.Bank, quoteArg(s.Image), s.Offset)
}

func (Reset) String() string { return "reset run" }

func (Shutdown) String() string { return "shutdown" }

func (Halt) step()         {}
func (SetCoreState) step() {}
func (WriteMemory) step()  {}
func (Wait) step()         {}
func (FlashWrite) step()   {}
func (Reset) step()        {}
func (Shutdown) step()     {}

// ceilMillis returns d in whole milliseconds, rounded up so that a rendered delay is never shorter than d.
// Non-positive durations are 0.
func ceilMillis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}

// quoteArg double-quotes a command argument if it is empty or contains whitespace or quotes.
func quoteArg(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'\\#") {
		return s
	}
	return strconv.Quote(s)
}

// Verify that each variant satisfies Step.
var (
	_ Step = Halt{}
	_ Step = SetCoreState{}
	_ Step = WriteMemory{}
	_ Step = Wait{}
	_ Step = FlashWrite{}
	_ Step = Reset{}
	_ Step = Shutdown{}
)
