package openocd

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/mkock/bringup"
)

// ScriptError reports a script line that could not be converted into a step.
type ScriptError struct {
	Line int
	Text string
	Err  error
}

// Error returns the error message for a ScriptError.
func (e *ScriptError) Error() string {
	return fmt.Sprintf("line %d: %q: %v", e.Line, e.Text, e.Err)
}

// Unwrap returns the underlying error.
func (e *ScriptError) Unwrap() error {
	return e.Err
}

// ParseScript converts an OpenOCD command script into a bring-up sequence named name. Blank lines and '#' comments
// are skipped. A timeout given to halt or wait_halt becomes the Halt step's Timeout. The recognised commands are halt, wait_halt, arm/armv4_5 core_state, mww, wait, sleep, flash write,
// flash write_bank, reset [run] and shutdown; anything else is an error.
func ParseScript(name string, r io.Reader) (*bringup.Sequence, error) {
	var steps []bringup.Step

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())

		args, err := shlex.Split(text)
		if err != nil {
			return nil, &ScriptError{line, text, err}
		}
		if len(args) == 0 {
			continue
		}

		st, err := parseCommand(args)
		if err != nil {
			return nil, &ScriptError{line, text, err}
		}
		steps = append(steps, st)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	seq := bringup.New(name, steps...)
	if err := seq.Validate(); err != nil {
		return nil, err
	}
	return seq, nil
}

// parseCommand converts one tokenised command.
func parseCommand(args []string) (bringup.Step, error) {
	cmd, args := args[0], args[1:]

	switch cmd {
	case "halt", "wait_halt":
		if len(args) > 1 {
			return nil, errArgs(cmd, "[ms]")
		}
		var halt bringup.Halt
		if len(args) == 1 {
			ms, err := parseUint32(args[0])
			if err != nil {
				return nil, err
			}
			halt.Timeout = time.Duration(ms) * time.Millisecond
		}
		return halt, nil

	case "arm", "armv4_5":
		if len(args) != 2 || args[0] != "core_state" {
			return nil, errArgs(cmd, "core_state arm|thumb")
		}
		state, err := bringup.ParseCoreState(args[1])
		if err != nil {
			return nil, err
		}
		return bringup.SetCoreState{State: state}, nil

	case "mww":
		if len(args) != 2 {
			return nil, errArgs(cmd, "address value")
		}
		addr, err := parseUint32(args[0])
		if err != nil {
			return nil, err
		}
		value, err := parseUint32(args[1])
		if err != nil {
			return nil, err
		}
		return bringup.WriteMemory{Addr: addr, Value: value}, nil

	case "wait", "sleep":
		if len(args) != 1 {
			return nil, errArgs(cmd, "ms")
		}
		ms, err := parseUint32(args[0])
		if err != nil {
			return nil, err
		}
		return bringup.WaitMillis(ms), nil

	case "flash":
		if len(args) < 3 || len(args) > 4 || (args[0] != "write" && args[0] != "write_bank") {
			return nil, errArgs(cmd, "write_bank bank file [offset]")
		}
		bank, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("bad bank %q", args[1])
		}
		var offset uint32
		if len(args) == 4 {
			if offset, err = parseUint32(args[3]); err != nil {
				return nil, err
			}
		}
		return bringup.FlashWrite{Bank: bank, Image: args[2], Offset: offset}, nil

	case "reset":
		if len(args) > 1 || (len(args) == 1 && args[0] != "run") {
			return nil, errArgs(cmd, "[run]")
		}
		return bringup.Reset{}, nil

	case "shutdown":
		if len(args) != 0 {
			return nil, errArgs(cmd, "")
		}
		return bringup.Shutdown{}, nil
	}

	return nil, fmt.Errorf("unsupported command %q", cmd)
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return uint32(v), nil
}

func errArgs(cmd, usage string) error {
	return fmt.Errorf("usage: %s %s", cmd, usage)
}

// WriteScript writes seq as an OpenOCD script, preceded by a comment naming the sequence.
func WriteScript(w io.Writer, seq *bringup.Sequence) error {
	if _, err := fmt.Fprintf(w, "# %s\n", seq.Name()); err != nil {
		return err
	}
	_, err := io.WriteString(w, seq.String())
	return err
}

var _ error = (*ScriptError)(nil)
