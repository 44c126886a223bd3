package openocd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/mkock/bringup"
	"github.com/mkock/bringup/at91sam7"
)

var catchPattern = regexp.MustCompile(`^list \[catch \{(.*)\} e\] \$e$`)

// Special handler codes of the fake server.
const (
	codeNoReply = -1 // the command is read but never answered
	codeReset   = -2 // the connection is reset instead of answered
)

// fakeServer mimics OpenOCD's Tcl RPC port. handle maps a command to its catch code and result; it is also consulted
// for shutdown, where a plain code gets OpenOCD's usual farewell.
type fakeServer struct {
	ln     net.Listener
	handle func(cmd string) (code int, result string)

	mu       sync.Mutex
	commands []string
	done     chan struct{}
}

func newFakeServer(t *testing.T, handle func(cmd string) (int, string)) *fakeServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &fakeServer{ln: ln, handle: handle, done: make(chan struct{})}
	go s.serve()
	t.Cleanup(func() {
		_ = ln.Close()
		<-s.done
	})
	return s
}

func (s *fakeServer) addr() string {
	return s.ln.Addr().String()
}

func (s *fakeServer) serve() {
	defer close(s.done)

	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		raw, err := r.ReadString(terminator)
		if err != nil {
			return
		}
		raw = strings.TrimSuffix(raw, "\x1a")

		cmd := raw
		if m := catchPattern.FindStringSubmatch(raw); m != nil {
			cmd = m[1]
		}

		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		s.mu.Unlock()

		code, result := 0, ""
		if s.handle != nil {
			code, result = s.handle(cmd)
		}

		if code == codeReset {
			if tc, ok := conn.(*net.TCPConn); ok {
				_ = tc.SetLinger(0)
			}
			return
		}
		if cmd == "shutdown" && code != codeNoReply {
			_, _ = conn.Write([]byte("shutdown command invoked\x1a"))
			return
		}

		var reply string
		switch {
		case code == codeNoReply:
			continue
		case result == "":
			reply = string(rune('0'+code)) + " {}"
		default:
			reply = string(rune('0'+code)) + " {" + result + "}"
		}
		if _, err := conn.Write([]byte(reply + "\x1a")); err != nil {
			return
		}
	}
}

func (s *fakeServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.commands...)
}

func dialFake(t *testing.T, s *fakeServer, opts ...Option) *Client {
	t.Helper()

	c, err := Dial(context.Background(), s.addr(), opts...)
	verifyNilErr(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientCommand(t *testing.T) {
	t.Run("it returns the result", func(t *testing.T) {
		s := newFakeServer(t, func(cmd string) (int, string) {
			return 0, "target halted in ARM state"
		})
		c := dialFake(t, s)

		out, err := c.Command(context.Background(), time.Second, "halt")
		verifyNilErr(t, err)
		if out != "target halted in ARM state" {
			t.Fatalf("unexpected result %q", out)
		}
	})

	t.Run("it reports command errors", func(t *testing.T) {
		s := newFakeServer(t, func(cmd string) (int, string) {
			return 1, "invalid command name"
		})
		c := dialFake(t, s)

		_, err := c.Command(context.Background(), time.Second, "bogus")
		var cerr *CommandError
		if !errors.As(err, &cerr) || cerr.Message != "invalid command name" || cerr.Command != "bogus" {
			t.Fatalf("expected a CommandError, got %v", err)
		}
	})

	t.Run("it times out", func(t *testing.T) {
		s := newFakeServer(t, func(cmd string) (int, string) { return codeNoReply, "" })
		c := dialFake(t, s)

		_, err := c.Command(context.Background(), 50*time.Millisecond, "halt")
		var nerr net.Error
		if !errors.As(err, &nerr) || !nerr.Timeout() {
			t.Fatalf("expected a timeout, got %v", err)
		}
	})

	t.Run("it stops on cancellation", func(t *testing.T) {
		s := newFakeServer(t, func(cmd string) (int, string) { return codeNoReply, "" })
		c := dialFake(t, s)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		_, err := c.Command(ctx, time.Minute, "halt")
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestClientAbandonsStream(t *testing.T) {
	s := newFakeServer(t, func(cmd string) (int, string) {
		if cmd == "slow" {
			time.Sleep(100 * time.Millisecond)
			return 0, "slow-result"
		}
		return 0, "fast-result"
	})
	c := dialFake(t, s)

	_, err := c.Command(context.Background(), 20*time.Millisecond, "slow")
	var nerr net.Error
	if !errors.As(err, &nerr) || !nerr.Timeout() {
		t.Fatalf("expected a timeout, got %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	out, err := c.Command(context.Background(), time.Second, "fast")
	if !errors.Is(err, net.ErrClosed) {
		t.Fatalf("expected a closed client after the timeout, got %q, %v", out, err)
	}
}

func TestClientShutdown(t *testing.T) {
	t.Run("it accepts the farewell", func(t *testing.T) {
		s := newFakeServer(t, nil)
		c := dialFake(t, s)

		verifyNilErr(t, c.Shutdown(context.Background()))
	})

	t.Run("it accepts a reset connection", func(t *testing.T) {
		s := newFakeServer(t, func(cmd string) (int, string) {
			if cmd == "shutdown" {
				return codeReset, ""
			}
			return 0, ""
		})
		c := dialFake(t, s)

		verifyNilErr(t, c.Shutdown(context.Background()))
		if _, err := c.Command(context.Background(), time.Second, "halt"); !errors.Is(err, net.ErrClosed) {
			t.Fatalf("expected a closed client, got %v", err)
		}
	})

	t.Run("it reports other failures", func(t *testing.T) {
		s := newFakeServer(t, func(cmd string) (int, string) { return codeNoReply, "" })
		c := dialFake(t, s, WithCommandTimeout(30*time.Millisecond))

		err := c.Shutdown(context.Background())
		var nerr net.Error
		if !errors.As(err, &nerr) || !nerr.Timeout() {
			t.Fatalf("expected a timeout, got %v", err)
		}
	})
}

func TestIsClosedConn(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		expected bool
	}{
		{"eof", io.EOF, true},
		{"closed", net.ErrClosed, true},
		{"reset", &net.OpError{Op: "read", Net: "tcp", Err: &os.SyscallError{Syscall: "read", Err: syscall.ECONNRESET}}, true},
		{"broken pipe", fmt.Errorf("send: %w", syscall.EPIPE), true},
		{"refused", syscall.ECONNREFUSED, false},
		{"command", &CommandError{Command: "shutdown", Message: "no"}, false},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if actual := isClosedConn(tt.err); actual != tt.expected {
				t.Fatalf("expected %v, got %v", tt.expected, actual)
			}
		})
	}
}

func TestParseReply(t *testing.T) {
	cases := []struct {
		reply string
		code  int
		msg   string
		fail  bool
	}{
		{"0 {}", 0, "", false},
		{"0 {}\n", 0, "", false},
		{"0 word", 0, "word", false},
		{"0 {two words}", 0, "two words", false},
		{"1 {target not halted}", 1, "target not halted", false},
		{"2 {}", 0, "", false},
		{"", 0, "", true},
		{"garbage", 0, "", true},
	}

	for _, tt := range cases {
		t.Run(tt.reply, func(t *testing.T) {
			code, msg, err := parseReply(tt.reply)
			if tt.fail {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			verifyNilErr(t, err)
			if code != tt.code || msg != tt.msg {
				t.Fatalf("expected (%d, %q), got (%d, %q)", tt.code, tt.msg, code, msg)
			}
		})
	}
}

func TestClientHalt(t *testing.T) {
	t.Run("it halts and waits", func(t *testing.T) {
		s := newFakeServer(t, nil)
		c := dialFake(t, s)

		verifyNilErr(t, c.HaltAndWait(context.Background(), 1500*time.Millisecond))

		expected := []string{"halt", "wait_halt 1500"}
		if got := s.received(); strings.Join(got, "|") != strings.Join(expected, "|") {
			t.Fatalf("expected %v, got %v", expected, got)
		}
	})

	t.Run("it reports halt timeouts", func(t *testing.T) {
		s := newFakeServer(t, func(cmd string) (int, string) {
			if strings.HasPrefix(cmd, "wait_halt") {
				return 1, "timed out while waiting for target halted"
			}
			return 0, ""
		})
		c := dialFake(t, s)

		err := c.HaltAndWait(context.Background(), time.Second)
		if !errors.Is(err, bringup.ErrHaltTimeout) {
			t.Fatalf("expected ErrHaltTimeout, got %v", err)
		}
	})
}

func TestClientCoreStateCommand(t *testing.T) {
	s := newFakeServer(t, nil)
	c := dialFake(t, s, WithCoreStateCommand("armv4_5 core_state"))

	verifyNilErr(t, c.SetCoreState(context.Background(), bringup.Thumb))
	if got := s.received(); len(got) != 1 || got[0] != "armv4_5 core_state thumb" {
		t.Fatalf("unexpected commands %v", got)
	}
}

func TestClientBringUp(t *testing.T) {
	t.Run("it sends the table in order", func(t *testing.T) {
		s := newFakeServer(t, nil)
		c := dialFake(t, s)

		err := bringup.Run(context.Background(), at91sam7.BringUp(""), c, bringup.WithHaltTimeout(time.Second))
		verifyNilErr(t, err)

		expected := []string{
			"halt",
			"wait_halt 1000",
			"arm core_state arm",
			"mww 0xffffff60 0x00320100",
			"mww 0xfffffd44 0xa0008000",
			"mww 0xfffffc20 0xa0000601",
			"mww 0xfffffc2c 0x00480a0e",
			"mww 0xfffffc30 0x00000007",
			"mww 0xfffffd08 0xa5000401",
			"flash write_bank 0 test.bin 0x0",
			"reset run",
			"shutdown",
		}
		got := s.received()
		if strings.Join(got, "\n") != strings.Join(expected, "\n") {
			t.Fatalf("expected\n%s\ngot\n%s", strings.Join(expected, "\n"), strings.Join(got, "\n"))
		}
	})

	t.Run("a flash failure stops the sequence", func(t *testing.T) {
		s := newFakeServer(t, func(cmd string) (int, string) {
			if strings.HasPrefix(cmd, "flash") {
				return 1, "failed erasing sectors 0 to 3"
			}
			return 0, ""
		})
		c := dialFake(t, s)

		err := bringup.Run(context.Background(), at91sam7.BringUp(""), c)

		var serr *bringup.SequenceError
		if !errors.As(err, &serr) || serr.Kind != bringup.FlashProgramming || serr.Index != 12 {
			t.Fatalf("expected a flash programming error at step 12, got %v", err)
		}
		var cerr *CommandError
		if !errors.As(err, &cerr) {
			t.Fatalf("expected the OpenOCD error to be kept, got %v", err)
		}

		got := s.received()
		if last := got[len(got)-1]; !strings.HasPrefix(last, "flash") {
			t.Fatalf("expected nothing after the flash write, got %q", last)
		}

		// The sequencer closed the connection.
		if _, err := c.Command(context.Background(), time.Second, "reset"); !errors.Is(err, net.ErrClosed) {
			t.Fatalf("expected a closed client, got %v", err)
		}
	})
}
