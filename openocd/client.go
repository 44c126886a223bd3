// Package openocd drives a running OpenOCD instance through its Tcl RPC port and converts OpenOCD scripts to and
// from bring-up sequences.
package openocd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/mkock/bringup"
)

// DefaultAddr is OpenOCD's default Tcl RPC address.
const DefaultAddr = "localhost:6666"

// terminator ends every command and every reply on the Tcl RPC port.
const terminator = 0x1a

// Config holds the client configuration.
type Config struct {
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// CommandTimeout bounds a single command round trip.
	CommandTimeout time.Duration

	// FlashTimeout bounds a flash write, which includes erase and verify.
	FlashTimeout time.Duration

	// CoreStateCommand is the command selecting ARM or Thumb decoding. Older OpenOCD releases call it
	// "armv4_5 core_state".
	CoreStateCommand string
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		DialTimeout:      5 * time.Second,
		CommandTimeout:   10 * time.Second,
		FlashTimeout:     5 * time.Minute,
		CoreStateCommand: "arm core_state",
	}
}

// Option is a functional option for configuring the Client.
type Option func(*Config)

// WithDialTimeout sets the connect timeout.
func WithDialTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.DialTimeout = timeout
		}
	}
}

// WithCommandTimeout sets the timeout of ordinary commands.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.CommandTimeout = timeout
		}
	}
}

// WithFlashTimeout sets the timeout of flash writes.
func WithFlashTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.FlashTimeout = timeout
		}
	}
}

// WithCoreStateCommand overrides the core state command, e.g. "armv4_5 core_state".
func WithCoreStateCommand(cmd string) Option {
	return func(c *Config) {
		if cmd != "" {
			c.CoreStateCommand = cmd
		}
	}
}

// CommandError is returned when OpenOCD evaluated a command and reported an error.
type CommandError struct {
	Command string
	Message string
}

// Error returns the error message for a CommandError.
func (e *CommandError) Error() string {
	return fmt.Sprintf("openocd: %s: %s", e.Command, e.Message)
}

// ProtocolError is returned when a reply cannot be understood.
type ProtocolError string

// Error returns the error message for a ProtocolError.
func (e ProtocolError) Error() string {
	return fmt.Sprintf("openocd: malformed reply: %q", string(e))
}

// Client is a bringup.Target backed by an OpenOCD Tcl RPC connection.
// Client is safe for concurrent use; commands are serialised.
type Client struct {
	mu     sync.Mutex // Protects conn, r and closed.
	conn   net.Conn
	r      *bufio.Reader
	closed bool
	config Config
}

// Dial connects to OpenOCD's Tcl RPC server at addr.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial openocd at %s: %w", addr, err)
	}

	glog.V(1).Infof("openocd: connected to %s", addr)
	return NewClient(conn, opts...), nil
}

// NewClient returns a Client using an established connection.
func NewClient(conn net.Conn, opts ...Option) *Client {
	if conn == nil {
		panic("conn cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Client{conn: conn, r: bufio.NewReader(conn), config: cfg}
}

// Raw sends cmd verbatim and returns OpenOCD's reply without interpreting it.
func (c *Client) Raw(ctx context.Context, timeout time.Duration, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.roundTrip(ctx, timeout, cmd)
}

// Command evaluates cmd and returns its result, or a *CommandError if OpenOCD reported a failure.
func (c *Client) Command(ctx context.Context, timeout time.Duration, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	glog.V(2).Infof("openocd: > %s", cmd)

	reply, err := c.roundTrip(ctx, timeout, "list [catch {"+cmd+"} e] $e")
	if err != nil {
		return "", err
	}

	code, msg, err := parseReply(reply)
	if err != nil {
		return "", err
	}
	glog.V(2).Infof("openocd: < %d %s", code, msg)

	if code != 0 {
		return "", &CommandError{Command: cmd, Message: msg}
	}
	return msg, nil
}

// roundTrip writes cmd and reads one reply. c.mu must be held.
func (c *Client) roundTrip(ctx context.Context, timeout time.Duration, cmd string) (string, error) {
	if c.closed {
		return "", net.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return "", err
	}

	// Unblock the connection if ctx ends mid-command.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			_ = c.conn.SetDeadline(time.Unix(1, 0))
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	if _, err := c.conn.Write(append([]byte(cmd), terminator)); err != nil {
		c.abandon()
		return "", c.ctxErr(ctx, fmt.Errorf("send %q: %w", cmd, err))
	}

	reply, err := c.r.ReadString(terminator)
	if err != nil {
		c.abandon()
		return "", c.ctxErr(ctx, fmt.Errorf("read reply to %q: %w", cmd, err))
	}

	return strings.TrimSuffix(reply, string(rune(terminator))), nil
}

// abandon closes a connection whose reply stream can no longer be trusted. A late reply to a timed out command
// would otherwise be taken as the reply to the next one. c.mu must be held.
func (c *Client) abandon() {
	if c.closed {
		return
	}
	c.closed = true
	if err := c.conn.Close(); err != nil {
		glog.V(1).Infof("openocd: closing connection: %v", err)
	}
}

// ctxErr prefers the context's error over the I/O error it caused.
func (c *Client) ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}

// parseReply splits the result of "list [catch {...} e] $e" into the catch code and message.
func parseReply(reply string) (int, string, error) {
	reply = strings.TrimSpace(reply)

	head, rest := reply, ""
	if i := strings.IndexByte(reply, ' '); i >= 0 {
		head, rest = reply[:i], strings.TrimSpace(reply[i+1:])
	}

	var code int
	switch head {
	case "0":
		code = 0
	case "1", "2", "3", "4":
		code = int(head[0] - '0')
	default:
		return 0, "", ProtocolError(reply)
	}

	if len(rest) >= 2 && rest[0] == '{' && rest[len(rest)-1] == '}' {
		rest = rest[1 : len(rest)-1]
	}

	// catch returns 2 for "return", which is not a failure.
	if code == 2 {
		code = 0
	}
	return code, strings.TrimSpace(rest), nil
}

// HaltAndWait sends "halt" followed by "wait_halt" with timeout in milliseconds. If OpenOCD reports that the core
// did not halt, the error wraps bringup.ErrHaltTimeout.
func (c *Client) HaltAndWait(ctx context.Context, timeout time.Duration) error {
	if _, err := c.Command(ctx, c.config.CommandTimeout, "halt"); err != nil {
		return haltErr(err)
	}

	ms := timeout.Milliseconds()
	if _, err := c.Command(ctx, timeout+c.config.CommandTimeout, fmt.Sprintf("wait_halt %d", ms)); err != nil {
		return haltErr(err)
	}
	return nil
}

// haltErr marks OpenOCD's own halt failures as halt timeouts.
func haltErr(err error) error {
	var cerr *CommandError
	if errors.As(err, &cerr) {
		return fmt.Errorf("%w: %v", bringup.ErrHaltTimeout, err)
	}
	return err
}

// SetCoreState sends the configured core state command, "arm core_state arm" by default.
func (c *Client) SetCoreState(ctx context.Context, state bringup.CoreState) error {
	_, err := c.Command(ctx, c.config.CommandTimeout, c.config.CoreStateCommand+" "+state.String())
	return err
}

// WriteWord sends "mww addr value".
func (c *Client) WriteWord(ctx context.Context, addr, value uint32) error {
	_, err := c.Command(ctx, c.config.CommandTimeout, bringup.WriteMemory{Addr: addr, Value: value}.String())
	return err
}

// Sleep waits on the host; OpenOCD is not involved.
func (c *Client) Sleep(ctx context.Context, d time.Duration) error {
	return bringup.Sleep(ctx, d)
}

// FlashWrite sends "flash write_bank" and waits up to the flash timeout for OpenOCD to erase, program and verify
// the bank. image is resolved by OpenOCD, relative to its own working directory.
func (c *Client) FlashWrite(ctx context.Context, bank int, image string, offset uint32) error {
	cmd := bringup.FlashWrite{Bank: bank, Image: image, Offset: offset}.String()
	glog.Infof("openocd: writing %s to flash bank %d at 0x%x", image, bank, offset)

	start := time.Now()
	out, err := c.Command(ctx, c.config.FlashTimeout, cmd)
	if err != nil {
		return err
	}

	glog.Infof("openocd: flash write done in %s", time.Since(start))
	if out != "" {
		glog.V(1).Infof("openocd: %s", out)
	}
	return nil
}

// Reset sends "reset run".
func (c *Client) Reset(ctx context.Context) error {
	_, err := c.Command(ctx, c.config.CommandTimeout, bringup.Reset{}.String())
	return err
}

// Shutdown asks OpenOCD to exit and closes the connection. OpenOCD may close the connection before replying.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.Raw(ctx, c.config.CommandTimeout, bringup.Shutdown{}.String())
	if cerr := c.Close(); err == nil {
		err = cerr
	}

	if err != nil && isClosedConn(err) {
		return nil
	}
	return err
}

// isClosedConn reports whether err means the peer went away. OpenOCD exiting with unread input resets the
// connection instead of closing it.
func isClosedConn(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}

// Close closes the connection. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Verify that Client satisfies bringup.Target.
var _ bringup.Target = (*Client)(nil)
var _ error = (*CommandError)(nil)
var _ error = ProtocolError("")
