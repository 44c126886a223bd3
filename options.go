package bringup

import "time"

// DefaultHaltTimeout matches OpenOCD's default wait_halt timeout.
const DefaultHaltTimeout = 5 * time.Second

// Config holds the Agent configuration.
type Config struct {
	// HaltTimeout bounds how long a Halt step waits for the core to halt.
	HaltTimeout time.Duration

	// ProgressCallback is called after every step and once more when the sequence ends (optional).
	ProgressCallback func(Progress)

	// CloseOnError closes the target connection when a step fails.
	CloseOnError bool
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		HaltTimeout:  DefaultHaltTimeout,
		CloseOnError: true,
	}
}

// Option is a functional option for configuring an Agent.
type Option func(*Config)

// WithHaltTimeout sets the time a Halt step may take. Non-positive values are ignored.
func WithHaltTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.HaltTimeout = timeout
		}
	}
}

// WithProgressCallback sets a function that receives every Progress report. It is called from the sequence's
// goroutine and should return quickly.
func WithProgressCallback(callback func(Progress)) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithCloseOnError enables or disables the best-effort Target.Close after a failed step. Default is true.
func WithCloseOnError(enabled bool) Option {
	return func(c *Config) {
		c.CloseOnError = enabled
	}
}
