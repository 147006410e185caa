package process

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a Supervisor.
type Option func(*config)

type config struct {
	args       []string
	dir        string
	env        map[string]string
	logger     *zap.Logger
	grace      time.Duration
	onExit     func(error)
	lineBuffer int
}

func defaultConfig() config {
	return config{
		logger:     zap.NewNop(),
		grace:      3 * time.Second,
		lineBuffer: 256,
	}
}

// WithArgs sets the command line arguments.
func WithArgs(args ...string) Option {
	return func(c *config) { c.args = append([]string(nil), args...) }
}

// WithDir sets the working directory of the process.
func WithDir(dir string) Option {
	return func(c *config) { c.dir = dir }
}

// WithEnv adds environment variables on top of the parent environment.
func WithEnv(env map[string]string) Option {
	return func(c *config) {
		if c.env == nil {
			c.env = make(map[string]string, len(env))
		}
		for k, v := range env {
			c.env[k] = v
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithShutdownGrace sets how long Dispose waits between escalation steps.
func WithShutdownGrace(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.grace = d
		}
	}
}

// WithOnExit registers a callback run once when the process exits.
func WithOnExit(fn func(error)) Option {
	return func(c *config) { c.onExit = fn }
}

// WithLineBuffer sets the capacity of the merged line channel.
func WithLineBuffer(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.lineBuffer = n
		}
	}
}
