package agentcli

import (
	"time"

	"go.uber.org/zap"

	"github.com/randalmurphal/threadrelay/relaycontract"
)

// CLIOption configures a CLI client.
type CLIOption func(*cliConfig)

type cliConfig struct {
	path          string
	chatArgs      []string
	modelsArgs    []string
	prose         bool
	sentinel      string
	readTimeout   time.Duration
	shutdownGrace time.Duration
	abortGrace    time.Duration
	env           map[string]string
	logger        *zap.Logger
}

func defaultCLIConfig() cliConfig {
	return cliConfig{
		chatArgs:      relaycontract.DefaultChatArgs(),
		modelsArgs:    relaycontract.DefaultModelsArgs(),
		sentinel:      relaycontract.DefaultDoneSentinel,
		readTimeout:   2 * time.Minute,
		shutdownGrace: 3 * time.Second,
		abortGrace:    5 * time.Second,
		logger:        zap.NewNop(),
	}
}

// WithCLIPath sets the CLI binary. Empty means resolve it.
func WithCLIPath(path string) CLIOption {
	return func(c *cliConfig) { c.path = path }
}

// WithChatArgs replaces the arguments that start a chat session.
func WithChatArgs(args ...string) CLIOption {
	return func(c *cliConfig) { c.chatArgs = append([]string(nil), args...) }
}

// WithModelsArgs replaces the arguments that list models.
func WithModelsArgs(args ...string) CLIOption {
	return func(c *cliConfig) { c.modelsArgs = append([]string(nil), args...) }
}

// WithProseMode reads unstructured output and ends turns on sentinel.
// An empty sentinel keeps the default.
func WithProseMode(sentinel string) CLIOption {
	return func(c *cliConfig) {
		c.prose = true
		if sentinel != "" {
			c.sentinel = sentinel
		}
	}
}

// WithReadTimeout bounds the wait for each output line during a turn.
// Zero disables the bound.
func WithReadTimeout(d time.Duration) CLIOption {
	return func(c *cliConfig) { c.readTimeout = d }
}

// WithShutdownGrace sets the per-step grace period when closing sessions.
func WithShutdownGrace(d time.Duration) CLIOption {
	return func(c *cliConfig) { c.shutdownGrace = d }
}

// WithAbortGrace bounds how long the next Send waits for the CLI to finish
// an aborted or timed-out turn before the process is disposed.
func WithAbortGrace(d time.Duration) CLIOption {
	return func(c *cliConfig) { c.abortGrace = d }
}

// WithEnv adds environment variables to every CLI process.
func WithEnv(env map[string]string) CLIOption {
	return func(c *cliConfig) {
		if c.env == nil {
			c.env = make(map[string]string, len(env))
		}
		for k, v := range env {
			c.env[k] = v
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) CLIOption {
	return func(c *cliConfig) {
		if l != nil {
			c.logger = l
		}
	}
}
