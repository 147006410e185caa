package runtime

import (
	"time"

	"go.uber.org/zap"

	"github.com/randalmurphal/threadrelay/agentcli"
)

// ClientFactory builds a fresh shared client. It is called once up front
// and again after every reset.
type ClientFactory func() (agentcli.Client, error)

// Option configures a Service.
type Option func(*config)

type config struct {
	factory       ClientFactory
	logger        *zap.Logger
	recordTimeout time.Duration
}

func defaultConfig() config {
	return config{
		factory: func() (agentcli.Client, error) {
			return agentcli.NewCLI(), nil
		},
		logger:        zap.NewNop(),
		recordTimeout: 5 * time.Second,
	}
}

// WithClientFactory sets how the shared client is built.
func WithClientFactory(f ClientFactory) Option {
	return func(c *config) {
		if f != nil {
			c.factory = f
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

// WithRecordTimeout bounds each transcript write.
func WithRecordTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.recordTimeout = d
		}
	}
}
