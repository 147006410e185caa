package runtime

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/randalmurphal/threadrelay/agentcli"
	"github.com/randalmurphal/threadrelay/fault"
)

// startAttempt is an in-flight Start that late callers wait on.
type startAttempt struct {
	done chan struct{}
	err  error
}

// clientHolder owns the shared client. Start runs at most once per client;
// concurrent callers share the in-flight attempt. Every reset bumps the
// generation so a stale failure cannot reset a client twice.
type clientHolder struct {
	factory ClientFactory
	log     *zap.Logger
	onReset func()

	mu         sync.Mutex
	client     agentcli.Client
	started    bool
	starting   *startAttempt
	generation uint64
	closed     bool
}

func newClientHolder(factory ClientFactory, log *zap.Logger, onReset func()) *clientHolder {
	return &clientHolder{factory: factory, log: log, onReset: onReset}
}

// get returns the started client and its generation.
func (h *clientHolder) get(ctx context.Context) (agentcli.Client, uint64, error) {
	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return nil, 0, fmt.Errorf("client: %w", fault.ErrClosed)
		}
		if h.client == nil {
			c, err := h.factory()
			if err != nil {
				h.mu.Unlock()
				return nil, 0, fmt.Errorf("build client: %w", err)
			}
			h.client = c
		}
		if h.started {
			c, gen := h.client, h.generation
			h.mu.Unlock()
			return c, gen, nil
		}
		if a := h.starting; a != nil {
			h.mu.Unlock()
			select {
			case <-a.done:
				if a.err != nil {
					return nil, 0, a.err
				}
				continue
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			}
		}

		a := &startAttempt{done: make(chan struct{})}
		h.starting = a
		c, gen := h.client, h.generation
		h.mu.Unlock()

		err := c.Start(ctx)

		h.mu.Lock()
		h.starting = nil
		if err == nil && gen == h.generation {
			h.started = true
		}
		h.mu.Unlock()
		a.err = err
		close(a.done)

		if err != nil {
			return nil, 0, err
		}
		h.log.Debug("shared client started", zap.Uint64("generation", gen))
		return c, gen, nil
	}
}

// reset replaces the client of generation gen with a fresh one and drops
// every cached session. A reset for an older generation is a no-op.
func (h *clientHolder) reset(gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || gen != h.generation {
		return
	}

	if h.client != nil {
		if err := h.client.Stop(); err != nil {
			h.log.Debug("stop client during reset", zap.Error(err))
		}
	}
	h.client = nil
	if c, err := h.factory(); err != nil {
		h.log.Warn("rebuild client", zap.Error(err))
	} else {
		h.client = c
	}
	h.started = false
	h.generation++
	if h.onReset != nil {
		h.onReset()
	}
	h.log.Info("shared client reset", zap.Uint64("generation", h.generation))
}

// current returns the live generation.
func (h *clientHolder) current() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.generation
}

// close stops the client for good.
func (h *clientHolder) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.client == nil {
		return nil
	}
	return h.client.Stop()
}
