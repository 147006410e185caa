package agentcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/randalmurphal/threadrelay/fault"
	"github.com/randalmurphal/threadrelay/process"
	"github.com/randalmurphal/threadrelay/relaycontract"
)

// CLI is a Client backed by the real assistant CLI. Each session runs its
// own CLI process.
type CLI struct {
	cfg cliConfig
	log *zap.Logger

	mu          sync.Mutex
	started     bool
	binary      string
	path        string
	token       string
	tokenSource string
	sessions    map[*cliSession]struct{}
}

var _ Client = (*CLI)(nil)

// NewCLI creates a CLI client. Nothing is resolved until Start.
func NewCLI(opts ...CLIOption) *CLI {
	cfg := defaultCLIConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CLI{
		cfg:      cfg,
		log:      cfg.logger.With(zap.String("component", "agentcli")),
		sessions: make(map[*cliSession]struct{}),
	}
}

// Start resolves the binary and credentials.
func (c *CLI) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	binary, err := ResolveBinary(c.cfg.path)
	if err != nil {
		return err
	}
	path := ExtendPath(os.Getenv("PATH"))
	token, source := ResolveToken(ctx, path)

	c.binary, c.path = binary, path
	c.token, c.tokenSource = token, source
	c.started = true
	c.log.Info("cli client started",
		zap.String("binary", binary),
		zap.Bool("token", token != ""),
		zap.String("token_source", source))
	return nil
}

// Stop closes every open session.
func (c *CLI) Stop() error {
	c.mu.Lock()
	sessions := make([]*cliSession, 0, len(c.sessions))
	for s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.started = false
	c.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
	c.log.Debug("cli client stopped", zap.Int("sessions_closed", len(sessions)))
	return nil
}

// ListModels runs the models command and parses its JSON output, either
// an array or an object with a "models" array.
func (c *CLI) ListModels(ctx context.Context) ([]ModelInfo, error) {
	binary, env, err := c.snapshot()
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, binary, c.cfg.modelsArgs...)
	cmd.Env = env
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, classifyCLIError("list models", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr))))
		}
		return nil, classifyCLIError("list models", err)
	}
	return parseModels(out)
}

func parseModels(out []byte) ([]ModelInfo, error) {
	var models []ModelInfo
	if err := json.Unmarshal(out, &models); err == nil {
		return models, nil
	}
	var wrapped struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.Unmarshal(out, &wrapped); err != nil {
		return nil, fmt.Errorf("parse models: %w", err)
	}
	return wrapped.Models, nil
}

// AuthStatus reports whether a token was found.
func (c *CLI) AuthStatus(ctx context.Context) (*AuthStatus, error) {
	if _, _, err := c.snapshot(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	token, source := c.token, c.tokenSource
	c.mu.Unlock()

	if token == "" {
		return &AuthStatus{
			IsAuthenticated: false,
			StatusMessage:   fmt.Sprintf("Not authenticated. Set %s or run `gh auth login`.", relaycontract.EnvGitHubToken),
			Host:            relaycontract.DefaultHost,
		}, nil
	}
	authType := "token"
	if source == TokenSourceGH {
		authType = "user"
	}
	return &AuthStatus{
		IsAuthenticated: true,
		StatusMessage:   "Authenticated via " + source,
		Host:            relaycontract.DefaultHost,
		AuthType:        authType,
	}, nil
}

// CreateSession starts a new CLI session.
func (c *CLI) CreateSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	return c.open(ctx, uuid.NewString(), false, cfg)
}

// ResumeSession starts a CLI process resuming sessionID.
func (c *CLI) ResumeSession(ctx context.Context, sessionID string, cfg SessionConfig) (Session, error) {
	if sessionID == "" {
		return nil, errors.New("resume session: empty session id")
	}
	return c.open(ctx, sessionID, true, cfg)
}

func (c *CLI) open(ctx context.Context, id string, resume bool, cfg SessionConfig) (Session, error) {
	binary, _, err := c.snapshot()
	if err != nil {
		return nil, err
	}

	args := append([]string(nil), c.cfg.chatArgs...)
	if resume {
		args = append(args, relaycontract.FlagResume, id)
	} else {
		args = append(args, relaycontract.FlagSession, id)
	}
	if cfg.Model != "" {
		args = append(args, relaycontract.FlagModel, cfg.Model)
	}
	for _, dir := range cfg.SkillDirectories {
		args = append(args, relaycontract.FlagAddDir, dir)
	}
	args = append(args, relaycontract.FlagLogLvl, relaycontract.LogLvlError)

	log := c.log.With(zap.String("thread_id", cfg.ThreadID), zap.String("session_id", id))
	sup := process.New(binary,
		process.WithArgs(args...),
		process.WithDir(cfg.WorkingDirectory),
		process.WithEnv(c.processEnv()),
		process.WithLogger(log),
		process.WithShutdownGrace(c.cfg.shutdownGrace),
	)

	s := newCLISession(id, cfg, sup, c.cfg, log)
	if err := sup.Start(ctx); err != nil {
		sup.Dispose()
		return nil, err
	}
	go s.readLoop()

	c.mu.Lock()
	c.sessions[s] = struct{}{}
	c.mu.Unlock()
	go func() {
		<-s.Done()
		c.mu.Lock()
		delete(c.sessions, s)
		c.mu.Unlock()
	}()

	log.Info("session opened", zap.Bool("resume", resume), zap.String("model", cfg.Model))
	return s, nil
}

// snapshot returns the binary and process environment of a started client.
func (c *CLI) snapshot() (string, []string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return "", nil, fmt.Errorf("cli client: %w", fault.ErrNotRunning)
	}
	env := os.Environ()
	for k, v := range c.processEnvLocked() {
		env = append(env, k+"="+v)
	}
	return c.binary, env, nil
}

func (c *CLI) processEnv() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processEnvLocked()
}

func (c *CLI) processEnvLocked() map[string]string {
	env := map[string]string{"PATH": c.path}
	if c.token != "" {
		env[relaycontract.EnvGitHubToken] = c.token
	}
	for k, v := range c.cfg.env {
		env[k] = v
	}
	return env
}

// classifyCLIError marks authentication failures as fatal and leaves
// everything else to the transport classifier.
func classifyCLIError(op string, err error) error {
	if isAuthText(err.Error()) {
		return fault.Fatal(op, fmt.Errorf("%w: %v", fault.ErrAuthRequired, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
