// Package config loads threadrelay settings from files and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/threadrelay/agentcli"
	"github.com/randalmurphal/threadrelay/relaycontract"
)

// EnvPrefix prefixes every environment variable the config reads.
const EnvPrefix = "RELAY_"

// Config holds threadrelay settings.
// Zero values use defaults where noted.
type Config struct {
	// --- Storage ---

	// DBPath is the SQLite database file.
	// Default: ~/.threadrelay/relay.db
	DBPath string `json:"db_path" yaml:"db_path" toml:"db_path"`

	// --- CLI ---

	// CLIPath is the assistant CLI binary. Empty resolves it from the
	// environment override, common install locations and PATH.
	CLIPath string `json:"cli_path" yaml:"cli_path" toml:"cli_path"`

	// ChatArgs start an interactive session.
	// Default: ["chat", "--json"]
	ChatArgs []string `json:"chat_args" yaml:"chat_args" toml:"chat_args"`

	// ModelsArgs list the available models as JSON.
	// Default: ["models", "--json"]
	ModelsArgs []string `json:"models_args" yaml:"models_args" toml:"models_args"`

	// ProseMode reads unstructured output, ending turns on DoneSentinel.
	ProseMode bool `json:"prose_mode" yaml:"prose_mode" toml:"prose_mode"`

	// DoneSentinel ends a turn in prose mode.
	// Default: "--done"
	DoneSentinel string `json:"done_sentinel" yaml:"done_sentinel" toml:"done_sentinel"`

	// ReadTimeout bounds the wait for each output line during a turn.
	// 0 disables the bound. Default: 2 minutes.
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout" toml:"read_timeout"`

	// ShutdownGrace is the wait between termination steps.
	// Default: 3 seconds.
	ShutdownGrace time.Duration `json:"shutdown_grace" yaml:"shutdown_grace" toml:"shutdown_grace"`

	// Env adds variables to every CLI process.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`

	// FakeAgent replaces the CLI with the built-in scripted client.
	FakeAgent bool `json:"fake_agent" yaml:"fake_agent" toml:"fake_agent"`

	// --- Workspace ---

	// HomeDir holds the global skill directory.
	// Default: the user's home directory.
	HomeDir string `json:"home_dir" yaml:"home_dir" toml:"home_dir"`

	// --- Logging ---

	// LogLevel is debug, info, warn or error.
	// Default: warn
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Default returns a Config with defaults filled in.
func Default() Config {
	cfg := Config{
		ChatArgs:      relaycontract.DefaultChatArgs(),
		ModelsArgs:    relaycontract.DefaultModelsArgs(),
		DoneSentinel:  relaycontract.DefaultDoneSentinel,
		ReadTimeout:   2 * time.Minute,
		ShutdownGrace: 3 * time.Second,
		LogLevel:      "warn",
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.DBPath = filepath.Join(home, ".threadrelay", "relay.db")
	}
	return cfg
}

// LoadFile overlays the file at path onto c. The format follows the
// extension: .yaml/.yml or .toml.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config %s: unsupported format %q", path, ext)
	}
	return nil
}

// LoadFromEnv populates fields from RELAY_* variables, which take
// precedence over existing values.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "CLI_PATH"); v != "" {
		c.CLIPath = v
	}
	if v := os.Getenv(EnvPrefix + "CHAT_ARGS"); v != "" {
		c.ChatArgs = strings.Fields(v)
	}
	if v := os.Getenv(EnvPrefix + "MODELS_ARGS"); v != "" {
		c.ModelsArgs = strings.Fields(v)
	}
	if v := os.Getenv(EnvPrefix + "PROSE_MODE"); v != "" {
		c.ProseMode = truthy(v)
	}
	if v := os.Getenv(EnvPrefix + "DONE_SENTINEL"); v != "" {
		c.DoneSentinel = v
	}
	if v := os.Getenv(EnvPrefix + "READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ReadTimeout = d
		}
	}
	if v := os.Getenv(EnvPrefix + "SHUTDOWN_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ShutdownGrace = d
		}
	}
	if v := os.Getenv(EnvPrefix + "FAKE_AGENT"); v != "" {
		c.FakeAgent = truthy(v)
	}
	if v := os.Getenv(EnvPrefix + "HOME_DIR"); v != "" {
		c.HomeDir = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func truthy(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// Load returns the defaults overlaid with the file at path (if any) and
// then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.LoadFromEnv()
	return cfg, cfg.Validate()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if !c.FakeAgent && len(c.ChatArgs) == 0 {
		errs = append(errs, errors.New("chat_args must not be empty"))
	}
	if c.ProseMode && strings.TrimSpace(c.DoneSentinel) == "" {
		errs = append(errs, errors.New("done_sentinel is required in prose mode"))
	}
	if c.ReadTimeout < 0 {
		errs = append(errs, fmt.Errorf("read_timeout must be >= 0, got %v", c.ReadTimeout))
	}
	if c.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("shutdown_grace must be >= 0, got %v", c.ShutdownGrace))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

// CLIOptions converts the CLI settings to agentcli options.
func (c *Config) CLIOptions(logger *zap.Logger) []agentcli.CLIOption {
	opts := []agentcli.CLIOption{
		agentcli.WithReadTimeout(c.ReadTimeout),
		agentcli.WithLogger(logger),
	}
	if c.CLIPath != "" {
		opts = append(opts, agentcli.WithCLIPath(c.CLIPath))
	}
	if len(c.ChatArgs) > 0 {
		opts = append(opts, agentcli.WithChatArgs(c.ChatArgs...))
	}
	if len(c.ModelsArgs) > 0 {
		opts = append(opts, agentcli.WithModelsArgs(c.ModelsArgs...))
	}
	if c.ProseMode {
		opts = append(opts, agentcli.WithProseMode(c.DoneSentinel))
	}
	if c.ShutdownGrace > 0 {
		opts = append(opts, agentcli.WithShutdownGrace(c.ShutdownGrace))
	}
	if len(c.Env) > 0 {
		opts = append(opts, agentcli.WithEnv(c.Env))
	}
	return opts
}

// NewClient builds the client the config describes.
func (c *Config) NewClient(logger *zap.Logger) agentcli.Client {
	if c.FakeAgent {
		return agentcli.NewFake()
	}
	return agentcli.NewCLI(c.CLIOptions(logger)...)
}
