package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/threadrelay/agentcli"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, []string{"chat", "--json"}, cfg.ChatArgs)
	assert.Equal(t, []string{"models", "--json"}, cfg.ModelsArgs)
	assert.Equal(t, "--done", cfg.DoneSentinel)
	assert.Equal(t, 2*time.Minute, cfg.ReadTimeout)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "relay.yaml",
			content: `db_path: /tmp/relay.db
cli_path: /opt/bin/copilot
chat_args: [chat, --stream]
prose_mode: true
read_timeout: 45s
env:
  FOO: bar
`,
		},
		{
			name: "toml",
			file: "relay.toml",
			content: `db_path = "/tmp/relay.db"
cli_path = "/opt/bin/copilot"
chat_args = ["chat", "--stream"]
prose_mode = true
read_timeout = "45s"

[env]
FOO = "bar"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			cfg := Default()
			require.NoError(t, cfg.LoadFile(path))

			assert.Equal(t, "/tmp/relay.db", cfg.DBPath)
			assert.Equal(t, "/opt/bin/copilot", cfg.CLIPath)
			assert.Equal(t, []string{"chat", "--stream"}, cfg.ChatArgs)
			assert.True(t, cfg.ProseMode)
			assert.Equal(t, 45*time.Second, cfg.ReadTimeout)
			assert.Equal(t, map[string]string{"FOO": "bar"}, cfg.Env)
			// Untouched fields keep their defaults.
			assert.Equal(t, []string{"models", "--json"}, cfg.ModelsArgs)
			assert.Equal(t, "--done", cfg.DoneSentinel)
		})
	}
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()

	assert.Error(t, cfg.LoadFile(filepath.Join(dir, "missing.yaml")))

	ini := filepath.Join(dir, "relay.ini")
	require.NoError(t, os.WriteFile(ini, []byte("x=1"), 0o644))
	assert.ErrorContains(t, cfg.LoadFile(ini), "unsupported format")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("chat_args: {"), 0o644))
	assert.Error(t, cfg.LoadFile(bad))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RELAY_DB_PATH", "/env/relay.db")
	t.Setenv("RELAY_CHAT_ARGS", "chat --json --stream")
	t.Setenv("RELAY_FAKE_AGENT", "1")
	t.Setenv("RELAY_READ_TIMEOUT", "10s")
	t.Setenv("RELAY_SHUTDOWN_GRACE", "not-a-duration")
	t.Setenv("RELAY_LOG_LEVEL", "debug")

	cfg := Default()
	cfg.LoadFromEnv()

	assert.Equal(t, "/env/relay.db", cfg.DBPath)
	assert.Equal(t, []string{"chat", "--json", "--stream"}, cfg.ChatArgs)
	assert.True(t, cfg.FakeAgent)
	assert.Equal(t, 10*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 3*time.Second, cfg.ShutdownGrace, "invalid values are ignored")
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: /file/relay.db\nlog_level: error\n"), 0o644))
	t.Setenv("RELAY_DB_PATH", "/env/relay.db")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "/env/relay.db", cfg.DBPath)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no db path", mutate: func(c *Config) { c.DBPath = " " }, wantErr: "db_path"},
		{name: "no chat args", mutate: func(c *Config) { c.ChatArgs = nil }, wantErr: "chat_args"},
		{name: "fake needs no chat args", mutate: func(c *Config) { c.ChatArgs = nil; c.FakeAgent = true }},
		{name: "prose without sentinel", mutate: func(c *Config) { c.ProseMode = true; c.DoneSentinel = "" }, wantErr: "done_sentinel"},
		{name: "negative timeout", mutate: func(c *Config) { c.ReadTimeout = -time.Second }, wantErr: "read_timeout"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.DBPath = "/tmp/relay.db"
			tt.mutate(&cfg)

			err := cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewClient(t *testing.T) {
	cfg := Default()
	cfg.FakeAgent = true
	_, isFake := cfg.NewClient(nil).(*agentcli.Fake)
	assert.True(t, isFake)

	cfg.FakeAgent = false
	_, isCLI := cfg.NewClient(nil).(*agentcli.CLI)
	assert.True(t, isCLI)
}
