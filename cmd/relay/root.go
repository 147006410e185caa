package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/randalmurphal/threadrelay/agentcli"
	"github.com/randalmurphal/threadrelay/config"
	"github.com/randalmurphal/threadrelay/runtime"
	"github.com/randalmurphal/threadrelay/store"
	"github.com/randalmurphal/threadrelay/workspace"
)

// rootOptions are the persistent flags.
type rootOptions struct {
	configPath string
	dbPath     string
	fake       bool
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run assistant CLI conversations as persistent threads",
		Long: `relay brokers sessions with the assistant CLI for many conversation
threads, records every transcript in SQLite and recovers from dropped CLI
streams.

Quick Start:
  relay workspace add .                  # Register the current folder
  relay thread create <workspace-id>     # Start a thread
  relay send <thread-id> "explain main"  # Send a prompt and stream the reply
  relay messages <thread-id>             # Print the transcript`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Config file (.yaml, .yml or .toml)")
	flags.StringVar(&opts.dbPath, "db", "", "SQLite database path")
	flags.BoolVar(&opts.fake, "fake", false, "Use the built-in scripted agent instead of the CLI")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(
		newModelsCmd(opts),
		newAuthCmd(opts),
		newWorkspaceCmd(opts),
		newThreadCmd(opts),
		newSendCmd(opts),
		newMessagesCmd(opts),
		newSkillsCmd(opts),
		newSchemaCmd(),
	)
	return cmd
}

// app is everything a command needs, opened from the flags and config.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	store    *store.Store
	skills   *workspace.SkillIndex
	resolver *workspace.Resolver
	svc      *runtime.Service
}

func openApp(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	if opts.fake {
		cfg.FakeAgent = true
	}
	if opts.debug {
		cfg.LogLevel = "debug"
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DBPath, store.WithLogger(log))
	if err != nil {
		return nil, err
	}

	skills := workspace.NewSkillIndex(workspace.WithIndexLogger(log))
	resolver := workspace.NewResolver(st,
		workspace.WithHomeDir(cfg.HomeDir),
		workspace.WithSkillIndex(skills))

	svc := runtime.New(st, resolver,
		runtime.WithLogger(log),
		runtime.WithClientFactory(func() (agentcli.Client, error) {
			return cfg.NewClient(log), nil
		}))

	return &app{cfg: cfg, log: log, store: st, skills: skills, resolver: resolver, svc: svc}, nil
}

func (a *app) Close() error {
	err := a.svc.Close()
	if cerr := a.skills.Close(); err == nil {
		err = cerr
	}
	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	_ = a.log.Sync()
	return err
}

// newLogger logs to stderr at level, in the production encoding.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

// withApp runs fn with an opened app and closes it afterwards.
func withApp(opts *rootOptions, fn func(*app) error) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
