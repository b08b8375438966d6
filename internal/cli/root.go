// Package cli implements quizpeer, a command-line quiz peer. Every invocation
// connects to the shared store as one peer, resumes the saved session and acts
// through the same services a game client uses.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/mcoot/basequiz/internal/factory"
	"github.com/mcoot/basequiz/internal/metrics"
	"github.com/mcoot/basequiz/internal/model"
)

// env is what every subcommand acts through. It is filled in by the root's
// PersistentPreRunE once flags are parsed.
type env struct {
	cfg    *Config
	logger *slog.Logger
	app    *factory.App

	// registry holds this invocation's collectors; cleanup serve exposes it
	registry *prometheus.Registry
}

// identity returns the signed-in user or a hint to sign in
func (e *env) identity() (model.Identity, error) {
	id, err := e.app.Identity.Current()
	if err != nil {
		return model.Identity{}, errors.New("not signed in: run 'quizpeer user guest' or 'quizpeer user login' first")
	}
	return id, nil
}

// NewRootCmd creates the root command. Without --verbose only warnings and
// errors reach logger.
func NewRootCmd(logger *slog.Logger) *cobra.Command {
	cmd, _ := newRoot(logger)
	return cmd
}

func newRoot(logger *slog.Logger) (*cobra.Command, *env) {
	e := &env{cfg: DefaultConfig(), logger: logger}
	cfg := e.cfg

	rootCmd := &cobra.Command{
		Use:   "quizpeer",
		Short: "Command-line peer for the multiplayer quiz",
		Long: `quizpeer connects to the quiz's shared store as one peer.

It manages identities, rooms, game results, leaderboards and room chat, and
can run the peer-side cleanup service that expires departed guests and
deletes abandoned rooms.

Every flag can also be set with a QUIZPEER_ environment variable
(--redis-url becomes QUIZPEER_REDIS_URL) or a YAML file passed with --config.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfg.ConfigFile == "" {
				cfg.ConfigFile = os.Getenv(envPrefix + "_CONFIG")
			}
			if err := bindFlags(cmd.Flags(), cfg.ConfigFile); err != nil {
				return err
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			if !cfg.Verbose {
				e.logger = slog.New(minLevel(e.logger.Handler(), slog.LevelWarn))
			}
			return e.connect(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return e.close()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	// Global flags
	fs := rootCmd.PersistentFlags()
	fs.StringVar(&cfg.Storage, "storage", cfg.Storage, "Store backend: memory or redis (env: QUIZPEER_STORAGE)")
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for the redis backend (env: QUIZPEER_REDIS_URL)")
	fs.StringVar(&cfg.KeyPrefix, "key-prefix", cfg.KeyPrefix, "Redis key prefix of the deployment (env: QUIZPEER_KEY_PREFIX)")
	fs.StringVar(&cfg.SessionFile, "session-file", cfg.SessionFile, "Session file path (env: QUIZPEER_SESSION_FILE)")
	fs.StringVar(&cfg.ConfigFile, "config", "", "YAML config file (env: QUIZPEER_CONFIG)")
	fs.StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output format: text, json, yaml (env: QUIZPEER_OUTPUT)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose logging (env: QUIZPEER_VERBOSE)")
	fs.DurationVar(&cfg.LockTimeout, "lock-timeout", cfg.LockTimeout, "Age after which a cleanup lock is abandoned (env: QUIZPEER_LOCK_TIMEOUT)")
	fs.DurationVar(&cfg.GuestTTL, "guest-ttl", cfg.GuestTTL, "How long a disconnected guest is kept (env: QUIZPEER_GUEST_TTL)")
	fs.DurationVar(&cfg.CleanupInterval, "cleanup-interval", cfg.CleanupInterval, "Time between cleanup cycles (env: QUIZPEER_CLEANUP_INTERVAL)")
	fs.IntVar(&cfg.ChatLimit, "chat-limit", cfg.ChatLimit, "Messages kept in a chat feed (env: QUIZPEER_CHAT_LIMIT)")

	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	// Add subcommands
	rootCmd.AddCommand(newUserCmd(e))
	rootCmd.AddCommand(newRoomCmd(e))
	rootCmd.AddCommand(newStatsCmd(e))
	rootCmd.AddCommand(newLeaderboardCmd(e))
	rootCmd.AddCommand(newChatCmd(e))
	rootCmd.AddCommand(newCleanupCmd(e))
	rootCmd.AddCommand(newHealthCmd(e))

	return rootCmd, e
}

// connect builds the peer and resumes the saved session. A session whose user
// was cleaned up in the meantime is dropped.
func (e *env) connect(ctx context.Context) error {
	fc := e.cfg.factoryConfig()
	fc.Logger = e.logger
	if e.app == nil {
		e.registry = prometheus.NewRegistry()
		e.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		fc.Metrics = metrics.NewWithRegistry(e.registry)

		app, err := factory.New(fc)
		if err != nil {
			return err
		}
		e.app = app
	}

	if err := e.cfg.LoadSession(); err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if e.cfg.Session != "" {
		_, err := e.app.Identity.Resume(ctx, e.cfg.Session)
		switch {
		case errors.Is(err, model.ErrUserNotFound):
			e.logger.Warn("saved session no longer exists, signing out", "uid", e.cfg.Session)
			if err := e.cfg.ClearSession(); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("resume session: %w", err)
		}
	}
	return nil
}

func (e *env) close() error {
	if e.app == nil {
		return nil
	}
	err := e.app.Close()
	e.app = nil
	return err
}

// Run executes one invocation with args. The peer is disconnected afterwards
// even when the command fails, so its disconnect hooks always fire.
func Run(ctx context.Context, logger *slog.Logger, args []string, stdout, stderr io.Writer) error {
	cmd, e := newRoot(logger)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	return errors.Join(err, e.close())
}

// Execute runs the process's command line until it finishes or the process is
// signalled, and returns the exit code
func Execute(logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, logger, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		NewOutput(os.Stderr, "text").PrintError(err)
		return 1
	}
	return 0
}

// minLevel wraps a handler so records below floor are dropped
func minLevel(h slog.Handler, floor slog.Level) slog.Handler {
	return &levelHandler{Handler: h, min: floor}
}

type levelHandler struct {
	slog.Handler
	min slog.Level
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min && h.Handler.Enabled(ctx, level)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithAttrs(attrs), min: h.min}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithGroup(name), min: h.min}
}

// outputTo binds the output format to a command's writer
func (e *env) outputTo(w io.Writer) *Output {
	return NewOutput(w, e.cfg.Output)
}
