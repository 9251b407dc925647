package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/recstore/internal/config"
	"github.com/roach88/recstore/internal/lock"
	"github.com/roach88/recstore/internal/store"
)

// session is an open store plus the lock guarding it.
type session struct {
	store  *store.Store
	lock   *lock.Lock
	logger *slog.Logger
	out    *OutputFormatter
}

// loadConfig resolves configuration: defaults, then the --config file,
// then RECSTORE_* environment variables, then --data.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return config.Config{}, err
		}
	}
	cfg = cfg.ApplyEnv(os.Getenv)
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	return cfg, cfg.Validate()
}

// newLogger builds the diagnostic logger. Logs always go to stderr so JSON
// output on stdout stays parseable.
func newLogger(opts *RootOptions, cfg config.Config, w io.Writer) *slog.Logger {
	level := cfg.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if opts.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// lockSupported is lock.Supported; tests flip it to check the warning.
var lockSupported = lock.Supported

// openSession loads config, takes the data-root lock and opens the store.
// The lock is held until close so no other process mutates the snapshot
// underneath this one.
func openSession(opts *RootOptions, cmd *cobra.Command, extra ...store.Option) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	logger := newLogger(opts, cfg, cmd.ErrOrStderr())

	if !lockSupported {
		logger.Warn("advisory locking is unavailable on this platform; another process may open the same data directory",
			"lock", cfg.LockPath())
	}
	l, err := lock.Acquire(cfg.LockPath())
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, WrapExitError(ExitCommandError, "store is in use by another process", err)
		}
		return nil, WrapExitError(ExitFailure, "failed to lock store", err)
	}

	st, err := store.Open(commandContext(cmd), cfg, append([]store.Option{store.WithLogger(logger)}, extra...)...)
	if err != nil {
		_ = l.Unlock()
		return nil, storeFailure("failed to open store", err)
	}
	logger.Debug("store ready", "data_dir", cfg.DataDir, "store_id", st.StoreID())

	return &session{
		store:  st,
		lock:   l,
		logger: logger,
		out:    newFormatter(opts, cmd),
	}, nil
}

func (s *session) close() {
	if err := s.lock.Unlock(); err != nil {
		s.logger.Error("error releasing lock", "error", err)
	}
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute (as in tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
