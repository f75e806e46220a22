package cubby

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/alex-shapiro/cubby/backend"
	"github.com/alex-shapiro/cubby/peer"
)

// Config configures a Replica. The zero value is not meant to be used
// directly; build one with New(opts...), which applies defaults the way
// the teacher's resolveConfig/ValuesStoreOpts do (env-var override, then
// a computed fallback).
type Config struct {
	// Backend is the persistence collaborator (spec.md §6, §9). If nil,
	// the Replica keeps state in memory only for the lifetime of the
	// process (no restart recovery).
	Backend backend.Backend
	// Logger receives ambient diagnostic output (state-sync pass sizes,
	// backend errors, clock regressions). Defaults to a logrus.Logger at
	// Info level, or the level named by CUBBY_LOG_LEVEL if set.
	Logger *logrus.Logger
	// LocalID is this replica's PeerId. Only consulted when the backend
	// (if any) has no persisted metadata yet; if empty, a fresh ID is
	// minted with peer.NewID().
	LocalID peer.ID
}

// Option mutates a Config under construction.
type Option func(*Config)

// WithBackend sets the persistence collaborator.
func WithBackend(b backend.Backend) Option {
	return func(cfg *Config) { cfg.Backend = b }
}

// WithLogger overrides the default logger.
func WithLogger(l *logrus.Logger) Option {
	return func(cfg *Config) { cfg.Logger = l }
}

// WithLocalID pins the replica's PeerId, overriding any fresh ID that
// would otherwise be minted for a backend with no persisted metadata.
func WithLocalID(id peer.ID) Option {
	return func(cfg *Config) { cfg.LocalID = id }
}

func resolveConfig(opts ...Option) *Config {
	cfg := &Config{
		Logger: defaultLogger(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger()
	}
	return cfg
}

func defaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	if env := os.Getenv("CUBBY_LOG_LEVEL"); env != "" {
		if lvl, err := logrus.ParseLevel(env); err == nil {
			l.SetLevel(lvl)
		}
	}
	return l
}
