package commands

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/conduit-lang/objgraph/internal/auth"
	"github.com/conduit-lang/objgraph/internal/cli/config"
	"github.com/conduit-lang/objgraph/internal/diary"
	"github.com/conduit-lang/objgraph/internal/orm/schema"
	"github.com/conduit-lang/objgraph/internal/orm/sqlstore"
	"github.com/conduit-lang/objgraph/internal/orm/store"
	"github.com/conduit-lang/objgraph/internal/orm/store/memstore"
)

// newLogger builds the process logger from the log section
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log.level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// loadSchema resolves the configured schema file, or the diary model when
// none is configured. usesDiary reports which one was loaded.
func loadSchema(cfg config.SchemaConfig) (meta *schema.Metadata, usesDiary bool, err error) {
	r := schema.NewRegistry()
	if cfg.File == "" {
		if err := diary.Register(r); err != nil {
			return nil, false, err
		}
		meta, err := r.Resolve()
		return meta, true, err
	}

	f, err := os.Open(cfg.File)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open schema file: %w", err)
	}
	defer f.Close()

	types, err := schema.Decode(f)
	if err != nil {
		return nil, false, err
	}
	if err := r.Register(types...); err != nil {
		return nil, false, err
	}
	meta, err = r.Resolve()
	return meta, false, err
}

// newGate combines the per-type policies with the optional rego policy file
func newGate(ctx context.Context, cfg config.AuthConfig, meta *schema.Metadata, logger *zap.Logger) (*auth.Gate, error) {
	if cfg.PolicyFile == "" {
		return auth.NewGate(meta), nil
	}
	f, err := os.Open(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy file: %w", err)
	}
	defer f.Close()

	policy, err := auth.NewRegoPolicy(ctx, f, logger)
	if err != nil {
		return nil, err
	}
	return auth.NewGate(meta, policy), nil
}

// openStore opens the configured store. The returned close func is never nil.
func openStore(ctx context.Context, cfg config.DatabaseConfig, meta *schema.Metadata, logger *zap.Logger) (store.Store, func() error, error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warn("using in-memory store; data is lost on exit")
		return memstore.New(meta), func() error { return nil }, nil
	}

	db, dialect, err := sqlstore.Open(cfg.Driver, cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("connected to database", zap.String("driver", cfg.Driver))
	return sqlstore.New(db, meta, dialect), db.Close, nil
}
