package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/objgraph/internal/auth"
	"github.com/conduit-lang/objgraph/internal/cli/config"
	"github.com/conduit-lang/objgraph/internal/codec"
	"github.com/conduit-lang/objgraph/internal/commit"
	"github.com/conduit-lang/objgraph/internal/diary"
	"github.com/conduit-lang/objgraph/internal/fault"
	"github.com/conduit-lang/objgraph/internal/notify"
	"github.com/conduit-lang/objgraph/internal/orm/validation"
	"github.com/conduit-lang/objgraph/internal/service"
	"github.com/conduit-lang/objgraph/internal/web/api"
	"github.com/conduit-lang/objgraph/internal/web/server"
)

// NewServeCommand creates the serve command
func NewServeCommand(flags *globalFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server for the configured schema and store.

Without schema.file the built-in diary model is served. Without
database.driver the in-memory store is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override server.port")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	meta, usesDiary, err := loadSchema(cfg.Schema)
	if err != nil {
		return err
	}
	gate, err := newGate(ctx, cfg.Auth, meta, logger)
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(ctx, cfg.Database, meta, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := validation.NewEngine(meta)
	if err != nil {
		return err
	}
	c := codec.New(meta, gate, codec.WithParallelism(cfg.Serialization.Parallelism))
	orch := commit.New(st, c, gate, engine, logger.Named("commit"))
	if usesDiary {
		orch.AddListener(diary.NewLogger(logger.Named("diary")))
	}

	if cfg.Redis.Addr != "" {
		publisher, err := notify.NewRedisPublisher(notify.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}, logger.Named("redis"))
		if err != nil {
			return err
		}
		defer publisher.Close()
		orch.AddListener(publisher)
	}

	hub := notify.NewHub(ctx, gate, logger.Named("hub"))
	go hub.Run()
	orch.AddListener(hub)

	var tokens *auth.TokenService
	if cfg.Auth.JWTSecret != "" {
		tokens = auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	} else {
		logger.Warn("auth.jwt_secret is empty; bearer tokens are disabled")
	}

	svc := service.New(st, c, gate, orch, logger.Named("service"))
	handler := api.NewRouter(svc, fault.NewTranslator(logger.Named("fault")), api.Config{
		Prefix:         cfg.Server.APIPrefix,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Tokens:         tokens,
		Directory:      auth.NewDirectory(cfg.Auth.Users),
		Notifications:  hub,
	}, logger.Named("http"))

	srvCfg := server.DefaultConfig(handler)
	srvCfg.Address = cfg.Server.Address()
	srvCfg.ReadTimeout = cfg.Server.ReadTimeout
	srvCfg.WriteTimeout = cfg.Server.WriteTimeout
	srvCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout

	srv, err := server.New(srvCfg, logger)
	if err != nil {
		return err
	}
	srv.RegisterHook(func(context.Context) error {
		hub.Shutdown()
		return nil
	})

	logger.Info("starting objgraph",
		zap.String("addr", srvCfg.Address),
		zap.String("driver", cfg.Database.Driver),
		zap.Int("types", len(meta.Types())),
		zap.Bool("redis", cfg.Redis.Addr != ""))
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
