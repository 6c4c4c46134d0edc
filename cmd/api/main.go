package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/clipvault/clipvault/internal/auth"
	"github.com/clipvault/clipvault/internal/config"
	"github.com/clipvault/clipvault/internal/db"
	"github.com/clipvault/clipvault/internal/handlers"
	"github.com/clipvault/clipvault/internal/ingest"
	"github.com/clipvault/clipvault/internal/inspect"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/scan"
	"github.com/clipvault/clipvault/internal/server"
	"github.com/clipvault/clipvault/internal/storage"
	"github.com/clipvault/clipvault/internal/upload"
	"github.com/clipvault/clipvault/internal/users"
	"github.com/clipvault/clipvault/internal/version"
	"github.com/clipvault/clipvault/internal/videos"
)

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

func provideScanChain(log *slog.Logger, cfg config.Config) *scan.Chain {
	var scanners []scan.Scanner
	if s := scan.NewReputationScanner(cfg.Scan.ReputationAPIKey, cfg.Scan.ReputationBaseURL, nil); s != nil {
		scanners = append(scanners, s)
	}
	if s := scan.NewUploadScanner(cfg.Scan.ReputationAPIKey, cfg.Scan.ReputationBaseURL, nil); s != nil {
		scanners = append(scanners, s)
	}
	if s := scan.NewDaemonScanner(cfg.Scan.ClamAVHost, cfg.Scan.ClamAVPort); s != nil {
		scanners = append(scanners, s)
	}
	scanners = append(scanners, scan.NewHeuristicScanner())

	chain := scan.NewChain(log, scanners...)
	chain.Timeout = cfg.Scan.Timeout()
	return chain
}

func provideInspector(log *slog.Logger, cfg config.Config, chain *scan.Chain) *inspect.Inspector {
	return inspect.New(log, cfg.Upload.MaxSizeBytes, cfg.Upload.AllowedMimeTypes, chain)
}

func provideStorageGateway(log *slog.Logger, cfg config.Config) (storage.Gateway, error) {
	return storage.NewS3Gateway(context.Background(), log, cfg.Storage)
}

func provideUploadStore(log *slog.Logger, cfg config.Config) (*upload.Store, error) {
	return upload.NewStore(log, cfg.Upload.StagingDir)
}

func provideCoordinator(log *slog.Logger, cfg config.Config, inspector *inspect.Inspector, gateway storage.Gateway, videoService *videos.Service, store *upload.Store) *ingest.Coordinator {
	coordinator := ingest.NewCoordinator(log, inspector, gateway, videoService, store)
	coordinator.PublicBaseURL = cfg.Server.PublicURL
	return coordinator
}

func provideTokenVerifier(cfg config.Config) *auth.TokenVerifier {
	if cfg.Auth.ProxyKeysURL == "" {
		return nil
	}
	return auth.NewTokenVerifier(cfg.Auth.ProxyKeysURL, cfg.Auth.ProxyAud, 0)
}

func provideAuthHandler(log *slog.Logger, userService *users.Service, verifier *auth.TokenVerifier, cfg config.Config) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, userService, verifier, cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry())
}

func provideVideosHandler(log *slog.Logger, coordinator *ingest.Coordinator, videoService *videos.Service, gateway storage.Gateway, cfg config.Config) *handlers.VideosHandler {
	return handlers.NewVideosHandler(log, coordinator, videoService, gateway,
		cfg.Upload.StagingDir, cfg.Storage.SignedURLExpiry())
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.ServerHandlers...)
}

func startSessionSweeper(lc fx.Lifecycle, logger *slog.Logger, cfg config.Config, store *upload.Store) {
	c := cron.New()
	ttl := cfg.Upload.SessionExpiry()
	if _, err := c.AddFunc("@hourly", func() {
		store.Sweep(ttl)
	}); err != nil {
		logger.Error("failed to schedule session sweep", slog.Any("error", err))
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			<-c.Stop().Done()
			return nil
		},
	})
}

func startServer(
	lc fx.Lifecycle,
	logger *slog.Logger,
	srv *server.Server,
	shutdowner fx.Shutdowner,
) {
	fmt.Printf("Starting ClipVault API %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil { // block until server is stopped
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown() // shutdown the application if the server fails to start
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// graceful shutdown
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}

func main() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,

			provideScanChain,
			provideInspector,
			provideStorageGateway,
			provideUploadStore,
			provideCoordinator,
			provideTokenVerifier,

			users.NewService,
			videos.NewService,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(handlers.NewUsersHandler),
			provideServerHandler(provideVideosHandler),

			provideServer,
		),
		fx.Invoke(
			startSessionSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}
