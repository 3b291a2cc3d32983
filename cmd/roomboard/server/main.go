package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/astromechza/roomboard/cmd/roomboard/pkg"
	"github.com/astromechza/roomboard/pkg/api"
	"github.com/astromechza/roomboard/pkg/config"
	"github.com/astromechza/roomboard/pkg/metrics"
	"github.com/astromechza/roomboard/pkg/notify"
	"github.com/astromechza/roomboard/pkg/notify/redisbridge"
	"github.com/astromechza/roomboard/pkg/rooms"
	"github.com/astromechza/roomboard/pkg/rooms/jsonfile"
	"github.com/astromechza/roomboard/pkg/rooms/sqlstore"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	return rootCmd().ExecuteContext(context.Background())
}

type flags struct {
	configPath string
	addr       string
	driver     string
	logLevel   string
	logFormat  string
}

func rootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "roomboard-server",
		Short:         "Serve the shared room checkout board",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			logger, err := pkg.SetupLogger(os.Stderr, f.logLevel, f.logFormat)
			if err != nil {
				return err
			}
			ctx, cancel := pkg.SignalContext(cmd.Context())
			defer cancel()
			return run(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&f.addr, "addr", "", "the address to listen on (overrides listen)")
	cmd.Flags().StringVar(&f.driver, "storage", "", "storage driver: memory, json, sqlite or postgres")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "text", "log format (text, json)")

	cmd.AddCommand(&cobra.Command{
		Use:   "print-config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return config.SaveToFile("/dev/stdout", cfg)
		},
	})
	return cmd
}

func loadConfig(cmd *cobra.Command, f flags) (*config.ServerConfig, error) {
	cfg, err := config.LoadServerConfig(f.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Listen = f.addr
	}
	if cmd.Flags().Changed("storage") {
		cfg.Storage.Driver = f.driver
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openBackend(ctx context.Context, cfg config.StorageConfig) (rooms.Backend, error) {
	switch cfg.Driver {
	case "memory":
		return rooms.NewMemoryBackend(), nil
	case "json":
		return jsonfile.Open(cfg.Path)
	case "sqlite":
		return sqlstore.Open(ctx, sqlstore.DialectSQLite, cfg.Path)
	case "postgres":
		return sqlstore.Open(ctx, sqlstore.DialectPostgres, cfg.DSN)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

func run(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) error {
	logger.Info("Opening storage", "driver", cfg.Storage.Driver)
	backend, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	hub := notify.NewHub(cfg.Push.Buffer, logger)
	m := metrics.New(hub.Count)
	g, ctx := errgroup.WithContext(ctx)

	var publisher rooms.Publisher = hub
	if cfg.Redis.Addr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rc.Close()
		bridge := redisbridge.New(rc, cfg.Redis.Channel, hub, logger)
		publisher = bridge
		g.Go(func() error {
			return bridge.Run(ctx)
		})
		logger.Info("Relaying changes through redis", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel, "origin", bridge.Origin())
	}

	store := rooms.NewStore(backend, m.Publisher(publisher), rooms.WithLogger(logger))
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", "err", err)
		}
	}()
	if err := store.Seed(ctx, cfg.Rooms()); err != nil {
		return fmt.Errorf("failed to seed roster: %w", err)
	}

	srv := api.NewServer(store, hub, api.Options{
		Gate:      api.NewGate(cfg.Auth.Password, cfg.Auth.ViewerPassword, cfg.Auth.CookieName),
		Metrics:   m,
		Heartbeat: cfg.Push.Heartbeat,
		Logger:    logger,
	})
	httpServer := &http.Server{Addr: cfg.Listen, Handler: srv.Router(), ReadHeaderTimeout: 10 * time.Second}

	g.Go(func() error {
		logger.Info("Listening", "addr", cfg.Listen, "auth", cfg.Auth.Password != "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		// Push streams only end when their subscription closes.
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server close", "err", err)
			_ = httpServer.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Stopped")
	return nil
}
