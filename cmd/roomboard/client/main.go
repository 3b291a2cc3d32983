package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/astromechza/roomboard/cmd/roomboard/pkg"
	"github.com/astromechza/roomboard/pkg/client"
	"github.com/astromechza/roomboard/pkg/config"
	"github.com/astromechza/roomboard/pkg/reconcile"
	"github.com/astromechza/roomboard/pkg/render"
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

func rootCmd() *cobra.Command {
	var (
		configPath string
		server     string
		password   string
		transport  string
		logLevel   string
		logFormat  string
	)
	cmd := &cobra.Command{
		Use:           "roomboard-client",
		Short:         "Work the room checkout board from a terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClientConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("server") {
				cfg.Server = server
			}
			if cmd.Flags().Changed("password") {
				cfg.Password = password
			}
			if cmd.Flags().Changed("transport") {
				cfg.Transport = transport
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			logger, err := pkg.SetupLogger(os.Stderr, logLevel, logFormat)
			if err != nil {
				return err
			}
			ctx, cancel := pkg.SignalContext(cmd.Context())
			defer cancel()
			return run(ctx, cfg, logger, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&server, "server", "", "server base url")
	cmd.Flags().StringVar(&password, "password", "", "board password")
	cmd.Flags().StringVar(&transport, "transport", "", "push transport (sse, websocket)")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	return cmd
}

func run(ctx context.Context, cfg *config.ClientConfig, logger *slog.Logger, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := client.New(cfg.Server, client.Options{Timeout: cfg.RequestTimeout, Logger: logger})
	if cfg.Password != "" {
		if _, err := c.Login(ctx, cfg.Password); err != nil {
			return fmt.Errorf("failed to log in: %w", err)
		}
	}
	sess, err := c.Session(ctx)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return fmt.Errorf("the server needs a password: %w", err)
		}
		return fmt.Errorf("failed to reach server: %w", err)
	}

	var unauthorized error
	screen := render.NewScreen(out)
	session := reconcile.NewSession(c, screen, reconcile.Config{
		PollInterval:   cfg.PollInterval,
		SuppressWindow: cfg.SuppressWindow,
		RequestTimeout: cfg.RequestTimeout,
		ReconnectDelay: cfg.ReconnectDelay,
		Transport:      cfg.Transport,
		ReadOnly:       sess.ReadOnly,
		Logger:         logger,
		OnUnauthorized: func(err error) {
			unauthorized = err
			cancel()
		},
	})

	done := make(chan error, 1)
	go func() {
		done <- session.Run(ctx)
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	interp := &interpreter{board: session, editor: screen}
	func() {
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-lines:
				if !ok || interp.handle(line) {
					return
				}
			}
		}
	}()
	cancel()
	if err := <-done; err != nil {
		return err
	}
	if unauthorized != nil {
		return fmt.Errorf("session ended, log in again: %w", unauthorized)
	}
	return nil
}
