package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/buzz-im/buzz-server/internal/app"
	"github.com/buzz-im/buzz-server/internal/config"
	"github.com/buzz-im/buzz-server/internal/log"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "buzz-server",
		Short: "Realtime chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath)
		},
	}
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(configPath string) error {
	// .env is optional; real deployments set env vars directly.
	_ = godotenv.Load()

	bootLog := log.New("info", "console")

	cfg, path, err := config.Load(bootLog, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info().Str("config", path).Str("addr", cfg.Addr).Msg("starting buzz server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("server exited: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
