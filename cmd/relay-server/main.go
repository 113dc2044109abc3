package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"relay/internal/config"
	"relay/internal/constants"
	"relay/internal/logger"
	"relay/pkg/logging"
)

var (
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   constants.ServiceName,
		Short: "Broker to WebSocket bridge",
		Long:  "Relay server consumes Kafka, RabbitMQ and Redis messages and fans them out to WebSocket subscribers",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigFile(earlyLog *logging.EarlyLog) (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	if env := os.Getenv("CONFIG_FILE"); env != "" {
		return env, nil
	}
	earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
	return "", fmt.Errorf("config file is required")
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog()

			path, err := resolveConfigFile(earlyLog)
			if err != nil {
				return err
			}

			cfg, err := config.Load(path)
			if err != nil {
				earlyLog.Error("Failed to load config: %v", err)
				return err
			}

			log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				earlyLog.Error("Failed to init logger: %v", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting relay server", "brokers", len(cfg.Bridge.Brokers))

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize application: %v", err)
			}

			runErr := app.Run(ctx)
			if err := app.Shutdown(context.Background()); err != nil {
				log.ErrorwCtx(ctx, "Shutdown finished with errors", "error", err)
			}
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				log.ErrorwCtx(ctx, "Service stopped with error", "error", runErr)
				return runErr
			}
			log.InfowCtx(ctx, "Service shutdown complete")
			return nil
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config file, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog()

			path, err := resolveConfigFile(earlyLog)
			if err != nil {
				return err
			}

			cfg, err := config.Load(path)
			if err != nil {
				earlyLog.Error("Invalid config: %v", err)
				return err
			}

			for _, b := range cfg.Bridge.Brokers {
				earlyLog.Info("broker %s: type=%s topics=%v prefix=%q", b.Name, b.Kind(), b.Topics, b.TopicPrefix)
			}
			earlyLog.Info("config %s is valid", path)
			return nil
		},
	}
}
