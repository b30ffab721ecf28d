// Package main - точка входа движка прогресса и достижений PhysioHub.
//
// progressd ведёт учёт пройденных тем, просмотренного материала и квизов,
// считает серии дней и выдаёт достижения. Транспорт - HTTP API.
//
//	progressd serve             запустить API
//	progressd migrate up        применить миграции
//	progressd migrate down      откатить последнюю миграцию
//	progressd migrate status    показать состояние миграций
//	progressd flags             показать feature flags
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/physiohub/progress-engine/config"
	"github.com/physiohub/progress-engine/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:           "progressd",
	Short:         "Learner progress and achievement engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringSlice("env-file", []string{".env"}, "dotenv files to load before reading the environment")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(flagsCmd)
}

func main() {
	// Корневой контекст отменяется по SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig читает конфигурацию с учётом --env-file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	files, err := cmd.Flags().GetStringSlice("env-file")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *logger.Logger {
	level := logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		level = logger.LevelDebug
	}

	return logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     level,
		Format:    logger.Format(cfg.Observability.LogFormat),
		AddCaller: !cfg.IsProduction(),
	}).With(
		logger.String("service", cfg.App.Name),
		logger.String("version", cfg.App.Version),
	)
}
