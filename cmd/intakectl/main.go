// intakectl — операторская утилита Intake Module: миграции,
// ручной запуск проходов планировщика, просмотр очереди webhook
// и загрузка справочника кредиторов.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/bigkaa/caseflow/intake-module/internal/config"
	"github.com/bigkaa/caseflow/intake-module/internal/database"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "intakectl",
		Short:         "Операторская утилита Intake Module",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Bool("json", false, "вывод в JSON")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(directoryCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ошибка:", err)
		os.Exit(1)
	}
}

// env — конфигурация, логгер и пул соединений для команды.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// connect загружает конфигурацию из IM_* и подключается к PostgreSQL.
func connect(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("загрузка конфигурации: %w", err)
	}
	logger := config.SetupLogger(cfg)
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, pool: pool}, nil
}

func (e *env) close() {
	e.pool.Close()
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}
