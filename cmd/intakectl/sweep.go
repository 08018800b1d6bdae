package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/hookclient"
	"github.com/bigkaa/caseflow/intake-module/internal/inference"
	"github.com/bigkaa/caseflow/intake-module/internal/repository"
	"github.com/bigkaa/caseflow/intake-module/internal/service"
	"github.com/bigkaa/caseflow/intake-module/internal/ticketing"
)

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Проходы планировщика отложенных действий",
	}
	cmd.AddCommand(sweepRunCmd(), sweepListCmd())
	return cmd
}

func sweepNames() string {
	names := make([]string, 0, len(model.AllSweeps))
	for _, n := range model.AllSweeps {
		names = append(names, string(n))
	}
	return strings.Join(names, ", ")
}

func sweepRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <name>",
		Short: "Выполнить проход один раз",
		Long:  "Выполняет проход синхронно. Доступные проходы: " + sweepNames(),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := model.SweepName(args[0])
			if !model.IsValidSweep(name) {
				return fmt.Errorf("неизвестный проход %q, доступны: %s", args[0], sweepNames())
			}

			ctx := cmd.Context()
			e, err := connect(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			scheduler, escalation, err := buildScheduler(e)
			if err != nil {
				return err
			}
			res, runErr := scheduler.RunSweep(ctx, name)

			// Дожидаемся созданных в фоне тикетов
			shutdownCtx, cancel := contextWithTimeout(e.cfg.TicketingTimeout * 2)
			defer cancel()
			_ = escalation.Shutdown(shutdownCtx)

			if runErr != nil {
				return runErr
			}
			if jsonOutput(cmd) {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"%s: выбрано=%d выполнено=%d перенесено=%d пропущено=%d ошибок=%d (%s)\n",
				res.Sweep, res.Selected, res.Triggered, res.Rescheduled, res.Skipped, res.Failed,
				res.CompletedAt.Sub(res.StartedAt).Round(time.Millisecond))
			return nil
		},
	}
}

func sweepListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Показать итоги последних запусков проходов",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			states, err := repository.NewSweepStateRepository(e.pool).List(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(states)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ПРОХОД\tПОСЛЕДНИЙ ЗАПУСК\tЗАПУСКОВ\tВЫПОЛНЕНО\tОШИБОК")
			for _, s := range states {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n",
					s.Sweep, s.LastRunAt.Format(time.RFC3339), s.RunsTotal,
					s.LastResult.Triggered, s.LastResult.Failed)
			}
			return tw.Flush()
		},
	}
}

// buildScheduler собирает планировщик так же, как сервис.
func buildScheduler(e *env) (*service.Scheduler, *service.EscalationService, error) {
	cfg, logger := e.cfg, e.logger

	inferenceClient, err := inference.New(cfg.InferenceURL, cfg.InferenceAPIKey, cfg.InferenceTimeout, cfg.CACertPath, logger)
	if err != nil {
		return nil, nil, err
	}
	hookClient, err := hookclient.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	ticketClient, err := ticketing.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	caseRepo := repository.NewCaseRepository(e.pool, repository.NewTxRunner(e.pool))
	updater := service.NewCaseUpdater(caseRepo)
	escalation := service.NewEscalationService(
		ticketClient, updater,
		cfg.TicketingRatePerSecond, cfg.TicketingBurst, cfg.TicketingTimeout,
		logger,
	)
	dedupRunner := service.NewDedupRunner(
		caseRepo, updater, inferenceClient,
		cfg.InferenceTimeout, cfg.DedupGuardStaleAfter,
		logger,
	)
	scheduler := service.NewScheduler(
		service.SchedulerConfig{
			Concurrency:            cfg.SweepConcurrency,
			BatchSize:              cfg.SweepBatchSize,
			ProcessingWebhookDelay: cfg.ProcessingWebhookDelay,
			UploadQuietPeriod:      cfg.UploadQuietPeriod,
			SevenDayReviewDelay:    cfg.SevenDayReviewDelay,
			AutoConfirmWindow:      cfg.AutoConfirmWindow,
			DocumentReminderAfter:  cfg.DocumentReminderAfter,
			LoginReminderAfter:     cfg.LoginReminderAfter,
			RededupDelay:           cfg.RededupDelay,
		},
		caseRepo, updater, hookClient, escalation, dedupRunner,
		repository.NewSweepStateRepository(e.pool),
		logger,
	)
	return scheduler, escalation, nil
}
