package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/caseflow/intake-module/internal/repository"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Очередь входящих webhook",
	}

	var (
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "Показать задачи очереди",
		Example: `  intakectl jobs list --status failed
  intakectl jobs list --status retrying --limit 20 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			var filter *string
			if status != "" {
				filter = &status
			}
			jobs, err := repository.NewWebhookJobRepository(e.pool).ListByStatus(cmd.Context(), filter, limit)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(jobs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB ID\tСТАТУС\tПОВТОРОВ\tСОЗДАНА\tОШИБКА")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
					j.JobID, j.Status, j.RetryCount, j.MaxRetries,
					j.CreatedAt.Format(time.RFC3339), truncate(j.ErrorDetails, 60))
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVarP(&status, "status", "s", "", "фильтр по статусу (pending, processing, completed, failed, retrying)")
	list.Flags().IntVarP(&limit, "limit", "n", 50, "максимум задач")

	cmd.AddCommand(list)
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
