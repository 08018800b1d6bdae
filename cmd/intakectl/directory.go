package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bigkaa/caseflow/intake-module/internal/repository"
	"github.com/bigkaa/caseflow/intake-module/internal/service"
)

func directoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Справочник контактов кредиторов",
	}
	cmd.AddCommand(directoryImportCmd(), directoryListCmd())
	return cmd
}

func directoryImportCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Загрузить контакты из CSV (name;email;address)",
		Long: `Загружает контакты кредиторов из CSV с разделителем ";".
Первая строка — заголовок. Существующие записи с тем же нормализованным
наименованием обновляются.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			rows, err := readContacts(f)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "Прочитано записей: %d (dry-run, без записи в БД)\n", len(rows))
				return nil
			}

			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			enricher := service.NewEnricher(
				repository.NewCreditorDirectoryRepository(e.pool),
				e.cfg.EnrichmentCacheSize, e.cfg.EnrichmentCacheTTL, e.logger,
			)
			var imported, rejected int
			for _, r := range rows {
				if _, err := enricher.UpsertContact(cmd.Context(), r.name, r.email, r.address); err != nil {
					if !errors.Is(err, service.ErrValidation) {
						return fmt.Errorf("строка %d: %w", r.line, err)
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "строка %d пропущена: %v\n", r.line, err)
					rejected++
					continue
				}
				imported++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Загружено: %d, пропущено: %d\n", imported, rejected)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "только проверить файл")
	return cmd
}

func directoryListCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Показать записи справочника",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			contacts, err := repository.NewCreditorDirectoryRepository(e.pool).List(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(contacts)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "НАИМЕНОВАНИЕ\tE-MAIL\tАДРЕС")
			for _, c := range contacts {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, c.Email, truncate(c.Address, 50))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "максимум записей")
	cmd.Flags().IntVar(&offset, "offset", 0, "смещение")
	return cmd
}

type contactRow struct {
	line                 int
	name, email, address string
}

// readContacts разбирает CSV справочника. Пустые строки пропускаются.
func readContacts(r io.Reader) ([]contactRow, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows []contactRow
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("разбор CSV: %w", err)
		}
		line++
		if line == 1 {
			continue
		}
		field := func(i int) string {
			if i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		if field(0) == "" && field(1) == "" && field(2) == "" {
			continue
		}
		rows = append(rows, contactRow{line: line, name: field(0), email: field(1), address: field(2)})
	}
	return rows, nil
}
