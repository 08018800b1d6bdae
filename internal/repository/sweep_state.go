package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
)

// SweepStateRepository — итоги последних запусков проходов (таблица sweep_state).
type SweepStateRepository interface {
	// List возвращает состояние всех запускавшихся проходов.
	List(ctx context.Context) ([]model.SweepState, error)
	// Record сохраняет итог прохода и увеличивает счётчик запусков.
	Record(ctx context.Context, result model.SweepResult) error
}

type sweepStateRepo struct {
	db DBTX
}

// NewSweepStateRepository создаёт репозиторий состояния проходов.
func NewSweepStateRepository(db DBTX) SweepStateRepository {
	return &sweepStateRepo{db: db}
}

func (r *sweepStateRepo) List(ctx context.Context) ([]model.SweepState, error) {
	rows, err := r.db.Query(ctx, `
		SELECT sweep, last_run_at, last_result, runs_total
		FROM sweep_state
		ORDER BY sweep`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения sweep_state: %w", err)
	}
	defer rows.Close()

	var result []model.SweepState
	for rows.Next() {
		var (
			s      model.SweepState
			name   string
			rawRes []byte
		)
		if err := rows.Scan(&name, &s.LastRunAt, &rawRes, &s.RunsTotal); err != nil {
			return nil, fmt.Errorf("ошибка сканирования sweep_state: %w", err)
		}
		s.Sweep = model.SweepName(name)
		if err := json.Unmarshal(rawRes, &s.LastResult); err != nil {
			return nil, fmt.Errorf("ошибка разбора last_result: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *sweepStateRepo) Record(ctx context.Context, res model.SweepResult) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("ошибка сериализации итога прохода: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO sweep_state (sweep, last_run_at, last_result, runs_total)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (sweep) DO UPDATE
			SET last_run_at = EXCLUDED.last_run_at,
				last_result = EXCLUDED.last_result,
				runs_total = sweep_state.runs_total + 1,
				updated_at = NOW()`,
		string(res.Sweep), res.StartedAt, raw,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи sweep_state: %w", err)
	}
	return nil
}
