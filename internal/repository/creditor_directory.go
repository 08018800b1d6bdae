package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
)

// CreditorDirectoryRepository — справочник контактов кредиторов.
type CreditorDirectoryRepository interface {
	// FindByNormalizedName ищет запись по нормализованному наименованию.
	FindByNormalizedName(ctx context.Context, normalized string) (*model.CreditorContact, error)
	// Upsert создаёт или обновляет запись по normalized_name.
	Upsert(ctx context.Context, c *model.CreditorContact) error
	// List возвращает записи по алфавиту.
	List(ctx context.Context, limit, offset int) ([]*model.CreditorContact, error)
}

type creditorDirectoryRepo struct {
	db DBTX
}

// NewCreditorDirectoryRepository создаёт репозиторий справочника.
func NewCreditorDirectoryRepository(db DBTX) CreditorDirectoryRepository {
	return &creditorDirectoryRepo{db: db}
}

func (r *creditorDirectoryRepo) FindByNormalizedName(ctx context.Context, normalized string) (*model.CreditorContact, error) {
	c := &model.CreditorContact{}
	err := r.db.QueryRow(ctx, `
		SELECT id, name, normalized_name, email, address, updated_at
		FROM creditor_directory
		WHERE normalized_name = $1`, normalized,
	).Scan(&c.ID, &c.Name, &c.NormalizedName, &c.Email, &c.Address, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска в справочнике: %w", err)
	}
	return c, nil
}

func (r *creditorDirectoryRepo) Upsert(ctx context.Context, c *model.CreditorContact) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO creditor_directory (id, name, normalized_name, email, address)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (normalized_name) DO UPDATE
			SET name = EXCLUDED.name,
				email = EXCLUDED.email,
				address = EXCLUDED.address,
				updated_at = NOW()
		RETURNING id, updated_at`,
		c.ID, c.Name, c.NormalizedName, c.Email, c.Address,
	).Scan(&c.ID, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения записи справочника: %w", err)
	}
	return nil
}

func (r *creditorDirectoryRepo) List(ctx context.Context, limit, offset int) ([]*model.CreditorContact, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, normalized_name, email, address, updated_at
		FROM creditor_directory
		ORDER BY name
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения справочника: %w", err)
	}
	defer rows.Close()

	var result []*model.CreditorContact
	for rows.Next() {
		c := &model.CreditorContact{}
		if err := rows.Scan(&c.ID, &c.Name, &c.NormalizedName, &c.Email, &c.Address, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования справочника: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
