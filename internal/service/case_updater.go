// case_updater.go — безопасное обновление агрегата дела.
//
// Все писатели (обработка результатов, ручная проверка, правки администратора,
// проходы планировщика) меняют дело только через CaseUpdater.Update:
//  1. Загрузка дела под блокировкой строки (SELECT … FOR UPDATE)
//  2. Применение mutate к глубокой копии
//  3. Проверка инвариантов агрегата
//  4. Сохранение копии в той же транзакции
//
// Ошибка mutate или проверки отменяет запись целиком.
// Внутри mutate запрещены вызовы внешних сервисов: блокировка строки
// удерживается до конца транзакции.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/domain/workflow"
)

// CaseStore — хранилище дел, с которым работает сервисный слой.
// Реализуется repository.CaseRepository.
type CaseStore interface {
	Create(ctx context.Context, c *model.Case) error
	GetByID(ctx context.Context, id string) (*model.Case, error)
	GetByCaseNumber(ctx context.Context, caseNumber string) (*model.Case, error)
	Update(ctx context.Context, id string, fn func(*model.Case) error) (*model.Case, error)
	ListDue(ctx context.Context, q model.DueQuery) ([]string, error)
	TryAcquireDedupGuard(ctx context.Context, id string, now, staleBefore time.Time) (bool, error)
	ReleaseDedupGuard(ctx context.Context, id string, now time.Time) error
}

// MutateFunc изменяет загруженное дело. Ошибка отменяет запись.
type MutateFunc func(c *model.Case) error

// CaseUpdater — обёртка безопасного обновления дела.
type CaseUpdater struct {
	store CaseStore
}

// NewCaseUpdater создаёт CaseUpdater.
func NewCaseUpdater(store CaseStore) *CaseUpdater {
	return &CaseUpdater{store: store}
}

// Get возвращает дело по UUID или по номеру дела.
func (u *CaseUpdater) Get(ctx context.Context, ref string) (*model.Case, error) {
	if _, err := uuid.Parse(ref); err == nil {
		c, err := u.store.GetByID(ctx, ref)
		return c, mapRepoError(err)
	}
	c, err := u.store.GetByCaseNumber(ctx, ref)
	return c, mapRepoError(err)
}

// Resolve возвращает UUID дела по UUID или по номеру дела.
func (u *CaseUpdater) Resolve(ctx context.Context, ref string) (string, error) {
	if _, err := uuid.Parse(ref); err == nil {
		return ref, nil
	}
	c, err := u.store.GetByCaseNumber(ctx, ref)
	if err != nil {
		return "", mapRepoError(err)
	}
	return c.ID, nil
}

// Update загружает дело, применяет mutate к копии, проверяет инварианты
// и сохраняет. Возвращает сохранённое состояние.
func (u *CaseUpdater) Update(ctx context.Context, caseID string, mutate MutateFunc) (*model.Case, error) {
	updated, err := u.store.Update(ctx, caseID, func(c *model.Case) error {
		work := c.Clone()
		if err := mutate(work); err != nil {
			return err
		}
		if err := validateCase(c, work); err != nil {
			return err
		}
		*c = *work
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	return updated, nil
}

// Create проверяет и сохраняет новое дело.
func (u *CaseUpdater) Create(ctx context.Context, c *model.Case) error {
	if err := validateCase(&model.Case{}, c); err != nil {
		return err
	}
	return mapRepoError(u.store.Create(ctx, c))
}

// validateCase проверяет инварианты агрегата после изменения.
func validateCase(before, after *model.Case) error {
	if after.ID != before.ID && before.ID != "" {
		return fmt.Errorf("%w: id дела изменён", ErrValidation)
	}
	if !workflow.IsValid(after.CurrentStatus) {
		return fmt.Errorf("%w: неизвестный статус %q", ErrValidation, after.CurrentStatus)
	}

	seen := make(map[string]bool, len(after.FinalCreditorList))
	for i := range after.FinalCreditorList {
		id := after.FinalCreditorList[i].ID
		if id == "" {
			return fmt.Errorf("%w: кредитор без id", ErrValidation)
		}
		if seen[id] {
			return fmt.Errorf("%w: повторный id кредитора %s", ErrValidation, id)
		}
		seen[id] = true
	}

	for i := range after.Documents {
		d := &after.Documents[i]
		if !model.IsValidDocumentStatus(d.DocumentStatus) {
			return fmt.Errorf("%w: документ %s: неизвестный document_status %q", ErrValidation, d.ID, d.DocumentStatus)
		}
	}

	// Журнал статусов только дополняется
	if len(after.StatusHistory) < len(before.StatusHistory) {
		return fmt.Errorf("%w: записи журнала статусов удалены", ErrValidation)
	}
	for i := range before.StatusHistory {
		if after.StatusHistory[i].ID != before.StatusHistory[i].ID {
			return fmt.Errorf("%w: журнал статусов переписан", ErrValidation)
		}
	}
	return nil
}
