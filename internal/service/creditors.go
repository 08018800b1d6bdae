// creditors.go — правка списка кредиторов администратором.
// Каждое изменение записывается в журнал статусов дела.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
)

// Записи журнала для правок администратора.
const (
	historyCreditorAdded   = "manual_creditor_added"
	historyCreditorUpdated = "creditor_updated"
	historyCreditorDeleted = "creditor_deleted"
)

// Значения review_action для правок администратора.
const (
	reviewActionManuallyCreated = "manually_created"
	reviewActionManuallyUpdated = "manually_updated"
)

// CreditorInput — данные нового кредитора.
type CreditorInput struct {
	SenderName      string
	Email           string
	Address         string
	ReferenceNumber string
	// ClaimAmount — сумма в исходном виде ("1.234,56 €")
	ClaimAmount string
}

// CreditorService — добавление, изменение и удаление кредиторов.
type CreditorService struct {
	updater *CaseUpdater
	logger  *slog.Logger
	now     func() time.Time
}

// NewCreditorService создаёт CreditorService.
func NewCreditorService(updater *CaseUpdater, logger *slog.Logger) *CreditorService {
	return &CreditorService{
		updater: updater,
		logger:  logger.With(slog.String("component", "creditors")),
		now:     time.Now,
	}
}

// Add добавляет подтверждённого кредитора, введённого вручную.
func (s *CreditorService) Add(ctx context.Context, caseRef string, in CreditorInput, admin string) (*model.Creditor, error) {
	name := strings.TrimSpace(in.SenderName)
	if name == "" {
		return nil, fmt.Errorf("%w: sender_name обязателен", ErrValidation)
	}
	caseID, err := s.updater.Resolve(ctx, caseRef)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	cr := model.Creditor{
		ID:              uuid.NewString(),
		SenderName:      name,
		Email:           strings.TrimSpace(in.Email),
		Address:         strings.TrimSpace(in.Address),
		ReferenceNumber: strings.TrimSpace(in.ReferenceNumber),
		ClaimAmount:     model.NewAmount(in.ClaimAmount),
		ContactSource:   model.ContactSourceManual,
		CreatedAt:       &now,
	}
	markConfirmed(&cr, reviewActionManuallyCreated, admin, now)

	_, err = s.updater.Update(ctx, caseID, func(c *model.Case) error {
		c.FinalCreditorList = append(c.FinalCreditorList, cr)
		c.AppendHistory(historyCreditorAdded, admin, map[string]any{
			"admin_action":  "manual_creditor_creation",
			"creditor_id":   cr.ID,
			"creditor_name": cr.SenderName,
			"claim_amount":  cr.ClaimAmount.String(),
		}, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Кредитор добавлен вручную",
		slog.String("case_id", caseID),
		slog.String("creditor_id", cr.ID),
		slog.String("admin", admin),
	)
	return &cr, nil
}

// Update изменяет поля кредитора.
func (s *CreditorService) Update(ctx context.Context, caseRef, creditorID string, corr CreditorCorrection, admin string) (*model.Creditor, error) {
	caseID, err := s.updater.Resolve(ctx, caseRef)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	var result model.Creditor
	_, err = s.updater.Update(ctx, caseID, func(c *model.Case) error {
		idx := c.FindCreditor(creditorID)
		if idx < 0 {
			return fmt.Errorf("%w: кредитор %s", ErrNotFound, creditorID)
		}
		cr := &c.FinalCreditorList[idx]
		before := cr.Clone()

		applyCorrection(cr, &corr)
		if strings.TrimSpace(cr.SenderName) == "" {
			return fmt.Errorf("%w: sender_name не может быть пустым", ErrValidation)
		}
		if corr.Email != nil || corr.Address != nil {
			cr.ContactSource = model.ContactSourceManual
		}
		markConfirmed(cr, reviewActionManuallyUpdated, admin, now)

		c.AppendHistory(historyCreditorUpdated, admin, map[string]any{
			"admin_action":   "creditor_update",
			"creditor_id":    cr.ID,
			"changed_fields": changedFields(&before, cr),
		}, now)
		result = cr.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Кредитор изменён",
		slog.String("case_id", caseID),
		slog.String("creditor_id", creditorID),
		slog.String("admin", admin),
	)
	return &result, nil
}

// Delete удаляет кредитора из списка.
func (s *CreditorService) Delete(ctx context.Context, caseRef, creditorID, admin string) error {
	caseID, err := s.updater.Resolve(ctx, caseRef)
	if err != nil {
		return err
	}
	now := s.now().UTC()

	_, err = s.updater.Update(ctx, caseID, func(c *model.Case) error {
		idx := c.FindCreditor(creditorID)
		if idx < 0 {
			return fmt.Errorf("%w: кредитор %s", ErrNotFound, creditorID)
		}
		removed := c.FinalCreditorList[idx]
		c.FinalCreditorList = slices.Delete(c.FinalCreditorList, idx, idx+1)
		c.AppendHistory(historyCreditorDeleted, admin, map[string]any{
			"admin_action":  "creditor_deletion",
			"creditor_id":   removed.ID,
			"creditor_name": removed.SenderName,
			"claim_amount":  removed.ClaimAmount.String(),
		}, now)
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Кредитор удалён",
		slog.String("case_id", caseID),
		slog.String("creditor_id", creditorID),
		slog.String("admin", admin),
	)
	return nil
}

// changedFields возвращает имена изменённых полей.
func changedFields(before, after *model.Creditor) []string {
	var fields []string
	if before.SenderName != after.SenderName {
		fields = append(fields, "sender_name")
	}
	if before.Email != after.Email {
		fields = append(fields, "email")
	}
	if before.Address != after.Address {
		fields = append(fields, "address")
	}
	if before.ReferenceNumber != after.ReferenceNumber {
		fields = append(fields, "reference_number")
	}
	if !before.ClaimAmount.Equal(after.ClaimAmount.Decimal) {
		fields = append(fields, "claim_amount")
	}
	return fields
}
