// review.go — ручная проверка документов и кредиторов сотрудником (роль agent).
//
// Действия:
//   - confirm — данные AI верны: кредитор подтверждается (или создаётся из документа)
//   - correct — кредитор исправляется (или создаётся из исправлений)
//   - skip — документ не относится к кредиторам: кредитор удаляется из списка,
//     документ получает not_a_creditor и больше не порождает кредиторов
package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/dedup"
	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/domain/workflow"
)

// CreditorCorrection — исправленные поля кредитора. nil — поле не меняется.
type CreditorCorrection struct {
	SenderName      *string  `json:"sender_name,omitempty"`
	Email           *string  `json:"email,omitempty"`
	Address         *string  `json:"address,omitempty"`
	ReferenceNumber *string  `json:"reference_number,omitempty"`
	ClaimAmount     *string  `json:"claim_amount,omitempty"`
	ReviewReasons   []string `json:"review_reasons,omitempty"`
}

// ReviewActionRequest — действие проверяющего.
type ReviewActionRequest struct {
	Action      string
	DocumentID  string
	CreditorID  string
	Corrections *CreditorCorrection
	ReviewedBy  string
}

// ReviewProgress — ход проверки дела по документам кредиторов.
type ReviewProgress struct {
	TotalItems       int  `json:"total_items"`
	CompletedItems   int  `json:"completed_items"`
	RemainingItems   int  `json:"remaining_items"`
	IsReviewComplete bool `json:"is_review_complete"`
}

// ReviewActionResult — итог действия.
type ReviewActionResult struct {
	CaseID     string         `json:"case_id"`
	Action     string         `json:"action"`
	DocumentID string         `json:"document_id,omitempty"`
	CreditorID string         `json:"creditor_id,omitempty"`
	Creditors  int            `json:"creditors_count"`
	Progress   ReviewProgress `json:"progress"`
}

// ReviewService — действия ручной проверки.
type ReviewService struct {
	updater *CaseUpdater
	logger  *slog.Logger
	now     func() time.Time
}

// NewReviewService создаёт ReviewService.
func NewReviewService(updater *CaseUpdater, logger *slog.Logger) *ReviewService {
	return &ReviewService{
		updater: updater,
		logger:  logger.With(slog.String("component", "review")),
		now:     time.Now,
	}
}

// Apply выполняет действие проверяющего.
func (s *ReviewService) Apply(ctx context.Context, caseRef string, req ReviewActionRequest) (*ReviewActionResult, error) {
	if err := validateReviewRequest(&req); err != nil {
		return nil, err
	}
	caseID, err := s.updater.Resolve(ctx, caseRef)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	res := &ReviewActionResult{CaseID: caseID, Action: req.Action, DocumentID: req.DocumentID}

	updated, err := s.updater.Update(ctx, caseID, func(c *model.Case) error {
		if !reviewAllowed(c.CurrentStatus) {
			return fmt.Errorf("%w: проверка недоступна в статусе %s", ErrInvalidTransition, c.CurrentStatus)
		}

		var doc *model.Document
		if req.DocumentID != "" {
			idx := c.FindDocument(req.DocumentID)
			if idx < 0 {
				return fmt.Errorf("%w: документ %s", ErrNotFound, req.DocumentID)
			}
			doc = &c.Documents[idx]
		}
		credIdx := findReviewCreditor(c, req.CreditorID, req.DocumentID)
		if req.CreditorID != "" && credIdx < 0 && doc == nil {
			return fmt.Errorf("%w: кредитор %s", ErrNotFound, req.CreditorID)
		}

		var err error
		switch req.Action {
		case model.ReviewActionConfirm:
			res.CreditorID, err = confirmCreditor(c, credIdx, doc, req.ReviewedBy, now)
		case model.ReviewActionCorrect:
			res.CreditorID, err = correctCreditor(c, credIdx, doc, req.Corrections, req.ReviewedBy, now)
		case model.ReviewActionSkip:
			res.CreditorID = skipDocument(c, credIdx, doc)
		}
		if err != nil {
			return err
		}

		if doc != nil {
			markDocumentReviewed(doc, req.Action, req.ReviewedBy, now)
		}
		res.Creditors = len(c.FinalCreditorList)
		res.Progress = reviewProgress(c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Действие проверки применено",
		slog.String("case_id", updated.ID),
		slog.String("action", req.Action),
		slog.String("document_id", req.DocumentID),
		slog.String("creditor_id", res.CreditorID),
		slog.String("reviewed_by", req.ReviewedBy),
		slog.Int("remaining", res.Progress.RemainingItems),
	)
	return res, nil
}

// CompleteReview завершает проверку: все кредиторы и документы проверены.
func (s *ReviewService) CompleteReview(ctx context.Context, caseRef, reviewedBy string) (*model.Case, error) {
	caseID, err := s.updater.Resolve(ctx, caseRef)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	updated, err := s.updater.Update(ctx, caseID, func(c *model.Case) error {
		if n := c.CreditorsNeedingReview(); n > 0 {
			return fmt.Errorf("%w: %d кредиторов ожидают проверки", ErrValidation, n)
		}
		if p := reviewProgress(c); !p.IsReviewComplete {
			return fmt.Errorf("%w: %d документов ожидают проверки", ErrValidation, p.RemainingItems)
		}
		_, err := c.Transition(workflow.EventReviewCompleted, reviewedBy, map[string]any{
			"reviewed_by":     reviewedBy,
			"creditors_count": len(c.FinalCreditorList),
		}, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Проверка дела завершена",
		slog.String("case_id", caseID),
		slog.String("reviewed_by", reviewedBy),
	)
	return updated, nil
}

func validateReviewRequest(req *ReviewActionRequest) error {
	switch req.Action {
	case model.ReviewActionConfirm, model.ReviewActionSkip:
	case model.ReviewActionCorrect:
		if req.Corrections == nil {
			return fmt.Errorf("%w: для correct нужны corrections", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: action должен быть confirm, correct или skip", ErrValidation)
	}
	if req.DocumentID == "" && req.CreditorID == "" {
		return fmt.Errorf("%w: нужен document_id или creditor_id", ErrValidation)
	}
	if req.ReviewedBy == "" {
		return fmt.Errorf("%w: не указан проверяющий", ErrValidation)
	}
	return nil
}

// reviewAllowed — проверка возможна до начала работы с кредиторами.
func reviewAllowed(s workflow.Status) bool {
	return s != workflow.StatusCreditorContactInitiated && s != workflow.StatusCompleted
}

// findReviewCreditor ищет кредитора по id, иначе по документу-источнику.
func findReviewCreditor(c *model.Case, creditorID, documentID string) int {
	if creditorID != "" {
		if idx := c.FindCreditor(creditorID); idx >= 0 {
			return idx
		}
	}
	if documentID == "" {
		return -1
	}
	for i := range c.FinalCreditorList {
		if c.FinalCreditorList[i].SourceDocumentID == documentID {
			return i
		}
	}
	return -1
}

// markConfirmed — общие поля подтверждённой проверяющим записи.
func markConfirmed(cr *model.Creditor, action, reviewedBy string, now time.Time) {
	cr.Confidence = 1.0
	cr.Status = model.CreditorConfirmed
	cr.ManuallyReviewed = true
	cr.NeedsManualReview = false
	cr.ReviewAction = action
	cr.ReviewedBy = reviewedBy
	cr.ReviewedAt = &now
	cr.ConfirmedAt = &now
}

func confirmCreditor(c *model.Case, idx int, doc *model.Document, reviewedBy string, now time.Time) (string, error) {
	var id string
	switch {
	case idx >= 0:
		cr := &c.FinalCreditorList[idx]
		markConfirmed(cr, model.ReviewActionConfirm, reviewedBy, now)
		id = cr.ID
	case doc != nil && doc.ExtractedData != nil:
		cr := creditorFromDocument(c.ID, doc, now)
		if strings.TrimSpace(cr.SenderName) == "" {
			cr.SenderName = "Unbekannter Gläubiger"
		}
		markConfirmed(&cr, model.ReviewActionConfirm, reviewedBy, now)
		c.FinalCreditorList = append(c.FinalCreditorList, cr)
		id = cr.ID
	case doc != nil:
		return "", fmt.Errorf("%w: у документа %s нет извлечённых данных", ErrValidation, doc.ID)
	default:
		return "", fmt.Errorf("%w: кредитор не найден", ErrNotFound)
	}

	// Подтверждение может сделать запись дубликатом уже подтверждённой
	c.FinalCreditorList = dedup.Dedupe(c.FinalCreditorList, model.StrategyHighestAmount, now)
	if c.FindCreditor(id) < 0 {
		id = survivorOf(c, id)
	}
	return id, nil
}

func correctCreditor(c *model.Case, idx int, doc *model.Document, corr *CreditorCorrection, reviewedBy string, now time.Time) (string, error) {
	var cr *model.Creditor
	switch {
	case idx >= 0:
		cr = &c.FinalCreditorList[idx]
	case doc != nil:
		c.FinalCreditorList = append(c.FinalCreditorList, model.Creditor{
			ID:               uuid.NewString(),
			SenderName:       "Unbekannt",
			SourceDocumentID: doc.ID,
			CreatedAt:        &now,
		})
		cr = &c.FinalCreditorList[len(c.FinalCreditorList)-1]
	default:
		return "", fmt.Errorf("%w: кредитор не найден", ErrNotFound)
	}

	applyCorrection(cr, corr)
	if strings.TrimSpace(cr.SenderName) == "" {
		return "", fmt.Errorf("%w: sender_name не может быть пустым", ErrValidation)
	}
	cr.ContactSource = model.ContactSourceManual
	markConfirmed(cr, model.ReviewActionCorrect, reviewedBy, now)
	return cr.ID, nil
}

func applyCorrection(cr *model.Creditor, corr *CreditorCorrection) {
	if corr.SenderName != nil {
		cr.SenderName = strings.TrimSpace(*corr.SenderName)
	}
	if corr.Email != nil {
		cr.Email = strings.TrimSpace(*corr.Email)
	}
	if corr.Address != nil {
		cr.Address = strings.TrimSpace(*corr.Address)
	}
	if corr.ReferenceNumber != nil {
		cr.ReferenceNumber = strings.TrimSpace(*corr.ReferenceNumber)
	}
	if corr.ClaimAmount != nil {
		cr.ClaimAmount = model.NewAmount(*corr.ClaimAmount)
	}
	if corr.ReviewReasons != nil {
		cr.ReviewReasons = slices.Clone(corr.ReviewReasons)
	}
}

// skipDocument удаляет кредитора и помечает документ not_a_creditor.
func skipDocument(c *model.Case, idx int, doc *model.Document) string {
	var removed string
	if idx >= 0 {
		removed = c.FinalCreditorList[idx].ID
		c.FinalCreditorList = slices.Delete(c.FinalCreditorList, idx, idx+1)
	}
	if doc != nil {
		// Кредиторы, извлечённые из документа другими путями, тоже удаляются
		c.FinalCreditorList = slices.DeleteFunc(c.FinalCreditorList, func(cr model.Creditor) bool {
			return cr.SourceDocumentID == doc.ID
		})
		doc.IsCreditorDocument = false
		doc.DocumentStatus = model.DocNotACreditor
	}
	return removed
}

func markDocumentReviewed(doc *model.Document, action, reviewedBy string, now time.Time) {
	doc.ManuallyReviewed = true
	doc.ManualReviewRequired = false
	doc.ReviewedBy = reviewedBy
	doc.ReviewedAt = &now
	if action != model.ReviewActionSkip && doc.DocumentStatus == model.DocNeedsReview {
		doc.DocumentStatus = model.DocCreditorConfirmed
	}
}

// survivorOf возвращает id записи, поглотившей id при дедупликации.
func survivorOf(c *model.Case, id string) string {
	for i := range c.FinalCreditorList {
		if p := c.FinalCreditorList[i].Deduplication; p != nil && slices.Contains(p.DuplicateIDs, id) {
			return c.FinalCreditorList[i].ID
		}
	}
	return id
}

// reviewProgress считает проверенные документы кредиторов.
// Документ считается задачей проверки, если он требует её или уже проверен.
func reviewProgress(c *model.Case) ReviewProgress {
	var p ReviewProgress
	for i := range c.Documents {
		d := &c.Documents[i]
		needs := d.DocumentStatus == model.DocNeedsReview || d.ManualReviewRequired
		if !needs && !d.ManuallyReviewed {
			continue
		}
		p.TotalItems++
		if d.ManuallyReviewed {
			p.CompletedItems++
		}
	}
	p.RemainingItems = p.TotalItems - p.CompletedItems
	p.IsReviewComplete = p.RemainingItems == 0
	return p
}
