// ingestion.go — обработка пакета результатов AI-распознавания по одному делу.
//
// ProcessBatch:
//  1. Классификация каждого документа (порог уверенности, флаг ручной проверки, ошибки)
//  2. Дополнение контактов кредитора из справочника; без e-mail и адреса → needs_review
//  3. Запись документов в дело через CaseUpdater (решения проверяющего не перезаписываются);
//     части составного документа записываются отдельными документами,
//     статус исходного документа сводится по частям
//  4. Поиск дубликатов по номеру требования
//  5. Слияние новых кредиторов с final_creditor_list (dedup.Merge, highest_amount)
//  6. Переход статуса, планирование отложенного webhook и 7-дневной проверки
//  7. Эскалация документов, требующих ручной проверки (в фоне)
//
// Вызовы внешних сервисов выполняются до или после Update, но не внутри него.
//
// Prometheus-метрики:
//   - im_ingestion_documents_total — документы по итоговому document_status
package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/dedup"
	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/domain/workflow"
)

var ingestionDocumentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "im_ingestion_documents_total",
	Help: "Обработанные документы по итоговому document_status.",
}, []string{"document_status"})

// changedBySystem — автор записей журнала, сделанных сервисом.
const changedBySystem = "system"

// ReviewDispatcher — получатель документов для ручной проверки.
type ReviewDispatcher interface {
	DispatchReview(c *model.Case, jobID string, items []ReviewItem)
}

// IngestionResult — итог обработки пакета.
type IngestionResult struct {
	CaseID      string          `json:"case_id"`
	JobID       string          `json:"job_id"`
	Documents   int             `json:"documents"`
	Confirmed   int             `json:"confirmed"`
	NeedsReview int             `json:"needs_review"`
	NonCreditor int             `json:"non_creditor"`
	Duplicates  int             `json:"duplicates"`
	Kept        int             `json:"kept"`
	Creditors   int             `json:"creditors"`
	Status      workflow.Status `json:"status"`
	// WebhookScheduled — запланирован отложенный webhook «обработка завершена»
	WebhookScheduled bool `json:"webhook_scheduled"`
	// ReviewReverted — одобренное дело возвращено на проверку
	ReviewReverted bool `json:"review_reverted"`
}

// IngestionService — обработчик пакетов результатов.
type IngestionService struct {
	updater      *CaseUpdater
	enricher     *Enricher
	escalation   ReviewDispatcher
	threshold    float64
	webhookDelay time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewIngestionService создаёт обработчик.
// threshold — минимальная уверенность AI для creditor_confirmed,
// webhookDelay — задержка webhook «обработка завершена».
func NewIngestionService(
	updater *CaseUpdater,
	enricher *Enricher,
	escalation ReviewDispatcher,
	threshold float64,
	webhookDelay time.Duration,
	logger *slog.Logger,
) *IngestionService {
	return &IngestionService{
		updater:      updater,
		enricher:     enricher,
		escalation:   escalation,
		threshold:    threshold,
		webhookDelay: webhookDelay,
		logger:       logger.With(slog.String("component", "ingestion")),
		now:          time.Now,
	}
}

// preparedBatch — документы и кредиторы пакета после классификации и дополнения.
type preparedBatch struct {
	documents []model.Document
	creditors []model.Creditor
}

// ProcessBatch обрабатывает пакет результатов по одному делу.
func (s *IngestionService) ProcessBatch(ctx context.Context, batch *model.ResultBatch) (*IngestionResult, error) {
	if batch.ClientID == "" {
		return nil, fmt.Errorf("%w: client_id обязателен", ErrValidation)
	}
	if len(batch.Results) == 0 && len(batch.DeduplicatedCreditors) == 0 {
		return nil, fmt.Errorf("%w: пустой пакет результатов", ErrValidation)
	}

	caseID, err := s.updater.Resolve(ctx, batch.ClientID)
	if err != nil {
		return nil, fmt.Errorf("дело %s: %w", batch.ClientID, err)
	}

	now := s.now().UTC()
	prepared := s.prepare(ctx, batch, now)

	res := &IngestionResult{CaseID: caseID, JobID: batch.JobID}
	var reviewItems []ReviewItem

	updated, err := s.updater.Update(ctx, caseID, func(c *model.Case) error {
		applied := applyDocuments(c, prepared.documents, now)
		res.Kept = len(prepared.documents) - len(applied)
		markDuplicates(c, applied)
		rollupSplitSources(c, now)

		incoming := s.incomingCreditors(c, prepared, applied, now)
		if len(incoming) > 0 {
			c.FinalCreditorList = dedup.Merge(c.FinalCreditorList, incoming, model.StrategyHighestAmount, now)
			c.DedupRequestedAt = &now
		}
		res.Creditors = len(incoming)
		if st := batch.DeduplicationStats; st != nil {
			c.DeduplicationHistory = append(c.DeduplicationHistory, model.DedupRun{
				ID:                uuid.NewString(),
				Source:            DedupSourceBatch,
				Trigger:           DedupTriggerWebhook,
				OriginalCount:     st.OriginalCount,
				UniqueCount:       st.UniqueCount,
				DuplicatesRemoved: st.DuplicatesRemoved,
				RunAt:             now,
			})
		}

		if err := s.advanceStatus(c, batch.JobID, now); err != nil {
			return err
		}

		for _, id := range applied {
			d := &c.Documents[c.FindDocument(id)]
			if d.DocumentStatus == model.DocNeedsReview && !d.ManuallyReviewed && !d.IsSplitSource() {
				reviewItems = append(reviewItems, reviewItemOf(d))
			}
		}
		reverted, err := revertApproval(c, len(reviewItems), batch.JobID, now)
		if err != nil {
			return err
		}
		res.ReviewReverted = reverted

		res.WebhookScheduled = s.scheduleProcessingWebhook(c, batch.Status, now)
		markBothConditions(c, now)

		countStatuses(res, c, applied)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Documents = len(prepared.documents)
	res.Status = updated.CurrentStatus

	for i := range prepared.documents {
		if idx := updated.FindDocument(prepared.documents[i].ID); idx >= 0 {
			ingestionDocumentsTotal.WithLabelValues(string(updated.Documents[idx].DocumentStatus)).Inc()
		}
	}

	if s.escalation != nil && len(reviewItems) > 0 {
		s.escalation.DispatchReview(updated, batch.JobID, reviewItems)
	}

	s.logger.Info("Пакет результатов обработан",
		slog.String("case_id", caseID),
		slog.String("job_id", batch.JobID),
		slog.Int("documents", res.Documents),
		slog.Int("confirmed", res.Confirmed),
		slog.Int("needs_review", res.NeedsReview),
		slog.Int("duplicates", res.Duplicates),
		slog.Int("creditors", res.Creditors),
		slog.String("status", string(res.Status)),
	)
	return res, nil
}

// prepare классифицирует документы и дополняет контакты.
// Выполняется до блокировки дела: обращается к справочнику.
func (s *IngestionService) prepare(ctx context.Context, batch *model.ResultBatch, now time.Time) preparedBatch {
	var p preparedBatch
	seen := make(map[string]bool, len(batch.Results))

	for i := range batch.Results {
		r := batch.Results[i]
		if r.DocumentID == "" {
			r.DocumentID = "error-" + uuid.NewString()
			s.logger.Warn("Результат без document_id, назначен временный id",
				slog.String("job_id", batch.JobID),
				slog.String("document_id", r.DocumentID),
			)
		}
		if seen[r.DocumentID] {
			s.logger.Warn("Повтор документа в пакете, пропущен",
				slog.String("job_id", batch.JobID),
				slog.String("document_id", r.DocumentID),
			)
			continue
		}
		seen[r.DocumentID] = true
		if batch.ManualReviewRequired && r.IsCreditorDocument {
			r.ManualReviewRequired = true
		}

		doc := s.classify(&r, now)
		if batch.ManualReviewRequired && doc.DocumentStatus == model.DocNeedsReview {
			doc.ReviewReasons = appendReason(doc.ReviewReasons, model.ReasonBatchManual)
		}
		if doc.IsCreditorDocument && doc.ProcessingStatus == model.ProcessingCompleted {
			s.applyContactRule(ctx, &doc)
		}
		p.documents = append(p.documents, doc)
	}

	for i := range batch.DeduplicatedCreditors {
		c := batch.DeduplicatedCreditors[i].Clone()
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.Status == "" {
			c.Status = model.CreditorPending
		}
		if c.CreatedAt == nil {
			c.CreatedAt = &now
		}
		er := s.enricher.EnrichCreditor(ctx, &c)
		if er.MissingEmail && er.MissingAddress {
			c.NeedsManualReview = true
			c.ReviewReasons = appendReason(c.ReviewReasons, model.ReasonMissingEmail)
			c.ReviewReasons = appendReason(c.ReviewReasons, model.ReasonMissingAddress)
		}
		p.creditors = append(p.creditors, c)
	}
	return p
}

// classify строит документ из результата AI и назначает document_status.
func (s *IngestionService) classify(r *model.DocumentResult, now time.Time) model.Document {
	doc := model.Document{
		ID:                   r.DocumentID,
		Name:                 r.Name,
		ProcessingStatus:     r.ProcessingStatus,
		DocumentStatus:       model.DocPending,
		IsCreditorDocument:   r.IsCreditorDocument,
		Confidence:           r.Confidence,
		ManualReviewRequired: r.ManualReviewRequired,
		ProcessingError:      r.ProcessingError,
		SourceDocumentID:     r.SourceDocumentID,
		CreditorIndex:        r.CreditorIndex,
		CreditorCount:        r.CreditorCount,
		HiddenFromPortal:     r.SourceDocumentID != "",
	}
	if doc.Name == "" {
		doc.Name = "Unbekanntes Dokument " + doc.ID
	}
	if r.ExtractedData != nil {
		ed := *r.ExtractedData
		doc.ExtractedData = &ed
	}

	switch r.ProcessingStatus {
	case model.ProcessingCompleted:
		doc.ProcessedAt = &now
		switch {
		case !r.IsCreditorDocument:
			doc.DocumentStatus = model.DocNonCreditorConfirmed
		case r.Confidence >= s.threshold && !r.ManualReviewRequired:
			doc.DocumentStatus = model.DocCreditorConfirmed
		default:
			doc.DocumentStatus = model.DocNeedsReview
			if r.ManualReviewRequired {
				doc.ReviewReasons = appendReason(doc.ReviewReasons, model.ReasonManualFlag)
			}
			if r.Confidence < s.threshold {
				doc.ReviewReasons = appendReason(doc.ReviewReasons, model.ReasonLowConfidence)
			}
		}
	case model.ProcessingError, model.ProcessingFailed:
		doc.ProcessedAt = &now
		doc.DocumentStatus = model.DocNeedsReview
		doc.ReviewReasons = appendReason(doc.ReviewReasons, model.ReasonProcessingError)
	}
	return doc
}

// applyContactRule дополняет контакты; без e-mail и адреса документ
// отправляется на ручную проверку.
func (s *IngestionService) applyContactRule(ctx context.Context, doc *model.Document) {
	if doc.ExtractedData == nil {
		doc.ExtractedData = &model.ExtractedData{}
	}
	er := s.enricher.Enrich(ctx, doc)
	if !er.MissingEmail || !er.MissingAddress {
		return
	}
	doc.ManualReviewRequired = true
	doc.ReviewReasons = appendReason(doc.ReviewReasons, model.ReasonMissingEmail)
	doc.ReviewReasons = appendReason(doc.ReviewReasons, model.ReasonMissingAddress)
	if doc.DocumentStatus == model.DocCreditorConfirmed {
		doc.DocumentStatus = model.DocNeedsReview
	}
}

// applyDocuments записывает документы пакета в дело.
// Документ, уже решённый проверяющим, остаётся как есть.
// Часть составного документа без исходного документа в деле пропускается.
// Возвращает id записанных документов: обычные, затем части.
func applyDocuments(c *model.Case, docs []model.Document, now time.Time) []string {
	applied := make([]string, 0, len(docs))
	// Сначала обычные документы: исходный документ может прийти в том же пакете.
	for _, parts := range []bool{false, true} {
		for i := range docs {
			if docs[i].IsSplitPart() != parts {
				continue
			}
			d := docs[i].Clone()
			if parts {
				src := c.FindDocument(d.SourceDocumentID)
				if src < 0 {
					continue
				}
				d.Name = splitPartName(&c.Documents[src], &d)
				d.UploadedAt = c.Documents[src].UploadedAt
			}

			idx := c.FindDocument(d.ID)
			if idx < 0 {
				if d.UploadedAt == nil {
					d.UploadedAt = &now
				}
				c.Documents = append(c.Documents, d)
				applied = append(applied, d.ID)
				continue
			}

			existing := &c.Documents[idx]
			if existing.ManuallyReviewed {
				continue
			}
			if d.UploadedAt == nil {
				d.UploadedAt = existing.UploadedAt
			}
			c.Documents[idx] = d
			applied = append(applied, d.ID)
		}
	}
	return applied
}

// splitPartName — «<файл> - Gläubiger i/n: <кредитор>».
func splitPartName(src, part *model.Document) string {
	creditor := fmt.Sprintf("Creditor %d", part.CreditorIndex+1)
	if part.ExtractedData != nil && part.ExtractedData.SenderName != "" {
		creditor = part.ExtractedData.SenderName
	}
	return fmt.Sprintf("%s - Gläubiger %d/%d: %s", src.Name, part.CreditorIndex+1, part.CreditorCount, creditor)
}

// rollupSplitSources сводит статус исходных документов по их частям:
// needs_review, если хоть одна часть требует проверки, иначе creditor_confirmed.
func rollupSplitSources(c *model.Case, now time.Time) {
	parts := make(map[string][]*model.Document)
	for i := range c.Documents {
		if d := &c.Documents[i]; d.IsSplitPart() {
			parts[d.SourceDocumentID] = append(parts[d.SourceDocumentID], d)
		}
	}

	for srcID, ps := range parts {
		idx := c.FindDocument(srcID)
		if idx < 0 {
			continue
		}
		src := &c.Documents[idx]
		if src.ManuallyReviewed {
			continue
		}

		needReview := 0
		for _, p := range ps {
			if p.DocumentStatus == model.DocNeedsReview {
				needReview++
			}
		}
		src.ProcessingStatus = model.ProcessingCompleted
		src.IsCreditorDocument = true
		src.CreditorCount = len(ps)
		if src.ProcessedAt == nil {
			src.ProcessedAt = &now
		}
		if needReview > 0 {
			src.DocumentStatus = model.DocNeedsReview
			src.StatusReason = fmt.Sprintf("%d von %d Gläubigern benötigen Prüfung", needReview, len(ps))
			continue
		}
		src.DocumentStatus = model.DocCreditorConfirmed
		src.StatusReason = fmt.Sprintf("%d Gläubiger erkannt", len(ps))
	}
}

// isCreditorCandidate — документ участвует в поиске дубликатов.
func isCreditorCandidate(d *model.Document) bool {
	return d.IsCreditorDocument && !d.IsSplitSource() &&
		(d.DocumentStatus == model.DocCreditorConfirmed || d.DocumentStatus == model.DocNeedsReview)
}

// markDuplicates помечает документы пакета, чей номер требования уже есть
// у другого документа дела (существующего или раньше в пакете).
func markDuplicates(c *model.Case, applied []string) {
	inBatch := make(map[string]bool, len(applied))
	for _, id := range applied {
		inBatch[id] = true
	}

	owner := make(map[string]string)
	for i := range c.Documents {
		d := &c.Documents[i]
		if inBatch[d.ID] || !isCreditorCandidate(d) {
			continue
		}
		if ref := d.ReferenceNumber(); ref != "" {
			if _, ok := owner[ref]; !ok {
				owner[ref] = d.Name
			}
		}
	}

	for _, id := range applied {
		d := &c.Documents[c.FindDocument(id)]
		if !isCreditorCandidate(d) {
			continue
		}
		ref := d.ReferenceNumber()
		if ref == "" {
			continue
		}
		if prev, ok := owner[ref]; ok {
			d.IsDuplicate = true
			d.DuplicateReason = fmt.Sprintf("Duplikat gefunden - Referenznummer %q bereits vorhanden in %q", ref, prev)
			d.DocumentStatus = model.DocDuplicate
			continue
		}
		owner[ref] = d.Name
	}
}

// incomingCreditors возвращает кредиторов пакета для слияния.
// Если AI прислал дедуплицированный список, используется он;
// иначе кредиторы строятся из подтверждённых документов пакета.
// Кредиторы пропущенных документов и уже известные id отбрасываются.
func (s *IngestionService) incomingCreditors(c *model.Case, p preparedBatch, applied []string, now time.Time) []model.Creditor {
	skipped := make(map[string]bool)
	var skippedDocs []*model.Document
	for i := range c.Documents {
		if c.Documents[i].DocumentStatus == model.DocNotACreditor {
			skipped[c.Documents[i].ID] = true
			skippedDocs = append(skippedDocs, &c.Documents[i])
		}
	}

	known := c.CreditorIDs()
	sourced := make(map[string]bool, len(c.FinalCreditorList))
	for i := range c.FinalCreditorList {
		if src := c.FinalCreditorList[i].SourceDocumentID; src != "" {
			sourced[src] = true
		}
		if dp := c.FinalCreditorList[i].Deduplication; dp != nil {
			for _, id := range dp.DuplicateIDs {
				known[id] = true
			}
		}
	}

	var out []model.Creditor
	if len(p.creditors) > 0 {
		reviewed := batchTouchesReviewed(c, p.documents)
		for i := range p.creditors {
			cr := p.creditors[i].Clone()
			if known[cr.ID] || (cr.SourceDocumentID != "" && skipped[cr.SourceDocumentID]) {
				continue
			}
			if cr.SourceDocumentID == "" {
				if matchesSkipped(&cr, skippedDocs) {
					continue
				}
				if reviewed {
					cr.NeedsManualReview = true
					cr.ReviewReasons = appendReason(cr.ReviewReasons, model.ReasonNoSourceDocument)
				}
			}
			if idx := c.FindDocument(cr.SourceDocumentID); idx >= 0 {
				d := &c.Documents[idx]
				if d.DocumentStatus == model.DocNeedsReview && !d.ManuallyReviewed {
					cr.NeedsManualReview = true
					for _, r := range d.ReviewReasons {
						cr.ReviewReasons = appendReason(cr.ReviewReasons, r)
					}
				}
			}
			known[cr.ID] = true
			out = append(out, cr)
		}
		return out
	}

	for _, id := range applied {
		d := &c.Documents[c.FindDocument(id)]
		if d.DocumentStatus != model.DocCreditorConfirmed || skipped[d.ID] || d.IsSplitSource() || sourced[d.ID] {
			continue
		}
		cr := creditorFromDocument(c.ID, d, now)
		if known[cr.ID] {
			continue
		}
		known[cr.ID] = true
		out = append(out, cr)
	}
	return out
}

// batchTouchesReviewed — в пакете есть документ, уже решённый проверяющим
// (повторная доставка после ручной проверки).
func batchTouchesReviewed(c *model.Case, docs []model.Document) bool {
	for i := range docs {
		if idx := c.FindDocument(docs[i].ID); idx >= 0 && c.Documents[idx].ManuallyReviewed {
			return true
		}
	}
	return false
}

// matchesSkipped — кредитор без документа-источника совпадает по номеру
// требования или имени с документом, который проверяющий пропустил.
func matchesSkipped(cr *model.Creditor, docs []*model.Document) bool {
	name := NormalizeCreditorName(cr.SenderName)
	for _, d := range docs {
		ed := d.ExtractedData
		if ed == nil {
			continue
		}
		if cr.ReferenceNumber != "" && ed.ReferenceNumber == cr.ReferenceNumber {
			return true
		}
		if name != "" && NormalizeCreditorName(ed.SenderName) == name {
			return true
		}
	}
	return false
}

// creditorNamespace — пространство имён id кредиторов, построенных из документов.
var creditorNamespace = uuid.MustParse("6f1c2a9e-3b7d-4e52-9a61-0c8d5e7f4b21")

// creditorFromDocument строит запись кредитора из подтверждённого документа.
// id выводится из дела и документа: повторная доставка даёт тот же id.
func creditorFromDocument(caseID string, d *model.Document, now time.Time) model.Creditor {
	cr := model.Creditor{
		ID:               uuid.NewSHA1(creditorNamespace, []byte(caseID+"/"+d.ID)).String(),
		Confidence:       d.Confidence,
		Status:           model.CreditorPending,
		SourceDocumentID: d.ID,
		CreatedAt:        &now,
	}
	if ed := d.ExtractedData; ed != nil {
		cr.SenderName = ed.SenderName
		cr.Email = ed.SenderEmail
		cr.Address = ed.SenderAddress
		cr.ReferenceNumber = ed.ReferenceNumber
		cr.ClaimAmount = ed.ClaimAmount
	}
	if !IsMissing(cr.Email) || !IsMissing(cr.Address) {
		cr.ContactSource = model.ContactSourceAI
	}
	return cr
}

// advanceStatus сдвигает статус дела по итогам обработки.
func (s *IngestionService) advanceStatus(c *model.Case, jobID string, now time.Time) error {
	if !c.HasDocuments() {
		return nil
	}
	if c.CurrentStatus == workflow.StatusCreated || c.CurrentStatus == workflow.StatusPortalAccessSent {
		if _, err := c.Transition(workflow.EventDocumentsUploaded, changedBySystem,
			map[string]any{"processing_job_id": jobID}, now); err != nil {
			return err
		}
	}

	allProcessed := true
	processed, creditorDocs := 0, 0
	for i := range c.Documents {
		d := &c.Documents[i]
		if d.IsProcessed() {
			processed++
		} else {
			allProcessed = false
		}
		if isCreditorCandidate(d) {
			creditorDocs++
		}
	}

	ev := workflow.EventProcessingPartial
	if allProcessed {
		ev = workflow.EventProcessingCompletedNoCreditor
		if creditorDocs > 0 || len(c.FinalCreditorList) > 0 {
			ev = workflow.EventProcessingCompleted
		}
	}
	_, err := c.Transition(ev, changedBySystem, map[string]any{
		"processing_job_id":   jobID,
		"total_documents":     len(c.Documents),
		"completed_documents": processed,
		"creditor_documents":  creditorDocs,
	}, now)
	return err
}

// revertApproval возвращает одобренное дело на проверку,
// если поздние документы требуют ручной проверки.
func revertApproval(c *model.Case, needReview int, jobID string, now time.Time) (bool, error) {
	if needReview == 0 || !c.AdminApproved || c.CurrentStatus != workflow.StatusAwaitingConfirmation {
		return false, nil
	}
	if _, err := c.Transition(workflow.EventReviewRequired, changedBySystem, map[string]any{
		"reason":                        "Neue Dokumente erfordern Prüfung",
		"documents_needing_review":      needReview,
		"processing_job_id":             jobID,
		"auto_confirmation_timer_reset": true,
	}, now); err != nil {
		return false, err
	}
	c.AdminApproved = false
	c.AdminApprovedAt = nil
	c.AdminApprovedBy = ""
	return true, nil
}

// scheduleProcessingWebhook планирует webhook «обработка завершена»,
// если он ещё не запланирован и не отправлен.
func (s *IngestionService) scheduleProcessingWebhook(c *model.Case, batchStatus string, now time.Time) bool {
	switch batchStatus {
	case model.BatchCompleted, model.BatchPartial, "":
	default:
		return false
	}
	if c.ProcessingWebhookScheduled && !c.ProcessingWebhookTriggered {
		return false
	}
	at := now.Add(s.webhookDelay)
	c.ProcessingWebhookScheduled = true
	c.ProcessingWebhookScheduledAt = &now
	c.ProcessingWebhookScheduledFor = &at
	c.ProcessingWebhookTriggered = false
	c.ProcessingWebhookTriggeredAt = nil
	return true
}

// markBothConditions фиксирует момент, когда есть и оплата, и документы,
// и планирует 7-дневную проверку.
func markBothConditions(c *model.Case, now time.Time) {
	if !c.FirstPaymentReceived || !c.HasDocuments() || c.BothConditionsMetAt != nil {
		return
	}
	c.BothConditionsMetAt = &now
	if !c.SevenDayReviewTriggered {
		c.SevenDayReviewScheduled = true
		c.SevenDayReviewScheduledAt = &now
	}
}

func countStatuses(res *IngestionResult, c *model.Case, applied []string) {
	res.Confirmed, res.NeedsReview, res.NonCreditor, res.Duplicates = 0, 0, 0, 0
	for _, id := range applied {
		switch c.Documents[c.FindDocument(id)].DocumentStatus {
		case model.DocCreditorConfirmed:
			res.Confirmed++
		case model.DocNeedsReview:
			res.NeedsReview++
		case model.DocNonCreditorConfirmed:
			res.NonCreditor++
		case model.DocDuplicate:
			res.Duplicates++
		}
	}
}

func reviewItemOf(d *model.Document) ReviewItem {
	it := ReviewItem{
		DocumentID:   d.ID,
		DocumentName: d.Name,
		Reasons:      append([]string(nil), d.ReviewReasons...),
	}
	if d.ExtractedData != nil {
		it.CreditorName = d.ExtractedData.SenderName
	}
	return it
}

func appendReason(reasons []string, r string) []string {
	if slices.Contains(reasons, r) {
		return reasons
	}
	return append(reasons, r)
}
