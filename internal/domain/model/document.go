package model

import "time"

// ProcessingStatus — статус AI-обработки документа.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingError      ProcessingStatus = "error"
	// ProcessingFailed — синоним error, приходит от части AI-пайплайнов
	ProcessingFailed ProcessingStatus = "failed"
)

// DocumentStatus — классификация документа (закрытый список).
type DocumentStatus string

const (
	DocPending              DocumentStatus = "pending"
	DocCreditorConfirmed    DocumentStatus = "creditor_confirmed"
	DocNeedsReview          DocumentStatus = "needs_review"
	DocNonCreditorConfirmed DocumentStatus = "non_creditor_confirmed"
	DocDuplicate            DocumentStatus = "duplicate"
	DocNotACreditor         DocumentStatus = "not_a_creditor"
	DocUnclear              DocumentStatus = "unclear"
)

var documentStatuses = map[DocumentStatus]bool{
	DocPending:              true,
	DocCreditorConfirmed:    true,
	DocNeedsReview:          true,
	DocNonCreditorConfirmed: true,
	DocDuplicate:            true,
	DocNotACreditor:         true,
	DocUnclear:              true,
}

// IsValidDocumentStatus проверяет принадлежность к закрытому списку.
func IsValidDocumentStatus(s DocumentStatus) bool {
	return documentStatuses[s]
}

// Причины ручной проверки.
const (
	ReasonMissingEmail     = "Fehlende Gläubiger-E-Mail"
	ReasonMissingAddress   = "Fehlende Gläubiger-Adresse"
	ReasonLowConfidence    = "Niedrige KI-Konfidenz"
	ReasonManualFlag       = "Manuelle Prüfung angefordert"
	ReasonProcessingError  = "Verarbeitungsfehler"
	ReasonBatchManual      = "Manuelle Prüfung für den gesamten Auftrag"
	ReasonNoSourceDocument = "Kein Quelldokument zugeordnet"
)

// ExtractedData — поля кредитора, извлечённые AI из документа.
type ExtractedData struct {
	SenderName      string `json:"sender_name,omitempty"`
	SenderEmail     string `json:"sender_email,omitempty"`
	SenderAddress   string `json:"sender_address,omitempty"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	ClaimAmount     Amount `json:"claim_amount"`
}

// Document — документ клиента и результат его классификации.
type Document struct {
	// ID — идентификатор документа (приходит от портала)
	ID string `json:"id"`
	// Name — исходное имя файла
	Name string `json:"name,omitempty"`

	ProcessingStatus   ProcessingStatus `json:"processing_status"`
	DocumentStatus     DocumentStatus   `json:"document_status"`
	IsCreditorDocument bool             `json:"is_creditor_document"`
	Confidence         float64          `json:"confidence"`
	ExtractedData      *ExtractedData   `json:"extracted_data,omitempty"`

	ManualReviewRequired bool     `json:"manual_review_required"`
	ManuallyReviewed     bool     `json:"manually_reviewed"`
	ReviewReasons        []string `json:"review_reasons,omitempty"`
	ReviewedBy           string   `json:"reviewed_by,omitempty"`

	IsDuplicate     bool   `json:"is_duplicate"`
	DuplicateReason string `json:"duplicate_reason,omitempty"`
	ProcessingError string `json:"processing_error,omitempty"`
	StatusReason    string `json:"status_reason,omitempty"`

	// Кредитор составного документа: SourceDocumentID — исходный файл,
	// CreditorIndex из CreditorCount. У исходного документа заполнен
	// только CreditorCount.
	SourceDocumentID string `json:"source_document_id,omitempty"`
	CreditorIndex    int    `json:"creditor_index,omitempty"`
	CreditorCount    int    `json:"creditor_count,omitempty"`
	HiddenFromPortal bool   `json:"hidden_from_portal,omitempty"`

	UploadedAt  *time.Time `json:"uploaded_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
}

// Clone возвращает глубокую копию документа.
func (d Document) Clone() Document {
	d.ReviewReasons = cloneStrings(d.ReviewReasons)
	if d.ExtractedData != nil {
		ed := *d.ExtractedData
		d.ExtractedData = &ed
	}
	return d
}

// ReferenceNumber возвращает номер требования из извлечённых данных.
func (d *Document) ReferenceNumber() string {
	if d.ExtractedData == nil {
		return ""
	}
	return d.ExtractedData.ReferenceNumber
}

// IsSplitPart — запись одного кредитора составного документа.
func (d *Document) IsSplitPart() bool {
	return d.SourceDocumentID != ""
}

// IsSplitSource — исходный документ, разделённый на кредиторов.
// Сам кредитором не считается, его статус сводится по частям.
func (d *Document) IsSplitSource() bool {
	return d.SourceDocumentID == "" && d.CreditorCount > 0
}

// IsProcessed — AI-обработка документа закончена (успешно или с ошибкой).
func (d *Document) IsProcessed() bool {
	switch d.ProcessingStatus {
	case ProcessingCompleted, ProcessingError, ProcessingFailed:
		return true
	}
	return false
}
