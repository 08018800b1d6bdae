package model

// Статус пакета результатов AI-обработки.
const (
	BatchCompleted = "completed"
	BatchPartial   = "partial"
	BatchFailed    = "failed"
)

// DocumentResult — результат AI-обработки одного документа.
// Составной документ (несколько кредиторов в одном файле) приходит
// отдельными результатами с SourceDocumentID исходного документа.
type DocumentResult struct {
	DocumentID           string           `json:"document_id"`
	Name                 string           `json:"name,omitempty"`
	ProcessingStatus     ProcessingStatus `json:"processing_status"`
	IsCreditorDocument   bool             `json:"is_creditor_document"`
	Confidence           float64          `json:"confidence"`
	ExtractedData        *ExtractedData   `json:"extracted_data,omitempty"`
	ManualReviewRequired bool             `json:"manual_review_required"`
	ProcessingError      string           `json:"processing_error,omitempty"`

	SourceDocumentID string `json:"source_document_id,omitempty"`
	CreditorIndex    int    `json:"creditor_index,omitempty"`
	CreditorCount    int    `json:"creditor_count,omitempty"`
}

// DedupStats — статистика дедупликации от сервиса распознавания.
type DedupStats struct {
	OriginalCount     int `json:"original_count"`
	UniqueCount       int `json:"unique_count"`
	DuplicatesRemoved int `json:"duplicates_removed"`
}

// ResultBatch — тело входящего webhook с результатами обработки по одному делу.
type ResultBatch struct {
	JobID    string `json:"job_id"`
	ClientID string `json:"client_id"`
	Status   string `json:"status"`
	// ManualReviewRequired — все документы кредиторов пакета идут на ручную проверку
	ManualReviewRequired  bool             `json:"manual_review_required"`
	Results               []DocumentResult `json:"results"`
	DeduplicatedCreditors []Creditor       `json:"deduplicated_creditors,omitempty"`
	DeduplicationStats    *DedupStats      `json:"deduplication_stats,omitempty"`
}
