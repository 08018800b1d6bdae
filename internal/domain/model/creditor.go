package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CreditorStatus — статус записи кредитора.
type CreditorStatus string

const (
	CreditorPending   CreditorStatus = "pending"
	CreditorConfirmed CreditorStatus = "confirmed"
)

// DedupStrategy — правило выбора записи при слиянии дубликатов.
type DedupStrategy string

const (
	// StrategyHighestAmount — остаётся запись с максимальной суммой требования.
	StrategyHighestAmount DedupStrategy = "highest_amount"
	// StrategyLatest — остаётся самая поздняя запись (created_at / confirmed_at).
	StrategyLatest DedupStrategy = "latest"
	// StrategyFirst — остаётся первая встреченная запись.
	StrategyFirst DedupStrategy = "first"
)

// Источник контактных данных кредитора.
const (
	ContactSourceAI        = "ai_extraction"
	ContactSourceDirectory = "creditor_directory"
	ContactSourceManual    = "manual"
)

// Действие ручной проверки, применённое к кредитору.
const (
	ReviewActionConfirm = "confirm"
	ReviewActionCorrect = "correct"
	ReviewActionSkip    = "skip"
)

// DedupProvenance — сведения о слиянии дубликатов в запись-победителя.
type DedupProvenance struct {
	// OriginalCount — размер группы дубликатов до слияния
	OriginalCount int `json:"original_count"`
	// DuplicateIDs — id поглощённых записей
	DuplicateIDs []string `json:"duplicate_ids"`
	// StrategyUsed — применённая стратегия
	StrategyUsed DedupStrategy `json:"strategy_used"`
	// DeduplicatedAt — время слияния
	DeduplicatedAt time.Time `json:"deduplicated_at"`
}

// Creditor — запись в итоговом списке кредиторов дела.
// Набор полей закрыт: дополнительные атрибуты обогащения хранятся
// в явных полях (ContactSource, ReviewReasons), а не в произвольной map.
type Creditor struct {
	// ID — уникален в пределах дела
	ID string `json:"id"`
	// SenderName — наименование кредитора
	SenderName string `json:"sender_name"`
	// Address — почтовый адрес
	Address string `json:"address,omitempty"`
	// Email — адрес электронной почты
	Email string `json:"email,omitempty"`
	// ReferenceNumber — номер требования (основной ключ группировки)
	ReferenceNumber string `json:"reference_number,omitempty"`
	// ClaimAmount — сумма требования
	ClaimAmount Amount `json:"claim_amount"`
	// Confidence — уверенность распознавания (0–1)
	Confidence float64 `json:"confidence"`
	// Status — pending / confirmed
	Status CreditorStatus `json:"status"`

	ManuallyReviewed  bool     `json:"manually_reviewed"`
	NeedsManualReview bool     `json:"needs_manual_review"`
	ReviewReasons     []string `json:"review_reasons,omitempty"`
	ReviewAction      string   `json:"review_action,omitempty"`
	ReviewedBy        string   `json:"reviewed_by,omitempty"`

	// SourceDocumentID — документ, из которого извлечён кредитор
	SourceDocumentID string `json:"source_document_id,omitempty"`
	// ContactSource — откуда взяты контактные данные
	ContactSource string `json:"contact_source,omitempty"`

	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`

	// Deduplication — заполняется у записи, поглотившей дубликаты
	Deduplication *DedupProvenance `json:"deduplication,omitempty"`
}

// Clone возвращает глубокую копию записи.
func (c Creditor) Clone() Creditor {
	c.ReviewReasons = cloneStrings(c.ReviewReasons)
	if c.Deduplication != nil {
		p := *c.Deduplication
		p.DuplicateIDs = cloneStrings(p.DuplicateIDs)
		c.Deduplication = &p
	}
	return c
}

// Amount — сумма требования.
// В JSON принимает число, строку ("1.234,56 €", "750.00") или null;
// нераспознанное значение считается нулём.
type Amount struct {
	decimal.Decimal
}

// NewAmount создаёт сумму из строки (см. ParseAmount).
func NewAmount(raw string) Amount {
	return Amount{Decimal: ParseAmount(raw)}
}

// AmountFromFloat создаёт сумму из float64.
func AmountFromFloat(v float64) Amount {
	return Amount{Decimal: decimal.NewFromFloat(v)}
}

// UnmarshalJSON разбирает число, строку или null.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		a.Decimal = decimal.Zero
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			a.Decimal = decimal.Zero
			return nil
		}
		a.Decimal = ParseAmount(s)
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		d = decimal.Zero
	}
	a.Decimal = d
	return nil
}

// ParseAmount разбирает сумму в английском или немецком формате
// с символом валюты. Ошибка разбора даёт ноль.
func ParseAmount(raw string) decimal.Decimal {
	s := strings.TrimSpace(raw)
	s = strings.NewReplacer("€", "", "EUR", "", "eur", "", " ", "", " ", "").Replace(s)
	if s == "" {
		return decimal.Zero
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0 && lastComma > lastDot:
		// 1.234,56
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastComma >= 0 && lastDot >= 0:
		// 1,234.56
		s = strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		// 12,5 и 12,50 — десятичная запятая; 1,234 и 1,234,567 — разряды
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Count(s, ".") > 1:
		// 1.234.567
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
