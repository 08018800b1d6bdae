// enrichment.go — дополнение контактов кредитора из справочника creditor_directory.
//
// Поиск идёт по нормализованному наименованию. Результаты поиска (включая
// «не найдено») кэшируются в LRU с TTL: один пакет результатов часто содержит
// несколько писем одного кредитора.
//
// Prometheus-метрики:
//   - im_enrichment_cache_hits_total — попадания в кэш
//   - im_enrichment_cache_misses_total — промахи кэша
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/repository"
)

var (
	enrichmentCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_enrichment_cache_hits_total",
		Help: "Попадания в кэш справочника кредиторов.",
	})
	enrichmentCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_enrichment_cache_misses_total",
		Help: "Промахи кэша справочника кредиторов.",
	})
)

var (
	nonAlnumRe   = regexp.MustCompile(`[^a-z0-9\s]`)
	legalFormRe  = regexp.MustCompile(`\b(gmbh|ag|kg|ohg|ug|ev|mbh|co|inkasso|bank)\b`)
	umlautFolder = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss")
)

// NormalizeCreditorName приводит наименование к ключу справочника:
// нижний регистр, умлауты в латиницу, без знаков препинания и правовых форм.
func NormalizeCreditorName(name string) string {
	s := umlautFolder.Replace(strings.ToLower(name))
	s = nonAlnumRe.ReplaceAllString(s, "")
	s = legalFormRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// IsMissing — значение контакта отсутствует: пусто, "n/a", "na" или "n.a".
func IsMissing(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "n/a", "na", "n.a", "n.a.":
		return true
	}
	return false
}

// ContactDirectory — справочник контактов кредиторов.
type ContactDirectory interface {
	FindByNormalizedName(ctx context.Context, normalized string) (*model.CreditorContact, error)
	Upsert(ctx context.Context, c *model.CreditorContact) error
}

// EnrichmentResult — итог дополнения контактов одного документа.
type EnrichmentResult struct {
	// Matched — найдена запись справочника
	Matched bool
	// Filled — хотя бы одно поле заполнено из справочника
	Filled bool
	// MissingEmail, MissingAddress — поле отсутствует после дополнения
	MissingEmail   bool
	MissingAddress bool
}

// Enricher дополняет извлечённые AI контакты кредитора.
type Enricher struct {
	directory ContactDirectory
	cache     *expirable.LRU[string, *model.CreditorContact]
	logger    *slog.Logger
	now       func() time.Time
}

// NewEnricher создаёт Enricher с кэшем на cacheSize записей.
func NewEnricher(directory ContactDirectory, cacheSize int, cacheTTL time.Duration, logger *slog.Logger) *Enricher {
	return &Enricher{
		directory: directory,
		cache:     expirable.NewLRU[string, *model.CreditorContact](cacheSize, nil, cacheTTL),
		logger:    logger.With(slog.String("component", "enrichment")),
		now:       time.Now,
	}
}

// Enrich заполняет отсутствующие e-mail и адрес документа из справочника.
func (e *Enricher) Enrich(ctx context.Context, doc *model.Document) EnrichmentResult {
	if doc.ExtractedData == nil {
		return EnrichmentResult{MissingEmail: true, MissingAddress: true}
	}
	ed := doc.ExtractedData
	return e.enrichFields(ctx, doc.ID, ed.SenderName, &ed.SenderEmail, &ed.SenderAddress)
}

// EnrichCreditor заполняет отсутствующие контакты записи кредитора.
// Заполненные из справочника контакты помечаются источником creditor_directory.
func (e *Enricher) EnrichCreditor(ctx context.Context, c *model.Creditor) EnrichmentResult {
	res := e.enrichFields(ctx, c.SourceDocumentID, c.SenderName, &c.Email, &c.Address)
	switch {
	case res.Filled:
		c.ContactSource = model.ContactSourceDirectory
	case c.ContactSource == "" && (!res.MissingEmail || !res.MissingAddress):
		c.ContactSource = model.ContactSourceAI
	}
	return res
}

// enrichFields — общий алгоритм. Заполненные AI поля не перезаписываются.
// Ошибка справочника не прерывает обработку: поля остаются как есть.
func (e *Enricher) enrichFields(ctx context.Context, docID, name string, email, address *string) EnrichmentResult {
	res := EnrichmentResult{
		MissingEmail:   IsMissing(*email),
		MissingAddress: IsMissing(*address),
	}
	if !res.MissingEmail && !res.MissingAddress {
		return res
	}

	key := NormalizeCreditorName(name)
	if key == "" {
		return res
	}

	contact, err := e.lookup(ctx, key)
	if err != nil {
		e.logger.Warn("Ошибка поиска в справочнике кредиторов",
			slog.String("document_id", docID),
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		return res
	}
	if contact == nil {
		return res
	}
	res.Matched = true

	if res.MissingEmail && !IsMissing(contact.Email) {
		*email = contact.Email
		res.MissingEmail = false
		res.Filled = true
	}
	if res.MissingAddress && !IsMissing(contact.Address) {
		*address = contact.Address
		res.MissingAddress = false
		res.Filled = true
	}

	if res.Filled {
		e.logger.Info("Контакты кредитора дополнены из справочника",
			slog.String("document_id", docID),
			slog.String("name", name),
			slog.String("directory_id", contact.ID),
		)
	}
	return res
}

// lookup ищет запись в кэше, затем в справочнике. nil — записи нет.
func (e *Enricher) lookup(ctx context.Context, key string) (*model.CreditorContact, error) {
	if c, ok := e.cache.Get(key); ok {
		enrichmentCacheHits.Inc()
		return c, nil
	}
	enrichmentCacheMisses.Inc()

	c, err := e.directory.FindByNormalizedName(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		e.cache.Add(key, nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.cache.Add(key, c)
	return c, nil
}

// UpsertContact добавляет или обновляет запись справочника
// и сбрасывает её в кэше.
func (e *Enricher) UpsertContact(ctx context.Context, name, email, address string) (*model.CreditorContact, error) {
	key := NormalizeCreditorName(name)
	if key == "" {
		return nil, fmt.Errorf("%w: пустое наименование кредитора", ErrValidation)
	}
	if IsMissing(email) && IsMissing(address) {
		return nil, fmt.Errorf("%w: нужен e-mail или адрес", ErrValidation)
	}

	c := &model.CreditorContact{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(name),
		NormalizedName: key,
		Email:          strings.TrimSpace(email),
		Address:        strings.TrimSpace(address),
		UpdatedAt:      e.now().UTC(),
	}
	if err := e.directory.Upsert(ctx, c); err != nil {
		return nil, fmt.Errorf("сохранение записи справочника: %w", err)
	}
	e.cache.Remove(key)
	return c, nil
}
