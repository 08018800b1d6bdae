// Пакет hookclient — отправка downstream-webhook в портал:
// «обработка документов завершена» и «требуется проверка кредиторов».
package hookclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bigkaa/caseflow/intake-module/internal/config"
	"github.com/bigkaa/caseflow/intake-module/internal/httpx"
)

// Источники срабатывания, передаются в поле triggered_by.
const (
	TriggeredByDelayedProcessing  = "delayed_processing_service"
	TriggeredByDocumentProcessing = "document_processing_completion"
	TriggeredBySevenDayReview     = "seven_day_review_scheduler"
	TriggeredByAdmin              = "admin"
)

// ProcessingComplete — тело POST /processing-complete.
type ProcessingComplete struct {
	ClientID       string    `json:"client_id"`
	DocumentID     *string   `json:"document_id"`
	Timestamp      time.Time `json:"timestamp"`
	TriggeredBy    string    `json:"triggered_by"`
	DelayedTrigger bool      `json:"delayed_trigger,omitempty"`
}

// CreditorReview — тело POST /creditor-review.
type CreditorReview struct {
	ClientID    string    `json:"client_id"`
	TriggeredBy string    `json:"triggered_by"`
	Timestamp   time.Time `json:"timestamp"`
}

// Client — клиент downstream-webhook.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// New создаёт клиент по конфигурации (IM_HOOK_URL, IM_HOOK_TIMEOUT).
func New(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	httpClient, err := httpx.NewClient(cfg.HookTimeout, cfg.CACertPath, logger)
	if err != nil {
		return nil, fmt.Errorf("hookclient: %w", err)
	}
	return NewWithHTTPClient(cfg.HookURL, httpClient, logger), nil
}

// NewWithHTTPClient создаёт клиент с готовым http.Client (для тестов).
func NewWithHTTPClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    httpx.NormalizeURL(baseURL),
		logger:     logger.With(slog.String("component", "hook_client")),
	}
}

// ProcessingComplete отправляет webhook «обработка документов завершена».
func (c *Client) ProcessingComplete(ctx context.Context, payload ProcessingComplete) error {
	return c.post(ctx, "/processing-complete", payload)
}

// CreditorReview отправляет webhook «требуется проверка кредиторов».
func (c *Client) CreditorReview(ctx context.Context, payload CreditorReview) error {
	return c.post(ctx, "/creditor-review", payload)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("сериализация webhook %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("создание запроса %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "caseflow-intake-module/"+config.Version)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := httpx.CheckStatus("webhook "+path, resp); err != nil {
		return err
	}

	c.logger.Debug("Webhook отправлен", slog.String("path", path), slog.Int("status", resp.StatusCode))
	return nil
}
