// Пакет inference — HTTP-клиент сервиса AI-дедупликации кредиторов.
// Операция: POST /api/dedup/deduplicate-all (заголовок X-API-Key).
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/httpx"
)

// ErrInvalidResponse — ответ сервиса не прошёл проверку.
var ErrInvalidResponse = errors.New("некорректный ответ сервиса дедупликации")

// Stats — статистика дедупликации от сервиса.
type Stats struct {
	OriginalCount     int `json:"original_count"`
	UniqueCount       int `json:"unique_count"`
	DuplicatesRemoved int `json:"duplicates_removed"`
}

// DedupResult — ответ POST /api/dedup/deduplicate-all.
type DedupResult struct {
	DeduplicatedCreditors []model.Creditor `json:"deduplicated_creditors"`
	Stats                 *Stats           `json:"stats"`
}

type dedupRequest struct {
	Creditors []model.Creditor `json:"creditors"`
}

// Client — клиент сервиса дедупликации.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// New создаёт клиент. timeout — таймаут одного запроса (по умолчанию 5 минут).
func New(baseURL, apiKey string, timeout time.Duration, caCertPath string, logger *slog.Logger) (*Client, error) {
	httpClient, err := httpx.NewClient(timeout, caCertPath, logger)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    httpx.NormalizeURL(baseURL),
		apiKey:     apiKey,
		logger:     logger.With(slog.String("component", "inference_client")),
	}, nil
}

// DeduplicateAll отправляет список кредиторов на AI-дедупликацию.
// Ответ без массива deduplicated_creditors или без stats — ErrInvalidResponse.
func (c *Client) DeduplicateAll(ctx context.Context, creditors []model.Creditor) (*DedupResult, error) {
	if creditors == nil {
		creditors = []model.Creditor{}
	}
	body, err := json.Marshal(dedupRequest{Creditors: creditors})
	if err != nil {
		return nil, fmt.Errorf("сериализация запроса дедупликации: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/dedup/deduplicate-all", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("создание запроса дедупликации: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос дедупликации: %w", err)
	}
	defer resp.Body.Close()

	if err := httpx.CheckStatus("сервис дедупликации", resp); err != nil {
		return nil, err
	}

	// Отдельная структура, чтобы отличить отсутствующий массив от пустого
	var raw struct {
		DeduplicatedCreditors *[]model.Creditor `json:"deduplicated_creditors"`
		Stats                 *Stats            `json:"stats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if raw.DeduplicatedCreditors == nil {
		return nil, fmt.Errorf("%w: deduplicated_creditors не массив", ErrInvalidResponse)
	}
	if raw.Stats == nil {
		return nil, fmt.Errorf("%w: отсутствует stats", ErrInvalidResponse)
	}

	c.logger.Debug("AI-дедупликация выполнена",
		slog.Int("original_count", raw.Stats.OriginalCount),
		slog.Int("unique_count", raw.Stats.UniqueCount),
		slog.Int("duplicates_removed", raw.Stats.DuplicatesRemoved),
		slog.Duration("duration", time.Since(start)),
	)

	return &DedupResult{
		DeduplicatedCreditors: *raw.DeduplicatedCreditors,
		Stats:                 raw.Stats,
	}, nil
}

// HealthURL возвращает URL проверки доступности для topologymetrics.
func (c *Client) HealthURL() string {
	return c.baseURL
}
