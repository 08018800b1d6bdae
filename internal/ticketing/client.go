// Пакет ticketing — клиент тикет-системы поддержки.
// Операции: создание тикета (POST /api/v1/tickets) и внутренний
// комментарий (POST /api/v1/tickets/{id}/comments). Авторизация — Bearer.
package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bigkaa/caseflow/intake-module/internal/config"
	"github.com/bigkaa/caseflow/intake-module/internal/httpx"
)

// ErrNoTicketID — тикет-система не вернула идентификатор.
var ErrNoTicketID = errors.New("тикет-система не вернула id тикета")

// Ticket — параметры нового тикета.
type Ticket struct {
	Subject        string   `json:"subject"`
	Content        string   `json:"content"`
	RequesterEmail string   `json:"requester_email,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	// Priority — low, normal, high, urgent
	Priority string `json:"priority"`
	// Type — task, question, incident
	Type string `json:"type"`
}

// Comment — внутренний (непубличный) комментарий к тикету.
type Comment struct {
	Content string   `json:"content"`
	Status  string   `json:"status,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Client — клиент тикет-системы.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger
}

// New создаёт клиент по конфигурации (IM_TICKETING_URL, IM_TICKETING_TOKEN).
func New(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	httpClient, err := httpx.NewClient(cfg.TicketingTimeout, cfg.CACertPath, logger)
	if err != nil {
		return nil, fmt.Errorf("ticketing: %w", err)
	}
	return NewWithHTTPClient(cfg.TicketingURL, cfg.TicketingToken, httpClient, logger), nil
}

// NewWithHTTPClient создаёт клиент с готовым http.Client (для тестов).
func NewWithHTTPClient(baseURL, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    httpx.NormalizeURL(baseURL),
		token:      token,
		logger:     logger.With(slog.String("component", "ticketing_client")),
	}
}

// CreateTicket создаёт тикет и возвращает его id.
func (c *Client) CreateTicket(ctx context.Context, t Ticket) (string, error) {
	if t.Priority == "" {
		t.Priority = "normal"
	}
	if t.Type == "" {
		t.Type = "task"
	}

	var resp struct {
		Ticket struct {
			ID json.RawMessage `json:"id"`
		} `json:"ticket"`
	}
	if err := c.post(ctx, "/api/v1/tickets", t, &resp); err != nil {
		return "", fmt.Errorf("создание тикета: %w", err)
	}

	// id приходит числом или строкой
	id := strings.Trim(string(resp.Ticket.ID), `"`)
	if id == "" || id == "null" {
		return "", ErrNoTicketID
	}

	c.logger.Info("Тикет создан",
		slog.String("ticket_id", id),
		slog.String("subject", t.Subject),
	)
	return id, nil
}

// AddInternalComment добавляет внутренний комментарий к тикету.
func (c *Client) AddInternalComment(ctx context.Context, ticketID string, cm Comment) error {
	path := "/api/v1/tickets/" + url.PathEscape(ticketID) + "/comments"
	if err := c.post(ctx, path, cm, nil); err != nil {
		return fmt.Errorf("комментарий к тикету %s: %w", ticketID, err)
	}
	return nil
}

// post отправляет JSON и декодирует ответ в out (если out != nil).
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("сериализация: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := httpx.CheckStatus("тикет-система", resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа: %w", err)
	}
	return nil
}
