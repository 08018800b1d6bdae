package inference

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/httpx"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupMock создаёт mock HTTP-сервер сервиса дедупликации.
func setupMock(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(server.URL+"/", "secret-key", 5*time.Second, "", testLogger())
	if err != nil {
		t.Fatalf("New() ошибка: %v", err)
	}
	return c
}

func TestDeduplicateAll_Success(t *testing.T) {
	c := setupMock(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/dedup/deduplicate-all" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("X-API-Key"); got != "secret-key" {
			t.Errorf("X-API-Key = %q, хотели secret-key", got)
		}

		var req struct {
			Creditors []model.Creditor `json:"creditors"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("декодирование запроса: %v", err)
		}
		if len(req.Creditors) != 2 {
			t.Errorf("получено %d кредиторов, хотели 2", len(req.Creditors))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"deduplicated_creditors": [{"id": "a", "sender_name": "Telekom", "claim_amount": "750,00"}],
			"stats": {"original_count": 2, "unique_count": 1, "duplicates_removed": 1}
		}`))
	})

	res, err := c.DeduplicateAll(context.Background(), []model.Creditor{
		{ID: "a", SenderName: "Telekom"},
		{ID: "b", SenderName: "Telekom"},
	})
	if err != nil {
		t.Fatalf("DeduplicateAll() ошибка: %v", err)
	}
	if len(res.DeduplicatedCreditors) != 1 || res.DeduplicatedCreditors[0].ID != "a" {
		t.Errorf("DeduplicatedCreditors = %+v", res.DeduplicatedCreditors)
	}
	if res.DeduplicatedCreditors[0].ClaimAmount.String() != "750" {
		t.Errorf("ClaimAmount = %s, хотели 750", res.DeduplicatedCreditors[0].ClaimAmount.String())
	}
	if res.Stats.DuplicatesRemoved != 1 {
		t.Errorf("DuplicatesRemoved = %d, хотели 1", res.Stats.DuplicatesRemoved)
	}
}

func TestDeduplicateAll_InvalidResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"нет массива", `{"stats": {"unique_count": 0}}`},
		{"массив не массив", `{"deduplicated_creditors": "x", "stats": {"unique_count": 0}}`},
		{"нет stats", `{"deduplicated_creditors": []}`},
		{"не JSON", `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := setupMock(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			_, err := c.DeduplicateAll(context.Background(), nil)
			if !errors.Is(err, ErrInvalidResponse) {
				t.Errorf("DeduplicateAll() = %v, хотели ErrInvalidResponse", err)
			}
		})
	}
}

func TestDeduplicateAll_ServerError(t *testing.T) {
	c := setupMock(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	})

	_, err := c.DeduplicateAll(context.Background(), []model.Creditor{{ID: "a"}})
	var se *httpx.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("DeduplicateAll() = %v, хотели StatusError 503", err)
	}
}

func TestDeduplicateAll_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(server.Close)

	c, err := New(server.URL, "", 50*time.Millisecond, "", testLogger())
	if err != nil {
		t.Fatalf("New() ошибка: %v", err)
	}
	if _, err := c.DeduplicateAll(context.Background(), nil); err == nil {
		t.Error("DeduplicateAll() не вернул ошибку таймаута")
	}
}
