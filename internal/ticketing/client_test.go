package ticketing

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
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupMock(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewWithHTTPClient(server.URL, "tk-secret", &http.Client{Timeout: time.Second}, testLogger())
}

func TestCreateTicket(t *testing.T) {
	tests := []struct {
		name   string
		respID string
		want   string
	}{
		{"числовой id", `12345`, "12345"},
		{"строковый id", `"T-77"`, "T-77"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := setupMock(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v1/tickets" || r.Method != http.MethodPost {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				if got := r.Header.Get("Authorization"); got != "Bearer tk-secret" {
					t.Errorf("Authorization = %q", got)
				}
				var in Ticket
				json.NewDecoder(r.Body).Decode(&in)
				if in.Priority != "normal" || in.Type != "task" {
					t.Errorf("значения по умолчанию не заполнены: %+v", in)
				}
				w.WriteHeader(http.StatusCreated)
				w.Write([]byte(`{"ticket": {"id": ` + tt.respID + `}}`))
			})

			id, err := c.CreateTicket(context.Background(), Ticket{Subject: "Prüfung", Content: "x"})
			if err != nil {
				t.Fatalf("CreateTicket() ошибка: %v", err)
			}
			if id != tt.want {
				t.Errorf("id = %q, хотели %q", id, tt.want)
			}
		})
	}
}

func TestCreateTicket_NoID(t *testing.T) {
	c := setupMock(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ticket": {}}`))
	})
	if _, err := c.CreateTicket(context.Background(), Ticket{}); !errors.Is(err, ErrNoTicketID) {
		t.Errorf("CreateTicket() = %v, хотели ErrNoTicketID", err)
	}
}

func TestAddInternalComment(t *testing.T) {
	var gotPath string
	var got Comment
	c := setupMock(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	})

	err := c.AddInternalComment(context.Background(), "42", Comment{Content: "Erinnerung", Tags: []string{"document-reminder"}})
	if err != nil {
		t.Fatalf("AddInternalComment() ошибка: %v", err)
	}
	if gotPath != "/api/v1/tickets/42/comments" {
		t.Errorf("path = %q", gotPath)
	}
	if got.Content != "Erinnerung" || len(got.Tags) != 1 {
		t.Errorf("комментарий = %+v", got)
	}
}

func TestAddInternalComment_Error(t *testing.T) {
	c := setupMock(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if err := c.AddInternalComment(context.Background(), "1", Comment{Content: "x"}); err == nil {
		t.Error("AddInternalComment() не вернул ошибку при 401")
	}
}
