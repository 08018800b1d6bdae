package httpx

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewClient_Timeout(t *testing.T) {
	c, err := NewClient(7*time.Second, "", testLogger())
	if err != nil {
		t.Fatalf("NewClient() ошибка: %v", err)
	}
	if c.Timeout != 7*time.Second {
		t.Errorf("Timeout = %v, хотели 7s", c.Timeout)
	}
}

func TestNewClient_BadCACert(t *testing.T) {
	if _, err := NewClient(time.Second, "/nonexistent/ca.pem", testLogger()); err == nil {
		t.Error("NewClient() с несуществующим CA не вернул ошибку")
	}

	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewClient(time.Second, path, testLogger()); err == nil {
		t.Error("NewClient() с некорректным PEM не вернул ошибку")
	}
}

func TestCheckStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		http.Error(w, "сломано", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/ok")
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckStatus("svc", resp); err != nil {
		t.Errorf("CheckStatus(202) = %v, хотели nil", err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/fail")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	err = CheckStatus("svc", resp)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("CheckStatus(502) = %v, хотели *StatusError", err)
	}
	if se.StatusCode != http.StatusBadGateway || se.Body != "сломано" {
		t.Errorf("StatusError = %+v", se)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
}

func TestNormalizeURL(t *testing.T) {
	if got := NormalizeURL("http://x:1//"); got != "http://x:1" {
		t.Errorf("NormalizeURL() = %q", got)
	}
}
