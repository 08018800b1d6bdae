// Пакет httpx — общий HTTP-клиент для внешних сервисов
// (inference, downstream-webhook, тикет-система).
// Поддерживает TLS с кастомным CA (IM_CA_CERT_PATH).
package httpx

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// maxErrorBody — сколько байт тела ответа с ошибкой попадает в текст ошибки.
const maxErrorBody = 4096

// NewClient создаёт http.Client с таймаутом.
// caCertPath — путь к CA-сертификату (пустая строка — системный пул).
func NewClient(timeout time.Duration, caCertPath string, logger *slog.Logger) (*http.Client, error) {
	client := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата: %w", err)
		}
		client.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Debug("CA-сертификат добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}
	return client, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("файл %s не содержит PEM-сертификатов", caCertPath)
	}

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// StatusError — внешний сервис ответил неуспешным статусом.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s вернул статус %d: %s", e.Service, e.StatusCode, e.Body)
}

// CheckStatus возвращает *StatusError, если код ответа не 2xx.
func CheckStatus(service string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// NormalizeURL убирает trailing slash из URL.
func NormalizeURL(rawURL string) string {
	return strings.TrimRight(rawURL, "/")
}
