// signature.go — проверка HMAC-подписи входящего webhook с результатами AI.
// Заголовки: X-Signature (hex HMAC-SHA256 от timestamp + тело) и
// X-Timestamp (Unix миллисекунды).
package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/bigkaa/caseflow/intake-module/internal/api/errors"
)

// Заголовки подписи.
const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// SignaturePolicy — реакция на невалидную подпись.
type SignaturePolicy int

const (
	// SignatureStrict — отклонять запрос с 401.
	SignatureStrict SignaturePolicy = iota
	// SignaturePermissiveLogOnly — логировать и пропускать запрос.
	SignaturePermissiveLogOnly
)

// ParseSignaturePolicy переводит значение конфигурации в политику.
func ParseSignaturePolicy(s string) SignaturePolicy {
	if s == "permissive" {
		return SignaturePermissiveLogOnly
	}
	return SignatureStrict
}

// Причины отказа проверки подписи.
var (
	errMissingHeaders   = errors.New("отсутствуют заголовки X-Signature/X-Timestamp")
	errBadTimestamp     = errors.New("невалидный X-Timestamp")
	errStaleTimestamp   = errors.New("timestamp устарел")
	errFutureTimestamp  = errors.New("timestamp из будущего")
	errSignatureInvalid = errors.New("подпись не совпадает")
)

var signatureChecksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "im_webhook_signature_checks_total",
		Help: "Результаты проверки подписи входящих webhook",
	},
	[]string{"result"},
)

// SignatureVerifier проверяет подпись webhook и ограничивает размер тела.
type SignatureVerifier struct {
	secret       []byte
	policy       SignaturePolicy
	maxAge       time.Duration
	maxSkew      time.Duration
	maxBodyBytes int64
	logger       *slog.Logger
	now          func() time.Time
}

// NewSignatureVerifier создаёт проверку подписи.
func NewSignatureVerifier(
	secret string,
	policy SignaturePolicy,
	maxAge, maxSkew time.Duration,
	maxBodyBytes int64,
	logger *slog.Logger,
) *SignatureVerifier {
	return &SignatureVerifier{
		secret:       []byte(secret),
		policy:       policy,
		maxAge:       maxAge,
		maxSkew:      maxSkew,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.With(slog.String("component", "webhook_signature")),
		now:          time.Now,
	}
}

func computeMAC(secret []byte, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign вычисляет hex-подпись для timestamp и тела (используется отправителем и тестами).
func Sign(secret, timestamp string, body []byte) string {
	return hex.EncodeToString(computeMAC([]byte(secret), timestamp, body))
}

// Verify проверяет заголовки и подпись для уже прочитанного тела.
func (v *SignatureVerifier) Verify(signature, timestamp string, body []byte) error {
	if signature == "" || timestamp == "" {
		return errMissingHeaders
	}
	ms, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errBadTimestamp
	}

	age := v.now().Sub(time.UnixMilli(ms))
	if age > v.maxAge {
		return fmt.Errorf("%w: возраст %s", errStaleTimestamp, age.Truncate(time.Second))
	}
	if -age > v.maxSkew {
		return fmt.Errorf("%w: опережение %s", errFutureTimestamp, (-age).Truncate(time.Second))
	}

	got, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(got, computeMAC(v.secret, timestamp, body)) {
		return errSignatureInvalid
	}
	return nil
}

// Middleware читает тело (с лимитом размера), проверяет подпись и
// восстанавливает тело для следующего обработчика.
func (v *SignatureVerifier) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, v.maxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					apierrors.PayloadTooLarge(w, fmt.Sprintf("Тело запроса превышает %d байт", v.maxBodyBytes))
					return
				}
				apierrors.ValidationError(w, "Не удалось прочитать тело запроса")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			err = v.Verify(r.Header.Get(HeaderSignature), r.Header.Get(HeaderTimestamp), body)
			switch {
			case err == nil:
				signatureChecksTotal.WithLabelValues("ok").Inc()
			case v.policy == SignaturePermissiveLogOnly:
				signatureChecksTotal.WithLabelValues("ignored").Inc()
				v.logger.Warn("Подпись webhook не прошла проверку, запрос пропущен",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
			default:
				signatureChecksTotal.WithLabelValues("rejected").Inc()
				v.logger.Warn("Подпись webhook отклонена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.InvalidSignature(w, err.Error())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
