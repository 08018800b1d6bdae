// Пакет config — загрузка и валидация конфигурации Intake Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Политики проверки подписи входящих webhook.
const (
	SignaturePolicyStrict     = "strict"
	SignaturePolicyPermissive = "permissive"
)

// Config содержит все параметры конфигурации Intake Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8000-8009)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Keycloak / JWT ---

	// URL Keycloak (например, https://keycloak.caseflow.lan)
	KeycloakURL string
	// Имя realm в Keycloak
	KeycloakRealm string
	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string
	// Путь к CA-сертификату для TLS к Keycloak и внешним сервисам (опционально)
	CACertPath string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение часов при проверке JWT
	JWTLeeway time.Duration
	// Группы Keycloak, дающие роль admin (через запятую)
	RoleAdminGroups []string
	// Группы Keycloak, дающие роль agent (через запятую)
	RoleAgentGroups []string

	// --- Входящий webhook ---

	// Секрет HMAC-SHA256
	WebhookSecret string
	// Политика проверки подписи: strict, permissive
	WebhookSignaturePolicy string
	// Максимальный возраст подписи
	WebhookMaxAge time.Duration
	// Допустимое опережение часов отправителя
	WebhookMaxSkew time.Duration
	// Максимальный размер тела запроса в байтах
	WebhookMaxBodyBytes int64

	// --- Очередь webhook ---

	WebhookWorkerInterval time.Duration
	WebhookMaxRetries     int
	WebhookRetryBase      time.Duration
	WebhookRetryMax       time.Duration

	// --- Обработка документов ---

	// Порог уверенности AI для автоматического подтверждения
	ReviewConfidenceThreshold float64
	// Размер кэша справочника кредиторов
	EnrichmentCacheSize int
	// TTL записи кэша справочника
	EnrichmentCacheTTL time.Duration

	// --- Внешние сервисы ---

	// URL сервиса распознавания/дедупликации
	InferenceURL string
	// API-ключ сервиса распознавания
	InferenceAPIKey string
	// Таймаут запроса дедупликации
	InferenceTimeout time.Duration
	// Базовый URL downstream-webhook
	HookURL string
	// Таймаут downstream-webhook
	HookTimeout time.Duration
	// URL тикет-системы
	TicketingURL string
	// Токен тикет-системы
	TicketingToken string
	// Таймаут тикет-системы
	TicketingTimeout time.Duration
	// Лимит создания тикетов в секунду
	TicketingRatePerSecond float64
	// Допустимый всплеск запросов к тикет-системе
	TicketingBurst int

	// --- Планировщик ---

	SchedulerEnabled bool
	// Базовая задержка первых запусков проходов
	SchedulerInitialDelay time.Duration
	// Параллелизм обработки дел внутри прохода
	SweepConcurrency int
	// Максимум дел за один проход
	SweepBatchSize int

	DocumentReminderInterval time.Duration
	DelayedWebhookInterval   time.Duration
	LoginReminderInterval    time.Duration
	SevenDayReviewInterval   time.Duration
	AutoConfirmInterval      time.Duration
	RededupInterval          time.Duration

	// Задержка отложенного webhook «обработка завершена»
	ProcessingWebhookDelay time.Duration
	// Период тишины после последней загрузки
	UploadQuietPeriod time.Duration
	// Задержка 7-дневной проверки
	SevenDayReviewDelay time.Duration
	// Окно автоподтверждения после одобрения
	AutoConfirmWindow time.Duration
	// Повтор напоминания о документах
	DocumentReminderAfter time.Duration
	// Задержка напоминания о входе
	LoginReminderAfter time.Duration
	// Задержка AI-передедупликации после последней загрузки
	RededupDelay time.Duration
	// Флаг dedup_in_progress старше этого считается брошенным
	DedupGuardStaleAfter time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("IM_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("IM_PORT: %w", err)
	}
	if cfg.Port < 8000 || cfg.Port > 8009 {
		return nil, fmt.Errorf("IM_PORT: значение %d вне допустимого диапазона 8000-8009", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("IM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("IM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("IM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("IM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("IM_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("IM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("IM_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("IM_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("IM_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("IM_DB_PASSWORD"); err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("IM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("IM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Keycloak / JWT ---

	if cfg.KeycloakURL, err = getEnvRequired("IM_KEYCLOAK_URL"); err != nil {
		return nil, err
	}
	cfg.KeycloakURL = strings.TrimRight(cfg.KeycloakURL, "/")
	cfg.KeycloakRealm = getEnvDefault("IM_KEYCLOAK_REALM", "caseflow")

	cfg.JWTIssuer = getEnvDefault("IM_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm))
	cfg.JWTJWKSURL = getEnvDefault("IM_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakRealm))
	cfg.CACertPath = getEnvDefault("IM_CA_CERT_PATH", "")

	if cfg.JWKSClientTimeout, err = getEnvDuration("IM_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("IM_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDuration("IM_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("IM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWTLeeway, err = getEnvDuration("IM_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("IM_JWT_LEEWAY: %w", err)
	}

	cfg.RoleAdminGroups = parseCSV(getEnvDefault("IM_ROLE_ADMIN_GROUPS", "caseflow-admins"))
	cfg.RoleAgentGroups = parseCSV(getEnvDefault("IM_ROLE_AGENT_GROUPS", "caseflow-agents"))

	// --- Входящий webhook ---

	cfg.WebhookSignaturePolicy = strings.ToLower(getEnvDefault("IM_WEBHOOK_SIGNATURE_POLICY", SignaturePolicyStrict))
	if cfg.WebhookSignaturePolicy != SignaturePolicyStrict && cfg.WebhookSignaturePolicy != SignaturePolicyPermissive {
		return nil, fmt.Errorf("IM_WEBHOOK_SIGNATURE_POLICY: недопустимое значение %q, допустимые: strict, permissive", cfg.WebhookSignaturePolicy)
	}
	cfg.WebhookSecret = getEnvDefault("IM_WEBHOOK_SECRET", "")
	if cfg.WebhookSecret == "" && cfg.WebhookSignaturePolicy == SignaturePolicyStrict {
		return nil, fmt.Errorf("IM_WEBHOOK_SECRET: обязательна при политике strict")
	}
	if cfg.WebhookMaxAge, err = getEnvDuration("IM_WEBHOOK_MAX_AGE", 300*time.Second); err != nil {
		return nil, fmt.Errorf("IM_WEBHOOK_MAX_AGE: %w", err)
	}
	if cfg.WebhookMaxSkew, err = getEnvDuration("IM_WEBHOOK_MAX_SKEW", 60*time.Second); err != nil {
		return nil, fmt.Errorf("IM_WEBHOOK_MAX_SKEW: %w", err)
	}
	maxBody, err := getEnvInt("IM_WEBHOOK_MAX_BODY_BYTES", 10<<20)
	if err != nil {
		return nil, fmt.Errorf("IM_WEBHOOK_MAX_BODY_BYTES: %w", err)
	}
	cfg.WebhookMaxBodyBytes = int64(maxBody)

	// --- Очередь webhook ---

	if cfg.WebhookWorkerInterval, err = getEnvDuration("IM_WEBHOOK_WORKER_INTERVAL", 2*time.Second); err != nil {
		return nil, fmt.Errorf("IM_WEBHOOK_WORKER_INTERVAL: %w", err)
	}
	if cfg.WebhookMaxRetries, err = getEnvInt("IM_WEBHOOK_MAX_RETRIES", 3); err != nil {
		return nil, fmt.Errorf("IM_WEBHOOK_MAX_RETRIES: %w", err)
	}
	if cfg.WebhookRetryBase, err = getEnvDuration("IM_WEBHOOK_RETRY_BASE", time.Second); err != nil {
		return nil, fmt.Errorf("IM_WEBHOOK_RETRY_BASE: %w", err)
	}
	if cfg.WebhookRetryMax, err = getEnvDuration("IM_WEBHOOK_RETRY_MAX", 30*time.Second); err != nil {
		return nil, fmt.Errorf("IM_WEBHOOK_RETRY_MAX: %w", err)
	}

	// --- Обработка документов ---

	cfg.ReviewConfidenceThreshold, err = getEnvFloat("IM_REVIEW_CONFIDENCE_THRESHOLD", 0.8)
	if err != nil {
		return nil, fmt.Errorf("IM_REVIEW_CONFIDENCE_THRESHOLD: %w", err)
	}
	if cfg.ReviewConfidenceThreshold < 0 || cfg.ReviewConfidenceThreshold > 1 {
		return nil, fmt.Errorf("IM_REVIEW_CONFIDENCE_THRESHOLD: значение %v вне диапазона 0-1", cfg.ReviewConfidenceThreshold)
	}
	if cfg.EnrichmentCacheSize, err = getEnvInt("IM_ENRICHMENT_CACHE_SIZE", 1000); err != nil {
		return nil, fmt.Errorf("IM_ENRICHMENT_CACHE_SIZE: %w", err)
	}
	if cfg.EnrichmentCacheTTL, err = getEnvDuration("IM_ENRICHMENT_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("IM_ENRICHMENT_CACHE_TTL: %w", err)
	}

	// --- Внешние сервисы ---

	if cfg.InferenceURL, err = getEnvRequired("IM_INFERENCE_URL"); err != nil {
		return nil, err
	}
	cfg.InferenceURL = strings.TrimRight(cfg.InferenceURL, "/")
	cfg.InferenceAPIKey = getEnvDefault("IM_INFERENCE_API_KEY", "")
	if cfg.InferenceTimeout, err = getEnvDuration("IM_INFERENCE_TIMEOUT", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("IM_INFERENCE_TIMEOUT: %w", err)
	}

	if cfg.HookURL, err = getEnvRequired("IM_HOOK_URL"); err != nil {
		return nil, err
	}
	cfg.HookURL = strings.TrimRight(cfg.HookURL, "/")
	if cfg.HookTimeout, err = getEnvDuration("IM_HOOK_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("IM_HOOK_TIMEOUT: %w", err)
	}

	if cfg.TicketingURL, err = getEnvRequired("IM_TICKETING_URL"); err != nil {
		return nil, err
	}
	cfg.TicketingURL = strings.TrimRight(cfg.TicketingURL, "/")
	cfg.TicketingToken = getEnvDefault("IM_TICKETING_TOKEN", "")
	if cfg.TicketingTimeout, err = getEnvDuration("IM_TICKETING_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("IM_TICKETING_TIMEOUT: %w", err)
	}
	if cfg.TicketingRatePerSecond, err = getEnvFloat("IM_TICKETING_RATE", 2); err != nil {
		return nil, fmt.Errorf("IM_TICKETING_RATE: %w", err)
	}
	if cfg.TicketingBurst, err = getEnvInt("IM_TICKETING_BURST", 5); err != nil {
		return nil, fmt.Errorf("IM_TICKETING_BURST: %w", err)
	}

	// --- Планировщик ---

	if cfg.SchedulerEnabled, err = getEnvBool("IM_SCHEDULER_ENABLED", true); err != nil {
		return nil, fmt.Errorf("IM_SCHEDULER_ENABLED: %w", err)
	}
	if cfg.SchedulerInitialDelay, err = getEnvDuration("IM_SCHEDULER_INITIAL_DELAY", time.Minute); err != nil {
		return nil, fmt.Errorf("IM_SCHEDULER_INITIAL_DELAY: %w", err)
	}
	if cfg.SweepConcurrency, err = getEnvInt("IM_SWEEP_CONCURRENCY", 4); err != nil {
		return nil, fmt.Errorf("IM_SWEEP_CONCURRENCY: %w", err)
	}
	if cfg.SweepConcurrency < 1 || cfg.SweepConcurrency > 64 {
		return nil, fmt.Errorf("IM_SWEEP_CONCURRENCY: значение %d вне допустимого диапазона 1-64", cfg.SweepConcurrency)
	}
	if cfg.SweepBatchSize, err = getEnvInt("IM_SWEEP_BATCH_SIZE", 500); err != nil {
		return nil, fmt.Errorf("IM_SWEEP_BATCH_SIZE: %w", err)
	}

	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"IM_DOCUMENT_REMINDER_INTERVAL", &cfg.DocumentReminderInterval, time.Hour},
		{"IM_DELAYED_WEBHOOK_INTERVAL", &cfg.DelayedWebhookInterval, 30 * time.Minute},
		{"IM_LOGIN_REMINDER_INTERVAL", &cfg.LoginReminderInterval, 6 * time.Hour},
		{"IM_SEVEN_DAY_REVIEW_INTERVAL", &cfg.SevenDayReviewInterval, time.Hour},
		{"IM_AUTO_CONFIRM_INTERVAL", &cfg.AutoConfirmInterval, 7 * time.Hour},
		{"IM_REDEDUP_INTERVAL", &cfg.RededupInterval, 5 * time.Minute},
		{"IM_PROCESSING_WEBHOOK_DELAY", &cfg.ProcessingWebhookDelay, 24 * time.Hour},
		{"IM_UPLOAD_QUIET_PERIOD", &cfg.UploadQuietPeriod, time.Hour},
		{"IM_SEVEN_DAY_REVIEW_DELAY", &cfg.SevenDayReviewDelay, 168 * time.Hour},
		{"IM_AUTO_CONFIRM_WINDOW", &cfg.AutoConfirmWindow, 168 * time.Hour},
		{"IM_DOCUMENT_REMINDER_AFTER", &cfg.DocumentReminderAfter, 48 * time.Hour},
		{"IM_LOGIN_REMINDER_AFTER", &cfg.LoginReminderAfter, 168 * time.Hour},
		{"IM_REDEDUP_DELAY", &cfg.RededupDelay, 30 * time.Minute},
		{"IM_DEDUP_GUARD_STALE_AFTER", &cfg.DedupGuardStaleAfter, 15 * time.Minute},
		{"IM_DEPHEALTH_CHECK_INTERVAL", &cfg.DephealthCheckInterval, 15 * time.Second},
		{"IM_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout, 5 * time.Second},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, d.def); err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if *d.dst <= 0 {
			return nil, fmt.Errorf("%s: длительность должна быть положительной", d.key)
		}
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("IM_DEPHEALTH_GROUP", "caseflow")

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для меток topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvFloat возвращает дробное значение переменной окружения или значение по умолчанию.
func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

// getEnvBool возвращает логическое значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
