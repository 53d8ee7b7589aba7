// Пакет config — загрузка и валидация конфигурации imagehost
// из переменных окружения (префикс IH_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые значения перечислимых параметров.
const (
	StorageBackendLocal = "local"
	StorageBackendS3    = "s3"
)

// Config содержит все параметры конфигурации imagehost.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- JWT ---

	// URL JWKS endpoint IdP
	JWTJWKSURL string
	// Ожидаемый issuer (пустой — issuer не проверяется)
	JWTIssuer string
	// Путь к CA-сертификату для JWKS (опционально)
	JWTCACertPath string
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration

	// --- Хранилище файлов ---

	// Бэкенд хранилища: local, s3
	StorageBackend string
	// Корневая директория для local-бэкенда
	DataDir string
	// Параметры s3-бэкенда (MinIO / S3-совместимое хранилище)
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	// --- Загрузка и обработка изображений ---

	// Максимальный размер загружаемого файла в байтах
	MaxUploadSize int64
	// Разрешать ли листинг директорий в /media/
	MediaShowIndexes bool
	// Цветовой режим binary image: binary, grayscale
	BinaryColorMode string
	// Формат binary image: jpeg, png
	BinaryFormat string
	// Качество JPEG (1-100)
	BinaryQuality int

	// --- Кэш планов ---

	PlanCacheSize int
	PlanCacheTTL  time.Duration

	// --- Очистка просроченных binary images ---

	// Интервал фоновой очистки (0 — отключена)
	SweepInterval time.Duration
	// Сколько времени просроченная ссылка хранится до удаления
	SweepGrace time.Duration
	// Максимум записей за один проход
	SweepBatchSize int

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
//
//nolint:cyclop,funlen // линейная загрузка параметров
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// IH_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("IH_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("IH_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("IH_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("IH_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("IH_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("IH_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("IH_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	if cfg.HTTPReadTimeout, err = getEnvDuration("IH_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("IH_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("IH_HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("IH_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("IH_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("IH_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("IH_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("IH_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("IH_DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = getEnvInt("IH_DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("IH_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("IH_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("IH_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("IH_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("IH_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("IH_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- JWT ---

	if cfg.JWTJWKSURL, err = getEnvRequired("IH_JWT_JWKS_URL"); err != nil {
		return nil, err
	}
	cfg.JWTIssuer = os.Getenv("IH_JWT_ISSUER")
	cfg.JWTCACertPath = os.Getenv("IH_JWT_CA_CERT")
	if cfg.JWTLeeway, err = getEnvDuration("IH_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("IH_JWT_LEEWAY: %w", err)
	}
	if cfg.JWKSClientTimeout, err = getEnvDuration("IH_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("IH_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDuration("IH_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("IH_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// --- Хранилище файлов ---

	cfg.StorageBackend = getEnvDefault("IH_STORAGE_BACKEND", StorageBackendLocal)
	switch cfg.StorageBackend {
	case StorageBackendLocal:
		cfg.DataDir = getEnvDefault("IH_DATA_DIR", "/var/lib/imagehost")
	case StorageBackendS3:
		if cfg.S3Endpoint, err = getEnvRequired("IH_S3_ENDPOINT"); err != nil {
			return nil, err
		}
		if cfg.S3AccessKey, err = getEnvRequired("IH_S3_ACCESS_KEY"); err != nil {
			return nil, err
		}
		if cfg.S3SecretKey, err = getEnvRequired("IH_S3_SECRET_KEY"); err != nil {
			return nil, err
		}
		cfg.S3Bucket = getEnvDefault("IH_S3_BUCKET", "imagehost")
		if cfg.S3UseSSL, err = getEnvBool("IH_S3_USE_SSL", false); err != nil {
			return nil, fmt.Errorf("IH_S3_USE_SSL: %w", err)
		}
	default:
		return nil, fmt.Errorf("IH_STORAGE_BACKEND: недопустимое значение %q, допустимые: local, s3", cfg.StorageBackend)
	}

	// --- Загрузка и обработка изображений ---

	maxUpload, err := getEnvInt("IH_MAX_UPLOAD_SIZE", 20<<20)
	if err != nil {
		return nil, fmt.Errorf("IH_MAX_UPLOAD_SIZE: %w", err)
	}
	if maxUpload <= 0 {
		return nil, fmt.Errorf("IH_MAX_UPLOAD_SIZE: значение должно быть > 0")
	}
	cfg.MaxUploadSize = int64(maxUpload)

	if cfg.MediaShowIndexes, err = getEnvBool("IH_MEDIA_SHOW_INDEXES", false); err != nil {
		return nil, fmt.Errorf("IH_MEDIA_SHOW_INDEXES: %w", err)
	}

	cfg.BinaryColorMode = getEnvDefault("IH_BINARY_COLOR_MODE", "binary")
	if cfg.BinaryColorMode != "binary" && cfg.BinaryColorMode != "grayscale" {
		return nil, fmt.Errorf("IH_BINARY_COLOR_MODE: недопустимое значение %q, допустимые: binary, grayscale", cfg.BinaryColorMode)
	}

	cfg.BinaryFormat = strings.ToLower(getEnvDefault("IH_BINARY_FORMAT", "jpeg"))
	if cfg.BinaryFormat == "jpg" {
		cfg.BinaryFormat = "jpeg"
	}
	if cfg.BinaryFormat != "jpeg" && cfg.BinaryFormat != "png" {
		return nil, fmt.Errorf("IH_BINARY_FORMAT: недопустимое значение %q, допустимые: jpeg, png", cfg.BinaryFormat)
	}

	if cfg.BinaryQuality, err = getEnvInt("IH_BINARY_QUALITY", 95); err != nil {
		return nil, fmt.Errorf("IH_BINARY_QUALITY: %w", err)
	}
	if cfg.BinaryQuality < 1 || cfg.BinaryQuality > 100 {
		return nil, fmt.Errorf("IH_BINARY_QUALITY: значение %d вне диапазона 1-100", cfg.BinaryQuality)
	}

	// --- Кэш планов ---

	if cfg.PlanCacheSize, err = getEnvInt("IH_PLAN_CACHE_SIZE", 1000); err != nil {
		return nil, fmt.Errorf("IH_PLAN_CACHE_SIZE: %w", err)
	}
	if cfg.PlanCacheSize < 1 {
		return nil, fmt.Errorf("IH_PLAN_CACHE_SIZE: значение должно быть >= 1")
	}
	if cfg.PlanCacheTTL, err = getEnvDuration("IH_PLAN_CACHE_TTL", 30*time.Second); err != nil {
		return nil, fmt.Errorf("IH_PLAN_CACHE_TTL: %w", err)
	}

	// --- Очистка просроченных binary images ---

	if cfg.SweepInterval, err = getEnvDuration("IH_SWEEP_INTERVAL", 0); err != nil {
		return nil, fmt.Errorf("IH_SWEEP_INTERVAL: %w", err)
	}
	if cfg.SweepInterval < 0 {
		return nil, fmt.Errorf("IH_SWEEP_INTERVAL: значение должно быть >= 0")
	}
	if cfg.SweepGrace, err = getEnvDuration("IH_SWEEP_GRACE", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("IH_SWEEP_GRACE: %w", err)
	}
	if cfg.SweepBatchSize, err = getEnvInt("IH_SWEEP_BATCH_SIZE", 100); err != nil {
		return nil, fmt.Errorf("IH_SWEEP_BATCH_SIZE: %w", err)
	}
	if cfg.SweepBatchSize < 1 {
		return nil, fmt.Errorf("IH_SWEEP_BATCH_SIZE: значение должно быть >= 1")
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("IH_DEPHEALTH_GROUP", "imagehost")
	if cfg.DephealthCheckInterval, err = getEnvDurationFallback("IH_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("IH_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword), c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// S3URL возвращает URL endpoint S3 с учётом IH_S3_USE_SSL.
func (c *Config) S3URL() string {
	scheme := "http"
	if c.S3UseSSL {
		scheme = "https"
	}
	return scheme + "://" + c.S3Endpoint
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

// getEnvDurationFallback возвращает time.Duration из переменной окружения.
// Если задана — парсится и валидируется (> 0).
func getEnvDurationFallback(key string, fallbackVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallbackVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
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
