// Пакет config — загрузка и валидация конфигурации Sachet
// из переменных окружения (префикс SACHET_).
package config

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Version задаётся при сборке: -ldflags "-X .../internal/config.Version=v1.2.3".
var Version = "dev"

// Бэкенды хранилища содержимого.
const (
	StorageFilesystem = "filesystem"
	StorageS3         = "s3"
)

// Config содержит все параметры конфигурации Sachet.
type Config struct {
	// Сервер

	// Порт HTTP-сервера
	Port int
	// debug, info, warn, error
	LogLevel slog.Level
	// json или text
	LogFormat string
	// Таймауты HTTP-сервера
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// Максимальный размер тела запроса с содержимым
	MaxUploadSize int64

	// PostgreSQL

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// disable, require, verify-ca, verify-full
	DBSSLMode string
	// Максимум соединений в пуле
	DBMaxConns int

	// Аутентификация

	// Ключ подписи токенов
	SecretKey string
	// Срок действия токена
	TokenTTL time.Duration
	// Стоимость bcrypt
	BcryptCost int
	// Размер и TTL кэша пользователей для проверки токенов
	UserCacheSize int
	UserCacheTTL  time.Duration
	// Первый администратор (создаётся при старте, если не существует)
	BootstrapAdminUser     string
	BootstrapAdminPassword string

	// Хранилище

	// Бэкенд: filesystem или s3
	Storage string
	// Директория файлов (filesystem)
	FileDir string
	// Параметры S3
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3KeyPrefix       string

	// Очистка

	// Возраст незагруженной шары для удаления
	ShareTTL time.Duration
	// Возраст незавершённой загрузки для удаления
	UploadTTL time.Duration
	// Интервал очистки
	ReaperInterval time.Duration

	// topologymetrics

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// Graceful shutdown

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения SACHET_*.
// Ошибки всех переменных собираются и возвращаются вместе.
//
//nolint:funlen // линейный разбор переменных
func Load() (*Config, error) {
	e := &envReader{lookup: os.LookupEnv}
	cfg := &Config{}

	// Сервер
	cfg.Port = e.intIn("SACHET_PORT", 5000, 1, 65535)
	cfg.LogLevel = e.logLevel("SACHET_LOG_LEVEL", slog.LevelInfo)
	cfg.LogFormat = e.oneOf("SACHET_LOG_FORMAT", "json", "json", "text")
	cfg.ReadTimeout = e.duration("SACHET_READ_TIMEOUT", time.Minute)
	cfg.WriteTimeout = e.duration("SACHET_WRITE_TIMEOUT", 5*time.Minute)
	cfg.IdleTimeout = e.duration("SACHET_IDLE_TIMEOUT", 2*time.Minute)
	cfg.MaxUploadSize = e.size("SACHET_MAX_UPLOAD_SIZE", 1<<30)

	// PostgreSQL
	cfg.DBHost = e.required("SACHET_DB_HOST")
	cfg.DBPort = e.intIn("SACHET_DB_PORT", 5432, 1, 65535)
	cfg.DBName = e.required("SACHET_DB_NAME")
	cfg.DBUser = e.required("SACHET_DB_USER")
	cfg.DBPassword = e.required("SACHET_DB_PASSWORD")
	cfg.DBSSLMode = e.oneOf("SACHET_DB_SSL_MODE", "disable", "disable", "require", "verify-ca", "verify-full")
	cfg.DBMaxConns = e.intIn("SACHET_DB_MAX_CONNS", 10, 1, 1000)

	// Аутентификация
	cfg.SecretKey = e.required("SACHET_SECRET_KEY")
	cfg.TokenTTL = e.positiveDuration("SACHET_TOKEN_TTL", 7*24*time.Hour)
	cfg.BcryptCost = e.intIn("SACHET_BCRYPT_COST", 12, 4, 31)
	cfg.UserCacheSize = e.intIn("SACHET_USER_CACHE_SIZE", 1000, 0, 1<<20)
	cfg.UserCacheTTL = e.duration("SACHET_USER_CACHE_TTL", 30*time.Second)
	cfg.BootstrapAdminUser = e.str("SACHET_BOOTSTRAP_ADMIN_USER", "")
	cfg.BootstrapAdminPassword = e.str("SACHET_BOOTSTRAP_ADMIN_PASSWORD", "")
	if (cfg.BootstrapAdminUser == "") != (cfg.BootstrapAdminPassword == "") {
		e.fail("SACHET_BOOTSTRAP_ADMIN_USER", errors.New("задаётся только вместе с SACHET_BOOTSTRAP_ADMIN_PASSWORD"))
	}

	// Хранилище
	cfg.Storage = e.oneOf("SACHET_STORAGE", StorageFilesystem, StorageFilesystem, StorageS3)
	switch cfg.Storage {
	case StorageFilesystem:
		cfg.FileDir = e.str("SACHET_FILE_DIR", "./storage")
	case StorageS3:
		cfg.S3Bucket = e.required("SACHET_S3_BUCKET")
		cfg.S3Region = e.str("SACHET_S3_REGION", "us-east-1")
		cfg.S3Endpoint = strings.TrimRight(e.str("SACHET_S3_ENDPOINT", ""), "/")
		cfg.S3AccessKeyID = e.str("SACHET_S3_ACCESS_KEY_ID", "")
		cfg.S3SecretAccessKey = e.str("SACHET_S3_SECRET_ACCESS_KEY", "")
		cfg.S3KeyPrefix = e.str("SACHET_S3_KEY_PREFIX", "")
	}

	// Очистка
	cfg.ShareTTL = e.positiveDuration("SACHET_SHARE_TTL", 24*time.Hour)
	cfg.UploadTTL = e.positiveDuration("SACHET_UPLOAD_TTL", 24*time.Hour)
	cfg.ReaperInterval = e.positiveDuration("SACHET_REAPER_INTERVAL", time.Hour)

	// topologymetrics
	cfg.DephealthGroup = e.str("SACHET_DEPHEALTH_GROUP", "sachet")
	cfg.DephealthCheckInterval = e.positiveDuration("SACHET_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)

	cfg.ShutdownTimeout = e.duration("SACHET_SHUTDOWN_TIMEOUT", 5*time.Second)

	if err := e.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) postgresURL(withCredentials bool) *url.URL {
	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:   "/" + c.DBName,
	}
	if withCredentials {
		u.User = url.UserPassword(c.DBUser, c.DBPassword)
		u.RawQuery = url.Values{"sslmode": {c.DBSSLMode}}.Encode()
	}
	return u
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return c.postgresURL(true).String()
}

// DatabaseURL возвращает адрес PostgreSQL без учётных данных (метки topologymetrics).
func (c *Config) DatabaseURL() string {
	return c.postgresURL(false).String()
}

// SetupLogger создаёт логгер по LogLevel и LogFormat и делает его логгером по умолчанию.
func SetupLogger(cfg *Config) *slog.Logger {
	return setupLogger(os.Stdout, cfg)
}

func setupLogger(w io.Writer, cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(h).With(slog.String("service", "sachet"), slog.String("version", Version))
	slog.SetDefault(logger)
	return logger
}
