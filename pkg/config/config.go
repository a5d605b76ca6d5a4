package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	StorageBackendLocal = "local"
	StorageBackendAzure = "azure"
)

// DefaultDocumentCatalog lists the mandatory documents used when DOCUMENT_CATALOG is unset.
const DefaultDocumentCatalog = "Acte de naissance|pdf|required;" +
	"Diplôme du baccalauréat|pdf|required;" +
	"Photo d'identité|image|required;" +
	"Pièce d'identité|pdf|required;" +
	"Attestation de handicap|pdf|optional"

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Documents     DocumentsConfig
	Storage       StorageConfig
	Notifications NotificationsConfig
	Events        EventsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CatalogEntry is one line of the mandatory document catalog.
type CatalogEntry struct {
	Label    string
	Kind     string
	Required bool
}

// DocumentsConfig governs upload limits, the mandatory catalog and collaborator timeouts.
type DocumentsConfig struct {
	MaxFileSizeBytes int64
	MaxPerCandidate  int
	Catalog          []CatalogEntry
	BlobTimeout      time.Duration
	NotifyTimeout    time.Duration
	SignedURLSecret  string
	SignedURLTTL     time.Duration
}

// StorageConfig selects the blob backend.
type StorageConfig struct {
	Backend               string
	Dir                   string
	AzureConnectionString string
	AzureContainer        string
}

// NotificationsConfig controls the email side channel of the notifier.
type NotificationsConfig struct {
	EmailEnabled bool
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	AdminEmails  []string
	Workers      int
	MaxRetries   int
	RetryDelay   time.Duration
}

// EventsConfig names the redis stream outbound domain events land in.
type EventsConfig struct {
	Stream       string
	StreamMaxLen int64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	catalog, err := ParseCatalog(v.GetString("DOCUMENT_CATALOG"))
	if err != nil {
		return nil, err
	}
	maxFileSize := v.GetInt64("DOCUMENTS_MAX_FILE_SIZE")
	if maxFileSize <= 0 {
		maxFileSize = 10 * 1024 * 1024
	}
	maxPerCandidate := v.GetInt("DOCUMENTS_MAX_PER_CANDIDATE")
	if maxPerCandidate <= 0 {
		maxPerCandidate = 6
	}
	cfg.Documents = DocumentsConfig{
		MaxFileSizeBytes: maxFileSize,
		MaxPerCandidate:  maxPerCandidate,
		Catalog:          catalog,
		BlobTimeout:      parseDuration(v.GetString("DOCUMENTS_BLOB_TIMEOUT"), 15*time.Second),
		NotifyTimeout:    parseDuration(v.GetString("DOCUMENTS_NOTIFY_TIMEOUT"), 5*time.Second),
		SignedURLSecret:  v.GetString("DOCUMENTS_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("DOCUMENTS_SIGNED_URL_TTL"), 15*time.Minute),
	}

	cfg.Storage = StorageConfig{
		Backend:               strings.ToLower(v.GetString("STORAGE_BACKEND")),
		Dir:                   v.GetString("STORAGE_DIR"),
		AzureConnectionString: v.GetString("AZURE_STORAGE_CONNECTION_STRING"),
		AzureContainer:        v.GetString("AZURE_STORAGE_CONTAINER"),
	}
	if cfg.Storage.Backend != StorageBackendLocal && cfg.Storage.Backend != StorageBackendAzure {
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.Storage.Backend)
	}

	cfg.Notifications = NotificationsConfig{
		EmailEnabled: v.GetBool("ENABLE_EMAIL"),
		SMTPHost:     v.GetString("SMTP_HOST"),
		SMTPPort:     v.GetInt("SMTP_PORT"),
		SMTPUser:     v.GetString("SMTP_USER"),
		SMTPPassword: v.GetString("SMTP_PASSWORD"),
		SMTPFrom:     v.GetString("SMTP_FROM"),
		AdminEmails:  splitAndTrim(v.GetString("ADMIN_NOTIFY_EMAILS")),
		Workers:      v.GetInt("NOTIFY_WORKERS"),
		MaxRetries:   v.GetInt("NOTIFY_MAX_RETRIES"),
		RetryDelay:   parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 5*time.Second),
	}

	cfg.Events = EventsConfig{
		Stream:       v.GetString("EVENTS_STREAM"),
		StreamMaxLen: v.GetInt64("EVENTS_STREAM_MAXLEN"),
	}

	return cfg, nil
}

// ParseCatalog reads the `label|kind|required` entries separated by semicolons.
// An empty value yields the built-in catalog.
func ParseCatalog(raw string) ([]CatalogEntry, error) {
	if strings.TrimSpace(raw) == "" {
		raw = DefaultDocumentCatalog
	}

	entries := make([]CatalogEntry, 0)
	for _, item := range strings.Split(raw, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, "|")
		label := strings.TrimSpace(parts[0])
		if label == "" {
			return nil, fmt.Errorf("document catalog entry %q has no label", item)
		}
		entry := CatalogEntry{Label: label, Kind: "pdf", Required: true}
		if len(parts) > 1 {
			kind := strings.ToLower(strings.TrimSpace(parts[1]))
			if kind != "pdf" && kind != "image" {
				return nil, fmt.Errorf("document catalog entry %q has unknown kind %q", label, kind)
			}
			entry.Kind = kind
		}
		if len(parts) > 2 {
			required, err := parseRequired(parts[2])
			if err != nil {
				return nil, fmt.Errorf("document catalog entry %q: %w", label, err)
			}
			entry.Required = required
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseRequired(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "required":
		return true, nil
	case "optional":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(raw))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "concours")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("DOCUMENTS_MAX_FILE_SIZE", 10*1024*1024)
	v.SetDefault("DOCUMENTS_MAX_PER_CANDIDATE", 6)
	v.SetDefault("DOCUMENT_CATALOG", DefaultDocumentCatalog)
	v.SetDefault("DOCUMENTS_BLOB_TIMEOUT", "15s")
	v.SetDefault("DOCUMENTS_NOTIFY_TIMEOUT", "5s")
	v.SetDefault("DOCUMENTS_SIGNED_URL_SECRET", "dev_documents_secret")
	v.SetDefault("DOCUMENTS_SIGNED_URL_TTL", "15m")

	v.SetDefault("STORAGE_BACKEND", StorageBackendLocal)
	v.SetDefault("STORAGE_DIR", "./uploads")
	v.SetDefault("AZURE_STORAGE_CONNECTION_STRING", "")
	v.SetDefault("AZURE_STORAGE_CONTAINER", "documents")

	v.SetDefault("ENABLE_EMAIL", false)
	v.SetDefault("SMTP_HOST", "localhost")
	v.SetDefault("SMTP_PORT", 1025)
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "no-reply@concours.local")
	v.SetDefault("ADMIN_NOTIFY_EMAILS", "")
	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_MAX_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", "5s")

	v.SetDefault("EVENTS_STREAM", "concours:events")
	v.SetDefault("EVENTS_STREAM_MAXLEN", 10000)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
