package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN renders the libpq keyword/value connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode,
	)
}

type RedisConfig struct {
	// Addr empty means the process runs single-node with an in-memory bus.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled reports whether enough is set to talk to object storage.
func (s StorageConfig) Enabled() bool {
	return s.Endpoint != "" && s.Bucket != "" && s.AccessKey != "" && s.SecretKey != ""
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SyncConfig struct {
	RebuildDebounce  time.Duration `yaml:"rebuild_debounce"`
	PresenceDebounce time.Duration `yaml:"presence_debounce"`
	TypingExpiry     time.Duration `yaml:"typing_expiry"`
	AttachmentURLTTL time.Duration `yaml:"attachment_url_ttl"`
	SessionIdle      time.Duration `yaml:"session_idle"`
	ProfileCacheTTL  time.Duration `yaml:"profile_cache_ttl"`
}

type LimitsConfig struct {
	MaxMessageLength   int   `yaml:"max_message_length"`
	MaxAttachmentBytes int64 `yaml:"max_attachment_bytes"`
	MaxAttachments     int   `yaml:"max_attachments"`
}

type Config struct {
	Port           string         `yaml:"port"`
	JWTSecret      string         `yaml:"jwt_secret"`
	AllowedOrigins string         `yaml:"allowed_origins"`
	// CSRFMode is token, origin or off.
	CSRFMode       string         `yaml:"csrf_mode"`
	Database       DatabaseConfig `yaml:"database"`
	Redis          RedisConfig    `yaml:"redis"`
	Storage        StorageConfig  `yaml:"storage"`
	Log            LogConfig      `yaml:"log"`
	Sync           SyncConfig     `yaml:"sync"`
	Limits         LimitsConfig   `yaml:"limits"`
}

func Default() Config {
	return Config{
		Port:           "8080",
		AllowedOrigins: "http://localhost:3000",
		CSRFMode:       "token",
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    "5432",
			User:    "postgres",
			Name:    "school_chat",
			SSLMode: "disable",
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Sync: SyncConfig{
			RebuildDebounce:  300 * time.Millisecond,
			PresenceDebounce: 300 * time.Millisecond,
			AttachmentURLTTL: time.Hour,
			SessionIdle:      30 * time.Second,
			ProfileCacheTTL:  5 * time.Minute,
		},
		Limits: LimitsConfig{
			MaxMessageLength:   10000,
			MaxAttachmentBytes: 25 << 20,
			MaxAttachments:     10,
		},
	}
}

// Load reads .env (when present), then the optional YAML file named by
// CHAT_CONFIG_FILE, then the process environment. Later sources win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CHAT_CONFIG_FILE")); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.mergeEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*dst = d
	}
	integer := func(key string, dst *int) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*dst = n
	}

	str("PORT", &c.Port)
	str("JWT_SECRET", &c.JWTSecret)
	str("ALLOWED_ORIGINS", &c.AllowedOrigins)
	str("CSRF_MODE", &c.CSRFMode)

	str("DB_HOST", &c.Database.Host)
	str("DB_PORT", &c.Database.Port)
	str("DB_USER", &c.Database.User)
	str("DB_PASSWORD", &c.Database.Password)
	str("DB_NAME", &c.Database.Name)
	str("DB_SSLMODE", &c.Database.SSLMode)

	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	integer("REDIS_DB", &c.Redis.DB)

	str("S3_ENDPOINT", &c.Storage.Endpoint)
	str("S3_REGION", &c.Storage.Region)
	str("S3_BUCKET", &c.Storage.Bucket)
	str("S3_ACCESS_KEY", &c.Storage.AccessKey)
	str("S3_SECRET_KEY", &c.Storage.SecretKey)
	if v := strings.TrimSpace(getenv("S3_USE_SSL")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid S3_USE_SSL: %w", err))
		} else {
			c.Storage.UseSSL = b
		}
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	dur("REBUILD_DEBOUNCE", &c.Sync.RebuildDebounce)
	dur("PRESENCE_DEBOUNCE", &c.Sync.PresenceDebounce)
	dur("TYPING_EXPIRY", &c.Sync.TypingExpiry)
	dur("ATTACHMENT_URL_TTL", &c.Sync.AttachmentURLTTL)
	dur("SESSION_IDLE", &c.Sync.SessionIdle)
	dur("PROFILE_CACHE_TTL", &c.Sync.ProfileCacheTTL)

	integer("MAX_MESSAGE_LENGTH", &c.Limits.MaxMessageLength)
	integer("MAX_ATTACHMENTS", &c.Limits.MaxAttachments)
	if v := strings.TrimSpace(getenv("MAX_ATTACHMENT_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid MAX_ATTACHMENT_BYTES: %w", err))
		} else {
			c.Limits.MaxAttachmentBytes = n
		}
	}
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch strings.ToLower(c.CSRFMode) {
	case "token", "origin", "off":
	default:
		return fmt.Errorf("invalid CSRF_MODE %q", c.CSRFMode)
	}
	if c.Limits.MaxMessageLength <= 0 || c.Limits.MaxAttachmentBytes <= 0 {
		return errors.New("message and attachment limits must be positive")
	}
	return nil
}

// Origins splits AllowedOrigins on commas.
func (c Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
