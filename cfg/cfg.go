package cfg

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

const (
	ObjectStoreSQLite = "sqlite"
	ObjectStoreS3     = "s3"
	CacheMemory       = "memory"
	CacheRedis        = "redis"
)

type Cfg struct {
	Port         string
	Environment  string
	LogLevel     string
	PublicOrigin string

	ObjectStore    string
	DatabasePath   string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBQueryTimeout time.Duration
	S3             S3Cfg

	CacheBackend    string
	RedisURL        string
	RedisTLS        bool
	RedisUsername   string
	RedisPassword   Secret
	RedisTimeout    time.Duration
	LRUCacheSize    int
	CacheDefaultTTL time.Duration

	LegacyMirrorURL     string
	LegacyMirrorRPS     float64
	LegacyMirrorTimeout time.Duration

	SessionSecret        Secret
	SessionSecretFromKMS bool

	MaxPasteSize          int64
	ContextTimeout        time.Duration
	BackgroundTaskTimeout time.Duration
	ShutdownTimeout       time.Duration
}

type S3Cfg struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKey       string
	SecretKey       Secret
	ListConcurrency int
}

func Load() (*Cfg, error) {
	c := &Cfg{}
	c.Port = getEnv("PORT", "8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.PublicOrigin = strings.TrimSuffix(getEnv("PUBLIC_ORIGIN", ""), "/")

	c.ObjectStore = getEnv("OBJECT_STORE", ObjectStoreSQLite)
	c.DatabasePath = getEnv("DATABASE_PATH", "pobbin.db")
	var err error
	c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 100)
	if err != nil {
		return nil, err
	}
	c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, err
	}
	c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.S3.Bucket = getEnv("S3_BUCKET", "")
	c.S3.Region = getEnv("S3_REGION", "auto")
	c.S3.Endpoint = getEnv("S3_ENDPOINT", "")
	c.S3.AccessKey = getEnv("S3_ACCESS_KEY", "")
	c.S3.SecretKey = NewSecret(getEnv("S3_SECRET_KEY", ""))
	c.S3.ListConcurrency, err = getInt("S3_LIST_CONCURRENCY", 8)
	if err != nil {
		return nil, err
	}

	c.CacheBackend = getEnv("CACHE_BACKEND", CacheMemory)
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisTLS = getEnv("REDIS_TLS", "false") == "true"
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.LRUCacheSize, err = getInt("LRU_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	c.CacheDefaultTTL, err = getDuration("CACHE_DEFAULT_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	c.LegacyMirrorURL = strings.TrimSuffix(getEnv("LEGACY_MIRROR_URL", ""), "/")
	c.LegacyMirrorRPS, err = getFloat("LEGACY_MIRROR_RPS", 5)
	if err != nil {
		return nil, err
	}
	c.LegacyMirrorTimeout, err = getDuration("LEGACY_MIRROR_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	c.SessionSecret = NewSecret(getEnv("SESSION_SECRET", ""))
	c.SessionSecretFromKMS = getEnv("SESSION_SECRET_FROM_KMS", "false") == "true"

	c.MaxPasteSize, err = getInt64("MAX_PASTE_SIZE", 512*1024)
	if err != nil {
		return nil, err
	}
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	c.BackgroundTaskTimeout, err = getDuration("BACKGROUND_TASK_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	c.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	if c.PublicOrigin != "" {
		u, err := url.Parse(c.PublicOrigin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || (u.Path != "" && u.Path != "/") {
			return errors.New("PUBLIC_ORIGIN must look like https://host")
		}
	}

	switch c.ObjectStore {
	case ObjectStoreSQLite:
		if c.DatabasePath == "" {
			return errors.New("DATABASE_PATH is required when OBJECT_STORE=sqlite")
		}
	case ObjectStoreS3:
		if c.S3.Bucket == "" {
			return errors.New("S3_BUCKET is required when OBJECT_STORE=s3")
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey.Value() == "") {
			return errors.New("S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
		}
		if c.S3.ListConcurrency <= 0 {
			return errors.New("S3_LIST_CONCURRENCY must be positive")
		}
	default:
		return fmt.Errorf("OBJECT_STORE must be %q or %q", ObjectStoreSQLite, ObjectStoreS3)
	}

	switch c.CacheBackend {
	case CacheMemory:
		if c.LRUCacheSize <= 0 {
			return errors.New("LRU_CACHE_SIZE must be positive")
		}
	case CacheRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when CACHE_BACKEND=redis")
		}
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be %q or %q", CacheMemory, CacheRedis)
	}
	if c.CacheDefaultTTL < time.Second {
		return errors.New("CACHE_DEFAULT_TTL must be at least 1s")
	}

	if c.LegacyMirrorURL != "" {
		u, err := url.Parse(c.LegacyMirrorURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return errors.New("LEGACY_MIRROR_URL must be an http(s) url")
		}
		if c.LegacyMirrorRPS <= 0 {
			return errors.New("LEGACY_MIRROR_RPS must be positive")
		}
	}

	if !c.SessionSecretFromKMS && len(c.SessionSecret.Value()) < 32 {
		return errors.New("SESSION_SECRET must be at least 32 bytes if SESSION_SECRET_FROM_KMS is false")
	}

	if c.MaxPasteSize <= 0 {
		return errors.New("MAX_PASTE_SIZE must be positive")
	}
	if c.MaxPasteSize > 10*1024*1024 {
		return errors.New("MAX_PASTE_SIZE cannot exceed 10MB")
	}
	if c.ContextTimeout <= 0 || c.BackgroundTaskTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}

func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.S3.SecretKey.Wipe()
	c.SessionSecret.Wipe()
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getFloat(key string, fallback float64) (float64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
