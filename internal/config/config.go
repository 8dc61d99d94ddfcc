package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bilgisen/newswire/internal/models"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port            string        `json:"port" validate:"required"`
	Env             string        `json:"env"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	HTTPTimeout     time.Duration `json:"http_timeout" validate:"gt=0"`
	AdminAPIKey     string        `json:"admin_api_key"`

	// Database
	DatabasePath string `json:"database_path" validate:"required"`

	// Redis configuration. An empty URL selects the in-process cache.
	RedisURL         string        `json:"redis_url"`
	RedisPrefix      string        `json:"redis_prefix"`
	ProviderCacheTTL time.Duration `json:"provider_cache_ttl"`

	// Providers
	NewsAPIURL    string        `json:"news_api_url" validate:"omitempty,url"`
	NewsAPIKey    string        `json:"news_api_key"`
	TweetAPIURL   string        `json:"tweet_api_url" validate:"omitempty,url"`
	TweetAPIToken string        `json:"tweet_api_token"`
	ProviderLimit int           `json:"provider_limit" validate:"gt=0,lte=100"`
	FetchTimeout  time.Duration `json:"fetch_timeout" validate:"gt=0"`

	// AI Configuration
	AIBackend          string        `json:"ai_backend" validate:"oneof=gemini ollama"`
	AIApiKey           string        `json:"ai_api_key"`
	AIModel            string        `json:"ai_model" validate:"required"`
	AIBaseURL          string        `json:"ai_base_url"`
	AITimeout          time.Duration `json:"ai_timeout" validate:"gt=0"`
	AIRequestsPerSec   float64       `json:"ai_requests_per_sec" validate:"gt=0"`
	RewriteAttempts    int           `json:"rewrite_attempts" validate:"gte=1,lte=5"`
	DefaultAudience    string        `json:"default_audience"`
	MaxFilterBatchSize int           `json:"max_filter_batch_size" validate:"gt=0"`

	// Queue
	QueueBatchSize         int           `json:"queue_batch_size" validate:"gt=0"`
	QueueMaxAttempts       int           `json:"queue_max_attempts" validate:"gte=1"`
	RewriteMaxAttempts     int           `json:"rewrite_max_attempts" validate:"gte=1"`
	QueueBaseBackoff       time.Duration `json:"queue_base_backoff"`
	QueueMaxBackoff        time.Duration `json:"queue_max_backoff"`
	QueueVisibilityTimeout time.Duration `json:"queue_visibility_timeout" validate:"gt=0"`
	MaxConcurrency         int           `json:"max_concurrency" validate:"gte=1"`

	// Scheduler
	TickInterval time.Duration `json:"tick_interval" validate:"gt=0"`
	SyncInterval time.Duration `json:"sync_interval" validate:"gt=0"`

	// Assets
	AssetBackend   string `json:"asset_backend" validate:"oneof=local r2"`
	AssetPath      string `json:"asset_path"`
	AssetPublicURL string `json:"asset_public_url"`
	ImageMaxWidth  int    `json:"image_max_width" validate:"gt=0"`
	MaxImageBytes  int64  `json:"max_image_bytes" validate:"gt=0"`

	// CloudFlare R2 Configuration
	R2Endpoint  string `json:"r2_endpoint"`
	R2AccessKey string `json:"r2_access_key"`
	R2SecretKey string `json:"r2_secret_key"`
	R2Bucket    string `json:"r2_bucket"`
	R2PublicURL string `json:"r2_public_url"`

	// Subscriber sites seed file
	SitesFile string `json:"sites_file"`

	// Logging
	LogLevel  string `json:"log_level"`
	LogFile   string `json:"log_file"`
	LogPretty bool   `json:"log_pretty"`
}

// Load loads configuration from environment variables and validates it
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("APP_ENV", "development"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		HTTPTimeout:     getEnvAsDuration("HTTP_TIMEOUT", 30*time.Second),
		AdminAPIKey:     getEnv("ADMIN_API_KEY", ""),

		DatabasePath: getEnv("DATABASE_PATH", "./data/newswire.db"),

		RedisURL:         getEnv("REDIS_URL", ""),
		RedisPrefix:      getEnv("REDIS_PREFIX", "newswire:"),
		ProviderCacheTTL: getEnvAsDuration("PROVIDER_CACHE_TTL", 10*time.Minute),

		NewsAPIURL:    getEnv("NEWS_API_URL", "https://newsapi.org"),
		NewsAPIKey:    getEnv("NEWS_API_KEY", ""),
		TweetAPIURL:   getEnv("TWEET_API_URL", "https://api.twitter.com"),
		TweetAPIToken: getEnv("TWEET_API_TOKEN", ""),
		ProviderLimit: getEnvAsInt("PROVIDER_LIMIT", 50),
		FetchTimeout:  getEnvAsDuration("FETCH_TIMEOUT", 20*time.Second),

		AIBackend:          getEnv("AI_BACKEND", "gemini"),
		AIApiKey:           getEnv("AI_API_KEY", ""),
		AIModel:            getEnv("AI_MODEL", "gemini-1.5-flash"),
		AIBaseURL:          getEnv("AI_BASE_URL", ""),
		AITimeout:          getEnvAsDuration("AI_TIMEOUT", 60*time.Second),
		AIRequestsPerSec:   getEnvAsFloat("AI_REQUESTS_PER_SEC", 1),
		RewriteAttempts:    getEnvAsInt("REWRITE_ATTEMPTS", 2),
		DefaultAudience:    getEnv("DEFAULT_AUDIENCE", "general news readers"),
		MaxFilterBatchSize: getEnvAsInt("MAX_FILTER_BATCH_SIZE", 40),

		QueueBatchSize:         getEnvAsInt("QUEUE_BATCH_SIZE", 20),
		QueueMaxAttempts:       getEnvAsInt("QUEUE_MAX_ATTEMPTS", 5),
		RewriteMaxAttempts:     getEnvAsInt("REWRITE_MAX_ATTEMPTS", 2),
		QueueBaseBackoff:       getEnvAsDuration("QUEUE_BASE_BACKOFF", 30*time.Second),
		QueueMaxBackoff:        getEnvAsDuration("QUEUE_MAX_BACKOFF", 30*time.Minute),
		QueueVisibilityTimeout: getEnvAsDuration("QUEUE_VISIBILITY_TIMEOUT", 15*time.Minute),
		MaxConcurrency:         getEnvAsInt("MAX_CONCURRENCY", 4),

		TickInterval: getEnvAsDuration("TICK_INTERVAL", time.Minute),
		SyncInterval: getEnvAsDuration("SYNC_INTERVAL", time.Hour),

		AssetBackend:   getEnv("ASSET_BACKEND", "local"),
		AssetPath:      getEnv("ASSET_PATH", "./data/assets"),
		AssetPublicURL: getEnv("ASSET_PUBLIC_URL", "http://localhost:8080/assets"),
		ImageMaxWidth:  getEnvAsInt("IMAGE_MAX_WIDTH", 1200),
		MaxImageBytes:  getEnvAsInt64("MAX_IMAGE_BYTES", 10<<20), // 10MB

		R2Endpoint:  getEnv("R2_ENDPOINT", ""),
		R2AccessKey: getEnv("R2_ACCESS_KEY", ""),
		R2SecretKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2Bucket:    getEnv("R2_BUCKET", "newswire"),
		R2PublicURL: getEnv("R2_PUBLIC_URL", ""),

		SitesFile: getEnv("SITES_FILE", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFile:   getEnv("LOG_FILE", ""),
		LogPretty: getEnvAsBool("LOG_PRETTY", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-field requirements
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.AssetBackend == "r2" && (c.R2Endpoint == "" || c.R2AccessKey == "" || c.R2SecretKey == "") {
		return fmt.Errorf("asset backend r2 requires R2_ENDPOINT, R2_ACCESS_KEY and R2_SECRET_ACCESS_KEY")
	}
	return nil
}

type sitesFile struct {
	Sites []models.Site `yaml:"sites"`
}

// LoadSites reads the subscriber site seed file
func LoadSites(path string) ([]models.Site, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file %s: %w", path, err)
	}
	var f sitesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse sites file %s: %w", path, err)
	}

	v := validator.New()
	for i := range f.Sites {
		s := &f.Sites[i]
		if s.AuthMode == "" {
			s.AuthMode = models.AuthNone
		}
		if err := v.Struct(s); err != nil {
			return nil, fmt.Errorf("site %q: %w", s.Name, err)
		}
	}
	return f.Sites, nil
}

// Helper functions for environment variable handling
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultVal int) int {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid %s value: %v, using default: %d", name, err, defaultVal)
		return defaultVal
	}
	return value
}

func getEnvAsInt64(name string, defaultVal int64) int64 {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.Printf("Invalid %s value: %v, using default: %d", name, err, defaultVal)
		return defaultVal
	}
	return value
}

func getEnvAsFloat(name string, defaultVal float64) float64 {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid %s value: %v, using default: %v", name, err, defaultVal)
		return defaultVal
	}
	return value
}

func getEnvAsBool(name string, defaultVal bool) bool {
	valueStr := strings.TrimSpace(getEnv(name, ""))
	if valueStr == "" {
		return defaultVal
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid %s value: %v, using default: %v", name, err, defaultVal)
		return defaultVal
	}
	return value
}

func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid %s value: %v, using default: %v", name, err, defaultVal)
		return defaultVal
	}
	return value
}
