package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Images   ImagesConfig
	Output   OutputConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type ScraperConfig struct {
	Site                string
	SeedURL             string
	MaxPages            int
	RateLimitMin        time.Duration
	RateLimitMax        time.Duration
	RequestTimeout      time.Duration
	MaxPerHost          int
	RequestsPerSec      float64
	ResolvePlaceholders bool
	UserAgent           string
}

type ImagesConfig struct {
	Enabled     bool
	Dir         string
	Concurrency int
	Timeout     time.Duration
}

type OutputConfig struct {
	Path string
}

type BrowserConfig struct {
	Enabled        bool
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	MaxRetries     int
}

type DatabaseConfig struct {
	Enabled  bool
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

type RedisConfig struct {
	Enabled        bool
	Addr           string
	Password       string
	DB             int
	Stream         string
	StreamMaxLen   int
	PerSiteStreams bool
	PollInterval   time.Duration
	BatchSize      int
}

type QueueConfig struct {
	MaxSize int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://localhost:*"}),
		},
		Scraper: ScraperConfig{
			Site:                getEnvOrDefault("SCRAPER_SITE", "mercadolivre"),
			SeedURL:             getEnvOrDefault("SCRAPER_SEED_URL", ""),
			MaxPages:            getIntOrDefault("SCRAPER_MAX_PAGES", 10),
			RateLimitMin:        getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", 2*time.Second),
			RateLimitMax:        getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", 4*time.Second),
			RequestTimeout:      getDurationOrDefault("SCRAPER_REQUEST_TIMEOUT", 30*time.Second),
			MaxPerHost:          getIntOrDefault("SCRAPER_MAX_PER_HOST", 1),
			RequestsPerSec:      getFloatOrDefault("SCRAPER_REQUESTS_PER_SEC", 0),
			ResolvePlaceholders: getBoolOrDefault("SCRAPER_RESOLVE_PLACEHOLDERS", true),
			UserAgent:           getEnvOrDefault("SCRAPER_USER_AGENT", ""),
		},
		Images: ImagesConfig{
			Enabled:     getBoolOrDefault("IMAGES_ENABLED", true),
			Dir:         getEnvOrDefault("IMAGES_DIR", "imagens_produtos"),
			Concurrency: getIntOrDefault("IMAGES_CONCURRENCY", 4),
			Timeout:     getDurationOrDefault("IMAGES_TIMEOUT", 30*time.Second),
		},
		Output: OutputConfig{
			Path: getEnvOrDefault("OUTPUT_PATH", "produtos.json"),
		},
		Browser: BrowserConfig{
			Enabled:        getBoolOrDefault("BROWSER_ENABLED", false),
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "pt-BR,pt;q=0.9,en;q=0.8"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/Sao_Paulo"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "pt-BR"),
			MaxRetries:     getIntOrDefault("BROWSER_MAX_RETRIES", 3),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			URL:      getEnvOrDefault("DATABASE_URL", ""),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "listings"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: getIntOrDefault("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Enabled:        getBoolOrDefault("REDIS_ENABLED", false),
			Addr:           getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:       getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:             getIntOrDefault("REDIS_DB", 0),
			Stream:         getEnvOrDefault("REDIS_STREAM", "stream:listing_products"),
			StreamMaxLen:   getIntOrDefault("REDIS_STREAM_MAX_LEN", 100000),
			PerSiteStreams: getBoolOrDefault("REDIS_STREAM_PER_SITE", false),
			PollInterval:   getDurationOrDefault("REDIS_POLL_INTERVAL", 5*time.Second),
			BatchSize:      getIntOrDefault("REDIS_BATCH_SIZE", 100),
		},
		Queue: QueueConfig{
			MaxSize: getIntOrDefault("QUEUE_MAX_SIZE", 1000),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.MaxPages < 0 {
		return fmt.Errorf("SCRAPER_MAX_PAGES cannot be negative")
	}

	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}

	if c.Scraper.MaxPerHost < 1 {
		return fmt.Errorf("SCRAPER_MAX_PER_HOST must be at least 1")
	}

	if c.Images.Enabled && c.Images.Dir == "" {
		return fmt.Errorf("IMAGES_DIR is required when images are enabled")
	}

	if c.Images.Concurrency < 1 {
		return fmt.Errorf("IMAGES_CONCURRENCY must be at least 1")
	}

	if c.Queue.MaxSize < 0 {
		return fmt.Errorf("QUEUE_MAX_SIZE cannot be negative")
	}

	if c.Redis.StreamMaxLen < 0 {
		return fmt.Errorf("REDIS_STREAM_MAX_LEN cannot be negative")
	}

	if c.Redis.Enabled && !c.Database.Enabled {
		return fmt.Errorf("REDIS_ENABLED requires DB_ENABLED: the relay reads the database outbox")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %q", c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %q", c.Logging.Format)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
