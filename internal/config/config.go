package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Postgres struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type Config struct {
	HTTPPort string

	// DashboardBaseURL is where /deliveryOrderAction redirects after a
	// successful action (the delivery dashboard).
	DashboardBaseURL string

	TelegramBotToken string

	// TokenSecret signs action tokens. TokenTTL bounds their validity;
	// zero disables expiry.
	TokenSecret string
	TokenTTL    time.Duration

	// KafkaBrokers empty means order events are written to the log only.
	KafkaBrokers []string
	KafkaTopic   string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int

	DB Postgres
}

// Load reads configuration from the environment (.env honored when present).
// Secrets have no fallbacks: a missing bot token or signing secret is a
// startup error, not a silent default. Malformed numeric or duration values
// fail loading the same way instead of degrading to defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:         getEnv("HTTP_PORT", "9000"),
		DashboardBaseURL: getEnv("DASHBOARD_BASE_URL", "https://fuddi.shop"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TokenSecret:      os.Getenv("TOKEN_SECRET"),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "order-events"),
		DB: Postgres{
			Host:     getEnv("DB_HOST", "localhost"),
			User:     getEnv("DB_USER", "fuddi"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     getEnv("DB_NAME", "fuddi"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
	}

	var err error
	if cfg.TokenTTL, err = getDuration("TOKEN_TTL", 72*time.Hour); err != nil {
		return nil, err
	}
	if cfg.OutboxPollInterval, err = getDuration("OUTBOX_POLL_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.OutboxBatchSize, err = getInt("OUTBOX_BATCH_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.OutboxMaxAttempts, err = getInt("OUTBOX_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.DB.Port, err = getInt("DB_PORT", 5432); err != nil {
		return nil, err
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.TokenSecret == "" {
		return nil, fmt.Errorf("TOKEN_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}
