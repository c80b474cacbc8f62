package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// DevJWTSecret is the signing secret used when none is configured. It is only
// accepted in dev mode.
const DevJWTSecret = "brandlift-dev-secret"

type Config struct {
	Addr        string        `env:"API_ADDR" envDefault:":8787"`
	Dev         bool          `env:"BRANDLIFT_DEV" envDefault:"false"`
	DatabaseURL string        `env:"DATABASE_URL"`
	JWTSecret   string        `env:"BRANDLIFT_JWT_SECRET" envDefault:"brandlift-dev-secret"`
	AccessTTL   time.Duration `env:"BRANDLIFT_ACCESS_TTL" envDefault:"15m"`
	CORSOrigins []string      `env:"BRANDLIFT_CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	ReposDir    string        `env:"BRANDLIFT_REPOS_DIR" envDefault:"./data/revisions"`
	// Database pool sizing
	DBMaxConns int32 `env:"BRANDLIFT_DB_MAX_CONNS" envDefault:"20"`
	DBMinConns int32 `env:"BRANDLIFT_DB_MIN_CONNS" envDefault:"2"`
	// Search
	MeiliURL       string `env:"MEILI_URL"`
	MeiliMasterKey string `env:"MEILI_MASTER_KEY"`
	// SMTP - email disabled if host is empty
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     string `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME" envDefault:"Brand Lift"`
	AppBaseURL   string `env:"BRANDLIFT_APP_URL" envDefault:"http://localhost:3000"`
	// Workflow notification recipients
	ReviewerEmails []string `env:"BRANDLIFT_REVIEWER_EMAILS" envSeparator:","`
	WatcherEmails  []string `env:"BRANDLIFT_WATCHER_EMAILS" envSeparator:","`
	// Redis backs the access token revocation list; memory is used when empty.
	RedisURL string `env:"REDIS_URL"`
	// OTLP metrics export is enabled only when an endpoint is set.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("BRANDLIFT_JWT_SECRET is required")
	}
	if !c.Dev && c.JWTSecret == DevJWTSecret {
		return fmt.Errorf("BRANDLIFT_JWT_SECRET must be set outside dev mode")
	}
	if c.AccessTTL <= 0 {
		return fmt.Errorf("BRANDLIFT_ACCESS_TTL must be positive")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 {
		return fmt.Errorf("BRANDLIFT_DB_MAX_CONNS must be positive and BRANDLIFT_DB_MIN_CONNS not negative")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("BRANDLIFT_DB_MIN_CONNS (%d) exceeds BRANDLIFT_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

// UsesPostgres reports whether a database URL was configured.
func (c Config) UsesPostgres() bool {
	return strings.TrimSpace(c.DatabaseURL) != ""
}
