package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	AppAddr  string `env:"APP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL"`
	LogFile  string `env:"LOG_FILE"`

	DatabaseURL string `env:"DATABASE_URL"`
	DBUser      string `env:"DB_USER"`
	DBPassword  string `env:"DB_PASSWORD"`
	DBHost      string `env:"DB_HOST" envDefault:"localhost"`
	DBPort      string `env:"DB_PORT" envDefault:"5432"`
	DBName      string `env:"DB_NAME"`

	// memory | file | redis
	LockBackend string `env:"LOCK_BACKEND" envDefault:"memory"`
	LockDir     string `env:"LOCK_DIR" envDefault:"/tmp/outreach-locks"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB     int    `env:"REDIS_DB" envDefault:"0"`

	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"campaign_events"`

	// dryrun | smtp | brevo
	EmailProvider string `env:"EMAIL_PROVIDER" envDefault:"dryrun"`
	SMTPHost      string `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort      int    `env:"SMTP_PORT" envDefault:"1025"`
	SMTPUsername  string `env:"SMTP_USERNAME"`
	SMTPPassword  string `env:"SMTP_PASSWORD"`
	BrevoAPIKey   string `env:"BREVO_API_KEY"`
	BrevoBaseURL  string `env:"BREVO_BASE_URL" envDefault:"https://api.brevo.com/v3"`

	DispatchInterval time.Duration `env:"DISPATCH_INTERVAL" envDefault:"5s"`
	ResendInterval   time.Duration `env:"RESEND_INTERVAL" envDefault:"5m"`
	BatchSize        int           `env:"BATCH_SIZE" envDefault:"25"`
	ChildBatchSize   int           `env:"CHILD_BATCH_SIZE" envDefault:"25"`
	ResendChunkSize  int           `env:"RESEND_CHUNK_SIZE" envDefault:"100"`
	ClaimTTL         time.Duration `env:"CLAIM_TTL" envDefault:"10m"`
	SendTimeout      time.Duration `env:"SEND_TIMEOUT" envDefault:"30s"`
}

// Load reads optional .env files (missing files are ignored) and then the
// process environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}

	var c Config
	if err := env.Parse(&c); err != nil {
		return c, fmt.Errorf("parse environment: %w", err)
	}
	c.EmailProvider = strings.ToLower(strings.TrimSpace(c.EmailProvider))
	c.LockBackend = strings.ToLower(strings.TrimSpace(c.LockBackend))
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.EmailProvider {
	case "dryrun", "smtp", "brevo":
	default:
		errs = append(errs, fmt.Errorf("EMAIL_PROVIDER %q is not one of dryrun, smtp, brevo", c.EmailProvider))
	}
	switch c.LockBackend {
	case "memory", "file", "redis":
	default:
		errs = append(errs, fmt.Errorf("LOCK_BACKEND %q is not one of memory, file, redis", c.LockBackend))
	}
	if c.EmailProvider == "brevo" && c.BrevoAPIKey == "" {
		errs = append(errs, errors.New("BREVO_API_KEY is required for the brevo provider"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("BATCH_SIZE must be positive"))
	}
	if c.ChildBatchSize <= 0 {
		errs = append(errs, errors.New("CHILD_BATCH_SIZE must be positive"))
	}
	if c.ResendChunkSize <= 0 {
		errs = append(errs, errors.New("RESEND_CHUNK_SIZE must be positive"))
	}
	if c.DispatchInterval <= 0 || c.ResendInterval <= 0 {
		errs = append(errs, errors.New("DISPATCH_INTERVAL and RESEND_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// DSN returns DATABASE_URL, or builds one from the DB_* parts.
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.DBName == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=disable",
	}
	if c.DBUser != "" {
		u.User = url.UserPassword(c.DBUser, c.DBPassword)
	}
	return u.String()
}

func (c Config) String() string {
	return fmt.Sprintf("env=%s addr=%s provider=%s lock=%s amqp=%t", c.AppEnv, c.AppAddr, c.EmailProvider, c.LockBackend, c.AMQPURL != "")
}
