package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Mailer selection: "smtp", "ses", or "log"
	MailerDriver string

	// SMTP config
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPTLSMode  string // "auto", "ssl", or "none"

	// AWS SES config
	AWSRegion    string
	SESFromEmail string

	// Default sender identity
	FromEmail string
	FromName  string

	// Queue behavior
	QueueTTLHours int
	MaxRetries    int
	PollInterval  time.Duration
	BatchSize     int
	RetentionDays int
	SendTimeout   time.Duration

	// Rate limit for the enqueue API, requests per minute. Zero disables.
	RateLimitPerMinute int

	// Site identity merged into every template render
	SiteURL      string
	AppName      string
	SupportEmail string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "mailroom",
		DBPassword: "",
		DBName:     "mailroom",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		MailerDriver: "smtp",

		// SMTP defaults
		SMTPHost:    "localhost",
		SMTPPort:    587,
		SMTPTLSMode: "auto",

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@ltfpqrr.com",

		FromEmail: "noreply@ltfpqrr.com",
		FromName:  "LTFPQRR",

		QueueTTLHours: 72,
		MaxRetries:    3,
		PollInterval:  30 * time.Second,
		BatchSize:     50,
		RetentionDays: 30,
		SendTimeout:   30 * time.Second,

		RateLimitPerMinute: 120,

		SiteURL:      "https://ltfpqrr.com",
		AppName:      "LTFPQRR",
		SupportEmail: "support@ltfpqrr.com",
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Mailer config
	if driver := os.Getenv("MAILER_DRIVER"); driver != "" {
		switch driver {
		case "smtp", "ses", "log":
			cfg.MailerDriver = driver
		default:
			return nil, fmt.Errorf("invalid MAILER_DRIVER %q (want smtp, ses, or log)", driver)
		}
	}

	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.SMTPHost = host
	}

	if port := os.Getenv("SMTP_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
		}
		cfg.SMTPPort = p
	}

	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		cfg.SMTPUsername = user
	}

	if pass := os.Getenv("SMTP_PASSWORD"); pass != "" {
		cfg.SMTPPassword = pass
	}

	if mode := os.Getenv("SMTP_TLS_MODE"); mode != "" {
		cfg.SMTPTLSMode = mode
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if from := os.Getenv("FROM_EMAIL"); from != "" {
		cfg.FromEmail = from
	}

	if name := os.Getenv("FROM_NAME"); name != "" {
		cfg.FromName = name
	}

	// Queue behavior
	if hours := os.Getenv("QUEUE_TTL_HOURS"); hours != "" {
		h, err := strconv.Atoi(hours)
		if err != nil {
			return nil, fmt.Errorf("invalid QUEUE_TTL_HOURS: %w", err)
		}
		cfg.QueueTTLHours = h
	}

	if retries := os.Getenv("MAX_RETRIES"); retries != "" {
		r, err := strconv.Atoi(retries)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_RETRIES: %w", err)
		}
		cfg.MaxRetries = r
	}

	if interval := os.Getenv("POLL_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = d
	}

	if size := os.Getenv("BATCH_SIZE"); size != "" {
		s, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("invalid BATCH_SIZE: %w", err)
		}
		cfg.BatchSize = s
	}

	if days := os.Getenv("RETENTION_DAYS"); days != "" {
		d, err := strconv.Atoi(days)
		if err != nil {
			return nil, fmt.Errorf("invalid RETENTION_DAYS: %w", err)
		}
		cfg.RetentionDays = d
	}

	if timeout := os.Getenv("SEND_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SEND_TIMEOUT: %w", err)
		}
		cfg.SendTimeout = d
	}

	if limit := os.Getenv("RATE_LIMIT_PER_MINUTE"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %w", err)
		}
		cfg.RateLimitPerMinute = l
	}

	// Site identity
	if url := os.Getenv("SITE_URL"); url != "" {
		cfg.SiteURL = url
	}

	if name := os.Getenv("APP_NAME"); name != "" {
		cfg.AppName = name
	}

	if email := os.Getenv("SUPPORT_EMAIL"); email != "" {
		cfg.SupportEmail = email
	}

	return cfg, nil
}

// QueueTTL returns the expiry horizon as a duration.
func (c *Config) QueueTTL() time.Duration {
	return time.Duration(c.QueueTTLHours) * time.Hour
}
