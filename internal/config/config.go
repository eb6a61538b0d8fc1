// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"library-circulation/library"
)

// Config holds every setting the binaries read.
type Config struct {
	DBPath          string        `env:"LIBRARY_DB_PATH,default=library.db"`
	Addr            string        `env:"LIBRARY_ADDR,default=:8080"`
	JWTSecret       string        `env:"LIBRARY_JWT_SECRET"`
	SessionTTL      time.Duration `env:"LIBRARY_SESSION_TTL,default=12h"`
	LogLevel        string        `env:"LIBRARY_LOG_LEVEL,default=info"`
	LogFormat       string        `env:"LIBRARY_LOG_FORMAT,default=text"`
	IdempotencyPath string        `env:"LIBRARY_IDEMPOTENCY_PATH"`
	IdempotencyTTL  time.Duration `env:"LIBRARY_IDEMPOTENCY_TTL,default=72h"`

	LoanDays     int   `env:"LIBRARY_LOAN_DAYS,default=14"`
	DailyFine    int64 `env:"LIBRARY_DAILY_FINE,default=10"`
	MaxRenewals  int   `env:"LIBRARY_MAX_RENEWALS,default=2"`
	StudentLimit int   `env:"LIBRARY_STUDENT_LIMIT,default=5"`
	StaffLimit   int   `env:"LIBRARY_STAFF_LIMIT,default=10"`

	// LoginRate is login attempts per second allowed per client address.
	LoginRate  float64 `env:"LIBRARY_LOGIN_RATE,default=0.2"`
	LoginBurst int     `env:"LIBRARY_LOGIN_BURST,default=5"`

	AdminEmail    string `env:"LIBRARY_ADMIN_EMAIL,default=admin@library.local"`
	AdminPassword string `env:"LIBRARY_ADMIN_PASSWORD"`
}

// Load reads envFile (when non-empty, it must exist) or ./.env (when
// present), then decodes the environment into a Config.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env (%s): %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no command could run with.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.DBPath) == "" {
		problems = append(problems, "LIBRARY_DB_PATH is empty")
	}
	if c.LoanDays < 1 {
		problems = append(problems, "LIBRARY_LOAN_DAYS must be at least 1")
	}
	if c.DailyFine < 0 {
		problems = append(problems, "LIBRARY_DAILY_FINE cannot be negative")
	}
	if c.MaxRenewals < 0 {
		problems = append(problems, "LIBRARY_MAX_RENEWALS cannot be negative")
	}
	if c.StudentLimit < 1 || c.StaffLimit < 1 {
		problems = append(problems, "borrowing limits must be at least 1")
	}
	if c.SessionTTL <= 0 {
		problems = append(problems, "LIBRARY_SESSION_TTL must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Policy converts the circulation settings into library rules.
func (c *Config) Policy() library.Policy {
	return library.Policy{
		LoanPeriod: time.Duration(c.LoanDays) * 24 * time.Hour,
		DailyRate:  c.DailyFine,
		Limits: map[library.MembershipClass]int{
			library.ClassStudent: c.StudentLimit,
			library.ClassStaff:   c.StaffLimit,
			library.ClassFaculty: c.StaffLimit,
		},
		MaxRenewals: c.MaxRenewals,
	}
}

// IdempotencyFile is where form submission outcomes are kept; it defaults to
// a file beside the library database.
func (c *Config) IdempotencyFile() string {
	if c.IdempotencyPath != "" {
		return c.IdempotencyPath
	}
	return strings.TrimSuffix(c.DBPath, ".db") + ".idem.db"
}
