package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string

	LogLevel string
	Env      string

	// DatabaseURL is optional; without it chats live in memory.
	DatabaseURL string
	// RedisURL is optional; without it notifications stay in process.
	RedisURL  string
	JWTSecret string

	GateVerifierURL     string
	GateVerifierTimeout time.Duration

	TombstoneRetention time.Duration
	RetentionCron      string

	RateLimitRPS   float64
	RateLimitBurst int

	ChatDefaults ChatDefaults
}

// ChatDefaults are applied to chats created without explicit settings.
// They can be overridden by the YAML file named in CHAT_DEFAULTS_FILE.
type ChatDefaults struct {
	MemberLimit                int
	EventsTTL                  *time.Duration
	HistoryVisibleToNewJoiners bool
	MaxEventsPerRead           int
	MaxMessagesPerRead         int
}

const day = 24 * time.Hour

// LoadConfig reads envFile if it exists, then the environment.
// Variables already set in the environment win over the file.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	var err error
	cfg := &Config{
		Port:            GetEnv("PORT", "8081"),
		DatabaseURL:     GetEnv("DATABASE_URL", ""),
		RedisURL:        GetEnv("REDIS_URL", ""),
		Env:             GetEnv("ENV", "development"),
		LogLevel:        GetEnv("LOG_LEVEL", "info"),
		JWTSecret:       GetEnv("JWT_SECRET", ""),
		GateVerifierURL: GetEnv("GATE_VERIFIER_URL", ""),
		RetentionCron:   GetEnv("RETENTION_CRON", "0 3 * * *"),
		ChatDefaults: ChatDefaults{
			MemberLimit:        10000,
			MaxEventsPerRead:   100,
			MaxMessagesPerRead: 100,
		},
	}
	if cfg.GateVerifierTimeout, err = getDuration("GATE_VERIFIER_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.TombstoneRetention, err = getDuration("TOMBSTONE_RETENTION", 90*day); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = getFloat("RATE_LIMIT_RPS", 20); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = getInt("RATE_LIMIT_BURST", 40); err != nil {
		return nil, err
	}
	if path := GetEnv("CHAT_DEFAULTS_FILE", ""); path != "" {
		if err := cfg.ChatDefaults.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Env == "production" && len(c.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 bytes in production")
	}
	if !gronx.IsValid(c.RetentionCron) {
		return fmt.Errorf("RETENTION_CRON %q is not a valid cron expression", c.RetentionCron)
	}
	if c.TombstoneRetention <= 0 {
		return errors.New("TOMBSTONE_RETENTION must be positive")
	}
	if c.GateVerifierTimeout <= 0 {
		return errors.New("GATE_VERIFIER_TIMEOUT must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return c.ChatDefaults.Validate()
}

func (d ChatDefaults) Validate() error {
	if d.MemberLimit < 0 {
		return errors.New("chat defaults: member_limit must not be negative")
	}
	if d.EventsTTL != nil && *d.EventsTTL <= 0 {
		return errors.New("chat defaults: events_ttl must be positive")
	}
	if d.MaxEventsPerRead <= 0 || d.MaxMessagesPerRead <= 0 {
		return errors.New("chat defaults: read limits must be positive")
	}
	return nil
}

// loadFile overlays the keys present in a YAML file onto d.
func (d *ChatDefaults) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read chat defaults: %w", err)
	}
	var file struct {
		MemberLimit                *int    `yaml:"member_limit"`
		EventsTTL                  *string `yaml:"events_ttl"`
		HistoryVisibleToNewJoiners *bool   `yaml:"history_visible_to_new_joiners"`
		MaxEventsPerRead           *int    `yaml:"max_events_per_read"`
		MaxMessagesPerRead         *int    `yaml:"max_messages_per_read"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse chat defaults %s: %w", path, err)
	}
	if file.MemberLimit != nil {
		d.MemberLimit = *file.MemberLimit
	}
	if file.EventsTTL != nil {
		ttl, err := ParseDuration(*file.EventsTTL)
		if err != nil {
			return fmt.Errorf("chat defaults events_ttl: %w", err)
		}
		d.EventsTTL = &ttl
	}
	if file.HistoryVisibleToNewJoiners != nil {
		d.HistoryVisibleToNewJoiners = *file.HistoryVisibleToNewJoiners
	}
	if file.MaxEventsPerRead != nil {
		d.MaxEventsPerRead = *file.MaxEventsPerRead
	}
	if file.MaxMessagesPerRead != nil {
		d.MaxMessagesPerRead = *file.MaxMessagesPerRead
	}
	return nil
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// ParseDuration accepts time.ParseDuration syntax plus a whole number of
// days, e.g. "90d".
func ParseDuration(s string) (time.Duration, error) {
	if n := len(s); n > 1 && s[n-1] == 'd' {
		days, err := strconv.Atoi(s[:n-1])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(days) * day, nil
	}
	return time.ParseDuration(s)
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
