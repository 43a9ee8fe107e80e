package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/incidentflow/api/db"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	Port        string `mapstructure:"port"`

	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTTTLHours int    `mapstructure:"jwt_ttl_hours"`

	// Outbound email (SMTP relay)
	SMTP SMTPConfig `mapstructure:"smtp"`

	// Direct mobile push (optional)
	FirebaseCredentialsFile string `mapstructure:"firebase_credentials_file"`

	// SLA scanner
	SLA SLAConfig `mapstructure:"sla"`

	// Notification delivery worker
	Notify NotifyConfig `mapstructure:"notify"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	From     string `mapstructure:"from"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// SLAConfig carries the breach thresholds per severity, in minutes, plus
// the scan cadence. Defaults follow the on-call playbook tiers.
type SLAConfig struct {
	ScanIntervalSeconds int `mapstructure:"scan_interval_seconds"`
	Sev1Minutes         int `mapstructure:"sev1_minutes"`
	Sev2Minutes         int `mapstructure:"sev2_minutes"`
	Sev3Minutes         int `mapstructure:"sev3_minutes"`
	Sev4Minutes         int `mapstructure:"sev4_minutes"`
}

// ScanInterval returns the scan cadence as a duration.
func (s SLAConfig) ScanInterval() time.Duration {
	return time.Duration(s.ScanIntervalSeconds) * time.Second
}

// Threshold returns the ack deadline for a severity.
func (s SLAConfig) Threshold(severity db.IncidentSeverity) time.Duration {
	switch severity {
	case db.SeveritySev1:
		return time.Duration(s.Sev1Minutes) * time.Minute
	case db.SeveritySev2:
		return time.Duration(s.Sev2Minutes) * time.Minute
	case db.SeveritySev3:
		return time.Duration(s.Sev3Minutes) * time.Minute
	case db.SeveritySev4:
		return time.Duration(s.Sev4Minutes) * time.Minute
	}
	// Unknown severities get the most lenient tier rather than never breaching.
	return time.Duration(s.Sev4Minutes) * time.Minute
}

type NotifyConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	BatchSize           int `mapstructure:"batch_size"`
	MaxAttempts         int `mapstructure:"max_attempts"`
}

// App holds the global config instance
var App Config

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) error {
	// Auto-load .env if present so 'go run' works without exporting vars.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file")
	}

	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("jwt_ttl_hours", 24)
	v.SetDefault("smtp.port", 587)
	v.SetDefault("sla.scan_interval_seconds", 60)
	v.SetDefault("sla.sev1_minutes", 60)
	v.SetDefault("sla.sev2_minutes", 120)
	v.SetDefault("sla.sev3_minutes", 240)
	v.SetDefault("sla.sev4_minutes", 1440)
	v.SetDefault("notify.poll_interval_seconds", 10)
	v.SetDefault("notify.batch_size", 50)
	v.SetDefault("notify.max_attempts", 5)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("incidentflow")

	// Standard deploy keys take precedence over the prefixed ones.
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("jwt_ttl_hours", "JWT_TTL_HOURS")

	_ = v.BindEnv("smtp.host", "SMTP_HOST")
	_ = v.BindEnv("smtp.port", "SMTP_PORT")
	_ = v.BindEnv("smtp.from", "SMTP_FROM")
	_ = v.BindEnv("smtp.username", "SMTP_USERNAME")
	_ = v.BindEnv("smtp.password", "SMTP_PASSWORD")

	_ = v.BindEnv("firebase_credentials_file", "FIREBASE_CREDENTIALS_FILE")

	_ = v.BindEnv("sla.scan_interval_seconds", "SLA_SCAN_INTERVAL_SECONDS")
	_ = v.BindEnv("sla.sev1_minutes", "SLA_SEV1_MINUTES")
	_ = v.BindEnv("sla.sev2_minutes", "SLA_SEV2_MINUTES")
	_ = v.BindEnv("sla.sev3_minutes", "SLA_SEV3_MINUTES")
	_ = v.BindEnv("sla.sev4_minutes", "SLA_SEV4_MINUTES")

	_ = v.BindEnv("notify.poll_interval_seconds", "NOTIFY_POLL_INTERVAL_SECONDS")
	_ = v.BindEnv("notify.batch_size", "NOTIFY_BATCH_SIZE")
	_ = v.BindEnv("notify.max_attempts", "NOTIFY_MAX_ATTEMPTS")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and environment variables")
		} else {
			return err
		}
	} else {
		log.Printf("Loaded config from: %s", v.ConfigFileUsed())
	}

	if err := v.Unmarshal(&App); err != nil {
		return err
	}

	return App.Validate()
}

// Validate rejects configurations that would misbehave silently at runtime.
func (c Config) Validate() error {
	if c.SLA.ScanIntervalSeconds <= 0 {
		return fmt.Errorf("sla.scan_interval_seconds must be positive, got %d", c.SLA.ScanIntervalSeconds)
	}
	for name, minutes := range map[string]int{
		"sla.sev1_minutes": c.SLA.Sev1Minutes,
		"sla.sev2_minutes": c.SLA.Sev2Minutes,
		"sla.sev3_minutes": c.SLA.Sev3Minutes,
		"sla.sev4_minutes": c.SLA.Sev4Minutes,
	} {
		if minutes <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, minutes)
		}
	}
	if c.Notify.MaxAttempts <= 0 {
		return fmt.Errorf("notify.max_attempts must be positive, got %d", c.Notify.MaxAttempts)
	}
	return nil
}
