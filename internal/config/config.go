package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	S3           S3Config           `mapstructure:"s3"`
	Backup       BackupConfig       `mapstructure:"backup"`
	Import       ImportConfig       `mapstructure:"import"`
	Notification NotificationConfig `mapstructure:"notification"`
	Audit        AuditConfig        `mapstructure:"audit"`
	Log          LogConfig          `mapstructure:"log"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN builds a lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Channel      string        `mapstructure:"channel"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
	Issuer      string `mapstructure:"issuer"`
}

type S3Config struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type BackupConfig struct {
	Tables           []string      `mapstructure:"tables"`
	Prefix           string        `mapstructure:"prefix"`
	RetentionDays    int           `mapstructure:"retention_days"`
	MaxBackups       int           `mapstructure:"max_backups"`
	DailyTime        string        `mapstructure:"daily_time"`
	CleanupTime      string        `mapstructure:"cleanup_time"`
	RealtimeInterval time.Duration `mapstructure:"realtime_interval"`
	Encryption       string        `mapstructure:"encryption"`
	EncryptionKey    string        `mapstructure:"encryption_key"`
	MaxFileSize      int64         `mapstructure:"max_file_size"`
	UploadRetries    int           `mapstructure:"upload_retries"`
	RestoreTimeout   time.Duration `mapstructure:"restore_timeout"`
}

type ImportConfig struct {
	IdentifierPrefixes []string `mapstructure:"identifier_prefixes"`
	MaxUploadSize      int64    `mapstructure:"max_upload_size"`
	DisambiguateTries  int      `mapstructure:"disambiguate_tries"`
}

type NotificationConfig struct {
	Channels   []string `mapstructure:"channels"`
	Recipients []string `mapstructure:"recipients"`
	SMTPHost   string   `mapstructure:"smtp_host"`
	SMTPPort   int      `mapstructure:"smtp_port"`
	SMTPUser   string   `mapstructure:"smtp_user"`
	SMTPPass   string   `mapstructure:"smtp_pass"`
	From       string   `mapstructure:"from"`
}

type AuditConfig struct {
	RetentionDays   int           `mapstructure:"retention_days"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	EmailDomain     string        `mapstructure:"email_domain"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Secrets are never read from the config file.
type Secrets struct {
	JWTSecret           string `envconfig:"JWT_SECRET"`
	DBPassword          string `envconfig:"DB_PASSWORD"`
	AWSAccessKeyID      string `envconfig:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey  string `envconfig:"AWS_SECRET_ACCESS_KEY"`
	SMTPPassword        string `envconfig:"SMTP_PASSWORD"`
	BackupEncryptionKey string `envconfig:"BACKUP_ENCRYPTION_KEY"`
}

const envPrefix = "CLINIC"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 30)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "clinic")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.channel", "clinic.notifications")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("jwt.expiry_hours", 24)
	v.SetDefault("jwt.issuer", "clinic-records")

	v.SetDefault("s3.region", "ap-southeast-1")

	v.SetDefault("backup.tables", []string{"users", "patients", "audit_logs"})
	v.SetDefault("backup.retention_days", 30)
	v.SetDefault("backup.max_backups", 100)
	v.SetDefault("backup.daily_time", "00:00")
	v.SetDefault("backup.cleanup_time", "01:00")
	v.SetDefault("backup.realtime_interval", 300*time.Second)
	v.SetDefault("backup.encryption", "AES256")
	v.SetDefault("backup.max_file_size", 100*1024*1024)
	v.SetDefault("backup.upload_retries", 3)
	v.SetDefault("backup.restore_timeout", 3600*time.Second)

	v.SetDefault("import.identifier_prefixes", []string{"MKC", "UHID"})
	v.SetDefault("import.max_upload_size", 10*1024*1024)
	v.SetDefault("import.disambiguate_tries", 5)

	v.SetDefault("notification.channels", []string{"email"})
	v.SetDefault("notification.smtp_port", 587)

	v.SetDefault("audit.retention_days", 365)
	v.SetDefault("audit.cleanup_interval", 24*time.Hour)
	v.SetDefault("audit.email_domain", "mekong-clinic.com")

	v.SetDefault("log.level", "info")

	v.SetDefault("rate_limit.rps", 50)
	v.SetDefault("rate_limit.burst", 100)
}

// LoadConfig reads config.yaml from the working directory or ./config,
// applies CLINIC_* environment overrides and validates the result.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var secrets Secrets
	if err := envconfig.Process(envPrefix, &secrets); err != nil {
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}
	config.applySecrets(secrets)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applySecrets(s Secrets) {
	if s.JWTSecret != "" {
		c.JWT.Secret = s.JWTSecret
	}
	if s.DBPassword != "" {
		c.Database.Password = s.DBPassword
	}
	if s.AWSAccessKeyID != "" {
		c.S3.AccessKeyID = s.AWSAccessKeyID
	}
	if s.AWSSecretAccessKey != "" {
		c.S3.SecretAccessKey = s.AWSSecretAccessKey
	}
	if s.SMTPPassword != "" {
		c.Notification.SMTPPass = s.SMTPPassword
	}
	if s.BackupEncryptionKey != "" {
		c.Backup.EncryptionKey = s.BackupEncryptionKey
	}
}

// Validate checks the values the services cannot run without.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("jwt secret is required")
	}
	if c.Backup.MaxBackups < 1 {
		return fmt.Errorf("backup.max_backups must be positive, got %d", c.Backup.MaxBackups)
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("backup.retention_days must not be negative, got %d", c.Backup.RetentionDays)
	}
	if len(c.Backup.Tables) == 0 {
		return errors.New("backup.tables must not be empty")
	}
	if _, err := ParseClock(c.Backup.DailyTime); err != nil {
		return fmt.Errorf("backup.daily_time: %w", err)
	}
	if _, err := ParseClock(c.Backup.CleanupTime); err != nil {
		return fmt.Errorf("backup.cleanup_time: %w", err)
	}
	return nil
}

// ParseClock parses an HH:MM wall-clock time into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
