package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Google     GoogleConfig     `yaml:"google"`
	Payment    PaymentConfig    `yaml:"payment"`
	Email      EmailConfig      `yaml:"email"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	// PublicURL prefixes manage-booking links in emails.
	PublicURL string `yaml:"public_url"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Interval      string `yaml:"interval"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APIAuthConfig protects the host endpoints. Guest endpoints are public.
type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// SchedulerConfig holds the booking engine settings.
type SchedulerConfig struct {
	// HostID is the single host this instance serves.
	HostID                 int64  `yaml:"host_id"`
	ReminderTimezone       string `yaml:"reminder_timezone"`
	ReminderTime           string `yaml:"reminder_time"`
	SlotStepMinutes        int    `yaml:"slot_step_minutes"`
	UpstreamTimeoutSeconds int    `yaml:"upstream_timeout_seconds"`
	BookingRateLimit       int    `yaml:"booking_rate_limit"`
	BookingRateWindow      string `yaml:"booking_rate_window"`
	SlotLockTTL            string `yaml:"slot_lock_ttl"`
}

func (s SchedulerConfig) UpstreamTimeout() time.Duration {
	return time.Duration(s.UpstreamTimeoutSeconds) * time.Second
}

func (s SchedulerConfig) SlotStep() time.Duration {
	return time.Duration(s.SlotStepMinutes) * time.Minute
}

func (s SchedulerConfig) RateWindow() time.Duration {
	d, err := time.ParseDuration(s.BookingRateWindow)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

func (s SchedulerConfig) LockTTL() time.Duration {
	d, err := time.ParseDuration(s.SlotLockTTL)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type GoogleConfig struct {
	// OAuthClientFile is the OAuth client JSON used to refresh host calendar tokens.
	OAuthClientFile       string `yaml:"oauth_client_file"`
	GoogleCredentialsFile string `yaml:"credentials_file"`
	BookingSpreadSheetID  string `yaml:"bookings_spreadsheet_id"`
}

type PaymentConfig struct {
	StripeSecretKey string `yaml:"stripe_secret_key"`
	WebhookSecret   string `yaml:"webhook_secret"`
	Currency        string `yaml:"currency"`
	SuccessURL      string `yaml:"success_url"`
	CancelURL       string `yaml:"cancel_url"`
}

func (p PaymentConfig) Enabled() bool {
	return p.StripeSecretKey != ""
}

type EmailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	TLS      bool   `yaml:"tls"`
}

func (e EmailConfig) Enabled() bool {
	return e.Host != "" && e.From != ""
}

// TelegramConfig enables host notifications in a Telegram chat.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	Debug    bool   `yaml:"debug"`
	// Commands enables the host command bot in ChatID.
	Commands bool `yaml:"commands"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// Load reads .env (optional) and the YAML file, expands ${VARS}, applies
// defaults and validates.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Scheduler.HostID <= 0 {
		return errors.New("scheduler.host_id must be positive")
	}
	if c.Scheduler.SlotStepMinutes <= 0 {
		return errors.New("scheduler.slot_step_minutes must be positive")
	}
	if _, err := time.LoadLocation(c.Scheduler.ReminderTimezone); err != nil {
		return fmt.Errorf("scheduler.reminder_timezone: %w", err)
	}
	if _, err := time.Parse("15:04", c.Scheduler.ReminderTime); err != nil {
		return fmt.Errorf("scheduler.reminder_time must be HH:MM: %w", err)
	}
	if c.Payment.Enabled() && c.Payment.WebhookSecret == "" {
		return errors.New("payment.webhook_secret is required when payments are enabled")
	}
	if c.Telegram.Commands && (c.Telegram.BotToken == "" || c.Telegram.ChatID == 0) {
		return errors.New("telegram.commands requires bot_token and chat_id")
	}
	if c.API.Auth.Enabled {
		for i, k := range c.API.Auth.APIKeys {
			if strings.TrimSpace(k.Key) == "" {
				return fmt.Errorf("api.auth.api_keys[%d] has an empty key", i)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "bookslot"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Scheduler.HostID == 0 {
		c.Scheduler.HostID = 1
	}
	if c.Scheduler.ReminderTimezone == "" {
		c.Scheduler.ReminderTimezone = "UTC"
	}
	if c.Scheduler.ReminderTime == "" {
		c.Scheduler.ReminderTime = "08:00"
	}
	if c.Scheduler.SlotStepMinutes == 0 {
		c.Scheduler.SlotStepMinutes = 15
	}
	if c.Scheduler.UpstreamTimeoutSeconds == 0 {
		c.Scheduler.UpstreamTimeoutSeconds = 10
	}
	if c.Scheduler.BookingRateLimit == 0 {
		c.Scheduler.BookingRateLimit = 10
	}

	if c.Payment.Currency == "" {
		c.Payment.Currency = "usd"
	}
	if c.Email.Port == 0 {
		c.Email.Port = 587
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
