package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"notisync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Logging  LoggingConfig  `yaml:"logging"`
	Cache    CacheConfig    `yaml:"cache"`
	Redis    RedisConfig    `yaml:"redis"`
	Backup   BackupConfig   `yaml:"backup"`
	Queue    QueueConfig    `yaml:"queue"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Channels ChannelsConfig `yaml:"channels"`
	Sync     SyncConfig     `yaml:"sync"`
	API      APIConfig      `yaml:"api"`
	Exports  ExportsConfig  `yaml:"exports"`
}

type ExportsConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type CacheConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type QueueConfig struct {
	DispatchIntervalSeconds int `yaml:"dispatch_interval_seconds"`
	DispatchTimeoutSeconds  int `yaml:"dispatch_timeout_seconds"`
	DefaultMaxRetries       int `yaml:"default_max_retries"`
	CleanupAfterHours       int `yaml:"cleanup_after_hours"`
}

func (q QueueConfig) DispatchInterval() time.Duration {
	return time.Duration(q.DispatchIntervalSeconds) * time.Second
}

func (q QueueConfig) DispatchTimeout() time.Duration {
	return time.Duration(q.DispatchTimeoutSeconds) * time.Second
}

type DeliveryConfig struct {
	Default   models.DeliveryPolicy           `yaml:"default"`
	Overrides map[int64]models.DeliveryPolicy `yaml:"overrides"`
}

// PolicyFor returns the recipient's override or the default policy.
func (d DeliveryConfig) PolicyFor(recipientID int64) models.DeliveryPolicy {
	if policy, ok := d.Overrides[recipientID]; ok {
		return policy
	}
	return d.Default
}

type ChannelsConfig struct {
	Webhooks []WebhookChannelConfig `yaml:"webhooks"`
	Telegram TelegramConfig         `yaml:"telegram"`
}

type WebhookChannelConfig struct {
	Name              string `yaml:"name"`
	URL               string `yaml:"url"`
	Username          string `yaml:"username"`
	AvatarURL         string `yaml:"avatar_url"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	RetryAttempts     int    `yaml:"retry_attempts"`
	RetryDelaySeconds int    `yaml:"retry_delay_seconds"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

type SyncConfig struct {
	Enabled             bool   `yaml:"enabled"`
	CredentialsFile     string `yaml:"credentials_file"`
	CalendarID          string `yaml:"calendar_id"`
	AutoIntervalMinutes int    `yaml:"auto_interval_minutes"`
	WindowDays          int    `yaml:"window_days"`
}

func (s SyncConfig) AutoInterval() time.Duration {
	return time.Duration(s.AutoIntervalMinutes) * time.Minute
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func Load(configPath string) (*Config, error) {
	// .env не обязателен, ошибки отсутствия файла игнорируем
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Подставляем переменные окружения прямо в YAML
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
	if c.Cache.Path == "" {
		return errors.New("cache path is required")
	}

	if err := c.Delivery.Default.Validate(); err != nil {
		return fmt.Errorf("delivery.default: %w", err)
	}
	for id, policy := range c.Delivery.Overrides {
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("delivery.overrides[%d]: %w", id, err)
		}
	}

	seen := make(map[string]bool)
	for _, hook := range c.Channels.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook channel %q has no url", hook.Name)
		}
		if seen[hook.Name] {
			return fmt.Errorf("duplicate webhook channel name %q", hook.Name)
		}
		seen[hook.Name] = true
	}

	if c.Channels.Telegram.Enabled && c.Channels.Telegram.BotToken == "" {
		return errors.New("telegram channel is enabled but bot_token is empty")
	}

	if c.Sync.Enabled {
		if c.Sync.CredentialsFile == "" {
			return errors.New("sync.credentials_file is required when sync is enabled")
		}
		if c.Sync.CalendarID == "" {
			return errors.New("sync.calendar_id is required when sync is enabled")
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "notisync"
	}

	if c.Queue.DispatchIntervalSeconds == 0 {
		c.Queue.DispatchIntervalSeconds = int(models.DispatchInterval / time.Second)
	}
	if c.Queue.DispatchTimeoutSeconds == 0 {
		c.Queue.DispatchTimeoutSeconds = int(models.NetworkTimeout / time.Second)
	}
	if c.Queue.DefaultMaxRetries == 0 {
		c.Queue.DefaultMaxRetries = models.DefaultMaxRetries
	}
	if c.Queue.CleanupAfterHours == 0 {
		c.Queue.CleanupAfterHours = models.CleanupAfterHours
	}

	if c.Delivery.Default.MaxPerHour == 0 {
		c.Delivery.Default.MaxPerHour = models.DefaultMaxPerHour
	}

	if c.Sync.AutoIntervalMinutes == 0 {
		c.Sync.AutoIntervalMinutes = int(models.AutoSyncInterval / time.Minute)
	}
	if c.Sync.WindowDays == 0 {
		c.Sync.WindowDays = 7
	}

	if c.API.Enabled {
		if c.API.Port == 0 {
			c.API.Port = 8080
		}
		if c.API.Auth.HeaderAPIKey == "" {
			c.API.Auth.HeaderAPIKey = "x-api-key"
		}
		if c.API.RateLimit.RPS == 0 {
			c.API.RateLimit.RPS = 10
		}
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}

	// Default name for a single unnamed webhook
	for i := range c.Channels.Webhooks {
		if c.Channels.Webhooks[i].Name == "" {
			c.Channels.Webhooks[i].Name = "webhook"
		}
	}
}
