package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Dispatch modes
const (
	DispatchQueue     = "queue"
	DispatchInProcess = "inprocess"
)

// Storage drivers
const (
	StorageGCS   = "gcs"
	StorageLocal = "local"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	Worker   WorkerConfig   `yaml:"worker"`
	Auth     AuthConfig     `yaml:"auth"`
	Provider ProviderConfig `yaml:"provider"`
	Storage  StorageConfig  `yaml:"storage"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the SQL connection configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres or sqlite
	Path            string        `yaml:"path"`   // sqlite file
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host               string           `yaml:"host"`
	Port               int              `yaml:"port"`
	User               string           `yaml:"user"`
	Password           string           `yaml:"password"`
	VHost              string           `yaml:"vhost"`
	Exchange           ExchangeConfig   `yaml:"exchange"`
	Queue              QueueConfig      `yaml:"queue"`
	RoutingKey         string           `yaml:"routing_key"`
	DeadLetterExchange string           `yaml:"dead_letter_exchange"`
	Connection         ConnectionConfig `yaml:"connection"`
	Publish            PublishConfig    `yaml:"publish"`
	Consumer           ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID              string        `yaml:"id"`
	Concurrency     int           `yaml:"concurrency"`
	AdvanceTimeout  time.Duration `yaml:"advance_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig holds session and role claim settings
type AuthConfig struct {
	SessionTTL    time.Duration `yaml:"session_ttl"`
	ClaimCacheTTL time.Duration `yaml:"claim_cache_ttl"`
	// DevBootstrapRoles grants admin and editor to callers without roles; never enable in production
	DevBootstrapRoles bool `yaml:"dev_bootstrap_roles"`
}

// ProviderConfig holds the voice provider settings
type ProviderConfig struct {
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	ModelID        string        `yaml:"model_id"`
	DefaultVoiceID string        `yaml:"default_voice_id"`
	Timeout        time.Duration `yaml:"timeout"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
}

// StorageConfig selects and configures the blob store
type StorageConfig struct {
	Driver          string `yaml:"driver"` // gcs or local
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
	LocalRoot       string `yaml:"local_root"`
	PublicBaseURL   string `yaml:"public_base_url"`
}

// PipelineConfig holds step execution and external tool settings
type PipelineConfig struct {
	Dispatch          string        `yaml:"dispatch"` // queue or inprocess
	InProcessLimit    int64         `yaml:"inprocess_limit"`
	StepTimeout       time.Duration `yaml:"step_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	TTSEnabled        bool          `yaml:"tts_enabled"`
	OpenAI            OpenAIConfig  `yaml:"openai"`
	YouTube           YouTubeConfig `yaml:"youtube"`
	Media             MediaConfig   `yaml:"media"`
}

// OpenAIConfig configures transcription and translation
type OpenAIConfig struct {
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	TranscribeModel string        `yaml:"transcribe_model"`
	TranslateModel  string        `yaml:"translate_model"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
}

// YouTubeConfig configures metadata reads and publishing
type YouTubeConfig struct {
	APIKey       string `yaml:"api_key"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
}

// MediaConfig points at the audio tools
type MediaConfig struct {
	YTDLPPath  string `yaml:"ytdlp_path"`
	FFmpegPath string `yaml:"ffmpeg_path"`
	WorkDir    string `yaml:"work_dir"`
}

// WatchdogConfig tunes the stuck job sweeper
type WatchdogConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	StuckAfter   time.Duration `yaml:"stuck_after"`
	RequeueAfter time.Duration `yaml:"requeue_after"`
	BatchSize    int           `yaml:"batch_size"`
	LockFile     string        `yaml:"lock_file"`
}

// Load reads and parses the configuration file, then overlays secrets from
// the environment.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageGCS
	}
	if c.Pipeline.Dispatch == "" {
		c.Pipeline.Dispatch = DispatchQueue
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
}

// ApplyEnv overlays credentials and deployment specific values from lookup.
// Environment values win over the file.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	str(&c.Database.Password, "DATABASE_PASSWORD")
	str(&c.RabbitMQ.Password, "RABBITMQ_PASSWORD")
	str(&c.Provider.APIKey, "ELEVENLABS_API_KEY", "TTS_API_KEY")
	str(&c.Provider.DefaultVoiceID, "ELEVENLABS_VOICE_ID", "TTS_VOICE_ID")
	str(&c.Pipeline.OpenAI.APIKey, "OPENAI_API_KEY")
	str(&c.Pipeline.YouTube.APIKey, "YOUTUBE_API_KEY")
	str(&c.Pipeline.YouTube.ClientID, "YOUTUBE_CLIENT_ID")
	str(&c.Pipeline.YouTube.ClientSecret, "YOUTUBE_CLIENT_SECRET")
	str(&c.Pipeline.YouTube.RefreshToken, "YOUTUBE_REFRESH_TOKEN")
	str(&c.Storage.Bucket, "GCS_BUCKET")
	str(&c.Storage.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")

	if v, ok := lookup("TTS_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid TTS_ENABLED %q: %w", v, err)
		}
		c.Pipeline.TTSEnabled = enabled
	}
	return nil
}

func validPort(p int) bool {
	return p >= MinPort && p <= MaxPort
}

// Validate checks the sections shared by every binary
func (c *Config) Validate() error {
	if c.Auth.DevBootstrapRoles && c.App.Environment == "production" {
		return fmt.Errorf("auth dev_bootstrap_roles must be disabled in production")
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if !validPort(c.Database.Port) {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	switch c.Storage.Driver {
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage bucket is required")
		}
	case StorageLocal:
		if c.Storage.LocalRoot == "" {
			return fmt.Errorf("storage local_root is required")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.Storage.Driver)
	}

	switch c.Pipeline.Dispatch {
	case DispatchQueue:
		return c.validateRabbitMQ()
	case DispatchInProcess:
		return nil
	default:
		return fmt.Errorf("unsupported pipeline dispatch: %q", c.Pipeline.Dispatch)
	}
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	if !validPort(c.RabbitMQ.Port) {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}
	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}
	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}
	return nil
}

// ValidateAPIConfig checks the configuration of api-service
func (c *Config) ValidateAPIConfig() error {
	if !validPort(c.Server.Port) {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	return c.Validate()
}

// ValidateWorkerConfig checks the configuration of worker-service, which always consumes from RabbitMQ
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Pipeline.Dispatch != DispatchQueue {
		return fmt.Errorf("worker-service requires pipeline dispatch %q", DispatchQueue)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}
	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}
	if c.Watchdog.Enabled && c.Watchdog.RequeueAfter > 0 && c.Watchdog.StuckAfter > 0 &&
		c.Watchdog.RequeueAfter >= c.Watchdog.StuckAfter {
		return fmt.Errorf("watchdog requeue_after must be shorter than stuck_after")
	}
	return nil
}
