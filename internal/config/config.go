package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Export   ExportConfig   `yaml:"export"`
	Renderer RendererConfig `yaml:"renderer"`
	Mailer   MailerConfig   `yaml:"mailer"`
	Storage  StorageConfig  `yaml:"storage"`

	// EncryptionKey is the 64-hex-char AES-256-GCM key used to decrypt
	// stored account numbers. Falls back to the ENCRYPTION_KEY env var.
	EncryptionKey string `yaml:"encryption_key"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
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

// RabbitMQConfig holds the optional enqueue-nudge channel configuration.
// When disabled the worker relies on polling alone.
type RabbitMQConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	VHost         string        `yaml:"vhost"`
	Exchange      string        `yaml:"exchange"`
	Queue         string        `yaml:"queue"`
	RoutingKey    string        `yaml:"routing_key"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Queue              string        `yaml:"queue"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	MaxActiveJobs      int           `yaml:"max_active_jobs"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	StaleAfter         time.Duration `yaml:"stale_after"`
	ReclaimInterval    time.Duration `yaml:"reclaim_interval"`
	DefaultMaxAttempts int           `yaml:"default_max_attempts"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
	MetricsPort        int           `yaml:"metrics_port"`
}

// ExportConfig holds batch export handler configuration
type ExportConfig struct {
	ChunkSize         int           `yaml:"chunk_size"`
	RenderConcurrency int           `yaml:"render_concurrency"`
	MemberRetries     int           `yaml:"member_retries"`
	MemberRetryDelay  time.Duration `yaml:"member_retry_delay"`
	RenderTimeout     time.Duration `yaml:"render_timeout"`
	ArchivePrefix     string        `yaml:"archive_prefix"`
}

// RendererConfig holds the rendering engine API client configuration
type RendererConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

// MailerConfig holds the mail API client configuration
type MailerConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig selects where finished archives are written
type StorageConfig struct {
	Backend  string   `yaml:"backend"` // "local" or "s3"
	LocalDir string   `yaml:"local_dir"`
	S3       S3Config `yaml:"s3"`
}

// S3Config holds S3-compatible object storage configuration
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.EncryptionKey == "" {
		config.EncryptionKey = os.Getenv("ENCRYPTION_KEY")
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults fills in the documented defaults for optional settings.
func (c *Config) applyDefaults() {
	if c.Worker.Queue == "" {
		c.Worker.Queue = "exports"
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = 2 * time.Second
	}
	if c.Worker.MaxActiveJobs <= 0 {
		c.Worker.MaxActiveJobs = 1
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.Worker.StaleAfter <= 0 {
		c.Worker.StaleAfter = 15 * time.Minute
	}
	if c.Worker.ReclaimInterval <= 0 {
		c.Worker.ReclaimInterval = time.Minute
	}
	if c.Worker.DefaultMaxAttempts <= 0 {
		c.Worker.DefaultMaxAttempts = 3
	}
	if c.Export.ChunkSize <= 0 {
		c.Export.ChunkSize = 50
	}
	if c.Export.RenderConcurrency <= 0 {
		c.Export.RenderConcurrency = 10
	}
	if c.Export.MemberRetries < 0 {
		c.Export.MemberRetries = 2
	}
	if c.Export.MemberRetryDelay <= 0 {
		c.Export.MemberRetryDelay = 500 * time.Millisecond
	}
	if c.Export.RenderTimeout <= 0 {
		c.Export.RenderTimeout = 120 * time.Second
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.Backend == "local" && c.Storage.LocalDir == "" {
		c.Storage.LocalDir = "exports"
	}
}

// ValidateAPIConfig checks the settings the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required when rabbitmq is enabled")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Queue == "" {
			return fmt.Errorf("rabbitmq queue name is required when rabbitmq is enabled")
		}
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if c.Worker.MaxActiveJobs <= 0 {
		return fmt.Errorf("worker max_active_jobs must be greater than 0")
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Export.ChunkSize <= 0 {
		return fmt.Errorf("export chunk_size must be greater than 0")
	}

	if c.Export.RenderConcurrency <= 0 {
		return fmt.Errorf("export render_concurrency must be greater than 0")
	}

	if c.Renderer.BaseURL == "" {
		return fmt.Errorf("renderer base_url is required")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage local_dir is required for the local backend")
		}
	case "s3":
		if c.Storage.S3.Endpoint == "" {
			return fmt.Errorf("storage s3 endpoint is required for the s3 backend")
		}
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage s3 bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}
	return nil
}
