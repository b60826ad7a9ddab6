package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Licensing LicensingConfig `yaml:"licensing" envconfig:"LICENSING"`
	Authority AuthorityConfig `yaml:"authority" envconfig:"AUTHORITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// LicensingConfig contains the client-side licensing engine configuration
type LicensingConfig struct {
	// Secret used to derive the artifact encryption key. Must match the
	// secret the issuing tool used.
	Secret string `yaml:"secret" envconfig:"SECRET"`
	// SigningSecret keys the outer artifact signature.
	SigningSecret string `yaml:"signing_secret" envconfig:"SIGNING_SECRET"`

	CacheTTL          time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL" default:"30s"`
	GraceDays         int           `yaml:"grace_days" envconfig:"GRACE_DAYS" default:"7"`
	ExpiryWarningDays int           `yaml:"expiry_warning_days" envconfig:"EXPIRY_WARNING_DAYS" default:"30"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL" default:"15m"`
	TimeSourceTimeout time.Duration `yaml:"time_source_timeout" envconfig:"TIME_SOURCE_TIMEOUT" default:"5s"`
	TimeSources       []string      `yaml:"time_sources" envconfig:"TIME_SOURCES" default:"https://www.google.com,https://www.cloudflare.com,https://www.microsoft.com"`
}

// AuthorityConfig describes how to reach the remote licensing authority, and
// how the authority server itself authenticates callers.
type AuthorityConfig struct {
	URL            string        `yaml:"url" envconfig:"URL" default:"http://localhost:8090"`
	APIKey         string        `yaml:"api_key" envconfig:"API_KEY"`
	AdminAPIKey    string        `yaml:"admin_api_key" envconfig:"ADMIN_API_KEY"`
	Timeout        time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"10s"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int           `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST" default:"10"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/seatlock.log"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir          string `yaml:"data_dir" envconfig:"DATA_DIR" default:"data"`
	LicenseFile      string `yaml:"license_file" envconfig:"LICENSE_FILE" default:"license.dat"`
	LicenseBackup    string `yaml:"license_backup" envconfig:"LICENSE_BACKUP" default:"license.bak"`
	BindingFile      string `yaml:"binding_file" envconfig:"BINDING_FILE" default:"binding.json"`
	GraceStateFile   string `yaml:"grace_state_file" envconfig:"GRACE_STATE_FILE" default:"grace.json"`
	ValidationFile   string `yaml:"validation_file" envconfig:"VALIDATION_FILE" default:"lastcheck.json"`
	LogsDir          string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	var cfg Config

	// Environment variables first
	if err := envconfig.Process("SEATLOCK", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// Config file overrides defaults but not explicit env values
	configFile := getConfigFilePath()
	if _, err := os.Stat(configFile); err == nil {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence)
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Server.Port == 0 {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	if envConfig.Licensing.Secret == "" {
		envConfig.Licensing.Secret = fileConfig.Licensing.Secret
	}
	if envConfig.Licensing.SigningSecret == "" {
		envConfig.Licensing.SigningSecret = fileConfig.Licensing.SigningSecret
	}
	if len(envConfig.Licensing.TimeSources) == 0 {
		envConfig.Licensing.TimeSources = fileConfig.Licensing.TimeSources
	}
	if envConfig.Authority.URL == "" {
		envConfig.Authority.URL = fileConfig.Authority.URL
	}
	if envConfig.Authority.APIKey == "" {
		envConfig.Authority.APIKey = fileConfig.Authority.APIKey
	}
	if envConfig.Authority.AdminAPIKey == "" {
		envConfig.Authority.AdminAPIKey = fileConfig.Authority.AdminAPIKey
	}
	if envConfig.Logging.Level == "" {
		envConfig.Logging.Level = fileConfig.Logging.Level
	}
	if envConfig.Paths.DataDir == "" {
		envConfig.Paths.DataDir = fileConfig.Paths.DataDir
	}
	return envConfig
}

func getConfigFilePath() string {
	if path := os.Getenv("SEATLOCK_CONFIG"); path != "" {
		return path
	}
	return "seatlock.yaml"
}

// resolvePaths makes all configured paths absolute under the data directory
func (c *Config) resolvePaths() error {
	dataDir, err := filepath.Abs(c.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data dir: %w", err)
	}
	c.Paths.DataDir = dataDir

	join := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dataDir, p)
	}
	c.Paths.LicenseFile = join(c.Paths.LicenseFile)
	c.Paths.LicenseBackup = join(c.Paths.LicenseBackup)
	c.Paths.BindingFile = join(c.Paths.BindingFile)
	c.Paths.GraceStateFile = join(c.Paths.GraceStateFile)
	c.Paths.ValidationFile = join(c.Paths.ValidationFile)

	logsDir, err := filepath.Abs(c.Paths.LogsDir)
	if err != nil {
		return fmt.Errorf("failed to resolve logs dir: %w", err)
	}
	c.Paths.LogsDir = logsDir
	if !filepath.IsAbs(c.Logging.FilePath) {
		c.Logging.FilePath = filepath.Join(logsDir, filepath.Base(c.Logging.FilePath))
	}

	return nil
}

// validate checks the configuration for invalid values
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Licensing.GraceDays < 1 {
		return fmt.Errorf("grace_days must be at least 1, got %d", c.Licensing.GraceDays)
	}
	if c.Licensing.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl cannot be negative")
	}
	if len(c.Licensing.TimeSources) == 0 {
		return fmt.Errorf("at least one time source is required")
	}
	if c.Authority.RateLimitRPS <= 0 {
		return fmt.Errorf("rate_limit_rps must be positive")
	}
	return nil
}

// EnsureDirs creates the data and logs directories if missing
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
