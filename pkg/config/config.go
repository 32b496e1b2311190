package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the photo watcher
type Config struct {
	// Target page settings
	Target TargetConfig `yaml:"target" json:"target"`

	// Browser session settings
	Browser BrowserConfig `yaml:"browser" json:"browser"`

	// List enumeration settings
	Scanner ScannerConfig `yaml:"scanner" json:"scanner"`

	// Delivery settings
	Delivery DeliveryConfig `yaml:"delivery" json:"delivery"`

	// Storage backend settings
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// History ledger settings
	Ledger LedgerConfig `yaml:"ledger" json:"ledger"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// TargetConfig holds target-page specific configuration
type TargetConfig struct {
	URL                   string        `yaml:"url" json:"url"`
	CheckInterval         time.Duration `yaml:"check_interval" json:"check_interval"`
	MaxConnectionFailures int           `yaml:"max_connection_failures" json:"max_connection_failures"`
	// FreshStart wipes the ledger and local photos once at startup,
	// then behaves as if it were false.
	FreshStart bool `yaml:"fresh_start" json:"fresh_start"`
}

// BrowserConfig holds browser session configuration
type BrowserConfig struct {
	Headless        bool          `yaml:"headless" json:"headless"`
	PageLoadTimeout time.Duration `yaml:"page_load_timeout" json:"page_load_timeout"`
	RenderWait      time.Duration `yaml:"render_wait" json:"render_wait"`
	DetailLoadWait  time.Duration `yaml:"detail_load_wait" json:"detail_load_wait"`
	DetailCloseWait time.Duration `yaml:"detail_close_wait" json:"detail_close_wait"`

	// DOM selectors for the photo list
	ItemSelector         string `yaml:"item_selector" json:"item_selector"`
	ThumbnailSelector    string `yaml:"thumbnail_selector" json:"thumbnail_selector"`
	DetailOpenSelector   string `yaml:"detail_open_selector" json:"detail_open_selector"`
	OriginalLinkSelector string `yaml:"original_link_selector" json:"original_link_selector"`
	ContainerSelector    string `yaml:"container_selector" json:"container_selector"`
}

// ScannerConfig holds list convergence scanner configuration
type ScannerConfig struct {
	SettleInterval time.Duration `yaml:"settle_interval" json:"settle_interval"`
	// StableObservations is how many consecutive unchanged item counts
	// terminate the enumeration. Too low truncates slow-loading lists.
	StableObservations int `yaml:"stable_observations" json:"stable_observations"`
	MaxLoadMoreAttempts int `yaml:"max_load_more_attempts" json:"max_load_more_attempts"`
}

// DeliveryConfig holds delivery pipeline configuration
type DeliveryConfig struct {
	Workers       int           `yaml:"workers" json:"workers"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	RetryAttempts int           `yaml:"retry_attempts" json:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// StorageConfig holds storage backend configuration
type StorageConfig struct {
	Local   LocalStorageConfig   `yaml:"local" json:"local"`
	Dropbox DropboxStorageConfig `yaml:"dropbox" json:"dropbox"`
}

// LocalStorageConfig holds local filesystem backend configuration
type LocalStorageConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Directory string `yaml:"directory" json:"directory"`
}

// DropboxStorageConfig holds Dropbox backend configuration.
// Refresh-token auth is the long-running mode; a bare access token
// expires after four hours and is kept only as a fallback.
type DropboxStorageConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	BasePath     string `yaml:"base_path" json:"base_path"`
	AccessToken  string `yaml:"access_token" json:"access_token"`
	RefreshToken string `yaml:"refresh_token" json:"refresh_token"`
	AppKey       string `yaml:"app_key" json:"app_key"`
	AppSecret    string `yaml:"app_secret" json:"app_secret"`
}

// LedgerConfig holds history ledger configuration
type LedgerConfig struct {
	Path string `yaml:"path" json:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{
			CheckInterval:         20 * time.Second,
			MaxConnectionFailures: 10,
			FreshStart:            false,
		},
		Browser: BrowserConfig{
			Headless:             true,
			PageLoadTimeout:      30 * time.Second,
			RenderWait:           3 * time.Second,
			DetailLoadWait:       time.Second,
			DetailCloseWait:      500 * time.Millisecond,
			ContainerSelector:    "div.photo-content.container",
			ItemSelector:         "div.photo-content.container li.photo-item",
			ThumbnailSelector:    "img",
			DetailOpenSelector:   "span",
			OriginalLinkSelector: "div.operate-buttons li.row-all-center a",
		},
		Scanner: ScannerConfig{
			SettleInterval:      2 * time.Second,
			StableObservations:  3,
			MaxLoadMoreAttempts: 50,
		},
		Delivery: DeliveryConfig{
			Workers:       3,
			FetchTimeout:  30 * time.Second,
			RetryAttempts: 5,
			RetryDelay:    2 * time.Second,
		},
		Storage: StorageConfig{
			Local: LocalStorageConfig{
				Enabled:   true,
				Directory: "./photos",
			},
			Dropbox: DropboxStorageConfig{
				Enabled:  false,
				BasePath: "/PhotoPlus/photos",
			},
		},
		Ledger: LedgerConfig{
			Path: "./downloaded.json",
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   false,
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if url := os.Getenv("PHOTOWATCH_TARGET_URL"); url != "" {
		c.Target.URL = url
	}
	if interval := os.Getenv("PHOTOWATCH_CHECK_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil && d > 0 {
			c.Target.CheckInterval = d
		}
	}
	if failures := os.Getenv("PHOTOWATCH_MAX_CONNECTION_FAILURES"); failures != "" {
		if val, err := strconv.Atoi(failures); err == nil && val > 0 {
			c.Target.MaxConnectionFailures = val
		}
	}
	if fresh := os.Getenv("PHOTOWATCH_FRESH_START"); fresh != "" {
		c.Target.FreshStart = strings.ToLower(fresh) == "true"
	}

	if headless := os.Getenv("PHOTOWATCH_HEADLESS"); headless != "" {
		c.Browser.Headless = strings.ToLower(headless) != "false"
	}

	if workers := os.Getenv("PHOTOWATCH_WORKERS"); workers != "" {
		if val, err := strconv.Atoi(workers); err == nil && val > 0 {
			c.Delivery.Workers = val
		}
	}
	if retries := os.Getenv("PHOTOWATCH_RETRY_ATTEMPTS"); retries != "" {
		if val, err := strconv.Atoi(retries); err == nil && val > 0 {
			c.Delivery.RetryAttempts = val
		}
	}

	if dir := os.Getenv("PHOTOWATCH_PHOTO_DIR"); dir != "" {
		c.Storage.Local.Directory = dir
	}
	if local := os.Getenv("PHOTOWATCH_SAVE_TO_LOCAL"); local != "" {
		c.Storage.Local.Enabled = strings.ToLower(local) == "true"
	}

	// Dropbox credentials are usually supplied via environment or the
	// credential store, never the YAML file.
	if token := os.Getenv("DROPBOX_ACCESS_TOKEN"); token != "" {
		c.Storage.Dropbox.AccessToken = token
		c.Storage.Dropbox.Enabled = true
	}
	if refresh := os.Getenv("DROPBOX_REFRESH_TOKEN"); refresh != "" {
		c.Storage.Dropbox.RefreshToken = refresh
		c.Storage.Dropbox.Enabled = true
	}
	if key := os.Getenv("DROPBOX_APP_KEY"); key != "" {
		c.Storage.Dropbox.AppKey = key
	}
	if secret := os.Getenv("DROPBOX_APP_SECRET"); secret != "" {
		c.Storage.Dropbox.AppSecret = secret
	}
	if path := os.Getenv("DROPBOX_SAVE_PATH"); path != "" {
		c.Storage.Dropbox.BasePath = path
	}

	if ledger := os.Getenv("PHOTOWATCH_LEDGER_PATH"); ledger != "" {
		c.Ledger.Path = ledger
	}

	if logLevel := os.Getenv("PHOTOWATCH_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	// Check in order of precedence
	locations := []string{
		".photowatch.yaml",
		".photowatch.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "photowatch", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "photowatch", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".photowatch.yaml"),
		filepath.Join(os.Getenv("HOME"), ".photowatch.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Target.URL == "" {
		errs = append(errs, errors.New("target URL is required"))
	}
	if c.Target.CheckInterval <= 0 {
		errs = append(errs, errors.New("check interval must be positive"))
	}
	if c.Target.MaxConnectionFailures <= 0 {
		errs = append(errs, errors.New("max connection failures must be positive"))
	}

	if c.Scanner.StableObservations <= 0 {
		errs = append(errs, errors.New("stable observations must be positive"))
	}
	if c.Scanner.MaxLoadMoreAttempts <= 0 {
		errs = append(errs, errors.New("max load-more attempts must be positive"))
	}
	if c.Scanner.SettleInterval <= 0 {
		errs = append(errs, errors.New("settle interval must be positive"))
	}

	if c.Delivery.Workers <= 0 {
		errs = append(errs, errors.New("delivery workers must be positive"))
	}
	if c.Delivery.Workers > 10 {
		errs = append(errs, errors.New("delivery workers should not exceed 10"))
	}
	if c.Delivery.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch timeout must be positive"))
	}
	if c.Delivery.RetryAttempts < 0 {
		errs = append(errs, errors.New("retry attempts cannot be negative"))
	}

	// At least one storage backend must be enabled
	if !c.Storage.Local.Enabled && !c.Storage.Dropbox.Enabled {
		errs = append(errs, errors.New("at least one storage backend must be enabled"))
	}
	if c.Storage.Local.Enabled && c.Storage.Local.Directory == "" {
		errs = append(errs, errors.New("local storage directory is required"))
	}
	if c.Storage.Dropbox.Enabled && c.Storage.Dropbox.BasePath == "" {
		errs = append(errs, errors.New("dropbox base path is required"))
	}

	if c.Ledger.Path == "" {
		errs = append(errs, errors.New("ledger path is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if url, ok := flags["url"].(string); ok && url != "" {
		c.Target.URL = url
	}
	if interval, ok := flags["interval"].(time.Duration); ok && interval > 0 {
		c.Target.CheckInterval = interval
	}
	if fresh, ok := flags["fresh-start"].(bool); ok && fresh {
		c.Target.FreshStart = true
	}
	if dir, ok := flags["photo-dir"].(string); ok && dir != "" {
		c.Storage.Local.Directory = dir
	}
	if ledger, ok := flags["ledger"].(string); ok && ledger != "" {
		c.Ledger.Path = ledger
	}
	if workers, ok := flags["workers"].(int); ok && workers > 0 {
		c.Delivery.Workers = workers
	}
	if headless, ok := flags["headless"].(bool); ok {
		c.Browser.Headless = headless
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".photowatch.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
