package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	// Test default values
	if config.Target.CheckInterval != 20*time.Second {
		t.Errorf("Expected default check interval to be 20s, got %v", config.Target.CheckInterval)
	}

	if config.Target.MaxConnectionFailures != 10 {
		t.Errorf("Expected default max connection failures to be 10, got %d", config.Target.MaxConnectionFailures)
	}

	if config.Delivery.Workers != 3 {
		t.Errorf("Expected default delivery workers to be 3, got %d", config.Delivery.Workers)
	}

	if config.Storage.Local.Directory != "./photos" {
		t.Errorf("Expected default photo directory to be ./photos, got %s", config.Storage.Local.Directory)
	}

	if !config.Storage.Local.Enabled {
		t.Error("Expected local storage to be enabled by default")
	}

	if config.Storage.Dropbox.Enabled {
		t.Error("Expected dropbox storage to be disabled by default")
	}

	if config.Ledger.Path != "./downloaded.json" {
		t.Errorf("Expected default ledger path to be ./downloaded.json, got %s", config.Ledger.Path)
	}

	if !config.Browser.Headless {
		t.Error("Expected browser to be headless by default")
	}

	if config.Scanner.StableObservations != 3 {
		t.Errorf("Expected default stable observations to be 3, got %d", config.Scanner.StableObservations)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("PHOTOWATCH_TARGET_URL", "https://photos.example.com/album")
	os.Setenv("PHOTOWATCH_CHECK_INTERVAL", "45s")
	os.Setenv("PHOTOWATCH_WORKERS", "5")
	os.Setenv("PHOTOWATCH_PHOTO_DIR", "/tmp/test-photos")
	os.Setenv("PHOTOWATCH_LEDGER_PATH", "/tmp/test-ledger.json")
	os.Setenv("PHOTOWATCH_LOG_LEVEL", "debug")
	os.Setenv("PHOTOWATCH_HEADLESS", "false")
	os.Setenv("DROPBOX_REFRESH_TOKEN", "test-refresh-token")
	os.Setenv("DROPBOX_APP_KEY", "test-app-key")
	os.Setenv("DROPBOX_APP_SECRET", "test-app-secret")

	defer func() {
		os.Unsetenv("PHOTOWATCH_TARGET_URL")
		os.Unsetenv("PHOTOWATCH_CHECK_INTERVAL")
		os.Unsetenv("PHOTOWATCH_WORKERS")
		os.Unsetenv("PHOTOWATCH_PHOTO_DIR")
		os.Unsetenv("PHOTOWATCH_LEDGER_PATH")
		os.Unsetenv("PHOTOWATCH_LOG_LEVEL")
		os.Unsetenv("PHOTOWATCH_HEADLESS")
		os.Unsetenv("DROPBOX_REFRESH_TOKEN")
		os.Unsetenv("DROPBOX_APP_KEY")
		os.Unsetenv("DROPBOX_APP_SECRET")
	}()

	config := DefaultConfig()
	if err := config.LoadFromEnv(); err != nil {
		t.Fatalf("Failed to load from environment: %v", err)
	}

	if config.Target.URL != "https://photos.example.com/album" {
		t.Errorf("Expected target URL to be set from env, got %s", config.Target.URL)
	}

	if config.Target.CheckInterval != 45*time.Second {
		t.Errorf("Expected check interval to be 45s, got %v", config.Target.CheckInterval)
	}

	if config.Delivery.Workers != 5 {
		t.Errorf("Expected workers to be 5, got %d", config.Delivery.Workers)
	}

	if config.Storage.Local.Directory != "/tmp/test-photos" {
		t.Errorf("Expected photo directory to be /tmp/test-photos, got %s", config.Storage.Local.Directory)
	}

	if config.Ledger.Path != "/tmp/test-ledger.json" {
		t.Errorf("Expected ledger path to be /tmp/test-ledger.json, got %s", config.Ledger.Path)
	}

	if config.Logging.Level != "debug" {
		t.Errorf("Expected log level to be debug, got %s", config.Logging.Level)
	}

	if config.Browser.Headless {
		t.Error("Expected headless to be disabled via env")
	}

	// Dropbox credentials in the environment enable the backend
	if !config.Storage.Dropbox.Enabled {
		t.Error("Expected dropbox to be enabled when refresh token is set")
	}
	if config.Storage.Dropbox.RefreshToken != "test-refresh-token" {
		t.Errorf("Expected refresh token to be loaded, got %s", config.Storage.Dropbox.RefreshToken)
	}
	if config.Storage.Dropbox.AppKey != "test-app-key" {
		t.Errorf("Expected app key to be loaded, got %s", config.Storage.Dropbox.AppKey)
	}
}

func TestLoadFromEnvIgnoresInvalidValues(t *testing.T) {
	os.Setenv("PHOTOWATCH_CHECK_INTERVAL", "not-a-duration")
	os.Setenv("PHOTOWATCH_WORKERS", "-2")
	defer func() {
		os.Unsetenv("PHOTOWATCH_CHECK_INTERVAL")
		os.Unsetenv("PHOTOWATCH_WORKERS")
	}()

	config := DefaultConfig()
	if err := config.LoadFromEnv(); err != nil {
		t.Fatalf("Failed to load from environment: %v", err)
	}

	if config.Target.CheckInterval != 20*time.Second {
		t.Errorf("Expected invalid interval to keep the default, got %v", config.Target.CheckInterval)
	}
	if config.Delivery.Workers != 3 {
		t.Errorf("Expected non-positive worker count to keep the default, got %d", config.Delivery.Workers)
	}
}

func TestLoadFromFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	configContent := `
target:
  url: https://photos.example.com/shared
  check_interval: 90s
  max_connection_failures: 4
delivery:
  workers: 2
storage:
  local:
    enabled: true
    directory: /data/photos
  dropbox:
    enabled: true
    base_path: /Backups/photos
ledger:
  path: /data/downloaded.json
logging:
  level: warn
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	config := DefaultConfig()
	if err := config.LoadFromFile(configPath); err != nil {
		t.Fatalf("Failed to load config file: %v", err)
	}

	if config.Target.URL != "https://photos.example.com/shared" {
		t.Errorf("Expected URL from file, got %s", config.Target.URL)
	}
	if config.Target.CheckInterval != 90*time.Second {
		t.Errorf("Expected check interval 90s, got %v", config.Target.CheckInterval)
	}
	if config.Target.MaxConnectionFailures != 4 {
		t.Errorf("Expected max connection failures 4, got %d", config.Target.MaxConnectionFailures)
	}
	if config.Delivery.Workers != 2 {
		t.Errorf("Expected 2 workers, got %d", config.Delivery.Workers)
	}
	if config.Storage.Local.Directory != "/data/photos" {
		t.Errorf("Expected local directory from file, got %s", config.Storage.Local.Directory)
	}
	if !config.Storage.Dropbox.Enabled {
		t.Error("Expected dropbox to be enabled from file")
	}
	if config.Storage.Dropbox.BasePath != "/Backups/photos" {
		t.Errorf("Expected dropbox base path from file, got %s", config.Storage.Dropbox.BasePath)
	}
	if config.Ledger.Path != "/data/downloaded.json" {
		t.Errorf("Expected ledger path from file, got %s", config.Ledger.Path)
	}
	if config.Logging.Level != "warn" {
		t.Errorf("Expected log level warn, got %s", config.Logging.Level)
	}

	// Values the file does not mention keep their defaults.
	if config.Scanner.StableObservations != 3 {
		t.Errorf("Expected untouched scanner default, got %d", config.Scanner.StableObservations)
	}
}

func TestLoadFromFileInvalidYAML(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "bad.yaml")

	if err := os.WriteFile(configPath, []byte("target: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	config := DefaultConfig()
	if err := config.LoadFromFile(configPath); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	config := DefaultConfig()
	if err := config.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing explicit config file")
	}
}

func TestMergeCommandLineFlags(t *testing.T) {
	config := DefaultConfig()

	flags := map[string]interface{}{
		"url":         "https://photos.example.com/flagged",
		"interval":    2 * time.Minute,
		"photo-dir":   "/flag/photos",
		"ledger":      "/flag/ledger.json",
		"workers":     7,
		"headless":    false,
		"fresh-start": true,
		"log-level":   "error",
	}

	config.MergeCommandLineFlags(flags)

	if config.Target.URL != "https://photos.example.com/flagged" {
		t.Errorf("Expected URL from flags, got %s", config.Target.URL)
	}
	if config.Target.CheckInterval != 2*time.Minute {
		t.Errorf("Expected interval 2m, got %v", config.Target.CheckInterval)
	}
	if !config.Target.FreshStart {
		t.Error("Expected fresh start to be set")
	}
	if config.Storage.Local.Directory != "/flag/photos" {
		t.Errorf("Expected photo dir from flags, got %s", config.Storage.Local.Directory)
	}
	if config.Ledger.Path != "/flag/ledger.json" {
		t.Errorf("Expected ledger path from flags, got %s", config.Ledger.Path)
	}
	if config.Delivery.Workers != 7 {
		t.Errorf("Expected 7 workers, got %d", config.Delivery.Workers)
	}
	if config.Browser.Headless {
		t.Error("Expected headless to be disabled by flag")
	}
	if config.Logging.Level != "error" {
		t.Errorf("Expected log level error, got %s", config.Logging.Level)
	}
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	os.Setenv("PHOTOWATCH_TARGET_URL", "https://photos.example.com/from-env")
	os.Setenv("PHOTOWATCH_WORKERS", "4")
	defer func() {
		os.Unsetenv("PHOTOWATCH_TARGET_URL")
		os.Unsetenv("PHOTOWATCH_WORKERS")
	}()

	flags := map[string]interface{}{
		"url":     "https://photos.example.com/from-flag",
		"workers": 8,
	}

	config, err := Load("", flags)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Target.URL != "https://photos.example.com/from-flag" {
		t.Errorf("Expected flag to override env, got %s", config.Target.URL)
	}
	if config.Delivery.Workers != 8 {
		t.Errorf("Expected flag workers to override env, got %d", config.Delivery.Workers)
	}
}

func TestValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.Target.URL = "https://photos.example.com/album"

	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid config to pass validation, got: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "missing URL",
			mutate:  func(c *Config) { c.Target.URL = "" },
			wantErr: "target URL is required",
		},
		{
			name:    "non-positive check interval",
			mutate:  func(c *Config) { c.Target.CheckInterval = 0 },
			wantErr: "check interval must be positive",
		},
		{
			name:    "too many workers",
			mutate:  func(c *Config) { c.Delivery.Workers = 11 },
			wantErr: "delivery workers should not exceed 10",
		},
		{
			name: "no backend enabled",
			mutate: func(c *Config) {
				c.Storage.Local.Enabled = false
				c.Storage.Dropbox.Enabled = false
			},
			wantErr: "at least one storage backend must be enabled",
		},
		{
			name: "dropbox without base path",
			mutate: func(c *Config) {
				c.Storage.Dropbox.Enabled = true
				c.Storage.Dropbox.BasePath = ""
			},
			wantErr: "dropbox base path is required",
		},
		{
			name:    "missing ledger path",
			mutate:  func(c *Config) { c.Ledger.Path = "" },
			wantErr: "ledger path is required",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "non-positive stable observations",
			mutate:  func(c *Config) { c.Scanner.StableObservations = 0 },
			wantErr: "stable observations must be positive",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config := DefaultConfig()
			config.Target.URL = "https://photos.example.com/album"
			test.mutate(config)

			err := config.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", test.wantErr, err)
			}
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nested", "config.yaml")

	config := DefaultConfig()
	config.Target.URL = "https://photos.example.com/saved"
	config.Delivery.Workers = 6

	if err := config.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	reloaded := DefaultConfig()
	if err := reloaded.LoadFromFile(configPath); err != nil {
		t.Fatalf("Failed to reload config: %v", err)
	}

	if reloaded.Target.URL != "https://photos.example.com/saved" {
		t.Errorf("Expected URL to round-trip, got %s", reloaded.Target.URL)
	}
	if reloaded.Delivery.Workers != 6 {
		t.Errorf("Expected workers to round-trip, got %d", reloaded.Delivery.Workers)
	}
}

func TestLoadValidatesResult(t *testing.T) {
	// No URL from any source: Load must refuse to return a config.
	if _, err := Load("", map[string]interface{}{}); err == nil {
		t.Error("Expected Load to fail validation without a target URL")
	}
}
