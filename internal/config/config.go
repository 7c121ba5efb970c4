package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds user preferences and endpoint settings.
type Config struct {
	APIBaseURL        string `yaml:"api_base_url" json:"api_base_url"`
	APITimeoutSeconds int    `yaml:"api_timeout_seconds" json:"api_timeout_seconds"`

	DataDir        string `yaml:"data_dir" json:"data_dir"`               // Directory for the local store
	StorageBackend string `yaml:"storage_backend" json:"storage_backend"` // auto, sqlite or bolt

	AutoSync                bool   `yaml:"auto_sync" json:"auto_sync"`
	AutoSyncIntervalSeconds int    `yaml:"auto_sync_interval_seconds" json:"auto_sync_interval_seconds"`
	ProbeURL                string `yaml:"probe_url" json:"probe_url"`
	ProbeIntervalSeconds    int    `yaml:"probe_interval_seconds" json:"probe_interval_seconds"`

	// Logging configuration
	LogLevel   string `yaml:"log_level" json:"log_level"`
	LogFile    string `yaml:"log_file" json:"log_file"`
	LogConsole bool   `yaml:"log_console" json:"log_console"`
}

// Dir returns the application directory (~/.tasksync).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".tasksync"), nil
}

// DefaultConfig returns default settings.
func DefaultConfig() *Config {
	dir, _ := Dir()
	logPath := ""
	dataDir := ""
	if dir != "" {
		logPath = filepath.Join(dir, "logs", "tasksync.log")
		dataDir = filepath.Join(dir, "data")
	}

	return &Config{
		APIBaseURL:              getEnv("TASKSYNC_API_URL", "http://localhost:8080/api/v1"),
		APITimeoutSeconds:       getEnvInt("TASKSYNC_API_TIMEOUT", 30),
		DataDir:                 getEnv("TASKSYNC_DATA_DIR", dataDir),
		StorageBackend:          getEnv("TASKSYNC_STORAGE_BACKEND", "auto"),
		AutoSync:                getEnv("TASKSYNC_AUTO_SYNC", "true") == "true",
		AutoSyncIntervalSeconds: getEnvInt("TASKSYNC_AUTO_SYNC_INTERVAL", 30),
		ProbeURL:                getEnv("TASKSYNC_PROBE_URL", "http://localhost:8080/health"),
		ProbeIntervalSeconds:    getEnvInt("TASKSYNC_PROBE_INTERVAL", 15),
		LogLevel:                getEnv("TASKSYNC_LOG_LEVEL", "INFO"),
		LogFile:                 getEnv("TASKSYNC_LOG_FILE", logPath),
		LogConsole:              getEnv("TASKSYNC_LOG_CONSOLE", "false") == "true",
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// Load loads config from ~/.tasksync/config.yaml, falling back to
// defaults when the file does not exist.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Save writes the config to ~/.tasksync/config.yaml.
func (c *Config) Save() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
