package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
	AI struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"ai"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Logging struct {
		Dir string `yaml:"dir"`
	} `yaml:"logging"`
	Schedule struct {
		DirectoryRefreshCron string `yaml:"directory_refresh_cron"`
		ReportPruneCron      string `yaml:"report_prune_cron"`
		ReportRetentionDays  int    `yaml:"report_retention_days"`
	} `yaml:"schedule"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error; env vars and
// defaults still apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("STOCKAGENT_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("DEEPSEEK_API_KEY"); v != "" && cfg.AI.APIKey == "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("STOCKAGENT_AI_BASE_URL"); v != "" {
		cfg.AI.BaseURL = v
	}
	if v := os.Getenv("STOCKAGENT_AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("STOCKAGENT_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("STOCKAGENT_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("STOCKAGENT_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("STOCKAGENT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}

	// Defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.AI.BaseURL == "" {
		cfg.AI.BaseURL = "https://api.deepseek.com"
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = "deepseek-chat"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/stockagent.db"
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "data/logs"
	}
	if cfg.Schedule.DirectoryRefreshCron == "" {
		cfg.Schedule.DirectoryRefreshCron = "0 30 8 * * 1-5"
	}
	if cfg.Schedule.ReportPruneCron == "" {
		cfg.Schedule.ReportPruneCron = "0 0 3 * * *"
	}
	if cfg.Schedule.ReportRetentionDays <= 0 {
		cfg.Schedule.ReportRetentionDays = 90
	}

	return cfg, nil
}

// Validate checks field consistency. The AI key is intentionally optional:
// data-only tools work without one.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
