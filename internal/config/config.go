// Package config holds server-level settings loaded from flags and an
// optional YAML file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration.
type Config struct {
	Addr          string `yaml:"addr" json:"addr"`
	ScreenshotDir string `yaml:"screenshot_dir" json:"screenshotDir"`
	CacheDB       string `yaml:"cache_db" json:"cacheDb"`

	LogLevel  string `yaml:"log_level" json:"logLevel"`
	LogPretty bool   `yaml:"log_pretty" json:"logPretty"`

	Browser BrowserConfig `yaml:"browser" json:"browser"`

	// FetchDelay spaces page fetches against the target server.
	FetchDelay time.Duration `yaml:"fetch_delay" json:"fetchDelay"`
}

// BrowserConfig tunes the shared headless browser.
type BrowserConfig struct {
	Headless       bool          `yaml:"headless" json:"headless"`
	NavTimeout     time.Duration `yaml:"nav_timeout" json:"navTimeout"`
	SettleDelay    time.Duration `yaml:"settle_delay" json:"settleDelay"`
	ViewportWidth  int           `yaml:"viewport_width" json:"viewportWidth"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewportHeight"`
	UserAgent      string        `yaml:"user_agent" json:"userAgent"`

	// SoftErrorMinLen is the rendered-text length below which an error-status
	// page is treated as a dead end instead of a client-routed page.
	SoftErrorMinLen int `yaml:"soft_error_min_len" json:"softErrorMinLen"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Addr:          ":8080",
		ScreenshotDir: "screenshots",
		CacheDB:       "data/sitecache.db",
		LogLevel:      "info",
		FetchDelay:    300 * time.Millisecond,
		Browser: BrowserConfig{
			Headless:        true,
			NavTimeout:      15 * time.Second,
			SettleDelay:     500 * time.Millisecond,
			ViewportWidth:   1280,
			ViewportHeight:  800,
			SoftErrorMinLen: 100,
		},
	}
}

// LoadFile overlays settings from path onto c. YAML is tried first, then
// JSON, so either format works.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if yamlErr := yaml.Unmarshal(data, c); yamlErr != nil {
		if jsonErr := json.Unmarshal(data, c); jsonErr != nil {
			return fmt.Errorf("failed to parse config file: %w", yamlErr)
		}
	}
	return nil
}

// Validate checks settings that would only fail at runtime otherwise.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.ScreenshotDir == "" {
		return fmt.Errorf("screenshot directory is required")
	}
	if c.CacheDB == "" {
		return fmt.Errorf("cache database path is required")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("viewport dimensions must be positive")
	}
	if c.Browser.NavTimeout <= 0 {
		return fmt.Errorf("navigation timeout must be positive")
	}
	return nil
}
