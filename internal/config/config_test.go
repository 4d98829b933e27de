package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
addr: ":9090"
log_level: debug
fetch_delay: 1s
browser:
  headless: false
  viewport_width: 1920
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	c := Default()
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if c.Addr != ":9090" {
		t.Errorf("Addr = %q", c.Addr)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", c.LogLevel)
	}
	if c.FetchDelay != time.Second {
		t.Errorf("FetchDelay = %v", c.FetchDelay)
	}
	if c.Browser.ViewportWidth != 1920 {
		t.Errorf("ViewportWidth = %d", c.Browser.ViewportWidth)
	}
	// Fields absent from the file keep their defaults.
	if c.Browser.ViewportHeight != 800 {
		t.Errorf("ViewportHeight = %d, want default 800", c.Browser.ViewportHeight)
	}
	if c.ScreenshotDir != "screenshots" {
		t.Errorf("ScreenshotDir = %q, want default", c.ScreenshotDir)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	c := Default()
	if err := c.LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadFile() on a missing file should error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Addr = "" }},
		{"empty screenshot dir", func(c *Config) { c.ScreenshotDir = "" }},
		{"empty cache db", func(c *Config) { c.CacheDB = "" }},
		{"zero viewport", func(c *Config) { c.Browser.ViewportWidth = 0 }},
		{"zero nav timeout", func(c *Config) { c.Browser.NavTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
