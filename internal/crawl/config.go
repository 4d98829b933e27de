// Package crawl defines the run configuration and page types shared by the
// frontier, orchestrator and front door.
package crawl

import (
	"fmt"
	"net/url"
	"regexp"
)

// Mode controls screenshot reuse against a previous run's cache.
type Mode string

// Crawl modes.
const (
	ModeFull  Mode = "full"  // always re-capture
	ModeSmart Mode = "smart" // reuse screenshots of unchanged pages
)

// RunMode selects the crawl strategy.
type RunMode string

// Run modes.
const (
	RunStandard       RunMode = "standard"
	RunFeedbackOnly   RunMode = "feedback-only"
	RunScreenshotOnly RunMode = "screenshot-only"
)

// Bounds applied to submitted configs.
const (
	MinDepth = 1
	MaxDepth = 5
	MinPages = 10
	MaxPages = 500
)

// BasicAuth holds HTTP basic-auth credentials for the target site.
type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Config is the immutable input to one crawl run.
type Config struct {
	URL             string     `json:"url"`
	MaxDepth        int        `json:"maxDepth"`
	MaxPages        int        `json:"maxPages"`
	Auth            *BasicAuth `json:"auth,omitempty"`
	ExcludePatterns []string   `json:"excludePatterns,omitempty"`
	IncludeURLs     []string   `json:"includeUrls,omitempty"`
	SiteID          string     `json:"siteId,omitempty"`
	Mode            Mode       `json:"mode,omitempty"`
	RunMode         RunMode    `json:"crawlMode,omitempty"`

	exclude []*regexp.Regexp
}

// Clamp forces depth and page bounds into their allowed ranges.
func (c *Config) Clamp() {
	if c.MaxDepth < MinDepth {
		c.MaxDepth = MinDepth
	}
	if c.MaxDepth > MaxDepth {
		c.MaxDepth = MaxDepth
	}
	if c.MaxPages < MinPages {
		c.MaxPages = MinPages
	}
	if c.MaxPages > MaxPages {
		c.MaxPages = MaxPages
	}
}

// Validate checks the target URL and compiles exclude patterns. It must be
// called before a session is created; an invalid config never enters the
// async pipeline.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("target URL is required")
	}

	parsed, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid target URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("target URL must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("target URL has no host")
	}

	c.exclude = c.exclude[:0]
	for _, pattern := range c.ExcludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		c.exclude = append(c.exclude, re)
	}

	switch c.RunMode {
	case "", RunStandard:
	case RunFeedbackOnly, RunScreenshotOnly:
		if c.SiteID == "" {
			return fmt.Errorf("crawl mode %q requires a site id", c.RunMode)
		}
	default:
		return fmt.Errorf("unknown crawl mode %q", c.RunMode)
	}

	return nil
}

// Excluded reports whether a URL matches any exclude pattern.
func (c *Config) Excluded(rawURL string) bool {
	for _, re := range c.exclude {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// OutOfScope reports whether the frontier must not enqueue a URL: it matches
// an exclude pattern, or an include allowlist is set and the URL is not on
// it. The root is seeded directly and never passes through this check.
func (c *Config) OutOfScope(rawURL string) bool {
	if c.Excluded(rawURL) {
		return true
	}
	if len(c.IncludeURLs) == 0 {
		return false
	}
	key := Canonical(rawURL)
	for _, allowed := range c.IncludeURLs {
		if Canonical(allowed) == key {
			return false
		}
	}
	return true
}

// SmartReuse reports whether the smart-reuse overlay applies to this run.
func (c *Config) SmartReuse() bool {
	return c.SiteID != "" && c.Mode != ModeFull
}
