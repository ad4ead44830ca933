package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateVendor(); err != nil {
		return err
	}
	if err := c.validateTracker(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateVendor() error {
	if c.Vendor.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/dialwatch/config.toml"
		}
		return fmt.Errorf("vendor.api_key is required. Edit %s (create with 'dialwatch config init')", defaultPath)
	}
	if c.Vendor.BaseURL == "" {
		return errors.New("vendor.base_url must be set")
	}
	parsed, err := url.Parse(c.Vendor.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("vendor.base_url %q is not a valid URL", c.Vendor.BaseURL)
	}
	return nil
}

func (c *Config) validateTracker() error {
	if c.Tracker.PollInterval < 1 {
		return errors.New("tracker.poll_interval must be at least 1 second")
	}
	if c.Tracker.StatusRetryBudget < 1 {
		return errors.New("tracker.status_retry_budget must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
