package config

import "strings"

// normalize expands path fields and applies floors to interval settings so a
// partially filled config file still produces a runnable daemon.
func (c *Config) normalize() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}

	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Vendor.BaseURL = strings.TrimRight(strings.TrimSpace(c.Vendor.BaseURL), "/")
	c.Vendor.APIKey = strings.TrimSpace(c.Vendor.APIKey)
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)

	if c.Vendor.RequestTimeout <= 0 {
		c.Vendor.RequestTimeout = defaultVendorRequestTimeout
	}
	if c.Vendor.MaxEnrichmentFetches <= 0 {
		c.Vendor.MaxEnrichmentFetches = defaultMaxEnrichmentFetches
	}
	if c.Tracker.PollInterval <= 0 {
		c.Tracker.PollInterval = defaultPollInterval
	}
	if c.Tracker.StatusRetryBudget <= 0 {
		c.Tracker.StatusRetryBudget = defaultStatusRetryBudget
	}
	if c.Tracker.RateLimitBackoff <= 0 {
		c.Tracker.RateLimitBackoff = defaultRateLimitBackoff
	}
	if c.Tracker.SubscriberBuffer <= 0 {
		c.Tracker.SubscriberBuffer = defaultSubscriberBuffer
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
	return nil
}
