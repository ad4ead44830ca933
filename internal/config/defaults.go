package config

const (
	defaultStateDir             = "~/.local/share/dialwatch/state"
	defaultLogDir               = "~/.local/share/dialwatch/logs"
	defaultAPIBind              = "127.0.0.1:7512"
	defaultVendorBaseURL        = "https://api.convoicebatch.example.com"
	defaultVendorRequestTimeout = 15
	defaultMaxEnrichmentFetches = 4
	defaultPollInterval         = 10
	defaultStatusRetryBudget    = 5
	defaultRateLimitBackoff     = 30
	defaultSubscriberBuffer     = 32
	defaultNotifyRequestTimeout = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Vendor: Vendor{
			BaseURL:              defaultVendorBaseURL,
			RequestTimeout:       defaultVendorRequestTimeout,
			MaxEnrichmentFetches: defaultMaxEnrichmentFetches,
		},
		Tracker: Tracker{
			PollInterval:      defaultPollInterval,
			StatusRetryBudget: defaultStatusRetryBudget,
			RateLimitBackoff:  defaultRateLimitBackoff,
			SubscriberBuffer:  defaultSubscriberBuffer,
		},
		Notifications: Notifications{
			RequestTimeout:    defaultNotifyRequestTimeout,
			CampaignCompleted: true,
			CampaignDegraded:  true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
