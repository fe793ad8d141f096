package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:               "info",
			LogFormat:              "text",
			ShutdownTimeoutSeconds: 10,
		},
		Discord: DiscordConfig{
			Prefix: "s!",
			Triggers: TriggersConfig{
				DirectMessage: true,
				Mention:       true,
				Reply:         true,
			},
			Reactions: ReactionsConfig{
				Success: "👀",
				Failure: "❌",
			},
			LookupTimeoutSeconds: 5,
		},
		Webhook: WebhookConfig{
			TimeoutSeconds: 10,
		},
		Journal: JournalConfig{
			Enabled:       false,
			DBPath:        "~/.stonksrelay/journal.db",
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    9464,
			Path:    "/metrics",
		},
		Audit: AuditConfig{
			Enabled:  false,
			Exchange: "stonksrelay.events",
		},
	}
}
