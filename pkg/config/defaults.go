// PicoClaw - Ultra-lightweight personal AI agent
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package config

// DefaultConfig returns the default configuration for Lattice.
func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:           "~/.lattice/workspace",
				RestrictToWorkspace: true,
				Provider:            "anthropic",
				Model:               "",
				MaxTokens:           32768,
			},
		},
		Session: SessionConfig{
			DMScope: "per-channel-peer",
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				Enabled:          false,
				BridgeURL:        "ws://localhost:3001",
				UseNative:        false,
				SessionStorePath: "",
			},
			Telegram: TelegramConfig{
				Enabled: false,
				Token:   "",
				Typing:  TypingConfig{Enabled: true},
				Placeholder: PlaceholderConfig{
					Enabled: true,
					Text:    "Thinking... 💭",
				},
			},
			Feishu: FeishuConfig{
				Enabled:           false,
				AppID:             "",
				AppSecret:         "",
				EncryptKey:        "",
				VerificationToken: "",
			},
			Discord: DiscordConfig{
				Enabled:     false,
				Token:       "",
				MentionOnly: false,
			},
		},
		Providers: ProvidersConfig{},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18790,
		},
		Bridge: BridgeConfig{
			Host:      "127.0.0.1",
			Port:      18791,
			StorePath: "bridge",
		},
		Policy: PolicyConfig{
			SpecPath: "policy.json",
			StateDir: "policy",
		},
		Archive: ArchiveConfig{
			DBPath:        "archive.db",
			RetentionDays: 90,
			SweepHour:     4,
			DedupTTLSecs:  300,
			DedupMaxSize:  10000,
		},
		Memory: MemoryConfig{
			DBPath:           "memory.db",
			CaptureAssistant: false,
			MinConfidence:    0.6,
			MinSalience:      0.4,
			QueueSize:        256,
		},
		Tools: ToolsConfig{
			MediaCleanup: MediaCleanupConfig{
				Enabled:  true,
				MaxAge:   30,
				Interval: 5,
			},
		},
		Heartbeat: HeartbeatConfig{
			Enabled:  true,
			Interval: 30,
		},
	}
}
