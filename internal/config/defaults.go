package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace:             "~/.docsage/workspace",
			LogLevel:              "info",
			MaxConcurrentMessages: 5,
		},
		Provider: ProviderConfig{
			APIBase:    "http://localhost:11434/v1",
			Model:      "llama3.1:8b",
			MaxRetries: 2,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Enabled: false,
			},
			Telegram: TelegramConfig{
				Enabled: false,
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
		Memory: MemoryConfig{
			DBPath:                    "~/.docsage/docsage.db",
			MaxHistoryPerConversation: 100,
			RetentionDays:             365,
			RecallTopK:                5,
			RecallMinScore:            0.35,
		},
		Knowledge: KnowledgeConfig{
			MaxDocuments: 200,
			ChunkSize:    512,
			ChunkOverlap: 50,
			SearchTopK:   5,
		},
		Limits: LimitsConfig{
			Commands:          LimitCategory{MaxCount: 10, WindowSeconds: 60},
			Messages:          LimitCategory{MaxCount: 20, WindowSeconds: 60},
			Uploads:           LimitCategory{MaxCount: 3, WindowSeconds: 300},
			ChannelResponses:  LimitCategory{MaxCount: 30, WindowSeconds: 60},
			EvictAfterSeconds: 1800,
		},
		Routing: RoutingConfig{
			ClassifyTimeoutSeconds:        8,
			QueryTimeoutSeconds:           30,
			QueryToolsTimeoutSeconds:      90,
			CompareTimeoutSeconds:         60,
			CompareChatFallbackSeconds:    20,
			ChatTimeoutSeconds:            30,
			MemorySynthesisTimeoutSeconds: 20,
			MinQuestionLength:             8,
			SemanticMinScore:              0.3,
		},
		Pagination: PaginationConfig{
			PageSize:          4096,
			SessionTTLSeconds: 300,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "127.0.0.1:9095",
		},
	}
}
