package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for DocSage.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Provider   ProviderConfig   `json:"provider"`
	Channels   ChannelsConfig   `json:"channels"`
	Memory     MemoryConfig     `json:"memory"`
	Knowledge  KnowledgeConfig  `json:"knowledge"`
	Limits     LimitsConfig     `json:"limits"`
	Routing    RoutingConfig    `json:"routing"`
	Pagination PaginationConfig `json:"pagination"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type GeneralConfig struct {
	Workspace             string `json:"workspace"`
	LogLevel              string `json:"logLevel"`
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
}

type ProviderConfig struct {
	APIBase         string `json:"apiBase,omitempty"`
	APIKey          string `json:"apiKey,omitempty"`
	Model           string `json:"defaultModel,omitempty"`
	ClassifierModel string `json:"classifierModel,omitempty"` // cheaper model for intent classification
	MaxRetries      int    `json:"maxRetries,omitempty"`
}

type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
	CLI      CLIConfig      `json:"cli"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"` // optional: restrict to specific guild
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom,omitempty"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type MemoryConfig struct {
	DBPath                    string `json:"dbPath"`
	MaxHistoryPerConversation int    `json:"maxHistoryPerConversation"`
	RetentionDays             int    `json:"retentionDays"`
	RecallTopK                int    `json:"recallTopK"`
	// RecallMinScore is the minimum relevance score a memory needs to be
	// used by the memory-recall strategy.
	RecallMinScore float64 `json:"recallMinScore"`
}

// KnowledgeConfig configures the document catalog and chunk index.
type KnowledgeConfig struct {
	MaxDocuments int `json:"maxDocuments"`
	ChunkSize    int `json:"chunkSize"`    // words per chunk
	ChunkOverlap int `json:"chunkOverlap"` // overlapping words
	SearchTopK   int `json:"searchTopK"`
}

// LimitCategory is one (maxCount, window) rate-limit pair.
type LimitCategory struct {
	MaxCount      int `json:"maxCount"`
	WindowSeconds int `json:"windowSeconds"`
}

// LimitsConfig holds the per-category rate-limit pairs.
type LimitsConfig struct {
	Commands         LimitCategory `json:"commands"`
	Messages         LimitCategory `json:"messages"`
	Uploads          LimitCategory `json:"uploads"`
	ChannelResponses LimitCategory `json:"channelResponses"`
	// EvictAfterSeconds controls when idle actor buckets are evicted.
	EvictAfterSeconds int `json:"evictAfterSeconds"`
}

// RoutingConfig is the intent-routing policy: fallback predicates and the
// per-strategy timeouts. The wording of the fallback heuristics is policy,
// not law, so it lives here instead of in code.
type RoutingConfig struct {
	PolicyPath string `json:"policyPath,omitempty"` // optional YAML policy file

	ClassifyTimeoutSeconds        int `json:"classifyTimeoutSeconds"`
	QueryTimeoutSeconds           int `json:"queryTimeoutSeconds"`
	QueryToolsTimeoutSeconds      int `json:"queryToolsTimeoutSeconds"` // extended for URL-bearing messages
	CompareTimeoutSeconds         int `json:"compareTimeoutSeconds"`
	CompareChatFallbackSeconds    int `json:"compareChatFallbackSeconds"`
	ChatTimeoutSeconds            int `json:"chatTimeoutSeconds"`
	MemorySynthesisTimeoutSeconds int `json:"memorySynthesisTimeoutSeconds"`

	// MinQuestionLength is the minimum text length for the fallback
	// classifier to treat a '?' message as a question.
	MinQuestionLength int `json:"minQuestionLength"`

	// SemanticMinScore is the acceptance threshold for the resolver's
	// semantic fallback.
	SemanticMinScore float64 `json:"semanticMinScore"`
}

// PaginationConfig bounds answer pages and session lifetime.
type PaginationConfig struct {
	PageSize          int `json:"pageSize"`          // hard maximum page length in characters
	SessionTTLSeconds int `json:"sessionTTLSeconds"` // navigation window after delivery
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.docsage).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docsage"
	}
	return filepath.Join(home, ".docsage")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)
	cfg.Routing.PolicyPath = ExpandPath(cfg.Routing.PolicyPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}

	if cfg.Memory.MaxHistoryPerConversation < 1 {
		errs = append(errs, "memory.maxHistoryPerConversation must be >= 1")
	}
	if cfg.Memory.RecallMinScore < 0 || cfg.Memory.RecallMinScore > 1 {
		errs = append(errs, "memory.recallMinScore must be in [0,1]")
	}

	if cfg.Knowledge.ChunkSize < 1 {
		errs = append(errs, "knowledge.chunkSize must be >= 1")
	}
	if cfg.Knowledge.ChunkOverlap < 0 || cfg.Knowledge.ChunkOverlap >= cfg.Knowledge.ChunkSize {
		errs = append(errs, "knowledge.chunkOverlap must be >= 0 and smaller than chunkSize")
	}

	for name, lc := range map[string]LimitCategory{
		"commands":         cfg.Limits.Commands,
		"messages":         cfg.Limits.Messages,
		"uploads":          cfg.Limits.Uploads,
		"channelResponses": cfg.Limits.ChannelResponses,
	} {
		if lc.MaxCount < 1 {
			errs = append(errs, fmt.Sprintf("limits.%s.maxCount must be >= 1", name))
		}
		if lc.WindowSeconds < 1 {
			errs = append(errs, fmt.Sprintf("limits.%s.windowSeconds must be >= 1", name))
		}
	}

	if cfg.Pagination.PageSize < 200 {
		errs = append(errs, "pagination.pageSize must be >= 200")
	}
	if cfg.Pagination.SessionTTLSeconds < 1 {
		errs = append(errs, "pagination.sessionTTLSeconds must be >= 1")
	}

	if cfg.Routing.SemanticMinScore < 0 || cfg.Routing.SemanticMinScore > 1 {
		errs = append(errs, "routing.semanticMinScore must be in [0,1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
