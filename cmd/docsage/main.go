package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"docsage/internal/bus"
	"docsage/internal/channel"
	"docsage/internal/config"
	"docsage/internal/dispatch"
	"docsage/internal/docresolve"
	"docsage/internal/intent"
	"docsage/internal/knowledge"
	"docsage/internal/memory"
	"docsage/internal/metrics"
	"docsage/internal/orchestrator"
	"docsage/internal/paginate"
	"docsage/internal/provider"
	"docsage/internal/rag"
	"docsage/internal/ratelimit"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "docsage",
		Short: "DocSage: document question-answering bot",
		Long:  "DocSage answers questions about uploaded documents over Discord, Telegram, and the terminal.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.docsage/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(askCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(docsCmd())
	root.AddCommand(daemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
		cfg.General.Workspace = config.ExpandPath(cfg.General.Workspace)
		cfg.Memory.DBPath = config.ExpandPath(cfg.Memory.DBPath)
	}
	return cfg
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			workspace := config.ExpandPath(cfg.General.Workspace)
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "workspace", workspace)
			return nil
		},
	}
}

// pipeline bundles the wired application core shared by chat and gateway.
type pipeline struct {
	bus        *bus.InMemoryBus
	store      *memory.SQLiteStore
	dispatcher *dispatch.Dispatcher
	sessions   *paginate.Manager
	limiter    *ratelimit.Limiter
}

func (p *pipeline) close() {
	p.bus.Close()
	if err := p.store.Close(); err != nil {
		logger.Warn("store close failed", "err", err)
	}
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// buildPipeline wires the store, provider clients, classifier, resolver,
// orchestrator, and dispatcher from config.
func buildPipeline(cfg *config.Config) (*pipeline, error) {
	messageBus := bus.New(100, logger)

	store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}

	engine := knowledge.NewEngine(knowledge.EngineConfig{
		Store:        store,
		ChunkSize:    cfg.Knowledge.ChunkSize,
		Overlap:      cfg.Knowledge.ChunkOverlap,
		MaxDocuments: cfg.Knowledge.MaxDocuments,
		Logger:       logger,
	})

	prov := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:     cfg.Provider.APIKey,
		APIBase:    cfg.Provider.APIBase,
		Model:      cfg.Provider.Model,
		MaxRetries: cfg.Provider.MaxRetries,
		Logger:     logger,
	})
	classifierProv := prov
	if cfg.Provider.ClassifierModel != "" {
		classifierProv = provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:     cfg.Provider.APIKey,
			APIBase:    cfg.Provider.APIBase,
			Model:      cfg.Provider.ClassifierModel,
			MaxRetries: cfg.Provider.MaxRetries,
			Logger:     logger,
		})
	}

	policy, err := intent.LoadPolicy(cfg.Routing.PolicyPath, logger)
	if err != nil {
		logger.Warn("routing policy load failed, using defaults", "err", err)
	}
	if cfg.Routing.MinQuestionLength > 0 {
		policy.MinQuestionLength = cfg.Routing.MinQuestionLength
	}

	intents := intent.New(intent.Config{
		Agentic: provider.NewChatClassifier(classifierProv, logger),
		Timeout: secs(cfg.Routing.ClassifyTimeoutSeconds),
		Policy:  policy,
		Logger:  logger,
	})

	resolver := docresolve.New(docresolve.Config{
		Semantic:         store,
		SemanticMinScore: cfg.Routing.SemanticMinScore,
		Logger:           logger,
	})

	ragSvc := rag.NewService(rag.ServiceConfig{
		Docs:           store,
		Memory:         store,
		Provider:       prov,
		HTTPClient:     provider.SharedHTTPClient(30 * time.Second),
		SearchTopK:     cfg.Knowledge.SearchTopK,
		RecallTopK:     cfg.Memory.RecallTopK,
		RecallMinScore: cfg.Memory.RecallMinScore,
		Logger:         logger,
	})

	orch := orchestrator.New(orchestrator.Config{
		Docs:           store,
		Query:          ragSvc,
		Comparator:     provider.NewChatComparator(prov, logger),
		Chat:           prov,
		Memory:         store,
		RecallTopK:     cfg.Memory.RecallTopK,
		RecallMinScore: cfg.Memory.RecallMinScore,
		Timeouts: orchestrator.Timeouts{
			Query:           secs(cfg.Routing.QueryTimeoutSeconds),
			QueryTools:      secs(cfg.Routing.QueryToolsTimeoutSeconds),
			Compare:         secs(cfg.Routing.CompareTimeoutSeconds),
			CompareFallback: secs(cfg.Routing.CompareChatFallbackSeconds),
			Chat:            secs(cfg.Routing.ChatTimeoutSeconds),
			MemorySynthesis: secs(cfg.Routing.MemorySynthesisTimeoutSeconds),
		},
		Logger: logger,
	})

	sessions := paginate.NewManager(secs(cfg.Pagination.SessionTTLSeconds), logger)
	limiter := ratelimit.New(cfg.Limits, logger)

	dispatcher := dispatch.New(dispatch.Config{
		Bus:          messageBus,
		Limiter:      limiter,
		Intents:      intents,
		Resolver:     resolver,
		Orch:         orch,
		Sessions:     sessions,
		Ingest:       engine,
		Docs:         store,
		Memory:       store,
		PageSize:     cfg.Pagination.PageSize,
		HistoryLimit: cfg.Memory.MaxHistoryPerConversation,
		Concurrency:  cfg.General.MaxConcurrentMessages,
		Logger:       logger,
	})

	return &pipeline{
		bus:        messageBus,
		store:      store,
		dispatcher: dispatcher,
		sessions:   sessions,
		limiter:    limiter,
	}, nil
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat (CLI)",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	go p.dispatcher.Run(ctx)
	go p.limiter.RunJanitor(ctx, time.Minute)
	go p.sessions.RunJanitor(ctx, 30*time.Second)

	cliCh := channel.NewCLI(channel.CLIConfig{Logger: logger})
	return cliCh.Start(ctx, p.bus)
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a one-shot question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			p, err := buildPipeline(cfg)
			if err != nil {
				return err
			}
			defer p.close()

			answer, err := p.dispatcher.ProcessDirect(cmd.Context(), strings.Join(args, " "), "cli", "direct")
			if err != nil {
				return err
			}
			if answer == "" {
				fmt.Println("Nothing to say about that.")
				return nil
			}
			fmt.Println(answer)
			return nil
		},
	}
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start gateway (Discord + Telegram + dispatcher)",
		Long:  "Starts all enabled channels and the message dispatcher. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	go p.dispatcher.Run(ctx)
	go p.limiter.RunJanitor(ctx, time.Minute)
	go p.sessions.RunJanitor(ctx, 30*time.Second)

	var channels []interface{ Stop() error }

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		discordCh := channel.NewDiscord(channel.DiscordConfig{
			Token:   cfg.Channels.Discord.Token,
			GuildID: cfg.Channels.Discord.GuildID,
			Logger:  logger,
		})
		channels = append(channels, discordCh)
		go func() {
			if err := discordCh.Start(ctx, p.bus); err != nil {
				logger.Error("discord channel error", "err", err)
			}
		}()
		logger.Info("discord channel enabled")
	} else {
		logger.Info("discord channel disabled")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		telegramCh := channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			Logger:    logger,
		})
		channels = append(channels, telegramCh)
		go func() {
			if err := telegramCh.Start(ctx, p.bus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/metrics", metrics.Collector.Handler())
			logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Endpoint)
			if err := http.ListenAndServe(cfg.Metrics.Endpoint, mux); err != nil {
				logger.Error("metrics endpoint error", "err", err)
			}
		}()
	}

	logger.Info("gateway started. Press Ctrl+C to stop.", "version", version)

	<-ctx.Done()
	logger.Info("shutting down gateway...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			if err := ch.Stop(); err != nil {
				logger.Warn("channel stop failed", "err", err)
			}
		}
		p.close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			prov := provider.NewOpenAI(provider.OpenAIConfig{
				APIKey:     cfg.Provider.APIKey,
				APIBase:    cfg.Provider.APIBase,
				Model:      cfg.Provider.Model,
				MaxRetries: cfg.Provider.MaxRetries,
				Logger:     logger,
			})
			if err := prov.Healthy(ctx); err != nil {
				logger.Info("provider", "name", prov.Name(), "healthy", false, "err", err)
			} else {
				logger.Info("provider", "name", prov.Name(), "healthy", true)
			}

			store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
			if err != nil {
				logger.Info("store", "healthy", false, "err", err)
				return nil
			}
			defer store.Close()
			docs, err := store.ListDocuments(ctx)
			if err != nil {
				logger.Info("store", "healthy", false, "err", err)
				return nil
			}
			logger.Info("store", "healthy", true, "documents", len(docs))
			return nil
		},
	}
}

func docsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Manage the document catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			docs, err := store.ListDocuments(cmd.Context())
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				fmt.Println("No documents stored.")
				return nil
			}
			for _, d := range docs {
				fmt.Printf("%s  %s  (%d chunks, uploaded by %s on %s)\n",
					d.ID, d.Filename, d.ChunkCount, d.UploadedBy, d.UploadedAt.Format("2006-01-02"))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add [file]",
		Short: "Add a local file to the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			engine := knowledge.NewEngine(knowledge.EngineConfig{
				Store:        store,
				ChunkSize:    cfg.Knowledge.ChunkSize,
				Overlap:      cfg.Knowledge.ChunkOverlap,
				MaxDocuments: cfg.Knowledge.MaxDocuments,
				Logger:       logger,
			})

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := engine.Ingest(cmd.Context(), filepath.Base(args[0]), "", "cli", string(data))
			if err != nil {
				return err
			}
			fmt.Printf("Stored %s (%d chunks, id %s)\n", doc.Filename, doc.ChunkCount, doc.ID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [id-or-filename]",
		Short: "Delete a document from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			docs, err := store.ListDocuments(ctx)
			if err != nil {
				return err
			}
			for _, d := range docs {
				if d.ID == args[0] || strings.EqualFold(d.Filename, args[0]) {
					if err := store.DeleteDocument(ctx, d.ID); err != nil {
						return err
					}
					fmt.Printf("Deleted %s (%s)\n", d.Filename, d.ID)
					return nil
				}
			}
			return fmt.Errorf("no document matching %q", args[0])
		},
	})

	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. provider.defaultModel)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. channels.discord.enabled true)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
