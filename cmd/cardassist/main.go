package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"cardassist/internal/config"
	"cardassist/internal/domain"
	"cardassist/internal/embedding"
	"cardassist/internal/generation"
	"cardassist/internal/guardrail"
	"cardassist/internal/index"
	"cardassist/internal/llm"
	"cardassist/internal/orchestrator"
	"cardassist/internal/retrieval"
	"cardassist/internal/server"
	"cardassist/internal/session"
	"cardassist/internal/tokenizer"
	"cardassist/internal/txlookup"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	var verbose bool
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/cardassist/config.yaml if not provided)")
	flag.BoolVar(&verbose, "v", false, "Enable debug logging")
	flag.Parse()

	cfg := mustLoadConfig(cfgPath)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	codec, err := tokenizer.New(cfg.Ingestion.Tokenizer)
	if err != nil {
		log.Fatalf("tokenizer init failed: %v", err)
	}

	var emb domain.Embedder
	switch cfg.Embedder.Type {
	case "openai", "":
		emb, err = embedding.NewOpenAI(embedding.Config{
			BaseURL:   cfg.Embedder.BaseURL,
			APIKeyEnv: cfg.Embedder.APIKeyEnv,
			Model:     cfg.Embedder.Model,
			Dimension: cfg.Embedder.Dimension,
			Timeout:   time.Duration(cfg.Embedder.TimeoutSecs) * time.Second,
			BatchSize: cfg.Embedder.BatchSize,
		})
		if err != nil {
			log.Fatalf("openai embedder init failed: %v", err)
		}
	case "tfidf":
		emb, err = embedding.LoadTFIDF(cfg.VocabPath())
		if err != nil {
			log.Fatalf("load tfidf vocabulary: %v (run cardassist-ingest first)", err)
		}
	default:
		log.Fatalf("unknown embedder: %s", cfg.Embedder.Type)
	}

	store, err := index.Load(cfg.IndexPath(), cfg.MetadataPath(), emb.Dimension())
	if err != nil {
		log.Fatalf("load index artifacts: %v (run cardassist-ingest first)", err)
	}
	logger.WithField("chunks", store.Len()).Info("index loaded")

	chatModel := llm.NewOpenAIChat(llm.Config{
		BaseURL:   cfg.Chat.BaseURL,
		APIKeyEnv: cfg.Chat.APIKeyEnv,
		Model:     cfg.Chat.Model,
		Timeout:   time.Duration(cfg.Chat.TimeoutSecs) * time.Second,
	})
	retriever := retrieval.New(store, emb, codec, retrieval.Options{
		InitialK:         cfg.Retrieval.InitialK,
		TopK:             cfg.Retrieval.TopK,
		MinScore:         cfg.Retrieval.MinScore,
		VectorWeight:     cfg.Retrieval.VectorWeight,
		KeywordWeight:    cfg.Retrieval.KeywordWeight,
		MaxContextTokens: cfg.Retrieval.MaxContextTokens,
	}, logger)
	generator := generation.New(chatModel, cfg.Generation.Temperature, cfg.Generation.MaxTokens, logger)

	var rules []guardrail.Rule
	var guard domain.Guard
	if cfg.Guardrail.Enabled {
		rules, err = guardrail.LoadRules(cfg.Guardrail.RulesPath)
		if err != nil {
			logger.WithError(err).Warn("guardrail rules unavailable, continuing without safety pre-filter")
		} else {
			guard = guardrail.New(rules, chatModel, logger)
		}
	}

	var finder domain.TransactionFinder
	var dbPing server.Pinger
	if dsn := os.Getenv(cfg.Database.DSNEnv); dsn == "" {
		logger.WithField("env", cfg.Database.DSNEnv).Warn("transactions database not configured, lookups disabled")
	} else {
		db, err := txlookup.Open(dsn)
		if err != nil {
			logger.WithError(err).Warn("transactions database unavailable, lookups disabled")
		} else {
			defer db.Close()
			codes, err := txlookup.LoadReasonCodes(cfg.Database.ReasonCodesPath)
			if err != nil {
				logger.WithError(err).Warn("reason code mapping unavailable, failures will carry generic descriptions")
			}
			lookup := txlookup.New(db, codes, logger)
			finder = lookup
			dbPing = lookup
		}
	}

	hist := session.NewRedisHistory(session.Config{
		Addr:     cfg.Redis.Addr,
		Password: os.Getenv(cfg.Redis.PasswordEnv),
		DB:       cfg.Redis.DB,
		TTLDays:  cfg.Redis.TTLDays,
	}, logger)
	defer hist.Close()

	orch := orchestrator.New(chatModel, guard, finder, retriever, generator, rules, logger)
	srv := server.New(server.Deps{
		Orchestrator: orch,
		History:      hist,
		Finder:       finder,
		Redis:        hist,
		Database:     dbPing,
		NumChunks:    retriever.ChunkCount,
		Log:          logger,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Run(cfg.Server.Addr); err != nil {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		log.Fatalf("server failed: %v", err)
	case <-quit:
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("forced shutdown")
	}
}

func mustLoadConfig(path string) *config.AppConfig {
	var cfg *config.AppConfig
	var err error
	if path == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
