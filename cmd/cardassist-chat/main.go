package main

import (
	"flag"
	"io"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
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
	"cardassist/internal/tokenizer"
	"cardassist/internal/tui"
	"cardassist/internal/txlookup"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/cardassist/config.yaml if not provided)")
	flag.Parse()

	cfg := mustLoadConfig(cfgPath)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	// the terminal belongs to the TUI
	logger := logrus.New()
	logger.SetOutput(io.Discard)

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
		if err == nil {
			guard = guardrail.New(rules, chatModel, logger)
		}
	}

	var finder domain.TransactionFinder
	if dsn := os.Getenv(cfg.Database.DSNEnv); dsn != "" {
		if db, err := txlookup.Open(dsn); err == nil {
			defer db.Close()
			codes, _ := txlookup.LoadReasonCodes(cfg.Database.ReasonCodesPath)
			finder = txlookup.New(db, codes, logger)
		}
	}

	orch := orchestrator.New(chatModel, guard, finder, retriever, generator, rules, logger)

	m := tui.New(orch)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		log.Fatal(err)
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
