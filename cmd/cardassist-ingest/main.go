package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"cardassist/internal/chunker"
	"cardassist/internal/config"
	"cardassist/internal/docload"
	"cardassist/internal/domain"
	"cardassist/internal/embedding"
	"cardassist/internal/index"
	"cardassist/internal/ingest"
	"cardassist/internal/summarizer"
	"cardassist/internal/tokenizer"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	var summaries, verbose bool
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/cardassist/config.yaml if not provided)")
	flag.BoolVar(&summaries, "summaries", false, "Print a short extractive summary of each document after ingesting")
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

	var ch domain.Chunker
	switch cfg.Ingestion.Chunker {
	case "token", "":
		ch, err = chunker.NewTokenChunker(codec, cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap, cfg.Ingestion.MinChunkChars)
	case "sentence":
		ch, err = chunker.NewSentenceChunker(codec, cfg.Ingestion.SentencesPerChunk, cfg.Ingestion.OverlapSentences)
	default:
		log.Fatalf("unknown chunker: %s", cfg.Ingestion.Chunker)
	}
	if err != nil {
		log.Fatalf("chunker init failed: %v", err)
	}

	paths, err := documentPaths(cfg.Ingestion.DocsDir, flag.Args())
	if err != nil {
		log.Fatalf("resolve documents: %v", err)
	}
	if len(paths) == 0 {
		fmt.Printf("No ingestible documents in %s. Drop .txt or .pdf files there, or pass paths as arguments.\n", cfg.Ingestion.DocsDir)
		os.Exit(1)
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
		// the vocabulary must be fitted over the full corpus before any
		// document is embedded
		tf := embedding.NewTFIDF()
		if err := fitTFIDF(tf, ch, paths); err != nil {
			log.Fatalf("fit tfidf vocabulary: %v", err)
		}
		emb = tf
	default:
		log.Fatalf("unknown embedder: %s", cfg.Embedder.Type)
	}

	store, err := index.NewStore(emb.Dimension())
	if err != nil {
		log.Fatalf("create store: %v", err)
	}
	pipe := ingest.New(ch, emb, store, logger)

	ctx := context.Background()
	ingested := 0
	if len(flag.Args()) == 0 {
		stats, err := pipe.IngestDirectory(ctx, cfg.Ingestion.DocsDir)
		if err != nil {
			log.Fatalf("ingest %s: %v", cfg.Ingestion.DocsDir, err)
		}
		ingested = len(stats)
	} else {
		for _, path := range paths {
			if _, err := pipe.IngestFile(ctx, path); err != nil {
				log.Fatalf("ingest %s: %v", path, err)
			}
			ingested++
		}
	}
	if store.Len() == 0 {
		log.Fatalf("no chunks produced, nothing to save")
	}

	if err := pipe.Save(cfg.IndexPath(), cfg.MetadataPath()); err != nil {
		log.Fatalf("save artifacts: %v", err)
	}
	if tf, ok := emb.(*embedding.TFIDF); ok {
		if err := tf.SaveVocabulary(cfg.VocabPath()); err != nil {
			log.Fatalf("save tfidf vocabulary: %v", err)
		}
	}
	fmt.Printf("Indexed %d chunks from %d documents into %s\n", store.Len(), ingested, cfg.Index.Dir)

	if summaries {
		printSummaries(paths)
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

// documentPaths resolves what to ingest: explicit arguments win, otherwise
// every supported file in the documents directory.
func documentPaths(dir string, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read documents dir: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if docload.Supported(path) {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

func fitTFIDF(tf *embedding.TFIDF, ch domain.Chunker, paths []string) error {
	var corpus []string
	for _, path := range paths {
		text, err := docload.Load(path)
		if err != nil {
			continue
		}
		chunks, err := ch.Chunk(filepath.Base(path), docload.Clean(text))
		if err != nil {
			return err
		}
		for _, c := range chunks {
			corpus = append(corpus, c.Text)
		}
	}
	return tf.Fit(corpus)
}

func printSummaries(paths []string) {
	for _, path := range paths {
		text, err := docload.Load(path)
		if err != nil {
			continue
		}
		fmt.Printf("\n== %s ==\n%s\n", filepath.Base(path), summarizer.Summarize(docload.Clean(text), 3))
	}
}
