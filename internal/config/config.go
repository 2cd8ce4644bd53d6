package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"cardassist/internal/domain"
)

// IngestionConfig controls document chunking for the offline pipeline. The
// chunker type selects between token windows (default) and sentence windows;
// the sentence_* knobs only apply to the latter.
type IngestionConfig struct {
	Chunker           string `yaml:"chunker"`
	ChunkSize         int    `yaml:"chunk_size"`
	ChunkOverlap      int    `yaml:"chunk_overlap"`
	MinChunkChars     int    `yaml:"min_chunk_chars"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences"`
	Tokenizer         string `yaml:"tokenizer"`
	DocsDir           string `yaml:"docs_dir"`
}

// RetrievalConfig controls candidate search, re-ranking and context packing.
type RetrievalConfig struct {
	InitialK         int     `yaml:"initial_k"`
	TopK             int     `yaml:"top_k"`
	MinScore         float64 `yaml:"min_score"`
	VectorWeight     float64 `yaml:"vector_weight"`
	KeywordWeight    float64 `yaml:"keyword_weight"`
	MaxContextTokens int     `yaml:"max_context_tokens"`
}

// GenerationConfig controls the answer-generation chat call.
type GenerationConfig struct {
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// EmbedderConfig selects and configures the text embedder. Type "openai"
// (default) uses the API fields below; type "tfidf" fits a vocabulary during
// ingestion and persists it next to the index.
type EmbedderConfig struct {
	Type        string `yaml:"type"`
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	Dimension   int    `yaml:"dimension"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
}

// ChatConfig holds configuration for the chat-completion client shared by
// generation, routing, guardrail and synthesis.
type ChatConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// IndexConfig locates the persisted artifacts. The vocabulary file only
// exists when the tfidf embedder is in use.
type IndexConfig struct {
	Dir          string `yaml:"dir"`
	IndexFile    string `yaml:"index_file"`
	MetadataFile string `yaml:"metadata_file"`
	VocabFile    string `yaml:"vocab_file"`
}

// GuardrailConfig configures the content-safety filter.
type GuardrailConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RulesPath string `yaml:"rules_path"`
}

// DatabaseConfig configures read-only access to the transactions store.
type DatabaseConfig struct {
	DSNEnv          string `yaml:"dsn_env"`
	ReasonCodesPath string `yaml:"reason_codes_path"`
}

// RedisConfig configures session-history storage.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	TTLDays     int    `yaml:"ttl_days"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr               string `yaml:"addr"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Generation GenerationConfig `yaml:"generation"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Chat       ChatConfig       `yaml:"chat"`
	Index      IndexConfig      `yaml:"index"`
	Guardrail  GuardrailConfig  `yaml:"guardrail"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Server     ServerConfig     `yaml:"server"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/cardassist/config.yaml.
// If neither exists, it writes defaults to ~/.config/cardassist/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects settings that would corrupt the pipelines. A non-positive
// chunking stride guarantees non-progress and must never reach the chunker.
func (cfg *AppConfig) Validate() error {
	if cfg.Ingestion.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", domain.ErrConfiguration, cfg.Ingestion.ChunkSize)
	}
	if cfg.Ingestion.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk_overlap must not be negative, got %d", domain.ErrConfiguration, cfg.Ingestion.ChunkOverlap)
	}
	if stride := cfg.Ingestion.ChunkSize - cfg.Ingestion.ChunkOverlap; stride <= 0 {
		return fmt.Errorf("%w: chunk_overlap (%d) must be smaller than chunk_size (%d)", domain.ErrConfiguration, cfg.Ingestion.ChunkOverlap, cfg.Ingestion.ChunkSize)
	}
	if cfg.Ingestion.MinChunkChars < 0 {
		return fmt.Errorf("%w: min_chunk_chars must not be negative, got %d", domain.ErrConfiguration, cfg.Ingestion.MinChunkChars)
	}
	if cfg.Retrieval.VectorWeight < 0 || cfg.Retrieval.KeywordWeight < 0 {
		return fmt.Errorf("%w: rerank weights must not be negative", domain.ErrConfiguration)
	}
	if cfg.Retrieval.InitialK <= 0 || cfg.Retrieval.TopK <= 0 {
		return fmt.Errorf("%w: initial_k and top_k must be positive", domain.ErrConfiguration)
	}
	if cfg.Retrieval.MaxContextTokens <= 0 {
		return fmt.Errorf("%w: max_context_tokens must be positive, got %d", domain.ErrConfiguration, cfg.Retrieval.MaxContextTokens)
	}
	if cfg.Embedder.Dimension <= 0 {
		return fmt.Errorf("%w: embedder dimension must be positive, got %d", domain.ErrConfiguration, cfg.Embedder.Dimension)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "cardassist", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Ingestion.Chunker == "" {
		cfg.Ingestion.Chunker = "token"
	}
	if cfg.Ingestion.ChunkSize == 0 {
		cfg.Ingestion.ChunkSize = 600
	}
	if cfg.Ingestion.SentencesPerChunk == 0 {
		cfg.Ingestion.SentencesPerChunk = 5
	}
	if cfg.Ingestion.ChunkOverlap == 0 {
		cfg.Ingestion.ChunkOverlap = 90
	}
	if cfg.Ingestion.MinChunkChars == 0 {
		cfg.Ingestion.MinChunkChars = 50
	}
	if cfg.Ingestion.Tokenizer == "" {
		cfg.Ingestion.Tokenizer = "cl100k_base"
	}
	if cfg.Ingestion.DocsDir == "" {
		cfg.Ingestion.DocsDir = "docs"
	}
	if cfg.Retrieval.InitialK == 0 {
		cfg.Retrieval.InitialK = 20
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.MinScore == 0 {
		cfg.Retrieval.MinScore = 0.3
	}
	if cfg.Retrieval.VectorWeight == 0 && cfg.Retrieval.KeywordWeight == 0 {
		cfg.Retrieval.VectorWeight = 0.7
		cfg.Retrieval.KeywordWeight = 0.3
	}
	if cfg.Retrieval.MaxContextTokens == 0 {
		cfg.Retrieval.MaxContextTokens = 3000
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.2
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 1000
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "openai"
	}
	if cfg.Embedder.BaseURL == "" {
		cfg.Embedder.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedder.APIKeyEnv == "" {
		cfg.Embedder.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedder.Model == "" {
		cfg.Embedder.Model = "text-embedding-3-small"
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 384
	}
	if cfg.Embedder.TimeoutSecs == 0 {
		cfg.Embedder.TimeoutSecs = 30
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = 32
	}
	if cfg.Chat.BaseURL == "" {
		cfg.Chat.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Chat.APIKeyEnv == "" {
		cfg.Chat.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Chat.Model == "" {
		cfg.Chat.Model = "gpt-4o-mini"
	}
	if cfg.Chat.TimeoutSecs == 0 {
		cfg.Chat.TimeoutSecs = 60
	}
	if cfg.Index.Dir == "" {
		cfg.Index.Dir = "storage"
	}
	if cfg.Index.IndexFile == "" {
		cfg.Index.IndexFile = "vector.index"
	}
	if cfg.Index.MetadataFile == "" {
		cfg.Index.MetadataFile = "chunks.json"
	}
	if cfg.Index.VocabFile == "" {
		cfg.Index.VocabFile = "tfidf_vocab.json"
	}
	if cfg.Guardrail.RulesPath == "" {
		cfg.Guardrail.RulesPath = "guardrails/rails.co"
	}
	if cfg.Database.DSNEnv == "" {
		cfg.Database.DSNEnv = "DATABASE_URL"
	}
	if cfg.Database.ReasonCodesPath == "" {
		cfg.Database.ReasonCodesPath = "data/reason_codes.json"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.PasswordEnv == "" {
		cfg.Redis.PasswordEnv = "REDIS_PASSWORD"
	}
	if cfg.Redis.TTLDays == 0 {
		cfg.Redis.TTLDays = 30
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.RequestTimeoutSecs == 0 {
		cfg.Server.RequestTimeoutSecs = 90
	}
}

// IndexPath returns the full path of the binary vector index artifact.
func (cfg *AppConfig) IndexPath() string {
	return filepath.Join(cfg.Index.Dir, cfg.Index.IndexFile)
}

// MetadataPath returns the full path of the chunk metadata artifact.
func (cfg *AppConfig) MetadataPath() string {
	return filepath.Join(cfg.Index.Dir, cfg.Index.MetadataFile)
}

// VocabPath returns the full path of the tfidf vocabulary artifact.
func (cfg *AppConfig) VocabPath() string {
	return filepath.Join(cfg.Index.Dir, cfg.Index.VocabFile)
}
