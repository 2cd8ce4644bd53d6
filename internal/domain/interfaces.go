package domain

import "context"

// Tokenizer encodes text to token ids and back. Chunk sizing and context
// budgets must use the same scheme everywhere or the budgets silently drift.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	Count(text string) (int, error)
}

// Chunker splits normalized document text into token-bounded chunks.
type Chunker interface {
	Chunk(docID, text string) ([]Chunk, error)
}

// Embedder converts free text into a fixed-dimension vector representation.
// Ingestion and retrieval must share one embedder; a mismatch silently
// degrades relevance.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatRequest is a single chat-completion call.
type ChatRequest struct {
	System      string
	Messages    []ChatMessage
	Temperature float32
	MaxTokens   int
}

// ChatModel is a prompt-in, text-out completion client.
type ChatModel interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// Retriever maps a question to a context string under a token budget.
type Retriever interface {
	Retrieve(ctx context.Context, question string, withChunks bool) (RetrievalResult, error)
}

// Generator produces the final answer from a question and its context.
type Generator interface {
	GenerateAnswer(ctx context.Context, question, contextText string) Answer
}

// History stores per-session chat transcripts.
type History interface {
	Append(ctx context.Context, sessionID string, msg ChatMessage) error
	Messages(ctx context.Context, sessionID string) ([]ChatMessage, error)
	Clear(ctx context.Context, sessionID string) error
}

// TransactionFinder locates transactions with fuzzy amount and time windows.
type TransactionFinder interface {
	Find(ctx context.Context, q TransactionQuery) (TransactionReport, error)
	Recent(ctx context.Context, limit int) ([]Transaction, error)
}

// Guard screens an incoming message before routing.
type Guard interface {
	Check(ctx context.Context, message string, history []ChatMessage) Verdict
}
