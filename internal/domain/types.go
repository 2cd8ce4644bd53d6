package domain

import "time"

// Chunk is a token-bounded span of document text stored in the index.
// JSON tags match the persisted metadata record layout.
type Chunk struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"chunk_text"`
	TokenCount int    `json:"token_count"`
	CharCount  int    `json:"char_count"`
}

// IngestStats summarizes a single document ingestion.
type IngestStats struct {
	DocumentID     string  `json:"document_id"`
	NumChunks      int     `json:"num_chunks"`
	TotalTokens    int     `json:"total_tokens"`
	AvgChunkTokens float64 `json:"avg_chunk_tokens"`
}

// Candidate pairs an index position with its raw L2 distance to the query.
// Ephemeral; never persisted.
type Candidate struct {
	Position int
	Distance float32
}

// ScoredChunk is a retrieval candidate after hybrid re-ranking.
type ScoredChunk struct {
	Chunk         Chunk
	VectorScore   float64
	KeywordScore  float64
	CombinedScore float64
}

// RetrievalResult is what the retriever hands to answer generation.
type RetrievalResult struct {
	Context   string
	NumChunks int
	Question  string
	Chunks    []ScoredChunk
}

// Answer is the generation result. A failed model call is reported in Err
// while Text still carries a user-facing message.
type Answer struct {
	Text       string
	HasContext bool
	Err        string
}

// Chat roles as stored in session history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a conversation, as stored in session history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Routing targets emitted by the orchestration model.
const (
	TargetToolAgent      = "tool_agent"
	TargetRAGAgent       = "rag_agent"
	TargetGuardrailAgent = "guardrail_agent"
	TargetIdentityAgent  = "identity_agent"
	TargetReject         = "reject"
	TargetDirectReply    = "direct_reply"
)

// RouteDecision is the parsed output of the routing model.
type RouteDecision struct {
	Target     string         `json:"target"`
	Parameters map[string]any `json:"parameters"`
}

// Transaction is a read-only row from the transactions store.
type Transaction struct {
	RRN        string
	Amount     float64
	Timestamp  time.Time
	CardNumber string
	ReasonCode string
	Merchant   string
	BankName   string
	CardType   string
	TxnType    string
}

// TransactionQuery carries the lookup parameters extracted by routing.
// ApproxTime is mandatory; Date defaults to today when empty.
type TransactionQuery struct {
	Date       string
	ApproxTime string
	Amount     float64
	CardLast4  string
}

// TransactionReport is the customer-facing summary of a located transaction.
type TransactionReport struct {
	Found            bool
	Date             string
	Amount           string
	Status           string
	ReasonCode       string
	ErrorReason      string
	SuggestedMessage string
}

// Verdict is the guardrail's decision on an incoming message.
type Verdict struct {
	Allowed  bool
	Category string
	Message  string
}
