package domain

import "errors"

// Sentinel errors shared across the pipelines. Wrap with fmt.Errorf("...: %w")
// and test with errors.Is.
var (
	// ErrUnsupportedFormat means a document extension is not recognized.
	// Fatal for that document, skipped in a directory batch.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrIndexNotFound means retrieval started before ingestion ever ran.
	ErrIndexNotFound = errors.New("vector index file not found")

	// ErrMetadataNotFound means the chunk metadata artifact is missing.
	ErrMetadataNotFound = errors.New("chunk metadata file not found")

	// ErrEmbedding is a transient embedding-model failure. Propagated as-is;
	// no automatic retry.
	ErrEmbedding = errors.New("embedding failed")

	// ErrConfiguration covers invalid settings such as a non-positive chunk
	// stride or an embedding dimension that does not match a persisted index.
	// Never silently corrected.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrCorruptArtifacts means the persisted index and metadata disagree on
	// length. Queries are meaningless until a full re-ingestion.
	ErrCorruptArtifacts = errors.New("index and metadata artifacts disagree")

	// ErrModelUnavailable means the chat-completion endpoint could not be
	// reached or returned no usable output.
	ErrModelUnavailable = errors.New("chat model unavailable")

	// ErrEmptyCompletion means the chat model returned zero choices.
	ErrEmptyCompletion = errors.New("chat model returned an empty completion")
)
