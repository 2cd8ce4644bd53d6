package chunker

import (
	"fmt"
	"unicode/utf8"

	"cardassist/internal/domain"
)

// TokenChunker slides a fixed-size token window across a document, advancing
// by chunkSize-overlap tokens per step so consecutive chunks share exactly
// overlap tokens.
type TokenChunker struct {
	codec         domain.Tokenizer
	chunkSize     int
	overlap       int
	minChunkChars int
}

// NewTokenChunker builds a token-window chunker. A non-positive stride would
// never advance, so it is rejected here as well as at config validation.
func NewTokenChunker(codec domain.Tokenizer, chunkSize, overlap, minChunkChars int) (*TokenChunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrConfiguration, chunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must not be negative, got %d", domain.ErrConfiguration, overlap)
	}
	if chunkSize-overlap <= 0 {
		return nil, fmt.Errorf("%w: overlap %d leaves no forward stride for chunk size %d", domain.ErrConfiguration, overlap, chunkSize)
	}
	if minChunkChars < 0 {
		minChunkChars = 0
	}
	return &TokenChunker{codec: codec, chunkSize: chunkSize, overlap: overlap, minChunkChars: minChunkChars}, nil
}

// Chunk splits normalized document text into overlapping token windows.
// Windows whose decoded text is shorter than the minimum character length are
// dropped; chunk indexes number the kept chunks. Sliding stops once a window
// reaches the end of the token sequence, so a document of exactly chunkSize
// tokens yields a single chunk.
func (c *TokenChunker) Chunk(docID, text string) ([]domain.Chunk, error) {
	ids, err := c.codec.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("tokenize %s: %w", docID, err)
	}

	var chunks []domain.Chunk
	stride := c.chunkSize - c.overlap
	for start := 0; start < len(ids); start += stride {
		end := start + c.chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		decoded, err := c.codec.Decode(ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("decode window at token %d of %s: %w", start, docID, err)
		}
		if utf8.RuneCountInString(decoded) >= c.minChunkChars {
			count, err := c.codec.Count(decoded)
			if err != nil {
				return nil, fmt.Errorf("count tokens of chunk %d of %s: %w", len(chunks), docID, err)
			}
			chunks = append(chunks, domain.Chunk{
				DocumentID: docID,
				ChunkIndex: len(chunks),
				Text:       decoded,
				TokenCount: count,
				CharCount:  utf8.RuneCountInString(decoded),
			})
		}
		if end == len(ids) {
			break
		}
	}
	return chunks, nil
}
