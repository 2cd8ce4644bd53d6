package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"cardassist/internal/domain"
)

var sentenceRe = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)

// SentenceChunker groups whole sentences into chunks with sentence-level
// overlap. It keeps FAQ entries intact where a token window would cut through
// them; token counts still come from the shared codec so context budgets stay
// comparable across chunker types.
type SentenceChunker struct {
	codec             domain.Tokenizer
	sentencesPerChunk int
	overlapSentences  int
}

// NewSentenceChunker builds a sentence-window chunker. The overlap must leave
// a forward stride or the window would never advance.
func NewSentenceChunker(codec domain.Tokenizer, sentencesPerChunk, overlapSentences int) (*SentenceChunker, error) {
	if sentencesPerChunk <= 0 {
		return nil, fmt.Errorf("%w: sentences per chunk must be positive, got %d", domain.ErrConfiguration, sentencesPerChunk)
	}
	if overlapSentences < 0 {
		return nil, fmt.Errorf("%w: sentence overlap must not be negative, got %d", domain.ErrConfiguration, overlapSentences)
	}
	if sentencesPerChunk-overlapSentences <= 0 {
		return nil, fmt.Errorf("%w: overlap %d leaves no forward stride for %d sentences per chunk", domain.ErrConfiguration, overlapSentences, sentencesPerChunk)
	}
	return &SentenceChunker{codec: codec, sentencesPerChunk: sentencesPerChunk, overlapSentences: overlapSentences}, nil
}

// Chunk splits normalized document text into overlapping sentence windows.
// Text without terminal punctuation becomes a single chunk.
func (c *SentenceChunker) Chunk(docID, text string) ([]domain.Chunk, error) {
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil, nil
		}
		sentences = []string{trimmed}
	}
	for i := range sentences {
		sentences[i] = strings.TrimSpace(sentences[i])
	}

	var chunks []domain.Chunk
	for start := 0; start < len(sentences); {
		end := start + c.sentencesPerChunk
		if end > len(sentences) {
			end = len(sentences)
		}
		chunkText := strings.Join(sentences[start:end], " ")
		tokenCount, err := c.codec.Count(chunkText)
		if err != nil {
			return nil, fmt.Errorf("count tokens of %s chunk %d: %w", docID, len(chunks), err)
		}
		chunks = append(chunks, domain.Chunk{
			DocumentID: docID,
			ChunkIndex: len(chunks),
			Text:       chunkText,
			TokenCount: tokenCount,
			CharCount:  utf8.RuneCountInString(chunkText),
		})
		if end == len(sentences) {
			break
		}
		start = end - c.overlapSentences
	}
	return chunks, nil
}
