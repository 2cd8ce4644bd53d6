package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	tiktoken "github.com/tiktoken-go/tokenizer"

	"cardassist/internal/domain"
)

// New returns the codec named in configuration.
func New(name string) (domain.Tokenizer, error) {
	switch name {
	case "cl100k_base", "":
		return NewTiktoken()
	case "words":
		return NewWords(), nil
	default:
		return nil, fmt.Errorf("%w: unknown tokenizer %q", domain.ErrConfiguration, name)
	}
}

// Tiktoken wraps the embedded cl100k_base BPE codec.
type Tiktoken struct {
	codec tiktoken.Codec
}

// NewTiktoken loads the cl100k_base vocabulary.
func NewTiktoken() (*Tiktoken, error) {
	codec, err := tiktoken.Get(tiktoken.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base codec: %w", err)
	}
	return &Tiktoken{codec: codec}, nil
}

func (t *Tiktoken) Encode(text string) ([]int, error) {
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out, nil
}

func (t *Tiktoken) Decode(ids []int) (string, error) {
	raw := make([]uint, len(ids))
	for i, id := range ids {
		raw[i] = uint(id)
	}
	return t.codec.Decode(raw)
}

func (t *Tiktoken) Count(text string) (int, error) {
	ids, err := t.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Words is a deterministic whitespace codec: one token per whitespace-separated
// word, decoding joins with single spaces. Round-trips exactly for text that
// already went through the ingestion cleaner, which collapses whitespace runs.
type Words struct {
	mu    sync.RWMutex
	words []string
	ids   map[string]int
}

// NewWords creates an empty whitespace codec; the vocabulary grows as text is
// encoded.
func NewWords() *Words {
	return &Words{ids: make(map[string]int)}
}

func (w *Words) Encode(text string) ([]int, error) {
	fields := strings.Fields(text)
	out := make([]int, 0, len(fields))
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range fields {
		id, ok := w.ids[f]
		if !ok {
			id = len(w.words)
			w.words = append(w.words, f)
			w.ids[f] = id
		}
		out = append(out, id)
	}
	return out, nil
}

func (w *Words) Decode(ids []int) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id >= len(w.words) {
			return "", fmt.Errorf("unknown token id %d", id)
		}
		parts = append(parts, w.words[id])
	}
	return strings.Join(parts, " "), nil
}

func (w *Words) Count(text string) (int, error) {
	return len(strings.Fields(text)), nil
}
