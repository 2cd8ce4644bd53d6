package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"cardassist/internal/domain"
)

var tfidfTokenRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)

// TFIDF is a corpus-fitted embedder for running the pipeline without an
// embeddings API, mainly in development and tests. Fit builds the vocabulary
// during ingestion; SaveVocabulary persists it next to the index so retrieval
// embeds queries in the same space.
type TFIDF struct {
	vocabulary map[string]int
	idf        []float64
	stopwords  map[string]struct{}
}

// NewTFIDF returns an unfitted embedder. Call Fit before embedding, or
// LoadTFIDF to restore a fitted one.
func NewTFIDF() *TFIDF {
	return &TFIDF{
		vocabulary: make(map[string]int),
		stopwords:  tfidfStopwords(),
	}
}

func (e *TFIDF) Name() string { return "tfidf" }

// Dimension equals the fitted vocabulary size, zero before Fit.
func (e *TFIDF) Dimension() int { return len(e.idf) }

// Fit builds the vocabulary and smoothed IDF weights from the corpus. Terms
// are ordered lexicographically so refitting the same corpus reproduces the
// same vector space.
func (e *TFIDF) Fit(corpus []string) error {
	if len(corpus) == 0 {
		return errors.New("tfidf: empty corpus")
	}
	df := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range e.tokenize(text) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	if len(df) == 0 {
		return errors.New("tfidf: corpus has no usable tokens")
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	e.vocabulary = make(map[string]int, len(terms))
	e.idf = make([]float64, len(terms))
	n := float64(len(corpus))
	for i, term := range terms {
		e.vocabulary[term] = i
		e.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}
	return nil
}

// Embed produces the L2-normalized TF-IDF vector of text. Terms outside the
// fitted vocabulary are ignored; text with no known terms embeds to zero.
func (e *TFIDF) Embed(_ context.Context, text string) ([]float32, error) {
	if len(e.idf) == 0 {
		return nil, fmt.Errorf("%w: tfidf vocabulary is empty, fit or load it first", domain.ErrEmbedding)
	}
	tf := make(map[int]int)
	total := 0
	for _, tok := range e.tokenize(text) {
		if idx, ok := e.vocabulary[tok]; ok {
			tf[idx]++
			total++
		}
	}
	vec := make([]float64, len(e.idf))
	if total > 0 {
		for idx, count := range tf {
			vec[idx] = float64(count) / float64(total) * e.idf[idx]
		}
	}

	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, len(vec))
	for i, v := range vec {
		if norm > 0 {
			v /= norm
		}
		out[i] = float32(v)
	}
	return out, nil
}

func (e *TFIDF) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (e *TFIDF) tokenize(text string) []string {
	raw := tfidfTokenRe.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, tok := range raw {
		if _, isStop := e.stopwords[tok]; isStop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// vocabulary artifact layout; index i holds the weight of Terms[i]
type tfidfVocabulary struct {
	Terms []string  `json:"terms"`
	IDF   []float64 `json:"idf"`
}

// SaveVocabulary writes the fitted vocabulary so a later process can embed
// queries in the same space.
func (e *TFIDF) SaveVocabulary(path string) error {
	if len(e.idf) == 0 {
		return errors.New("tfidf: nothing to save, vocabulary is empty")
	}
	terms := make([]string, len(e.vocabulary))
	for term, idx := range e.vocabulary {
		terms[idx] = term
	}
	data, err := json.Marshal(tfidfVocabulary{Terms: terms, IDF: e.idf})
	if err != nil {
		return fmt.Errorf("marshal tfidf vocabulary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create vocabulary dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write tfidf vocabulary: %w", err)
	}
	return nil
}

// LoadTFIDF restores a fitted embedder from a saved vocabulary.
func LoadTFIDF(path string) (*TFIDF, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tfidf vocabulary: %w", err)
	}
	var vocab tfidfVocabulary
	if err := json.Unmarshal(data, &vocab); err != nil {
		return nil, fmt.Errorf("decode tfidf vocabulary: %w", err)
	}
	if len(vocab.Terms) == 0 || len(vocab.Terms) != len(vocab.IDF) {
		return nil, fmt.Errorf("%w: vocabulary has %d terms and %d idf weights",
			domain.ErrCorruptArtifacts, len(vocab.Terms), len(vocab.IDF))
	}
	e := NewTFIDF()
	e.idf = vocab.IDF
	e.vocabulary = make(map[string]int, len(vocab.Terms))
	for i, term := range vocab.Terms {
		e.vocabulary[term] = i
	}
	return e, nil
}

func tfidfStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to",
		"of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were",
		"be", "been", "being", "it", "this", "that", "these", "those", "from",
		"up", "down", "over", "under", "again", "further", "than", "so", "such",
		"into", "about", "between", "through", "during", "before", "after",
		"above", "below", "out", "off", "own", "same", "too", "very", "can",
		"will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
