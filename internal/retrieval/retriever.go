package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"cardassist/internal/domain"
	"cardassist/internal/index"
)

// Options control candidate search, hybrid re-ranking and context packing.
// The weights and the 1/(1+distance) transform are heuristics carried as
// configuration, not literals.
type Options struct {
	InitialK         int
	TopK             int
	MinScore         float64
	VectorWeight     float64
	KeywordWeight    float64
	MaxContextTokens int
}

// Retriever maps a question to a context string using the persisted store.
// Read-only and safe for concurrent use once built.
type Retriever struct {
	store    *index.Store
	embedder domain.Embedder
	codec    domain.Tokenizer
	opts     Options
	log      *logrus.Logger
}

// New builds a retriever over a loaded store. The embedder must be the same
// model that produced the store's vectors.
func New(store *index.Store, embedder domain.Embedder, codec domain.Tokenizer, opts Options, log *logrus.Logger) *Retriever {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Retriever{store: store, embedder: embedder, codec: codec, opts: opts, log: log}
}

// ChunkCount reports how many chunks the store holds.
func (r *Retriever) ChunkCount() int { return r.store.Len() }

var questionWhitespaceRe = regexp.MustCompile(`\s+`)

// PreprocessQuestion collapses whitespace, trims, and appends a trailing
// question mark if absent.
func PreprocessQuestion(question string) string {
	q := strings.TrimSpace(questionWhitespaceRe.ReplaceAllString(question, " "))
	if q != "" && !strings.HasSuffix(q, "?") {
		q += "?"
	}
	return q
}

// InitialCandidates embeds the question and runs k-NN against the store.
// Returned positions are already validated against the metadata list.
func (r *Retriever) InitialCandidates(ctx context.Context, question string) ([]domain.Candidate, error) {
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}
	cands, err := r.store.Search(vec, r.opts.InitialK)
	if err != nil {
		return nil, err
	}
	valid := cands[:0]
	for _, c := range cands {
		if _, ok := r.store.Chunk(c.Position); ok {
			valid = append(valid, c)
		}
	}
	return valid, nil
}

// stop words removed before computing lexical overlap
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"what": {}, "how": {}, "why": {}, "when": {}, "where": {},
}

// KeywordOverlap scores the lexical similarity of a question and a chunk as
// the Jaccard index of their lowercased word sets, stop words removed.
// Returns 0 when either set ends up empty.
func KeywordOverlap(question, chunkText string) float64 {
	qWords := wordSet(question)
	cWords := wordSet(chunkText)
	if len(qWords) == 0 || len(cWords) == 0 {
		return 0
	}
	intersection := 0
	for w := range qWords {
		if _, ok := cWords[w]; ok {
			intersection++
		}
	}
	union := len(qWords) + len(cWords) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

// Rerank scores candidates with the hybrid formula, drops everything under
// the minimum score, and returns at most TopK chunks sorted best first. The
// sort is stable, so ties keep vector-rank order.
func (r *Retriever) Rerank(question string, candidates []domain.Candidate) []domain.ScoredChunk {
	scored := make([]domain.ScoredChunk, 0, len(candidates))
	for _, cand := range candidates {
		chunk, ok := r.store.Chunk(cand.Position)
		if !ok {
			continue
		}
		vectorSim := 1 / (1 + float64(cand.Distance))
		keyword := KeywordOverlap(question, chunk.Text)
		combined := r.opts.VectorWeight*vectorSim + r.opts.KeywordWeight*keyword
		if combined < r.opts.MinScore {
			continue
		}
		scored = append(scored, domain.ScoredChunk{
			Chunk:         chunk,
			VectorScore:   vectorSim,
			KeywordScore:  keyword,
			CombinedScore: combined,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].CombinedScore > scored[j].CombinedScore
	})
	if len(scored) > r.opts.TopK {
		scored = scored[:r.opts.TopK]
	}
	return scored
}

// ConstructContext greedily packs ranked chunks into a labeled context string
// under the token budget. The first chunk that would overflow stops the
// packing; no later chunk is considered. Labels number passages by their
// position in the output.
func (r *Retriever) ConstructContext(ranked []domain.ScoredChunk) (string, error) {
	var parts []string
	totalTokens := 0
	for _, sc := range ranked {
		label := fmt.Sprintf("[Passage %d]\n", len(parts)+1)
		if len(parts) > 0 {
			label = "\n\n" + label
		}
		labelTokens, err := r.codec.Count(label)
		if err != nil {
			return "", fmt.Errorf("count label tokens: %w", err)
		}
		if totalTokens+labelTokens+sc.Chunk.TokenCount > r.opts.MaxContextTokens {
			break
		}
		parts = append(parts, fmt.Sprintf("[Passage %d]\n%s", len(parts)+1, sc.Chunk.Text))
		totalTokens += labelTokens + sc.Chunk.TokenCount
	}
	return strings.Join(parts, "\n\n"), nil
}

// Retrieve is the end-to-end pipeline: preprocess, search, re-rank, pack.
// The sole public entry point for generation and the orchestrator.
func (r *Retriever) Retrieve(ctx context.Context, question string, withChunks bool) (domain.RetrievalResult, error) {
	processed := PreprocessQuestion(question)
	r.log.WithField("question", processed).Debug("retrieving")

	candidates, err := r.InitialCandidates(ctx, processed)
	if err != nil {
		return domain.RetrievalResult{}, err
	}
	ranked := r.Rerank(processed, candidates)
	if len(ranked) == 0 {
		r.log.WithField("question", processed).Debug("no chunks above rerank threshold")
		return domain.RetrievalResult{Question: processed, Chunks: []domain.ScoredChunk{}}, nil
	}

	contextText, err := r.ConstructContext(ranked)
	if err != nil {
		return domain.RetrievalResult{}, err
	}
	result := domain.RetrievalResult{
		Context:   contextText,
		NumChunks: len(ranked),
		Question:  processed,
	}
	if withChunks {
		result.Chunks = ranked
	}
	r.log.WithFields(logrus.Fields{
		"question":   processed,
		"num_chunks": result.NumChunks,
	}).Debug("retrieval complete")
	return result, nil
}
