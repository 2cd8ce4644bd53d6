package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardassist/internal/chunker"
	"cardassist/internal/domain"
	"cardassist/internal/index"
	"cardassist/internal/tokenizer"
)

type stubEmbedder struct {
	dim int
	err error
}

func (s *stubEmbedder) Name() string   { return "stub" }
func (s *stubEmbedder) Dimension() int { return s.dim }

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	v := make([]float32, s.dim)
	v[0] = float32(len(text) % 97)
	return v, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *index.Store) {
	t.Helper()
	codec := tokenizer.NewWords()
	ck, err := chunker.NewTokenChunker(codec, 8, 2, 0)
	require.NoError(t, err)
	store, err := index.NewStore(3)
	require.NoError(t, err)
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(ck, &stubEmbedder{dim: 3}, store, log), store
}

func TestIngestText(t *testing.T) {
	p, store := newTestPipeline(t)

	// twelve words, window 8 with overlap 2 gives windows [0:8] and [6:12]
	text := "one two three four five six seven eight nine ten eleven twelve"
	stats, err := p.IngestText(context.Background(), "doc.txt", text)
	require.NoError(t, err)

	assert.Equal(t, "doc.txt", stats.DocumentID)
	assert.Equal(t, 2, stats.NumChunks)
	assert.Equal(t, 14, stats.TotalTokens)
	assert.InDelta(t, 7.0, stats.AvgChunkTokens, 1e-9)
	assert.Equal(t, 2, store.Len())

	first, ok := store.Chunk(0)
	require.True(t, ok)
	assert.Equal(t, "doc.txt", first.DocumentID)
	assert.Equal(t, 0, first.ChunkIndex)
	assert.Equal(t, "one two three four five six seven eight", first.Text)
}

func TestIngestTextCleansBeforeChunking(t *testing.T) {
	p, store := newTestPipeline(t)

	_, err := p.IngestText(context.Background(), "doc.txt", "RuPay   cards\t\tsupport • contactless payments")
	require.NoError(t, err)

	chunk, ok := store.Chunk(0)
	require.True(t, ok)
	assert.Equal(t, "RuPay cards support contactless payments", chunk.Text)
}

func TestIngestTextEmptyDocument(t *testing.T) {
	p, store := newTestPipeline(t)

	stats, err := p.IngestText(context.Background(), "empty.txt", "   \n\t  ")
	require.NoError(t, err)
	assert.Zero(t, stats.NumChunks)
	assert.Zero(t, stats.TotalTokens)
	assert.Zero(t, stats.AvgChunkTokens)
	assert.Zero(t, store.Len())
}

func TestIngestTextEmbedderFailureLeavesStoreIntact(t *testing.T) {
	codec := tokenizer.NewWords()
	ck, err := chunker.NewTokenChunker(codec, 8, 2, 0)
	require.NoError(t, err)
	store, err := index.NewStore(3)
	require.NoError(t, err)
	log := logrus.New()
	log.SetOutput(io.Discard)
	embedErr := errors.New("endpoint down")
	p := New(ck, &stubEmbedder{dim: 3, err: embedErr}, store, log)

	_, err = p.IngestText(context.Background(), "doc.txt", "some words to embed here")
	assert.ErrorIs(t, err, embedErr)
	assert.Zero(t, store.Len())
}

func TestIngestFile(t *testing.T) {
	p, store := newTestPipeline(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "faq.txt")
	require.NoError(t, os.WriteFile(path, []byte("contactless payments work without a pin"), 0o644))

	stats, err := p.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "faq.txt", stats.DocumentID)
	assert.Equal(t, 1, stats.NumChunks)
	assert.Equal(t, 1, store.Len())
}

func TestIngestFileUnsupportedFormat(t *testing.T) {
	p, _ := newTestPipeline(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# heading"), 0o644))

	_, err := p.IngestFile(context.Background(), path)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestIngestDirectory(t *testing.T) {
	p, store := newTestPipeline(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.pdf"), []byte("not a pdf at all"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "faq.txt"), []byte("cards support contactless payments"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fees.txt"), []byte("annual fee waived above threshold"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("unsupported"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	stats, err := p.IngestDirectory(context.Background(), dir)
	require.NoError(t, err)

	// the corrupt pdf is skipped with a warning, the markdown file ignored
	require.Len(t, stats, 2)
	assert.Equal(t, "faq.txt", stats[0].DocumentID)
	assert.Equal(t, "fees.txt", stats[1].DocumentID)
	assert.Equal(t, 2, store.Len())
}

func TestIngestDirectoryMissing(t *testing.T) {
	p, _ := newTestPipeline(t)
	_, err := p.IngestDirectory(context.Background(), filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestIngestThenSaveAndLoad(t *testing.T) {
	p, store := newTestPipeline(t)
	_, err := p.IngestText(context.Background(), "faq.txt", "reward points accrue on every purchase made")
	require.NoError(t, err)

	dir := t.TempDir()
	indexPath := filepath.Join(dir, "vector.index")
	metaPath := filepath.Join(dir, "chunks.json")
	require.NoError(t, p.Save(indexPath, metaPath))

	loaded, err := index.Load(indexPath, metaPath, 3)
	require.NoError(t, err)
	assert.Equal(t, store.Len(), loaded.Len())
	chunk, ok := loaded.Chunk(0)
	require.True(t, ok)
	assert.Equal(t, "reward points accrue on every purchase made", chunk.Text)
}
