package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardassist/internal/domain"
)

func testChunks(n int) []domain.Chunk {
	out := make([]domain.Chunk, n)
	for i := range out {
		out[i] = domain.Chunk{
			DocumentID: "faq.txt",
			ChunkIndex: i,
			Text:       "chunk text",
			TokenCount: 2,
			CharCount:  10,
		}
	}
	return out
}

func testVectors(n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		v[0] = float32(i)
		out[i] = v
	}
	return out
}

func TestStoreAppendKeepsParity(t *testing.T) {
	s, err := NewStore(4)
	require.NoError(t, err)

	require.NoError(t, s.Append(testChunks(3), testVectors(3, 4)))
	assert.Equal(t, 3, s.Len())

	ch, ok := s.Chunk(2)
	require.True(t, ok)
	assert.Equal(t, 2, ch.ChunkIndex)

	_, ok = s.Chunk(3)
	assert.False(t, ok)
	_, ok = s.Chunk(-1)
	assert.False(t, ok)
}

func TestStoreAppendRejectsLengthMismatch(t *testing.T) {
	s, err := NewStore(4)
	require.NoError(t, err)

	err = s.Append(testChunks(2), testVectors(3, 4))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCorruptArtifacts)
	assert.Equal(t, 0, s.Len())
}

func TestStoreAppendRejectsBadDimensionWithoutPartialState(t *testing.T) {
	s, err := NewStore(4)
	require.NoError(t, err)

	vectors := testVectors(3, 4)
	vectors[2] = []float32{1}
	err = s.Append(testChunks(3), vectors)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Equal(t, 0, s.Len(), "parity must survive a failed append")
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "vector.index")
	metaPath := filepath.Join(dir, "chunks.json")

	s, err := NewStore(3)
	require.NoError(t, err)
	chunks := testChunks(2)
	chunks[1].Text = "second chunk"
	require.NoError(t, s.Append(chunks, [][]float32{{1, 0, 0}, {0, 1, 0}}))
	require.NoError(t, s.Save(indexPath, metaPath))

	got, err := Load(indexPath, metaPath, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())

	ch, ok := got.Chunk(1)
	require.True(t, ok)
	assert.Equal(t, "second chunk", ch.Text)

	cands, err := got.Search([]float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, 1, cands[0].Position)
	assert.Zero(t, cands[0].Distance)

	// no temp files may survive a successful save
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestStoreSaveOverwritesPreviousArtifacts(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "vector.index")
	metaPath := filepath.Join(dir, "chunks.json")

	s, err := NewStore(2)
	require.NoError(t, err)
	require.NoError(t, s.Append(testChunks(1), testVectors(1, 2)))
	require.NoError(t, s.Save(indexPath, metaPath))

	require.NoError(t, s.Append(testChunks(2), testVectors(2, 2)))
	require.NoError(t, s.Save(indexPath, metaPath))

	got, err := Load(indexPath, metaPath, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Len())
}

func TestLoadMissingArtifacts(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "vector.index")
	metaPath := filepath.Join(dir, "chunks.json")

	_, err := Load(indexPath, metaPath, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIndexNotFound)

	s, err := NewStore(3)
	require.NoError(t, err)
	require.NoError(t, s.Save(indexPath, metaPath))
	require.NoError(t, os.Remove(metaPath))

	_, err = Load(indexPath, metaPath, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMetadataNotFound)
}

func TestLoadRejectsDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "vector.index")
	metaPath := filepath.Join(dir, "chunks.json")

	s, err := NewStore(3)
	require.NoError(t, err)
	require.NoError(t, s.Append(testChunks(1), testVectors(1, 3)))
	require.NoError(t, s.Save(indexPath, metaPath))

	_, err = Load(indexPath, metaPath, 384)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestLoadDetectsParityCorruption(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "vector.index")
	metaPath := filepath.Join(dir, "chunks.json")

	s, err := NewStore(2)
	require.NoError(t, err)
	require.NoError(t, s.Append(testChunks(2), testVectors(2, 2)))
	require.NoError(t, s.Save(indexPath, metaPath))

	// drop one metadata record behind the store's back
	require.NoError(t, os.WriteFile(metaPath, []byte(`[{"document_id":"faq.txt","chunk_index":0,"chunk_text":"chunk text","token_count":2,"char_count":10}]`), 0o644))

	_, err = Load(indexPath, metaPath, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCorruptArtifacts)
}
