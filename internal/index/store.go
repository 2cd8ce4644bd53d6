package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cardassist/internal/domain"
)

// Store owns the flat vector index and the chunk metadata list as one unit:
// vector i always describes chunk i. Keeping both behind one type makes the
// parity invariant structural instead of caller discipline.
type Store struct {
	mu     sync.RWMutex
	flat   *Flat
	chunks []domain.Chunk
}

// NewStore creates an empty combined store of the given vector dimension.
func NewStore(dim int) (*Store, error) {
	flat, err := NewFlat(dim)
	if err != nil {
		return nil, err
	}
	return &Store{flat: flat}, nil
}

// Dimension returns the vector width.
func (s *Store) Dimension() int { return s.flat.Dimension() }

// Len returns the number of stored (vector, chunk) pairs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Append adds chunks and their vectors in matching order. Nothing is appended
// unless every vector passes the dimension check, so a failed call never
// breaks parity.
func (s *Store) Append(chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks with %d vectors", domain.ErrCorruptArtifacts, len(chunks), len(vectors))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.flat.Add(vectors); err != nil {
		return err
	}
	s.chunks = append(s.chunks, chunks...)
	return nil
}

// Chunk returns the metadata at an index position. The ok result guards
// against positions from a stale or desynchronized search.
func (s *Store) Chunk(pos int) (domain.Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pos < 0 || pos >= len(s.chunks) {
		return domain.Chunk{}, false
	}
	return s.chunks[pos], true
}

// Search runs k-NN over the vectors. Positions in the result are valid
// lookups for Chunk as long as the store is not mutated in between.
func (s *Store) Search(query []float32, k int) ([]domain.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flat.Search(query, k)
}

// Save persists the index and metadata side by side. Each artifact is written
// to a temporary file and renamed into place, so a crash mid-save leaves the
// previous pair intact.
func (s *Store) Save(indexPath, metaPath string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range []string{indexPath, metaPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
	}

	tmpIndex, err := writeTemp(indexPath, func(f *os.File) error { return s.flat.encode(f) })
	if err != nil {
		return fmt.Errorf("write index artifact: %w", err)
	}
	tmpMeta, err := writeTemp(metaPath, func(f *os.File) error {
		enc := json.NewEncoder(f)
		return enc.Encode(s.chunks)
	})
	if err != nil {
		os.Remove(tmpIndex)
		return fmt.Errorf("write metadata artifact: %w", err)
	}

	if err := os.Rename(tmpIndex, indexPath); err != nil {
		os.Remove(tmpIndex)
		os.Remove(tmpMeta)
		return err
	}
	if err := os.Rename(tmpMeta, metaPath); err != nil {
		os.Remove(tmpMeta)
		return err
	}
	return nil
}

func writeTemp(target string, write func(*os.File) error) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".tmp-*")
	if err != nil {
		return "", err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Load reads a previously saved store. Missing artifacts fail loudly with
// their own sentinel errors, a dimension differing from wantDim is a fatal
// configuration error, and an index/metadata length mismatch is corruption.
func Load(indexPath, metaPath string, wantDim int) (*Store, error) {
	indexFile, err := os.Open(indexPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrIndexNotFound, indexPath)
		}
		return nil, err
	}
	defer indexFile.Close()

	metaData, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrMetadataNotFound, metaPath)
		}
		return nil, err
	}

	flat, err := decodeFlat(indexFile)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", indexPath, err)
	}
	if wantDim > 0 && flat.Dimension() != wantDim {
		return nil, fmt.Errorf("%w: index dimension %d does not match configured embedder dimension %d", domain.ErrConfiguration, flat.Dimension(), wantDim)
	}

	var chunks []domain.Chunk
	if err := json.Unmarshal(metaData, &chunks); err != nil {
		return nil, fmt.Errorf("load %s: %w", metaPath, err)
	}
	if flat.Len() != len(chunks) {
		return nil, fmt.Errorf("%w: %d vectors but %d chunks", domain.ErrCorruptArtifacts, flat.Len(), len(chunks))
	}
	return &Store{flat: flat, chunks: chunks}, nil
}
