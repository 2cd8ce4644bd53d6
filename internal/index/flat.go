package index

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"cardassist/internal/domain"
)

// Flat is an append-only store of fixed-dimension vectors backed by one
// contiguous float32 arena, searched by brute-force squared L2 distance.
type Flat struct {
	dim  int
	data []float32
}

// NewFlat creates an empty flat index of the given dimension.
func NewFlat(dim int) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: index dimension must be positive, got %d", domain.ErrConfiguration, dim)
	}
	return &Flat{dim: dim}, nil
}

// Dimension returns the vector width.
func (f *Flat) Dimension() int { return f.dim }

// Len returns the number of stored vectors.
func (f *Flat) Len() int { return len(f.data) / f.dim }

func (f *Flat) vector(idx int) []float32 {
	start := idx * f.dim
	return f.data[start : start+f.dim]
}

// Add appends vectors in order. Dimensions are checked up front so a failed
// call never leaves a partial append behind.
func (f *Flat) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("%w: vector %d has dimension %d, index expects %d", domain.ErrConfiguration, i, len(v), f.dim)
		}
	}
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	return nil
}

// Search returns the k nearest stored vectors by squared L2 distance, closest
// first. Ties keep insertion order.
func (f *Flat) Search(query []float32, k int) ([]domain.Candidate, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index expects %d", domain.ErrConfiguration, len(query), f.dim)
	}
	n := f.Len()
	if k <= 0 || n == 0 {
		return nil, nil
	}
	cands := make([]domain.Candidate, n)
	for i := 0; i < n; i++ {
		cands[i] = domain.Candidate{Position: i, Distance: sqL2(query, f.vector(i))}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Distance < cands[j].Distance })
	if k > n {
		k = n
	}
	return cands[:k], nil
}

func sqL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Binary artifact layout: magic, version, dimension, vector count, then the
// raw float32 arena, all little-endian.
var flatMagic = [4]byte{'C', 'A', 'V', 'X'}

const flatVersion uint32 = 1

func (f *Flat) encode(w io.Writer) error {
	if _, err := w.Write(flatMagic[:]); err != nil {
		return err
	}
	header := []uint32{flatVersion, uint32(f.dim)}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(f.Len())); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, f.data)
}

func decodeFlat(r io.Reader) (*Flat, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("read index header: %w", err)
	}
	if magic != flatMagic {
		return nil, fmt.Errorf("not a vector index file (bad magic %q)", magic[:])
	}
	var header [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read index header: %w", err)
	}
	if header[0] != flatVersion {
		return nil, fmt.Errorf("unsupported index version %d", header[0])
	}
	dim := int(header[1])
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read index header: %w", err)
	}
	f, err := NewFlat(dim)
	if err != nil {
		return nil, err
	}
	f.data = make([]float32, int(count)*dim)
	if err := binary.Read(r, binary.LittleEndian, f.data); err != nil {
		return nil, fmt.Errorf("read %d vectors: %w", count, err)
	}
	return f, nil
}
