package index

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardassist/internal/domain"
)

func TestFlatSearchOrdersByDistance(t *testing.T) {
	f, err := NewFlat(2)
	require.NoError(t, err)
	require.NoError(t, f.Add([][]float32{
		{0, 0},
		{1, 0},
		{0, 3},
	}))

	got, err := f.Search([]float32{0.9, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Position)
	assert.Equal(t, 0, got[1].Position)
	assert.Less(t, got[0].Distance, got[1].Distance)
}

func TestFlatSearchTiesKeepInsertionOrder(t *testing.T) {
	f, err := NewFlat(2)
	require.NoError(t, err)
	require.NoError(t, f.Add([][]float32{{1, 0}, {1, 0}, {1, 0}}))

	got, err := f.Search([]float32{0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{got[0].Position, got[1].Position, got[2].Position})
}

func TestFlatSearchCapsAtStoredCount(t *testing.T) {
	f, err := NewFlat(1)
	require.NoError(t, err)
	require.NoError(t, f.Add([][]float32{{1}, {2}}))

	got, err := f.Search([]float32{0}, 20)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFlatSearchEmptyIndex(t *testing.T) {
	f, err := NewFlat(3)
	require.NoError(t, err)

	got, err := f.Search([]float32{1, 2, 3}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFlatRejectsDimensionMismatch(t *testing.T) {
	f, err := NewFlat(3)
	require.NoError(t, err)

	err = f.Add([][]float32{{1, 2}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Equal(t, 0, f.Len(), "failed add must not grow the index")

	_, err = f.Search([]float32{1, 2}, 1)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestFlatAddIsAllOrNothing(t *testing.T) {
	f, err := NewFlat(2)
	require.NoError(t, err)

	err = f.Add([][]float32{{1, 2}, {3}})
	require.Error(t, err)
	assert.Equal(t, 0, f.Len())
}

func TestFlatEncodeDecodeRoundTrip(t *testing.T) {
	f, err := NewFlat(2)
	require.NoError(t, err)
	require.NoError(t, f.Add([][]float32{{1.5, -2}, {0, 4.25}}))

	var buf bytes.Buffer
	require.NoError(t, f.encode(&buf))

	got, err := decodeFlat(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Dimension())
	assert.Equal(t, 2, got.Len())
	assert.Equal(t, f.data, got.data)
}

func TestDecodeFlatRejectsGarbage(t *testing.T) {
	_, err := decodeFlat(bytes.NewReader([]byte("not an index at all")))
	require.Error(t, err)
}
