package docload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardassist/internal/domain"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "a\t b\n\nc", "a b c"},
		{"trims ends", "  hello world  ", "hello world"},
		{"keeps punctuation whitelist", `Fee: 2.5 (min. Rs-10), right? "Yes"; it's fine!`, `Fee: 2.5 (min. Rs-10), right? "Yes"; it's fine!`},
		{"drops percent and ampersand", "fees & taxes: 2.5%", "fees  taxes: 2.5"},
		// stripping happens after whitespace collapse, so a removed symbol
		// can leave a double space behind
		{"strips exotic characters", "limit ₹5000 ✓ done", "limit 5000  done"},
		{"empty input", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestLoadText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faq.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\nworld"), 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", got)
}

func TestLoadUnsupportedExtension(t *testing.T) {
	_, err := Load("slides.pptx")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestLoadCorruptPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("a/b/manual.txt"))
	assert.True(t, Supported("a/b/MANUAL.PDF"))
	assert.False(t, Supported("a/b/data.xlsx"))
	assert.False(t, Supported("a/b/noext"))
}
