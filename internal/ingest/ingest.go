package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"cardassist/internal/docload"
	"cardassist/internal/domain"
	"cardassist/internal/index"
)

// Pipeline turns documents into embedded chunks inside the store. Artifacts
// only reach disk through Save, so a crashed run leaves the previous pair
// untouched.
type Pipeline struct {
	chunker  domain.Chunker
	embedder domain.Embedder
	store    *index.Store
	log      *logrus.Logger
}

// New assembles the offline pipeline around an open store.
func New(chunker domain.Chunker, embedder domain.Embedder, store *index.Store, log *logrus.Logger) *Pipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{chunker: chunker, embedder: embedder, store: store, log: log}
}

// IngestText cleans, chunks and embeds one document and appends it to the
// store. The append happens only after every chunk embedded, so a failed
// document never leaves partial vectors behind.
func (p *Pipeline) IngestText(ctx context.Context, docID, text string) (domain.IngestStats, error) {
	stats := domain.IngestStats{DocumentID: docID}

	cleaned := docload.Clean(text)
	chunks, err := p.chunker.Chunk(docID, cleaned)
	if err != nil {
		return stats, fmt.Errorf("chunk %s: %w", docID, err)
	}
	if len(chunks) == 0 {
		p.log.WithField("doc_id", docID).Warn("document produced no chunks")
		return stats, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return stats, fmt.Errorf("embed %s: %w", docID, err)
	}
	if err := p.store.Append(chunks, vectors); err != nil {
		return stats, fmt.Errorf("append %s: %w", docID, err)
	}

	stats.NumChunks = len(chunks)
	for _, c := range chunks {
		stats.TotalTokens += c.TokenCount
	}
	stats.AvgChunkTokens = float64(stats.TotalTokens) / float64(stats.NumChunks)

	p.log.WithFields(logrus.Fields{
		"doc_id":     docID,
		"chunks":     stats.NumChunks,
		"tokens":     stats.TotalTokens,
		"avg_tokens": stats.AvgChunkTokens,
	}).Info("document ingested")
	return stats, nil
}

// IngestFile loads a document from disk. The document id is the base file
// name, so re-ingesting the same file into a fresh store is reproducible.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (domain.IngestStats, error) {
	text, err := docload.Load(path)
	if err != nil {
		return domain.IngestStats{DocumentID: filepath.Base(path)}, err
	}
	return p.IngestText(ctx, filepath.Base(path), text)
}

// IngestDirectory ingests every supported file in dir. A failing document is
// logged and skipped; the rest of the directory still goes in. Unsupported
// extensions are ignored silently apart from a debug line.
func (p *Pipeline) IngestDirectory(ctx context.Context, dir string) ([]domain.IngestStats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read documents dir: %w", err)
	}

	var all []domain.IngestStats
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if !docload.Supported(path) {
			p.log.WithField("file", entry.Name()).Debug("skipping unsupported file")
			continue
		}
		stats, err := p.IngestFile(ctx, path)
		if err != nil {
			p.log.WithError(err).WithField("file", entry.Name()).Warn("skipping document")
			continue
		}
		all = append(all, stats)
	}
	return all, nil
}

// Save writes the index and metadata artifacts side by side.
func (p *Pipeline) Save(indexPath, metaPath string) error {
	return p.store.Save(indexPath, metaPath)
}
